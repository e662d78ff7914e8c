// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
)

// maxEnvelopePayload caps the decompressed size an envelope may claim,
// so a hostile envelope cannot make the gateway allocate arbitrary
// memory.
const maxEnvelopePayload = 16 << 20

// Envelope is the ingest frame producers stream to the gateway: a
// format discriminator selecting the parser, a compression tag, the
// uncompressed payload size, and the payload bytes.
type Envelope struct {
	Format      string         `cbor:"format"`
	Compression CompressionTag `cbor:"compression"`
	Size        int            `cbor:"size"`
	Payload     []byte         `cbor:"payload"`
}

// NewEnvelope wraps a payload, compressing it with the requested
// algorithm. The tag recorded in the envelope is the one actually
// used (Compress may fall back to none for incompressible data).
func NewEnvelope(format string, payload []byte, tag CompressionTag) (*Envelope, error) {
	compressed, used, err := Compress(payload, tag)
	if err != nil {
		return nil, fmt.Errorf("building envelope: %w", err)
	}
	return &Envelope{
		Format:      format,
		Compression: used,
		Size:        len(payload),
		Payload:     compressed,
	}, nil
}

// Open returns the envelope's decompressed payload.
func (e *Envelope) Open() ([]byte, error) {
	if e.Size < 0 || e.Size > maxEnvelopePayload {
		return nil, fmt.Errorf("envelope claims payload size %d, limit is %d", e.Size, maxEnvelopePayload)
	}
	payload, err := Decompress(e.Payload, e.Compression, e.Size)
	if err != nil {
		return nil, fmt.Errorf("opening envelope: %w", err)
	}
	return payload, nil
}
