// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression applied to an envelope
// payload. Tags are wire constants (1 byte each) — changing them
// breaks envelope compatibility with existing producers.
type CompressionTag uint8

const (
	// CompressionNone indicates an uncompressed payload. The right
	// choice for small envelopes where compression overhead exceeds
	// the savings.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 indicates LZ4 block compression. Fast default
	// for high-volume producers.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd indicates zstd at the default level. Better
	// ratio for large JSON batches at higher CPU cost.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseCompressionTag parses a compression tag from its string
// representation.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("wire: zstd decoder initialization failed: " + err.Error())
	}
}

// errIncompressible is returned when compressed output would not be
// smaller than the input. Compress handles it internally by falling
// back to CompressionNone.
var errIncompressible = errors.New("data is incompressible")

// Compress compresses a payload with the requested algorithm and
// returns the bytes plus the tag actually used. If the data does not
// shrink under the requested algorithm, the original bytes are
// returned with CompressionNone so the envelope never carries an
// expansion.
func Compress(data []byte, tag CompressionTag) ([]byte, CompressionTag, error) {
	var compressed []byte
	var err error

	switch tag {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("unsupported compression tag: %d", tag)
	}

	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, tag, nil
}

// Decompress reverses Compress. The uncompressedSize must match the
// original payload length exactly — a mismatch returns an error rather
// than silently truncated or padded data.
func Decompress(compressed []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match expected %d",
				len(compressed), uncompressedSize)
		}
		return compressed, nil
	case CompressionLZ4:
		return decompressLZ4(compressed, uncompressedSize)
	case CompressionZstd:
		return decompressZstd(compressed, uncompressedSize)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when the data is incompressible.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, 0, uncompressedSize)
	result, err := zstdDecoder.DecodeAll(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}
