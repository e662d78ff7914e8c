// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// recordIDKey is the BLAKE3 keyed-hash domain key for derived record
// ids. The key is a fixed constant — changing it changes every derived
// id and breaks dedup against already-stored records. The byte values
// are the ASCII encoding of the domain name, zero-padded to 32 bytes,
// so the key is recognizable in hex dumps.
var recordIDKey = [32]byte{
	'm', 'e', 'r', 'i', 'd', 'i', 'a', 'n', '.', 'r', 'e', 'c', 'o', 'r', 'd', '.',
	'i', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// DeriveID computes a content-addressed record id from canonical event
// bytes: the hex form of a keyed BLAKE3 digest. Events that arrive
// without an id get the same derived id on every re-submission, so the
// store's dedup-by-id still collapses retries.
func DeriveID(canonical []byte) string {
	hasher, err := blake3.NewKeyed(recordIDKey[:])
	if err != nil {
		// NewKeyed only fails for a wrong key length, which the
		// fixed-size array rules out.
		panic("wire: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(canonical)
	return hex.EncodeToString(hasher.Sum(nil))
}
