// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	sha256 "github.com/minio/sha256-simd"
)

// FileID is a 128-bit content identity for a parsed input.
type FileID [16]byte

func (id FileID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the identity was never computed.
func (id FileID) IsZero() bool {
	return id == FileID{}
}

// fileIDFromReader hashes portions of the input in order to generate a
// system-independent identifier: a 4 KiB header, a 4 KiB trailer and the
// total length. ELF files can be appended to without restriction, so the
// length guards against trivial collisions between a file and its extended
// copy.
func fileIDFromReader(r io.ReaderAt, size int64) (FileID, error) {
	h := sha256.New()

	headLen := min(size, 4096)
	head := make([]byte, headLen)
	if _, err := r.ReadAt(head, 0); err != nil {
		return FileID{}, fmt.Errorf("failed to hash file header: %w", err)
	}
	_, _ = h.Write(head)

	// This double-hashes some data when the file is smaller than 8 KiB.
	tailLen := min(size, 4096)
	tail := make([]byte, tailLen)
	if _, err := r.ReadAt(tail, size-tailLen); err != nil {
		return FileID{}, fmt.Errorf("failed to hash file trailer: %w", err)
	}
	_, _ = h.Write(tail)

	var lengthArray [8]byte
	binary.BigEndian.PutUint64(lengthArray[:], uint64(size))
	_, _ = h.Write(lengthArray[:])

	var id FileID
	copy(id[:], h.Sum(nil)[0:16])
	return id, nil
}
