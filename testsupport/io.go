// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package testsupport provides shared helpers for tests: generic io
// validation and a synthetic ELF image builder.
package testsupport // import "github.com/objscope/elfbin/testsupport"

import (
	"io"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

// ValidateReadAtWrapperTransparency checks that a ReaderAt wrapping the
// given reference buffer behaves exactly like reading the buffer directly.
// It samples random offset and length pairs, including ones that run past
// the end of the buffer, which must yield a truncated read and io.EOF.
func ValidateReadAtWrapperTransparency(
	t *testing.T, iterations uint, reference []byte, testee io.ReaderAt) {
	size := uint64(len(reference))

	// Fixed seed keeps the sampled offsets reproducible across runs.
	r := rand.New(rand.NewPCG(0, 0)) //nolint:gosec
	for range iterations {
		length := r.Uint64() % size
		start := r.Uint64() % size

		buf := make([]byte, length)
		n, err := testee.ReadAt(buf, int64(start))

		want := min(size-start, length)
		if want != length {
			require.ErrorIs(t, err, io.EOF,
				"read past end at offset %d length %d", start, length)
			require.Equal(t, want, uint64(n))
		} else {
			require.NoError(t, err)
			require.Equal(t, length, uint64(n))
		}

		require.Equal(t, reference[start:][:want], buf[:want],
			"content mismatch at offset %d", start)
	}
}

// GenerateTestInputFile builds a buffer of the requested size filled with a
// repeating 0..seqLen-1 byte sequence, so any window of it is recognizable.
func GenerateTestInputFile(seqLen uint8, outputSize uint) []byte {
	out := make([]byte, outputSize)
	for i := range out {
		out[i] = byte(uint(i) % uint(seqLen))
	}
	return out
}
