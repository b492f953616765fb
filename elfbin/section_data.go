// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Data loads the section content, bounded by maxSize. Sections flagged as
// compressed are transparently decompressed; the bound applies to the
// decompressed size as well.
func (s *Section) Data(maxSize uint) ([]byte, error) {
	if s.sr == nil {
		return nil, nil
	}
	if s.Size > uint64(maxSize) {
		return nil, fmt.Errorf("section size %d is too large", s.Size)
	}
	raw := make([]byte, s.Size)
	if _, err := s.sr.ReadAt(raw, 0); err != nil {
		return nil, err
	}
	if s.Flags&elf.SHF_COMPRESSED == 0 {
		return raw, nil
	}
	return s.decompress(raw, maxSize)
}

// decompress strips the compression header from the raw section content and
// inflates the payload. The header layout differs per class: the 64-bit form
// carries a reserved word after the type.
func (s *Section) decompress(raw []byte, maxSize uint) ([]byte, error) {
	hdrSize := uint(12)
	sizeOff := uint(4)
	if s.dec.WordSize() == 8 {
		hdrSize = 24
		sizeOff = 8
	}
	if uint(len(raw)) < hdrSize {
		return nil, fmt.Errorf("compressed section of %d bytes lacks header", len(raw))
	}
	chType := elf.CompressionType(s.dec.Uint32(raw, 0))
	chSize := s.dec.Word(raw, sizeOff)
	if chSize > uint64(maxSize) {
		return nil, fmt.Errorf("decompressed section size %d is too large", chSize)
	}
	payload := raw[hdrSize:]

	var r io.Reader
	switch chType {
	case elf.COMPRESS_ZLIB:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("zlib section: %w", err)
		}
		defer zr.Close()
		r = zr
	case elf.COMPRESS_ZSTD:
		zr, err := zstd.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("zstd section: %w", err)
		}
		defer zr.Close()
		r = zr.IOReadCloser()
	default:
		return nil, fmt.Errorf("unsupported compression type %d", chType)
	}

	out := make([]byte, chSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("decompressing section: %w", err)
	}
	return out, nil
}
