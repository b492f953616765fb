// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package readatbuf implements the bounded byte stream that all decoders in
// this module read through. It wraps an io.ReaderAt with a page cache, knows
// the total extent of the underlying data, and turns any out-of-range access
// into a recoverable error instead of undefined behavior.
package readatbuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	lru "github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"
)

// ErrOutOfBounds is returned for reads that start beyond the stream extent.
var ErrOutOfBounds = errors.New("read out of stream bounds")

// page represents a cached region from the underlying reader.
type page struct {
	// data contains the data cached from a previous read.
	data []byte
	// eof determines whether we encountered an EOF when reading the page originally.
	eof bool
}

// Statistics contains statistics about cache efficiency.
type Statistics struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Reader implements buffered random access reads over a fixed-extent input.
type Reader struct {
	inner        io.ReaderAt
	size         int64
	cache        *lru.LRU[uint, page]
	pageSize     uint
	stats        Statistics
	sparePageBuf []byte
}

func hashPageIndex(v uint) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return uint32(xxh3.Hash(b[:]))
}

// New creates a new buffered reader of the given total size. The pageSize
// argument decides the size of each region (page) tracked in the cache;
// cacheSize defines the maximum number of pages to cache.
func New(inner io.ReaderAt, size int64, pageSize, cacheSize uint) (reader *Reader, err error) {
	if pageSize == 0 {
		return nil, errors.New("pageSize cannot be zero")
	}
	if cacheSize == 0 {
		return nil, errors.New("cacheSize cannot be zero")
	}
	if size < 0 {
		return nil, fmt.Errorf("negative stream size %d", size)
	}

	reader = &Reader{
		inner:    inner,
		size:     size,
		pageSize: pageSize,
	}

	reader.cache, err = lru.New[uint, page](uint32(cacheSize), hashPageIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to create internal cache: %w", err)
	}

	reader.cache.SetOnEvict(func(_ uint, page page) {
		reader.stats.Evictions++
		// Evicted EOF pages may have been truncated, but every page was
		// allocated with the full page size, so the slice can be expanded
		// back to its original capacity for reuse.
		reader.sparePageBuf = page.data[:pageSize]
	})

	return reader, nil
}

// Size returns the total extent of the underlying data.
func (reader *Reader) Size() int64 {
	return reader.size
}

// Remaining returns the number of bytes available at and after the given offset.
func (reader *Reader) Remaining(off int64) int64 {
	if off < 0 || off >= reader.size {
		return 0
	}
	return reader.size - off
}

// InvalidateCache flushes the internal cache and resets the statistics.
func (reader *Reader) InvalidateCache() {
	reader.cache.Purge()
	reader.stats = Statistics{}
}

// Statistics returns statistics about cache efficiency.
func (reader *Reader) Statistics() Statistics {
	return reader.stats
}

// Bytes reads exactly length bytes starting at off into a fresh slice.
// Reads that don't fit within the stream extent fail with ErrOutOfBounds
// without touching the underlying reader.
func (reader *Reader) Bytes(off int64, length uint64) ([]byte, error) {
	if off < 0 || length > uint64(reader.size) || off > reader.size-int64(length) {
		return nil, fmt.Errorf("%w: offset %d length %d size %d",
			ErrOutOfBounds, off, length, reader.size)
	}
	if length == 0 {
		return nil, nil
	}
	p := make([]byte, length)
	if _, err := reader.ReadAt(p, off); err != nil {
		return nil, err
	}
	return p, nil
}

// Uint16 reads one 16-bit unsigned integer at off using the given byte order.
func (reader *Reader) Uint16(off int64, order binary.ByteOrder) (uint16, error) {
	b, err := reader.Bytes(off, 2)
	if err != nil {
		return 0, err
	}
	return order.Uint16(b), nil
}

// Uint32 reads one 32-bit unsigned integer at off using the given byte order.
func (reader *Reader) Uint32(off int64, order binary.ByteOrder) (uint32, error) {
	b, err := reader.Bytes(off, 4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(b), nil
}

// Uint64 reads one 64-bit unsigned integer at off using the given byte order.
func (reader *Reader) Uint64(off int64, order binary.ByteOrder) (uint64, error) {
	b, err := reader.Bytes(off, 8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(b), nil
}

// ReadAt implements the io.ReaderAt interface.
func (reader *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset value %d given", off)
	}
	if off >= reader.size {
		return 0, io.EOF
	}

	// Large reads skip the cache and go to the inner reader directly. This
	// avoids a single bulk read trashing the whole cache, and reduces the
	// number of syscalls when the inner reader is an os.File.
	if uint(len(p)) > reader.pageSize*3/2 {
		return reader.inner.ReadAt(p, off)
	}

	writeOffset := uint(0)
	remaining := uint(len(p))
	skipOffset := uint(off) % reader.pageSize
	pageIdx := uint(off) / reader.pageSize

	for remaining > 0 {
		data, eof, err := reader.getOrReadPage(pageIdx)
		if err != nil {
			return int(writeOffset), err
		}
		if skipOffset > uint(len(data)) {
			return int(writeOffset), io.EOF
		}

		copyLen := min(remaining, uint(len(data))-skipOffset)
		copy(p[writeOffset:][:copyLen], data[skipOffset:][:copyLen])

		skipOffset = 0
		pageIdx++
		writeOffset += copyLen
		remaining -= copyLen

		if eof {
			if remaining == 0 {
				// The chunk read hit EOF, but the caller's buffer was
				// small enough to not have caused it.
				break
			}
			return int(writeOffset), io.EOF
		}
	}

	return int(writeOffset), nil
}

func (reader *Reader) getOrReadPage(pageIdx uint) (data []byte, eof bool, err error) {
	if cachedPage, exists := reader.cache.Get(pageIdx); exists {
		reader.stats.Hits++
		return cachedPage.data, cachedPage.eof, nil
	}

	reader.stats.Misses++

	var buffer []byte
	if reader.sparePageBuf != nil {
		// Reuse the spare page from previous evictions.
		buffer = reader.sparePageBuf
		reader.sparePageBuf = nil
	} else {
		buffer = make([]byte, reader.pageSize)
	}

	n, err := reader.inner.ReadAt(buffer, int64(pageIdx*reader.pageSize))
	if err != nil {
		// We speculatively read more than the caller asked for, so EOF
		// here is expected.
		if err == io.EOF {
			buffer = buffer[:n]
			eof = true
		} else {
			return nil, false, err
		}
	}

	if !eof && uint(n) < reader.pageSize {
		return nil, false, errors.New("failed to read whole page")
	}

	reader.cache.Add(pageIdx, page{data: buffer, eof: eof})
	return buffer, eof, nil
}
