// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package sliceread provides convenience utilities to decode fixed-width
// integers from a slice at a given offset, honoring a configured byte order
// and native word size. Zeroes are returned on out of bounds access instead
// of panic.
package sliceread

import (
	"encoding/binary"
)

// Uint8 reads one 8-bit unsigned integer from given byte slice offset.
func Uint8(b []byte, offs uint) uint8 {
	if offs+1 > uint(len(b)) {
		return 0
	}
	return b[offs]
}

// Uint16 reads one 16-bit unsigned integer from given byte slice offset.
func Uint16(order binary.ByteOrder, b []byte, offs uint) uint16 {
	if offs+2 > uint(len(b)) {
		return 0
	}
	return order.Uint16(b[offs:])
}

// Uint32 reads one 32-bit unsigned integer from given byte slice offset.
func Uint32(order binary.ByteOrder, b []byte, offs uint) uint32 {
	if offs+4 > uint(len(b)) {
		return 0
	}
	return order.Uint32(b[offs:])
}

// Uint64 reads one 64-bit unsigned integer from given byte slice offset.
func Uint64(order binary.ByteOrder, b []byte, offs uint) uint64 {
	if offs+8 > uint(len(b)) {
		return 0
	}
	return order.Uint64(b[offs:])
}

// Decoder reads primitives with a fixed byte order and word size. The word
// size is selected once, from the file header class, and every "native word"
// read shares the same code path for both widths.
type Decoder struct {
	order    binary.ByteOrder
	wordSize uint
}

// NewDecoder returns a Decoder for the given byte order and word size.
// wordSize must be 4 or 8.
func NewDecoder(order binary.ByteOrder, wordSize uint) Decoder {
	if wordSize != 4 && wordSize != 8 {
		wordSize = 8
	}
	return Decoder{order: order, wordSize: wordSize}
}

// Order returns the configured byte order.
func (d Decoder) Order() binary.ByteOrder {
	return d.order
}

// WordSize returns the configured native word size in bytes.
func (d Decoder) WordSize() uint {
	return d.wordSize
}

// Uint16 reads one 16-bit unsigned integer from given byte slice offset.
func (d Decoder) Uint16(b []byte, offs uint) uint16 {
	return Uint16(d.order, b, offs)
}

// Uint32 reads one 32-bit unsigned integer from given byte slice offset.
func (d Decoder) Uint32(b []byte, offs uint) uint32 {
	return Uint32(d.order, b, offs)
}

// Uint64 reads one 64-bit unsigned integer from given byte slice offset.
func (d Decoder) Uint64(b []byte, offs uint) uint64 {
	return Uint64(d.order, b, offs)
}

// Word reads one native-sized unsigned integer from given byte slice offset,
// widened to 64 bits.
func (d Decoder) Word(b []byte, offs uint) uint64 {
	if d.wordSize == 4 {
		return uint64(Uint32(d.order, b, offs))
	}
	return Uint64(d.order, b, offs)
}

// PutWord writes one native-sized unsigned integer to the given byte slice
// offset. The slice must have room for the word; short slices are left
// untouched.
func (d Decoder) PutWord(b []byte, offs uint, v uint64) {
	if offs+d.wordSize > uint(len(b)) {
		return
	}
	if d.wordSize == 4 {
		d.order.PutUint32(b[offs:], uint32(v))
		return
	}
	d.order.PutUint64(b[offs:], v)
}
