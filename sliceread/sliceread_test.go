// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package sliceread

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReads(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	assert.Equal(t, uint8(0x03), Uint8(data, 2))
	assert.Equal(t, uint16(0x0201), Uint16(binary.LittleEndian, data, 0))
	assert.Equal(t, uint16(0x0102), Uint16(binary.BigEndian, data, 0))
	assert.Equal(t, uint32(0x07060504), Uint32(binary.LittleEndian, data, 3))
	assert.Equal(t, uint64(0x0807060504030201), Uint64(binary.LittleEndian, data, 0))
}

func TestOutOfBoundsYieldsZero(t *testing.T) {
	data := []byte{0xff, 0xff}

	assert.Equal(t, uint8(0), Uint8(data, 2))
	assert.Equal(t, uint16(0), Uint16(binary.LittleEndian, data, 1))
	assert.Equal(t, uint32(0), Uint32(binary.LittleEndian, data, 0))
	assert.Equal(t, uint64(0), Uint64(binary.LittleEndian, data, 0))
}

func TestDecoderWord(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	d32 := NewDecoder(binary.LittleEndian, 4)
	assert.Equal(t, uint(4), d32.WordSize())
	assert.Equal(t, uint64(0x04030201), d32.Word(data, 0))

	d64 := NewDecoder(binary.BigEndian, 8)
	assert.Equal(t, uint(8), d64.WordSize())
	assert.Equal(t, uint64(0x0102030405060708), d64.Word(data, 0))
	assert.Equal(t, uint64(0), d64.Word(data, 1))
}

func TestPutWord(t *testing.T) {
	d32 := NewDecoder(binary.LittleEndian, 4)
	buf := make([]byte, 8)
	d32.PutWord(buf, 0, 0x11223344)
	d32.PutWord(buf, 4, 0x55667788)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11, 0x88, 0x77, 0x66, 0x55}, buf)

	// Short destination stays untouched.
	short := make([]byte, 2)
	d32.PutWord(short, 0, 0xffffffff)
	assert.Equal(t, []byte{0, 0}, short)
}
