// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin_test

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objscope/elfbin/elfbin"
	"github.com/objscope/elfbin/testsupport"
)

func compressedSection(t *testing.T, b *testsupport.Builder,
	typ elf.CompressionType, plain []byte) []byte {
	var payload bytes.Buffer
	switch typ {
	case elf.COMPRESS_ZLIB:
		zw := zlib.NewWriter(&payload)
		_, err := zw.Write(plain)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	case elf.COMPRESS_ZSTD:
		zw, err := zstd.NewWriter(&payload)
		require.NoError(t, err)
		_, err = zw.Write(plain)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	}
	return testsupport.Concat(
		b.U32s(uint32(typ), 0),
		b.Words(uint64(len(plain)), 8),
		payload.Bytes(),
	)
}

func TestCompressedSectionData(t *testing.T) {
	plain := bytes.Repeat([]byte("debug info "), 40)

	for _, typ := range []elf.CompressionType{
		elf.COMPRESS_ZLIB, elf.COMPRESS_ZSTD,
	} {
		b := testsupport.NewBuilder()
		b.AddSection(testsupport.SectionSpec{
			Name: ".debug_info", Type: elf.SHT_PROGBITS,
			Flags: elf.SHF_COMPRESSED,
			Data:  compressedSection(t, b, typ, plain),
		})
		bin, err := elfbin.ParseBytes(b.Build(), "compressed")
		require.NoError(t, err)

		sec := bin.Section(".debug_info")
		require.NotNil(t, sec)
		data, err := sec.Data(4096)
		require.NoError(t, err)
		assert.Equal(t, plain, data, "type %v", typ)

		// The bound applies to the decompressed size.
		_, err = sec.Data(uint(len(plain) - 1))
		require.Error(t, err)
		require.NoError(t, bin.Close())
	}
}

func TestUncompressedSectionData(t *testing.T) {
	b := testsupport.NewBuilder()
	b.AddSection(testsupport.SectionSpec{
		Name: ".rodata", Type: elf.SHT_PROGBITS, Data: []byte("constants"),
	})
	bin, err := elfbin.ParseBytes(b.Build(), "plain")
	require.NoError(t, err)
	defer bin.Close()

	sec := bin.Section(".rodata")
	require.NotNil(t, sec)
	data, err := sec.Data(64)
	require.NoError(t, err)
	assert.Equal(t, []byte("constants"), data)

	_, err = sec.Data(4)
	require.Error(t, err)

	// SHT_NOBITS sections have no backing content.
	b2 := testsupport.NewBuilder()
	b2.AddSection(testsupport.SectionSpec{Name: ".bss", Type: elf.SHT_NOBITS})
	bin2, err := elfbin.ParseBytes(b2.Build(), "nobits")
	require.NoError(t, err)
	defer bin2.Close()
	data, err = bin2.Section(".bss").Data(64)
	require.NoError(t, err)
	assert.Empty(t, data)
}
