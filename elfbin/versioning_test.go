// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin_test

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objscope/elfbin/elfbin"
	"github.com/objscope/elfbin/testsupport"
)

// buildVersionedImage carries one version definition (index 2), one version
// requirement auxiliary (index 3), and a versym array exercising the local
// and global sentinels, both match paths, the hidden bit, and an unmatched
// index.
func buildVersionedImage() []byte {
	b := testsupport.NewBuilder()

	dynstr, offs := testsupport.Strtab(
		"sym_local", "sym_global", "sym_def", "sym_need", "sym_unmatched",
		"LIB_2.0", "GLIBC_2.30", "libc.so.6")
	nameOff := func(i int) uint32 { return offs[i] }

	dynstrIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".dynstr", Type: elf.SHT_STRTAB, Flags: elf.SHF_ALLOC,
		Data: dynstr,
	})

	syms := [][]byte{b.Sym(0, 0, 0, 0, 0, 0)}
	for i := 0; i < 5; i++ {
		syms = append(syms, b.Sym(nameOff(i),
			byte(elf.STB_GLOBAL)<<4|byte(elf.STT_FUNC), 0, 0,
			uint64(0x1000+i*16), 16))
	}
	dynsymIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".dynsym", Type: elf.SHT_DYNSYM, Flags: elf.SHF_ALLOC,
		Link: dynstrIdx, Info: 1, Entsize: 24,
		Data: testsupport.Concat(syms...),
	})

	verdefIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".gnu.version_d", Type: elf.SHT_GNU_VERDEF, Flags: elf.SHF_ALLOC,
		Data: testsupport.Concat(
			// version, flags, ndx, aux count; hash, aux offset, next
			b.U16s(1, 0, 2, 1),
			b.U32s(0, 20, 0),
			// verdaux: name, next
			b.U32s(nameOff(5), 0),
		),
	})
	verneedIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".gnu.version_r", Type: elf.SHT_GNU_VERNEED, Flags: elf.SHF_ALLOC,
		Data: testsupport.Concat(
			// version, aux count; file name, aux offset, next
			b.U16s(1, 1),
			b.U32s(nameOff(7), 16, 0),
			// vernaux: hash; flags, other; name, next
			b.U32s(0x9f0),
			b.U16s(0, 3),
			b.U32s(nameOff(6), 0),
		),
	})
	versymIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".gnu.version", Type: elf.SHT_GNU_VERSYM, Flags: elf.SHF_ALLOC,
		Entsize: 2,
		// One entry per dynamic symbol; 0x8002 checks hidden-bit masking.
		Data: b.U16s(0, 0, 1, 0x8002, 3, 9),
	})

	b.AddSection(testsupport.SectionSpec{
		Name: ".dynamic", Type: elf.SHT_DYNAMIC, Flags: elf.SHF_ALLOC,
		Entsize: 16,
		Data: testsupport.Concat(
			b.Dyn(elf.DT_STRTAB, b.SectionOffset(dynstrIdx)),
			b.Dyn(elf.DT_STRSZ, uint64(len(dynstr))),
			b.Dyn(elf.DT_SYMTAB, b.SectionOffset(dynsymIdx)),
			b.Dyn(elf.DT_VERDEF, b.SectionOffset(verdefIdx)),
			b.Dyn(elf.DT_VERDEFNUM, 1),
			b.Dyn(elf.DT_VERNEED, b.SectionOffset(verneedIdx)),
			b.Dyn(elf.DT_VERNEEDNUM, 1),
			b.Dyn(elf.DT_VERSYM, b.SectionOffset(versymIdx)),
			b.Dyn(elf.DT_NULL, 0),
		),
	})
	b.LoadAll()
	return b.Build()
}

func TestSymbolVersioning(t *testing.T) {
	bin, err := elfbin.ParseBytes(buildVersionedImage(), "versioned")
	require.NoError(t, err)
	defer bin.Close()

	require.Len(t, bin.DynamicSymbols, 6)
	require.Len(t, bin.SymbolVersions, 6)
	assert.Equal(t, uint64(0), bin.Anomalies())

	require.Len(t, bin.VersionDefinitions, 1)
	def := bin.VersionDefinitions[0]
	assert.Equal(t, uint16(2), def.NDX)
	require.Len(t, def.Aux, 1)
	assert.Equal(t, "LIB_2.0", def.Aux[0].Name)

	require.Len(t, bin.VersionRequirements, 1)
	req := bin.VersionRequirements[0]
	assert.Equal(t, "libc.so.6", req.Name)
	require.Len(t, req.Aux, 1)
	assert.Equal(t, uint16(3), req.Aux[0].Other)
	assert.Equal(t, "GLIBC_2.30", req.Aux[0].Name)
}

func TestSymbolVersionSentinels(t *testing.T) {
	bin, err := elfbin.ParseBytes(buildVersionedImage(), "versioned")
	require.NoError(t, err)
	defer bin.Close()

	local := bin.Symbol("sym_local").Version
	require.NotNil(t, local)
	assert.True(t, local.IsLocal())
	assert.False(t, local.HasAux())

	global := bin.Symbol("sym_global").Version
	require.NotNil(t, global)
	assert.True(t, global.IsGlobal())
	assert.False(t, global.HasAux())
}

func TestSymbolVersionMatching(t *testing.T) {
	bin, err := elfbin.ParseBytes(buildVersionedImage(), "versioned")
	require.NoError(t, err)
	defer bin.Close()

	// Index 2 with the hidden bit set matches the definition table.
	def := bin.Symbol("sym_def").Version
	require.NotNil(t, def)
	assert.Equal(t, uint16(2), def.Value())
	require.True(t, def.HasAux())
	assert.Equal(t, "LIB_2.0", def.Aux().Name)

	// Index 3 matches a requirement auxiliary.
	need := bin.Symbol("sym_need").Version
	require.NotNil(t, need)
	require.True(t, need.HasAux())
	assert.Equal(t, "GLIBC_2.30", need.Aux().Name)

	// An index without any matching table entry keeps its value but carries
	// no auxiliary.
	unmatched := bin.Symbol("sym_unmatched").Version
	require.NotNil(t, unmatched)
	assert.Equal(t, uint16(9), unmatched.Value())
	assert.False(t, unmatched.HasAux())
}
