// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin

import (
	"debug/elf"

	"github.com/objscope/elfbin/log"
)

// autoCountOrder is the fixed preference order of the estimators in auto
// mode. Contradictory inputs make the choice matter, so the order is
// explicit policy rather than derived from the (possibly corrupted) input.
var autoCountOrder = []DynsymCountMethod{
	CountHash, CountGNUHash, CountSection, CountRelocations,
}

// numberOfDynamicSymbols computes the dynamic symbol count using the
// configured method. The format stores no authoritative count, and malformed
// binaries frequently defeat individual estimators (which then return 0), so
// auto mode falls through the ranked list until one produces a plausible
// value. Estimates past MaxSymbols are treated as failure.
func (p *parser) numberOfDynamicSymbols() uint32 {
	if p.countMethod == CountAuto {
		for _, mtd := range autoCountOrder {
			if n := p.countDynsymWith(mtd); n > 0 {
				log.Debugf("%s: dynamic symbol count %d via %v", p.bin.Name, n, mtd)
				return n
			}
		}
		return 0
	}
	n := p.countDynsymWith(p.countMethod)
	if n == 0 {
		p.anomaly("%v: %v", ErrUnreliableCount, p.countMethod)
	}
	return n
}

func (p *parser) countDynsymWith(mtd DynsymCountMethod) uint32 {
	var n uint32
	switch mtd {
	case CountHash:
		n = p.nbDynsymSysvHash()
	case CountGNUHash:
		n = p.nbDynsymGNUHash()
	case CountSection:
		n = p.nbDynsymSection()
	case CountRelocations:
		n = p.nbDynsymRelocations()
	}
	if n > MaxSymbols {
		p.anomaly("dynamic symbol estimate %d via %v exceeds maximum %d", n, mtd, MaxSymbols)
		return 0
	}
	return n
}

// nbDynsymSysvHash derives the count from the SysV hash table: its chain
// array has exactly one entry per dynamic symbol.
func (p *parser) nbDynsymSysvHash() uint32 {
	va, ok := p.bin.DynamicEntry(elf.DT_HASH)
	if !ok {
		return 0
	}
	var hdr [8]byte
	if _, err := p.bin.ReadVirtualMemory(hdr[:], int64(va)); err != nil {
		return 0
	}
	nbucket := p.fm.dec.Uint32(hdr[:], 0)
	nchain := p.fm.dec.Uint32(hdr[:], 4)
	if nbucket > MaxHashBuckets || nchain > MaxHashChains {
		p.anomaly("implausible SysV hash table (%d buckets, %d chains)", nbucket, nchain)
		return 0
	}
	return nchain
}

// nbDynsymGNUHash derives the count from the GNU hash table: the largest
// bucket value is the index of some hashed symbol; walking the hash value
// array from there until an entry with the stop bit set yields the index of
// the last dynamic symbol.
func (p *parser) nbDynsymGNUHash() uint32 {
	va, ok := p.bin.DynamicEntry(elf.DT_GNU_HASH)
	if !ok {
		return 0
	}
	var hdr [16]byte
	if _, err := p.bin.ReadVirtualMemory(hdr[:], int64(va)); err != nil {
		return 0
	}
	nbuckets := p.fm.dec.Uint32(hdr[:], 0)
	symOffset := p.fm.dec.Uint32(hdr[:], 4)
	maskwords := p.fm.dec.Uint32(hdr[:], 8)
	if nbuckets == 0 || nbuckets > MaxHashBuckets {
		p.anomaly("implausible GNU hash bucket count %d", nbuckets)
		return 0
	}
	if maskwords > MaxMaskwords {
		p.anomaly("implausible GNU hash maskword count %d", maskwords)
		return 0
	}

	wordSize := uint64(p.fm.dec.WordSize())
	bucketsAddr := va + 16 + uint64(maskwords)*wordSize
	buckets := make([]byte, 4*nbuckets)
	if _, err := p.bin.ReadVirtualMemory(buckets, int64(bucketsAddr)); err != nil {
		return 0
	}
	maxBucket := uint32(0)
	for i := uint32(0); i < nbuckets; i++ {
		if v := p.fm.dec.Uint32(buckets, uint(4*i)); v > maxBucket {
			maxBucket = v
		}
	}
	if maxBucket == 0 {
		return 0
	}
	if maxBucket < symOffset || maxBucket > MaxSymbols {
		p.anomaly("implausible GNU hash bucket value %d (symbol offset %d)",
			maxBucket, symOffset)
		return 0
	}

	// Walk the chain containing the highest hashed symbol to its stop bit.
	chainAddr := bucketsAddr + uint64(4*nbuckets)
	idx := maxBucket
	for idx < MaxSymbols {
		var val [4]byte
		addr := chainAddr + uint64(idx-symOffset)*4
		if _, err := p.bin.ReadVirtualMemory(val[:], int64(addr)); err != nil {
			return 0
		}
		if p.fm.dec.Uint32(val[:], 0)&1 != 0 {
			return idx + 1
		}
		idx++
	}
	return 0
}

// nbDynsymSection derives the count from the dynamic symbol section's
// declared size. Section metadata is absent in stripped or sectionless
// binaries and freely forgeable, so this ranks below the hash tables.
func (p *parser) nbDynsymSection() uint32 {
	sec := p.bin.SectionByType(elf.SHT_DYNSYM)
	if sec == nil {
		return 0
	}
	entsize := sec.Entsize
	if entsize < uint64(p.fm.symSize) {
		entsize = uint64(p.fm.symSize)
	}
	return uint32(min(sec.Size/entsize, MaxSymbols+1))
}

// nbDynsymRelocations derives a lower bound from the highest symbol index
// referenced by the PLT/GOT and dynamic relocation tables plus one. Reliable
// even on hand-stripped binaries, but only accurate when every symbol is
// referenced by some relocation.
func (p *parser) nbDynsymRelocations() uint32 {
	maxIndex := uint32(0)
	seen := false

	scan := func(va, size uint64, withAddend bool) {
		entSize := uint64(p.fm.relEntrySize(withAddend))
		count := min(size/entSize, MaxRelocations)
		buf := make([]byte, entSize)
		for i := uint64(0); i < count; i++ {
			if _, err := p.bin.ReadVirtualMemory(buf,
				int64(va+i*entSize)); err != nil {
				return
			}
			rel := p.fm.decodeRel(buf, withAddend)
			seen = true
			if rel.SymbolIndex > maxIndex {
				maxIndex = rel.SymbolIndex
			}
		}
	}

	if va, ok := p.bin.DynamicEntry(elf.DT_JMPREL); ok {
		if size, ok := p.bin.DynamicEntry(elf.DT_PLTRELSZ); ok {
			pltRel, _ := p.bin.DynamicEntry(elf.DT_PLTREL)
			scan(va, size, elf.DynTag(pltRel) == elf.DT_RELA)
		}
	}
	if va, ok := p.bin.DynamicEntry(elf.DT_RELA); ok {
		if size, ok := p.bin.DynamicEntry(elf.DT_RELASZ); ok {
			scan(va, size, true)
		}
	}
	if va, ok := p.bin.DynamicEntry(elf.DT_REL); ok {
		if size, ok := p.bin.DynamicEntry(elf.DT_RELSZ); ok {
			scan(va, size, false)
		}
	}
	if !seen {
		return 0
	}
	return maxIndex + 1
}
