// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin

import (
	"debug/elf"
)

// decodeRelocationTable decodes one relocation table at a file offset. All
// three families funnel through here; the caller has already resolved where
// the table lives and which on-disk format applies. Decoding stops once
// MaxRelocations entries have been decoded across all families.
func (p *parser) decodeRelocationTable(off, size uint64, withAddend bool,
	origin RelocationOrigin, symtab SymbolOrigin) {
	if _, done := p.parsedRelocOffsets[off]; done {
		return
	}
	p.parsedRelocOffsets[off] = struct{}{}

	entSize := uint64(p.fm.relEntrySize(withAddend))
	count := size / entSize
	if p.relocTotal+uint32(min(count, MaxRelocations)) > MaxRelocations {
		p.anomaly("relocation count %d exceeds maximum %d, truncating",
			count, MaxRelocations)
		count = uint64(MaxRelocations - p.relocTotal)
	}
	for i := uint64(0); i < count; i++ {
		b, err := p.r.Bytes(int64(off+i*entSize), entSize)
		if err != nil {
			p.anomaly("%v relocation %d out of bounds: %v", origin, i, err)
			break
		}
		rel := p.fm.decodeRel(b, withAddend)
		rel.Origin = origin
		rel.symtabOrigin = symtab
		p.bin.Relocations = append(p.bin.Relocations, &rel)
		p.relocTotal++
	}
}

// parseDynamicRelocations decodes the DT_RELA and DT_REL tables.
func (p *parser) parseDynamicRelocations() {
	p.parseDynamicRelocationTable(elf.DT_RELA, elf.DT_RELASZ, true)
	p.parseDynamicRelocationTable(elf.DT_REL, elf.DT_RELSZ, false)
}

func (p *parser) parseDynamicRelocationTable(addrTag, sizeTag elf.DynTag,
	withAddend bool) {
	va, ok := p.bin.DynamicEntry(addrTag)
	if !ok {
		return
	}
	size, ok := p.bin.DynamicEntry(sizeTag)
	if !ok || size == 0 {
		return
	}
	off, err := p.bin.VirtualAddressToOffset(va)
	if err != nil {
		p.anomaly("dynamic relocation table not mapped: %v", err)
		return
	}
	p.decodeRelocationTable(off, size, withAddend, OriginDynamicReloc, OriginDynamic)
}

// parsePltGotRelocations decodes the DT_JMPREL table. DT_PLTREL declares
// which of the two entry formats the table uses.
func (p *parser) parsePltGotRelocations() {
	va, ok := p.bin.DynamicEntry(elf.DT_JMPREL)
	if !ok {
		return
	}
	size, ok := p.bin.DynamicEntry(elf.DT_PLTRELSZ)
	if !ok || size == 0 {
		return
	}
	pltRel, ok := p.bin.DynamicEntry(elf.DT_PLTREL)
	if !ok {
		p.anomaly("DT_JMPREL without DT_PLTREL, assuming implicit addends")
	}
	off, err := p.bin.VirtualAddressToOffset(va)
	if err != nil {
		p.anomaly("PLT/GOT relocation table not mapped: %v", err)
		return
	}
	withAddend := ok && elf.DynTag(pltRel) == elf.DT_RELA
	p.decodeRelocationTable(off, size, withAddend, OriginPltGot, OriginDynamic)
}

// parseSectionRelocations decodes SHT_REL and SHT_RELA sections. This is the
// only relocation source in relocatable objects, which carry no dynamic
// table. Targets resolve against the symbol table designated by each
// section's link field. Tables already decoded through the dynamic entries
// are skipped by file offset.
func (p *parser) parseSectionRelocations() {
	for _, sec := range p.bin.Sections {
		var withAddend bool
		switch sec.Type {
		case elf.SHT_RELA:
			withAddend = true
		case elf.SHT_REL:
			withAddend = false
		default:
			continue
		}
		p.decodeRelocationTable(sec.Offset, sec.Size, withAddend,
			OriginSectionReloc, p.relocationSymtab(sec))
	}
}

// relocationSymtab determines which decoded symbol table a relocation
// section's link field designates.
func (p *parser) relocationSymtab(sec *Section) SymbolOrigin {
	if sec.Link < uint32(len(p.bin.Sections)) &&
		p.bin.Sections[sec.Link].Type == elf.SHT_DYNSYM {
		return OriginDynamic
	}
	return OriginStatic
}

// linkRelocationSymbols resolves decoded symbol indices to Symbol
// references. This runs as a separate phase once every symbol table has been
// decoded, since relocation tables can be decoded before the symbols they
// reference. Index 0 is the reserved null symbol and stays unresolved.
func (p *parser) linkRelocationSymbols() {
	for _, rel := range p.bin.Relocations {
		if rel.SymbolIndex == 0 {
			continue
		}
		table := p.bin.DynamicSymbols
		if rel.symtabOrigin == OriginStatic {
			table = p.bin.StaticSymbols
		}
		if rel.SymbolIndex >= uint32(len(table)) {
			p.anomaly("%v relocation references symbol %d past table size %d",
				rel.Origin, rel.SymbolIndex, len(table))
			continue
		}
		rel.Symbol = table[rel.SymbolIndex]
	}
}
