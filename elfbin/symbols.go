// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin

import (
	"debug/elf"
)

// parseDynamicSymbols decodes the dynamic symbol table. The table address
// comes from DT_SYMTAB (translated through the loadable segments) with the
// dynamic symbol section as fallback; the count comes from the configured
// estimator since the format stores none.
func (p *parser) parseDynamicSymbols() {
	count := p.numberOfDynamicSymbols()
	if count == 0 {
		return
	}

	var off uint64
	found := false
	if va, ok := p.bin.DynamicEntry(elf.DT_SYMTAB); ok {
		if o, err := p.bin.VirtualAddressToOffset(va); err == nil {
			off, found = o, true
		}
	}
	if !found {
		if sec := p.bin.SectionByType(elf.SHT_DYNSYM); sec != nil {
			off, found = sec.Offset, true
		}
	}
	if !found {
		p.anomaly("%d dynamic symbols estimated but no symbol table located", count)
		return
	}

	symSize := uint64(p.fm.symSize)
	for i := uint32(0); i < count; i++ {
		b, err := p.r.Bytes(int64(off+uint64(i)*symSize), symSize)
		if err != nil {
			p.anomaly("dynamic symbol %d out of bounds: %v", i, err)
			break
		}
		sym := p.fm.decodeSymbol(b)
		sym.Origin = OriginDynamic
		sym.Name = p.lookupDynstr(sym.nameOffset)
		p.bin.DynamicSymbols = append(p.bin.DynamicSymbols, &sym)
	}
}

// parseStaticSymbols decodes .symtab. The count is the section's info field,
// bounded by what the declared section size can actually hold; names resolve
// through the string table section referenced by the link field. A name
// offset outside the string table yields an empty name.
func (p *parser) parseStaticSymbols() {
	sec := p.bin.SectionByType(elf.SHT_SYMTAB)
	if sec == nil {
		return
	}

	symSize := uint64(p.fm.symSize)
	entsize := sec.Entsize
	if entsize < symSize {
		entsize = symSize
	}
	count := uint64(sec.Info)
	if capacity := sec.Size / entsize; count > capacity {
		p.anomaly("static symbol count %d exceeds section capacity %d", count, capacity)
		count = capacity
	}
	if count > MaxSymbols {
		p.anomaly("static symbol count %d exceeds maximum %d", count, MaxSymbols)
		count = MaxSymbols
	}

	strtab := p.loadLinkedStringTable(sec)
	for i := uint64(0); i < count; i++ {
		b, err := p.r.Bytes(int64(sec.Offset+i*entsize), symSize)
		if err != nil {
			p.anomaly("static symbol %d out of bounds: %v", i, err)
			break
		}
		sym := p.fm.decodeSymbol(b)
		sym.Origin = OriginStatic
		if name, ok := getString(strtab, int(sym.nameOffset)); ok {
			sym.Name = name
		}
		p.bin.StaticSymbols = append(p.bin.StaticSymbols, &sym)
	}
}

// loadLinkedStringTable loads the string table section referenced by the
// given section's link field. Missing or unreadable tables degrade to empty
// names, not failure.
func (p *parser) loadLinkedStringTable(sec *Section) []byte {
	if sec.Link >= uint32(len(p.bin.Sections)) {
		p.anomaly("section %q links to string table %d out of range (%d sections)",
			sec.Name, sec.Link, len(p.bin.Sections))
		return nil
	}
	strsh := p.bin.Sections[sec.Link]
	strtab, err := p.r.Bytes(int64(strsh.Offset), min(strsh.Size, MaxSectionSize))
	if err != nil {
		p.anomaly("string table for %q unreadable: %v", sec.Name, err)
		return nil
	}
	return strtab
}
