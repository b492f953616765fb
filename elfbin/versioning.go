// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin

import (
	"debug/elf"
)

// On-disk record sizes of the versioning tables, identical in both classes.
const (
	verdefSize  = 20
	verdauxSize = 8
	verneedSize = 16
	vernauxSize = 16
)

// versymHidden is the high bit of a DT_VERSYM entry; it marks the binding as
// hidden and is not part of the version index.
const versymHidden = 0x8000

// versioningTableOffset locates a versioning table through its dynamic tag,
// with the corresponding section header as fallback for inputs without
// loadable segments.
func (p *parser) versioningTableOffset(tag elf.DynTag,
	secType elf.SectionType) (uint64, bool) {
	if va, ok := p.bin.DynamicEntry(tag); ok {
		if off, err := p.bin.VirtualAddressToOffset(va); err == nil {
			return off, true
		}
	}
	if sec := p.bin.SectionByType(secType); sec != nil {
		return sec.Offset, true
	}
	return 0, false
}

// parseVersionDefinitions decodes the version definition table: a chain of
// (definition, auxiliary name chain) records linked by relative next
// offsets. The walk is bounded by the declared entry count and the global
// symbol maximum so cyclic chains in corrupted input terminate.
func (p *parser) parseVersionDefinitions() {
	declared, ok := p.bin.DynamicEntry(elf.DT_VERDEFNUM)
	if !ok {
		return
	}
	off, ok := p.versioningTableOffset(elf.DT_VERDEF, elf.SHT_GNU_VERDEF)
	if !ok {
		p.anomaly("version definition table not located")
		return
	}

	count := min(declared, MaxSymbols)
	for i := uint64(0); i < count; i++ {
		b, err := p.r.Bytes(int64(off), verdefSize)
		if err != nil {
			p.anomaly("version definition %d out of bounds: %v", i, err)
			return
		}
		def := &SymbolVersionDefinition{
			Version: p.fm.dec.Uint16(b, 0),
			Flags:   p.fm.dec.Uint16(b, 2),
			NDX:     p.fm.dec.Uint16(b, 4),
			Hash:    p.fm.dec.Uint32(b, 8),
		}
		auxCount := uint64(p.fm.dec.Uint16(b, 6))
		auxOff := off + uint64(p.fm.dec.Uint32(b, 12))
		next := uint64(p.fm.dec.Uint32(b, 16))

		for j := uint64(0); j < min(auxCount, MaxSymbols); j++ {
			ab, err := p.r.Bytes(int64(auxOff), verdauxSize)
			if err != nil {
				p.anomaly("version definition aux %d/%d out of bounds: %v", i, j, err)
				break
			}
			def.Aux = append(def.Aux, &SymbolVersionAux{
				Name: p.lookupDynstr(p.fm.dec.Uint32(ab, 0)),
			})
			auxNext := uint64(p.fm.dec.Uint32(ab, 4))
			if auxNext == 0 {
				break
			}
			auxOff += auxNext
		}

		p.bin.VersionDefinitions = append(p.bin.VersionDefinitions, def)
		if next == 0 {
			break
		}
		off += next
	}
}

// parseVersionRequirements decodes the version requirement table, the
// per-needed-library counterpart of the definition table. Same bounded chain
// walk.
func (p *parser) parseVersionRequirements() {
	declared, ok := p.bin.DynamicEntry(elf.DT_VERNEEDNUM)
	if !ok {
		return
	}
	off, ok := p.versioningTableOffset(elf.DT_VERNEED, elf.SHT_GNU_VERNEED)
	if !ok {
		p.anomaly("version requirement table not located")
		return
	}

	count := min(declared, MaxSymbols)
	for i := uint64(0); i < count; i++ {
		b, err := p.r.Bytes(int64(off), verneedSize)
		if err != nil {
			p.anomaly("version requirement %d out of bounds: %v", i, err)
			return
		}
		req := &SymbolVersionRequirement{
			Version: p.fm.dec.Uint16(b, 0),
			Name:    p.lookupDynstr(p.fm.dec.Uint32(b, 4)),
		}
		auxCount := uint64(p.fm.dec.Uint16(b, 2))
		auxOff := off + uint64(p.fm.dec.Uint32(b, 8))
		next := uint64(p.fm.dec.Uint32(b, 12))

		for j := uint64(0); j < min(auxCount, MaxSymbols); j++ {
			ab, err := p.r.Bytes(int64(auxOff), vernauxSize)
			if err != nil {
				p.anomaly("version requirement aux %d/%d out of bounds: %v", i, j, err)
				break
			}
			aux := &SymbolVersionAuxRequirement{
				Hash:  p.fm.dec.Uint32(ab, 0),
				Flags: p.fm.dec.Uint16(ab, 4),
				Other: p.fm.dec.Uint16(ab, 6),
			}
			aux.Name = p.lookupDynstr(p.fm.dec.Uint32(ab, 8))
			req.Aux = append(req.Aux, aux)
			auxNext := uint64(p.fm.dec.Uint32(ab, 12))
			if auxNext == 0 {
				break
			}
			auxOff += auxNext
		}

		p.bin.VersionRequirements = append(p.bin.VersionRequirements, req)
		if next == 0 {
			break
		}
		off += next
	}
}

// parseSymbolVersions decodes the DT_VERSYM array, one 16-bit version index
// per dynamic symbol, and links each dynamic symbol to its version. Indices
// 0 and 1 are the reserved local and global sentinels; any other index is
// matched against the definition table first, then the requirement
// auxiliaries. An index with no match keeps a version without auxiliary.
func (p *parser) parseSymbolVersions() {
	if len(p.bin.DynamicSymbols) == 0 {
		return
	}
	off, ok := p.versioningTableOffset(elf.DT_VERSYM, elf.SHT_GNU_VERSYM)
	if !ok {
		return
	}

	for i, sym := range p.bin.DynamicSymbols {
		b, err := p.r.Bytes(int64(off)+int64(i)*2, 2)
		if err != nil {
			p.anomaly("symbol version %d out of bounds: %v", i, err)
			break
		}
		value := p.fm.dec.Uint16(b, 0) &^ versymHidden
		sv := &SymbolVersion{value: value}
		if value >= 2 {
			sv.aux = p.matchVersionAux(value)
		}
		sym.Version = sv
		p.bin.SymbolVersions = append(p.bin.SymbolVersions, sv)
	}
}

// matchVersionAux finds the auxiliary version record for a version index,
// definitions first then requirements. Returns nil when nothing matches.
func (p *parser) matchVersionAux(value uint16) *SymbolVersionAux {
	for _, def := range p.bin.VersionDefinitions {
		if def.NDX == value && len(def.Aux) > 0 {
			return def.Aux[0]
		}
	}
	for _, req := range p.bin.VersionRequirements {
		for _, aux := range req.Aux {
			if aux.Other&^versymHidden == value {
				return &aux.SymbolVersionAux
			}
		}
	}
	return nil
}
