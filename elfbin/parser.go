// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/objscope/elfbin/log"
	"github.com/objscope/elfbin/readatbuf"
)

// elfMagic is the four ident bytes every ELF file starts with.
var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

const (
	// streamPageSize is the page size of the read cache. Header and table
	// walks do many short neighboring reads.
	streamPageSize = 4096
	// streamCachePages is the number of cached pages per parse.
	streamCachePages = 8
)

// parser holds the state of one parse. It is the sole mutator of the
// in-progress Binary; once parse returns, ownership of the model transfers
// to the caller and the parser is discarded.
type parser struct {
	bin         *Binary
	r           *readatbuf.Reader
	fm          format
	countMethod DynsymCountMethod

	// dynstr is the loaded dynamic string table.
	dynstr []byte

	// parsedRelocOffsets records file offsets of relocation tables already
	// decoded through the dynamic table, so section headers describing the
	// same tables don't produce duplicates.
	parsedRelocOffsets map[uint64]struct{}

	// relocTotal counts decoded relocations across all families against
	// MaxRelocations.
	relocTotal uint32
}

// Parse opens the named file and decodes it into a Binary. The returned
// model keeps the file open for lazy section content reads; callers own it
// and should Close it when done.
func Parse(path string, opts ...Option) (*Binary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	r, err := readatbuf.New(f, st.Size(), streamPageSize, streamCachePages)
	if err != nil {
		f.Close()
		return nil, err
	}
	bin, err := newParser(r, path, opts).parse()
	if err != nil {
		f.Close()
		return nil, err
	}
	bin.closer = f
	return bin, nil
}

// ParseBytes decodes the given raw data as an ELF binary. name is used only
// for diagnostics.
func ParseBytes(data []byte, name string, opts ...Option) (*Binary, error) {
	r, err := readatbuf.New(bytes.NewReader(data), int64(len(data)),
		streamPageSize, streamCachePages)
	if err != nil {
		return nil, err
	}
	return newParser(r, name, opts).parse()
}

func newParser(r *readatbuf.Reader, name string, opts []Option) *parser {
	p := &parser{
		bin: &Binary{
			Name:        name,
			symbolIndex: make(map[string]*Symbol),
		},
		r:                  r,
		countMethod:        CountAuto,
		parsedRelocOffsets: make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// anomaly records one tolerated structural problem and logs it.
func (p *parser) anomaly(format string, args ...any) {
	p.bin.addAnomaly()
	log.Debugf("%s: "+format, append([]any{p.bin.Name}, args...)...)
}

// parse runs the decode stages in dependency order: header, segments and
// sections, dynamic table, dynamic symbol count, symbols, relocations,
// versioning, notes. Stage failures past the header are tolerated; the
// partial model decoded so far is returned.
func (p *parser) parse() (*Binary, error) {
	if err := p.parseHeader(); err != nil {
		return nil, err
	}
	p.parseSegments()
	p.parseSections()
	p.parseDynamicEntries()
	p.loadDynamicStringTable()

	p.parseDynamicSymbols()
	p.parseStaticSymbols()

	p.parseDynamicRelocations()
	p.parsePltGotRelocations()
	p.parseSectionRelocations()
	p.linkRelocationSymbols()

	p.parseVersionDefinitions()
	p.parseVersionRequirements()
	p.parseSymbolVersions()

	p.parseNotes()
	p.parseOverlay()

	if id, err := fileIDFromReader(p.r, p.r.Size()); err == nil {
		p.bin.FileID = id
	}

	for _, sym := range p.bin.Symbols() {
		p.bin.indexSymbol(sym)
	}
	return p.bin, nil
}

// parseHeader validates the ident bytes and decodes the table descriptors
// everything else depends on. Bad magic and an unrecognized class are the
// only fatal structural conditions.
func (p *parser) parseHeader() error {
	ident, err := p.r.Bytes(0, 16)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	if !bytes.Equal(ident[0:4], elfMagic) {
		return ErrNotELF
	}

	class := elf.Class(ident[elf.EI_CLASS])
	if class != elf.ELFCLASS32 && class != elf.ELFCLASS64 {
		return fmt.Errorf("%w: class %d", ErrUnsupportedClass, ident[elf.EI_CLASS])
	}

	data := elf.Data(ident[elf.EI_DATA])
	var order binary.ByteOrder
	switch data {
	case elf.ELFDATA2LSB:
		order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		// Unknown encoding is recoverable: assume little-endian.
		order = binary.LittleEndian
		data = elf.ELFDATA2LSB
		p.bin.addAnomaly()
		log.Warnf("%s: unknown data encoding %d, assuming little-endian",
			p.bin.Name, ident[elf.EI_DATA])
	}

	p.fm = newFormat(class, order)
	p.bin.Class = class
	p.bin.DataEncoding = data

	hdrBytes, err := p.r.Bytes(0, uint64(p.fm.ehdrSize))
	if err != nil {
		return fmt.Errorf("truncated ELF header: %w", err)
	}
	p.bin.Header = p.fm.decodeHeader(hdrBytes)
	p.applyExtendedCounts()

	hdr := &p.bin.Header
	// A declared entry size below the architecture minimum makes the whole
	// table unusable; treat it as absent.
	if hdr.ProgCount > 0 && uint(hdr.ProgEntrySize) < p.fm.phdrSize {
		p.anomaly("program header entry size %d below minimum %d, ignoring table",
			hdr.ProgEntrySize, p.fm.phdrSize)
		hdr.ProgCount = 0
	}
	if hdr.SectCount > 0 && uint(hdr.SectEntrySize) < p.fm.shdrSize {
		p.anomaly("section header entry size %d below minimum %d, ignoring table",
			hdr.SectEntrySize, p.fm.shdrSize)
		hdr.SectCount = 0
	}
	return nil
}

// applyExtendedCounts handles the reserved escape encodings used when a
// table count or index overflows its 16-bit header field: the real values
// then live in section header 0.
func (p *parser) applyExtendedCounts() {
	hdr := &p.bin.Header
	needExtension := hdr.ProgCount == 0xffff ||
		uint32(hdr.SectNameIndex) == uint32(elf.SHN_XINDEX) ||
		(hdr.SectCount == 0 && hdr.SectTabOffset != 0)
	if !needExtension || hdr.SectTabOffset == 0 {
		return
	}
	b, err := p.r.Bytes(int64(hdr.SectTabOffset), uint64(p.fm.shdrSize))
	if err != nil {
		p.anomaly("extended counts requested but section header 0 unreadable: %v", err)
		return
	}
	sh0, _ := p.fm.decodeSectionHeader(b)
	if hdr.ProgCount == 0xffff {
		hdr.ProgCount = sh0.Info
	}
	if hdr.SectCount == 0 {
		hdr.SectCount = uint32(sh0.Size)
	}
	if uint32(hdr.SectNameIndex) == uint32(elf.SHN_XINDEX) {
		hdr.SectNameIndex = sh0.Link
	}
}

// parseSegments reads the program header table. Individual records that fall
// outside the stream are skipped with a warning; a count past the hard
// maximum is clamped.
func (p *parser) parseSegments() {
	hdr := &p.bin.Header
	count := hdr.ProgCount
	if count > MaxSegments {
		p.anomaly("program header count %d exceeds maximum %d", count, MaxSegments)
		count = MaxSegments
	}
	for i := uint32(0); i < count; i++ {
		off := int64(hdr.ProgTabOffset) + int64(i)*int64(hdr.ProgEntrySize)
		b, err := p.r.Bytes(off, uint64(p.fm.phdrSize))
		if err != nil {
			p.anomaly("program header %d out of bounds: %v", i, err)
			continue
		}
		seg := p.fm.decodeProgHeader(b)
		if seg.Offset+seg.Filesz < seg.Offset {
			p.anomaly("program header %d: offset+size overflows", i)
			continue
		}
		seg.elfReader = p.r
		p.bin.Segments = append(p.bin.Segments, &seg)
	}
}

// parseSections reads the section header table and resolves section names
// through the section name string table.
func (p *parser) parseSections() {
	hdr := &p.bin.Header
	if hdr.SectCount == 0 || hdr.SectTabOffset == 0 {
		return
	}
	count := hdr.SectCount
	if count > MaxSections {
		p.anomaly("section header count %d exceeds maximum %d", count, MaxSections)
		count = MaxSections
	}
	for i := uint32(0); i < count; i++ {
		off := int64(hdr.SectTabOffset) + int64(i)*int64(hdr.SectEntrySize)
		b, err := p.r.Bytes(off, uint64(p.fm.shdrSize))
		if err != nil {
			p.anomaly("section header %d out of bounds: %v", i, err)
			// Keep a zero-valued placeholder so Link and shndx references
			// into later sections stay aligned with the header table.
			p.bin.Sections = append(p.bin.Sections, &Section{dec: p.fm.dec})
			continue
		}
		sec, nameOff := p.fm.decodeSectionHeader(b)
		if sec.Offset+sec.Size < sec.Offset {
			p.anomaly("section header %d: offset+size overflows", i)
			p.bin.Sections = append(p.bin.Sections, &Section{dec: p.fm.dec})
			continue
		}
		sec.nameOffset = nameOff
		sec.dec = p.fm.dec
		if sec.Type != elf.SHT_NOBITS {
			sec.sr = io.NewSectionReader(p.r, int64(sec.Offset),
				int64(min(sec.Size, MaxSectionSize)))
		}
		p.bin.Sections = append(p.bin.Sections, &sec)
	}

	p.resolveSectionNames()
}

func (p *parser) resolveSectionNames() {
	hdr := &p.bin.Header
	if hdr.SectNameIndex >= uint32(len(p.bin.Sections)) {
		p.anomaly("section name table index %d out of range (%d sections)",
			hdr.SectNameIndex, len(p.bin.Sections))
		return
	}
	strsh := p.bin.Sections[hdr.SectNameIndex]
	strtab, err := p.r.Bytes(int64(strsh.Offset), min(strsh.Size, MaxSectionSize))
	if err != nil {
		p.anomaly("section name table unreadable: %v", err)
		return
	}
	for i, sec := range p.bin.Sections {
		name, ok := getString(strtab, int(sec.nameOffset))
		if !ok {
			p.anomaly("bad name index for section %d (%d/%d)",
				i, sec.nameOffset, len(strtab))
			continue
		}
		sec.Name = name
	}
}

// parseDynamicEntries decodes the dynamic table from the PT_DYNAMIC segment,
// falling back to the .dynamic section for files without segments. Decoding
// preserves file order; duplicate tags stay in the sequence and lookups take
// the first occurrence.
func (p *parser) parseDynamicEntries() {
	var off, size uint64
	if seg := p.bin.Segment(elf.PT_DYNAMIC); seg != nil {
		off, size = seg.Offset, seg.Filesz
	} else if sec := p.bin.SectionByType(elf.SHT_DYNAMIC); sec != nil {
		off, size = sec.Offset, sec.Size
	} else {
		return
	}

	count := size / uint64(p.fm.dynSize)
	if count > MaxDynamicEntries {
		p.anomaly("dynamic entry count %d exceeds maximum %d", count, MaxDynamicEntries)
		count = MaxDynamicEntries
	}
	seen := make(map[elf.DynTag]struct{}, count)
	for i := uint64(0); i < count; i++ {
		b, err := p.r.Bytes(int64(off+i*uint64(p.fm.dynSize)), uint64(p.fm.dynSize))
		if err != nil {
			p.anomaly("dynamic entry %d out of bounds: %v", i, err)
			break
		}
		entry := p.fm.decodeDyn(b)
		if _, dup := seen[entry.Tag]; dup && entry.Tag != elf.DT_NEEDED {
			p.anomaly("duplicate dynamic tag %v at entry %d", entry.Tag, i)
		}
		seen[entry.Tag] = struct{}{}
		p.bin.DynamicEntries = append(p.bin.DynamicEntries, entry)
		if entry.Tag == elf.DT_NULL {
			break
		}
	}
}

// loadDynamicStringTable locates and loads the dynamic string table. Two
// independent strategies: the DT_STRTAB virtual address translated through
// the loadable segments, then the .dynstr section header.
func (p *parser) loadDynamicStringTable() {
	var off uint64
	found := false
	var size uint64

	if va, ok := p.bin.DynamicEntry(elf.DT_STRTAB); ok {
		if o, err := p.bin.VirtualAddressToOffset(va); err == nil {
			off, found = o, true
		}
	}
	if !found {
		if sec := p.bin.Section(".dynstr"); sec != nil {
			off, size, found = sec.Offset, sec.Size, true
		}
	}
	if !found {
		return
	}
	if sz, ok := p.bin.DynamicEntry(elf.DT_STRSZ); ok {
		size = sz
	}
	if size == 0 || size > MaxSectionSize {
		size = min(uint64(p.r.Remaining(int64(off))), MaxSectionSize)
	}

	strs, err := p.r.Bytes(int64(off), size)
	if err != nil {
		// Partial table is better than none.
		size = uint64(p.r.Remaining(int64(off)))
		if strs, err = p.r.Bytes(int64(off), size); err != nil {
			p.anomaly("dynamic string table unreadable: %v", err)
			return
		}
	}
	p.dynstr = strs
}

// lookupDynstr resolves a name offset in the dynamic string table. Out of
// bounds offsets resolve to the empty name.
func (p *parser) lookupDynstr(off uint32) string {
	s, ok := getString(p.dynstr, int(off))
	if !ok {
		return ""
	}
	return s
}

// parseOverlay captures trailing bytes not covered by any declared table,
// section or segment.
func (p *parser) parseOverlay() {
	hdr := &p.bin.Header
	end := uint64(p.fm.ehdrSize)
	grow := func(v uint64) {
		if v > end {
			end = v
		}
	}
	grow(hdr.ProgTabOffset + uint64(hdr.ProgCount)*uint64(hdr.ProgEntrySize))
	grow(hdr.SectTabOffset + uint64(hdr.SectCount)*uint64(hdr.SectEntrySize))
	for _, sec := range p.bin.Sections {
		if sec.Type != elf.SHT_NOBITS {
			grow(sec.Offset + sec.Size)
		}
	}
	for _, seg := range p.bin.Segments {
		grow(seg.Offset + seg.Filesz)
	}
	total := uint64(p.r.Size())
	if end >= total {
		return
	}
	overlay, err := p.r.Bytes(int64(end), min(total-end, MaxSectionSize))
	if err != nil {
		return
	}
	p.bin.Overlay = overlay
}

// getString extracts a null terminated string from an ELF string table.
func getString(section []byte, start int) (string, bool) {
	if start < 0 || start >= len(section) {
		return "", false
	}
	slen := bytes.IndexByte(section[start:], 0)
	if slen < 0 {
		return "", false
	}
	return string(section[start : start+slen]), true
}
