// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin

import (
	"debug/elf"
	"sort"

	"github.com/objscope/elfbin/sliceread"
)

// Note types handled beyond what debug/elf names.
const (
	// noteTypeGNUBuildID is the NT_GNU_BUILD_ID note type in "GNU" notes.
	noteTypeGNUBuildID = 3
	// noteTypeAuxv is the NT_AUXV note type in "CORE" notes.
	noteTypeAuxv = 6
)

// AuxType enumerates the keys of the process auxiliary vector as dumped
// into core files.
type AuxType uint64

const (
	AuxNull        AuxType = 0
	AuxIgnore      AuxType = 1
	AuxExecFD      AuxType = 2
	AuxPhdr        AuxType = 3
	AuxPhent       AuxType = 4
	AuxPhnum       AuxType = 5
	AuxPagesz      AuxType = 6
	AuxBase        AuxType = 7
	AuxFlags       AuxType = 8
	AuxEntry       AuxType = 9
	AuxNotELF      AuxType = 10
	AuxUID         AuxType = 11
	AuxEUID        AuxType = 12
	AuxGID         AuxType = 13
	AuxEGID        AuxType = 14
	AuxPlatform    AuxType = 15
	AuxHwcap       AuxType = 16
	AuxClktck      AuxType = 17
	AuxSecure      AuxType = 23
	AuxRandom      AuxType = 25
	AuxHwcap2      AuxType = 26
	AuxExecFn      AuxType = 31
	AuxSysinfo     AuxType = 32
	AuxSysinfoEhdr AuxType = 33
)

// NoteDetail is a typed interpretation of a note's description payload.
// Notes without a recognized (type, producer) pairing carry no detail.
type NoteDetail interface {
	noteDetail()
}

// Note is one decoded record from a note section or segment.
type Note struct {
	Name string
	Type uint32
	// Description is the raw payload, bounded by MaxNoteDescription.
	Description []byte
	// Detail is the typed decoding of Description, nil when the note kind
	// is not recognized.
	Detail NoteDetail
}

// CoreAuxv is the decoded auxiliary vector note of a core file: a mapping
// from AuxType keys to word values. The mapping is the source of truth; the
// serialized byte form is re-derived on every mutation, so Bytes is always
// consistent with the current values.
type CoreAuxv struct {
	dec    sliceread.Decoder
	values map[AuxType]uint64
	raw    []byte
}

func (*CoreAuxv) noteDetail() {}

// newCoreAuxv decodes an auxiliary vector payload: (key, value) word pairs
// terminated by an AuxNull key. Re-set keys overwrite.
func newCoreAuxv(dec sliceread.Decoder, desc []byte) *CoreAuxv {
	a := &CoreAuxv{
		dec:    dec,
		values: map[AuxType]uint64{},
	}
	step := dec.WordSize() * 2
	for off := uint(0); off+step <= uint(len(desc)); off += step {
		key := AuxType(dec.Word(desc, off))
		if key == AuxNull {
			break
		}
		a.values[key] = dec.Word(desc, off+dec.WordSize())
	}
	a.rebuild()
	return a
}

// Has reports whether the vector carries the given key.
func (a *CoreAuxv) Has(key AuxType) bool {
	_, ok := a.values[key]
	return ok
}

// Get returns the value stored under the given key.
func (a *CoreAuxv) Get(key AuxType) (uint64, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Set stores a value under the given key, overwriting any previous value,
// and re-encodes the byte payload.
func (a *CoreAuxv) Set(key AuxType, value uint64) {
	a.values[key] = value
	a.rebuild()
}

// Delete removes a key and re-encodes the byte payload.
func (a *CoreAuxv) Delete(key AuxType) {
	delete(a.values, key)
	a.rebuild()
}

// Values returns a copy of the mapping.
func (a *CoreAuxv) Values() map[AuxType]uint64 {
	out := make(map[AuxType]uint64, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// SetValues replaces the whole mapping and re-encodes the byte payload.
func (a *CoreAuxv) SetValues(values map[AuxType]uint64) {
	a.values = make(map[AuxType]uint64, len(values))
	for k, v := range values {
		a.values[k] = v
	}
	a.rebuild()
}

// Bytes returns the serialized payload: key-sorted (key, value) word pairs
// followed by an AuxNull terminator pair.
func (a *CoreAuxv) Bytes() []byte {
	return a.raw
}

func (a *CoreAuxv) rebuild() {
	keys := make([]AuxType, 0, len(a.values))
	for k := range a.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	w := a.dec.WordSize()
	buf := make([]byte, (uint(len(keys))+1)*2*w)
	off := uint(0)
	for _, k := range keys {
		a.dec.PutWord(buf, off, uint64(k))
		a.dec.PutWord(buf, off+w, a.values[k])
		off += 2 * w
	}
	// Terminator pair stays zero.
	a.raw = buf
}

// parseNotes decodes note records from SHT_NOTE sections, falling back to
// PT_NOTE segments for sectionless inputs. It also captures the GNU build
// ID when present.
func (p *parser) parseNotes() {
	found := false
	for _, sec := range p.bin.Sections {
		if sec.Type == elf.SHT_NOTE {
			found = true
			p.parseNoteRecords(sec.Offset, sec.Size)
		}
	}
	if found {
		return
	}
	for _, seg := range p.bin.Segments {
		if seg.Type == elf.PT_NOTE {
			p.parseNoteRecords(seg.Offset, seg.Filesz)
		}
	}
}

// parseNoteRecords walks one note area. Records are 4-aligned triples of
// (name size, description size, type) followed by the name and description
// payloads. A record that does not fit the remaining area ends the walk.
func (p *parser) parseNoteRecords(off, size uint64) {
	end := off + size
	for off+12 <= end {
		hdr, err := p.r.Bytes(int64(off), 12)
		if err != nil {
			p.anomaly("note header out of bounds: %v", err)
			return
		}
		nameSize := uint64(p.fm.dec.Uint32(hdr, 0))
		descSize := uint64(p.fm.dec.Uint32(hdr, 4))
		noteType := p.fm.dec.Uint32(hdr, 8)

		if descSize > MaxNoteDescription {
			p.anomaly("note description size %d exceeds maximum %d",
				descSize, MaxNoteDescription)
			return
		}
		nameOff := off + 12
		descOff := nameOff + align4(nameSize)
		next := descOff + align4(descSize)
		if next > end || next <= off {
			p.anomaly("note record at offset %d overruns its area", off)
			return
		}

		note := &Note{Type: noteType}
		if nameSize > 0 {
			nb, err := p.r.Bytes(int64(nameOff), nameSize)
			if err != nil {
				p.anomaly("note name out of bounds: %v", err)
				return
			}
			if s, ok := getString(nb, 0); ok {
				note.Name = s
			} else {
				note.Name = string(nb)
			}
		}
		if descSize > 0 {
			db, err := p.r.Bytes(int64(descOff), descSize)
			if err != nil {
				p.anomaly("note description out of bounds: %v", err)
				return
			}
			note.Description = db
		}

		p.decodeNoteDetail(note)
		p.bin.Notes = append(p.bin.Notes, note)
		off = next
	}
}

// decodeNoteDetail dispatches a note to its typed detail decoder, keyed by
// the note type and the owner name together with the file type.
func (p *parser) decodeNoteDetail(note *Note) {
	switch {
	case note.Name == "GNU" && note.Type == noteTypeGNUBuildID:
		if len(p.bin.buildID) == 0 {
			p.bin.buildID = note.Description
		}
	case note.Name == "CORE" && note.Type == noteTypeAuxv &&
		p.bin.Header.Type == elf.ET_CORE:
		note.Detail = newCoreAuxv(p.fm.dec, note.Description)
	}
}

func align4(v uint64) uint64 {
	return (v + 3) &^ 3
}
