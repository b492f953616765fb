// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin

// Hard structural limits. Input is untrusted; every table walk is bounded by
// one of these so that a corrupt count or a cyclic chain cannot make the
// parser allocate or loop without bound. An individual record tripping a
// limit is dropped; records decoded before it are kept.
const (
	// MaxSymbols bounds any symbol table, the version chain walks and the
	// dynamic symbol count estimators.
	MaxSymbols = 1_000_000

	// MaxHashBuckets bounds the bucket array of either hash table flavor.
	MaxHashBuckets = MaxSymbols

	// MaxHashChains bounds the SysV hash chain array.
	MaxHashChains = 1_000_000

	// MaxSections bounds the section header table.
	MaxSections = 10_000

	// MaxSegments bounds the program header table.
	MaxSegments = 10_000

	// MaxRelocations bounds the total number of decoded relocations across
	// all three families.
	MaxRelocations = 3_000_000

	// MaxDynamicEntries bounds the dynamic table.
	MaxDynamicEntries = 1_000

	// MaxMaskwords bounds the GNU hash bloom filter array.
	MaxMaskwords = 512

	// MaxNoteDescription bounds a single note description payload.
	MaxNoteDescription = 1 << 20

	// MaxSectionSize bounds any single section or segment content read.
	MaxSectionSize = 300 << 20

	// MaxSegmentSize mirrors MaxSectionSize for segment content.
	MaxSegmentSize = MaxSectionSize
)
