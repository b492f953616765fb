// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrNoDebugLink means the binary carries no .gnu_debuglink section.
var ErrNoDebugLink = errors.New("no debug link")

// maxDebugLinkSize bounds the .gnu_debuglink section content; it holds only
// a file name and a checksum.
const maxDebugLinkSize = 1 << 20

// ParseDebugLink parses the name and CRC32 of the debug info file from
// .gnu_debuglink section data. Error is returned if the data is malformed.
func ParseDebugLink(data []byte) (linkName string, crc32 int32, err error) {
	strEnd := bytes.IndexByte(data, 0)
	if strEnd < 0 {
		return "", 0, errors.New("malformed debug link, not zero terminated")
	}
	linkName = strings.ToValidUTF8(string(data[:strEnd]), "")

	strEnd++
	// The link contains 0 to 3 bytes of padding after the null character,
	// CRC32 is 32-bit aligned.
	crc32StartIdx := strEnd + ((4 - (strEnd & 3)) & 3)
	if crc32StartIdx+4 > len(data) {
		return "", 0, fmt.Errorf("malformed debug link, no CRC32 (len %v, start index %v)",
			len(data), crc32StartIdx)
	}

	linkCRC32 := binary.LittleEndian.Uint32(data[crc32StartIdx : crc32StartIdx+4])

	return linkName, int32(linkCRC32), nil
}

// DebugLink reads and parses the .gnu_debuglink section. If the link does
// not exist then ErrNoDebugLink is returned.
func (b *Binary) DebugLink() (linkName string, crc int32, err error) {
	sec := b.Section(".gnu_debuglink")
	if sec == nil {
		return "", 0, ErrNoDebugLink
	}
	d, err := sec.Data(maxDebugLinkSize)
	if err != nil {
		return "", 0, fmt.Errorf("could not read link: %w", ErrNoDebugLink)
	}
	return ParseDebugLink(d)
}
