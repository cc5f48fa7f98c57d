package engine

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// persistedMetadata mirrors the on-disk metadata file:
//
//	<metadata>
//	    <version>N</version>
//	</metadata>
//
// Parsing tolerates any well-formed XML containing a <version> element
// anywhere; the first one found is authoritative. encoding/xml is the only
// XML library in play anywhere in the retrieved pack (no example repo vendors
// a third-party XML package), so this is the one ambient piece of the core
// that stays on the standard library by necessity, not by default.
type persistedMetadata struct {
	XMLName xml.Name `xml:"metadata"`
	Version uint64   `xml:"version"`
}

// encodeMetadata renders the exact template byte-for-byte rather than
// xml.Marshal's compact output, since the format is part of the on-disk
// contract.
func encodeMetadata(version uint64) []byte {
	return []byte(fmt.Sprintf("<metadata>\n    <version>%d</version>\n</metadata>", version))
}

// decodeMetadata parses raw into a committed version. An empty or
// all-whitespace payload is treated as "no prior version" (committed=0). A
// payload that fails to parse as XML, or one with no <version> element,
// also yields committed=0; this is deliberately not surfaced as an error.
// DecodeCommittedVersion exposes decodeMetadata for diagnostic tooling
// (e.g. the gc-orphans subcommand) that needs to read a metadata file's
// committed version without going through OpenWriter/OpenReader.
func DecodeCommittedVersion(raw []byte) uint64 {
	return decodeMetadata(raw)
}

func decodeMetadata(raw []byte) uint64 {
	dec := xml.NewDecoder(bytes.NewReader(raw))

	for {
		tok, err := dec.Token()
		if err != nil {
			return 0
		}

		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "version" {
			var v uint64
			if err := dec.DecodeElement(&v, &se); err != nil {
				return 0
			}

			return v
		}
	}
}
