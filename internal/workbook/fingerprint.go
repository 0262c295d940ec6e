package workbook

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Field separator for the canonical byte stream. NUL cannot occur in
// cell addresses, sheet names, or extracted content.
const fieldSep = "\x00"

// Fingerprint computes a deterministic content hash of a snapshot. Two
// snapshots with identical cell contents hash identically regardless of
// map iteration order.
func Fingerprint(s WorkbookSnapshot) string {
	h := sha256.New()

	for _, sheet := range sortedKeys(s) {
		writeField(h, sheet)

		cells := s[sheet]
		for _, addr := range sortedKeys(cells) {
			cell := cells[addr]

			writeField(h, addr)
			writeOptional(h, cell.Formula)
			writeOptional(h, cell.Value)
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	h.Write([]byte(s))
	h.Write([]byte(fieldSep))
}

// writeOptional distinguishes a nil field from an empty string so the
// canonical stream is unambiguous.
func writeOptional(h hash.Hash, s *string) {
	if s == nil {
		h.Write([]byte{0x01})
	} else {
		h.Write([]byte{0x02})
		h.Write([]byte(*s))
	}

	h.Write([]byte(fieldSep))
}
