// File: internal/blueprint/stable_id.go
package blueprint

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// djb2 hashes a string with the DJB2 xor variant over UTF-16 code units,
// matching what the injected collector computes in the page. Keeping the two
// implementations bit-identical is what lets the client reason about ids
// without a round trip.
func djb2(s string) uint32 {
	h := uint32(5381)
	for _, u := range utf16.Encode([]rune(s)) {
		h = ((h << 5) + h) ^ uint32(u)
	}
	return h
}

// stableIDPrefix marks ids minted by the collector.
const stableIDPrefix = "t-"

// StableID derives the deterministic id for an element from its identity
// seed: tag, leading text, role, href, input type and structural path.
func StableID(tag, text, role, href, inputType, path string) string {
	// Truncate over UTF-16 code units like the collector's text.slice(0, 30),
	// so non-ASCII text keeps minting the same id on both sides.
	if units := utf16.Encode([]rune(text)); len(units) > 30 {
		text = string(utf16.Decode(units[:30]))
	}
	seed := strings.Join([]string{
		strings.ToLower(tag), text, role, href, inputType, path,
	}, "|")
	return stableIDPrefix + strconv.FormatUint(uint64(djb2(seed)), 36)
}

// ContentHash folds a scan into a single fingerprint. Two scans with the
// same elements at the same positions produce the same hash, which is how
// unchanged pages are skipped.
func ContentHash(elements []Element) string {
	h := uint32(5381)
	var b strings.Builder
	for _, el := range elements {
		b.Reset()
		b.WriteString(el.ID)
		b.WriteByte(':')
		b.WriteString(el.Text)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(el.X))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(el.Y))
		b.WriteByte('|')
		for _, u := range utf16.Encode([]rune(b.String())) {
			h = ((h << 5) + h) ^ uint32(u)
		}
	}
	return strconv.FormatUint(uint64(h), 36)
}
