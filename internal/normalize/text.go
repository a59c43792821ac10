package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var multiSpace = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// Text standardizes a raw string value for agreement comparison. The original
// string is preserved on the observation for display; only this folded form
// is used when clustering text fields:
//  1. Unicode compatibility normalization (NFKC)
//  2. case folding
//  3. whitespace collapsed to single spaces, ends trimmed
func Text(raw string) string {
	s := norm.NFKC.String(raw)
	// Casers are stateful, so build one per call rather than sharing.
	s = cases.Fold().String(s)
	s = multiSpace.Replace(s)
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.TrimSpace(s)
}
