package normalize

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// suffixMultipliers maps magnitude suffixes to their numeric scale.
var suffixMultipliers = map[byte]float64{
	'k': 1e3, 'K': 1e3,
	'm': 1e6, 'M': 1e6,
	'b': 1e9, 'B': 1e9,
}

// Numeric coerces a raw observed value into a canonical float64.
//
// The accepted grammar, applied in order:
//  1. surrounding whitespace trimmed
//  2. a leading approximation marker "~" or currency symbol ($, €, £) stripped
//  3. a trailing approximate-count "+" or percent sign stripped
//  4. thousands separators (",") removed
//  5. a trailing K/M/B suffix (case-insensitive) multiplies by 1e3/1e6/1e9
//  6. a range "a-b" with both sides parseable resolves to the midpoint
//
// Anything that still fails strconv.ParseFloat is a parse error; the caller
// stores the observation with the error marker rather than dropping it.
func Numeric(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, eris.New("normalize: empty value")
	}

	s = strings.TrimPrefix(s, "~")
	for _, cur := range []string{"$", "€", "£"} {
		s = strings.TrimPrefix(s, cur)
	}
	s = strings.TrimSuffix(s, "+")
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, eris.Errorf("normalize: no digits in %q", raw)
	}

	// Range like "3000-5000" → midpoint. The leading character is excluded
	// so negative numbers are not mistaken for ranges.
	if idx := strings.IndexByte(s[1:], '-'); idx >= 0 {
		lo, loErr := parseScaled(s[:idx+1])
		hi, hiErr := parseScaled(s[idx+2:])
		if loErr == nil && hiErr == nil {
			return (lo + hi) / 2, nil
		}
	}

	n, err := parseScaled(s)
	if err != nil {
		return 0, eris.Wrapf(err, "normalize: coerce %q", raw)
	}
	return n, nil
}

// parseScaled parses a plain number with an optional K/M/B suffix.
func parseScaled(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, eris.New("empty")
	}
	mult := 1.0
	if m, ok := suffixMultipliers[s[len(s)-1]]; ok {
		mult = m
		s = strings.TrimSpace(s[:len(s)-1])
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}
