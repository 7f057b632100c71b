package company

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are trailing tokens dropped from a normalized name.
var legalSuffixes = map[string]bool{
	"LLC": true, "INC": true, "INCORPORATED": true, "CORP": true, "CORPORATION": true,
	"CO": true, "COMPANY": true, "LTD": true, "LIMITED": true, "LP": true, "LLP": true,
	"PLLC": true, "PC": true, "PA": true, "PLC": true, "DBA": true,
}

// NormalizeName reduces a company name to its matching key: diacritics
// folded, uppercased, punctuation removed, "&" spelled AND, trailing legal
// suffixes stripped and whitespace collapsed. A name made only of suffixes
// keeps its first token.
func NormalizeName(name string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		strings.TrimSpace(name),
	)
	if err != nil {
		folded = name
	}
	folded = strings.ToUpper(folded)
	folded = strings.ReplaceAll(folded, "&", " AND ")
	// Dotted abbreviations collapse before punctuation becomes whitespace.
	folded = strings.NewReplacer(".", "", "'", "", "’", "").Replace(folded)

	tokens := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for len(tokens) > 1 && legalSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}
