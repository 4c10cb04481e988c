package privacy

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// space matches the whitespace the detectors accept between digit groups.
// RE2 \s is ASCII only, so vertical tab, the information separators, NEL and
// the Unicode separators (no-break space, narrow no-break space, ...) are
// listed explicitly.
const space = `\s\v\x1c-\x1f\x85\p{Z}`

// digit is any decimal digit, fullwidth and other scripts included.
const digit = `\p{Nd}`

// rule matches one category. Matches must start and end on a word boundary
// where letters, numbers and '_' of every script are word characters. RE2's
// \b only knows ASCII, so the expression is compiled without it and the
// boundary runes are checked around each candidate.
type rule struct {
	re   *regexp.Regexp
	full *regexp.Regexp
}

func newRule(expr string) *rule {
	return &rule{
		re:   regexp.MustCompile(expr),
		full: regexp.MustCompile(`^(?:` + expr + `)$`),
	}
}

// findAllIndex returns the byte spans of all non-overlapping matches, left
// to right.
func (r *rule) findAllIndex(text string) [][]int {
	locs := make([][]int, 0)

	for offset := 0; offset < len(text); {
		loc := r.re.FindStringIndex(text[offset:])
		if loc == nil {
			break
		}
		start, end := offset+loc[0], offset+loc[1]

		if isBoundary(text, start) {
			if end, ok := r.boundaryEnd(text, start, end); ok {
				locs = append(locs, []int{start, end})
				offset = end
				continue
			}
		}

		_, size := utf8.DecodeRuneInString(text[start:])
		if size == 0 {
			break
		}
		offset = start + size
	}

	return locs
}

// findAll returns the matched substrings of findAllIndex
func (r *rule) findAll(text string) []string {
	locs := r.findAllIndex(text)
	matches := make([]string, len(locs))
	for i, loc := range locs {
		matches[i] = text[loc[0]:loc[1]]
	}
	return matches
}

// boundaryEnd returns the longest end, at most end, such that
// text[start:end] matches the rule and end sits on a word boundary.
func (r *rule) boundaryEnd(text string, start, end int) (int, bool) {
	for end > start {
		if isBoundary(text, end) && r.full.MatchString(text[start:end]) {
			return end, true
		}
		_, size := utf8.DecodeLastRuneInString(text[start:end])
		end -= size
	}
	return 0, false
}

// isBoundary reports whether byte offset i of text is a word boundary
func isBoundary(text string, i int) bool {
	before, after := false, false
	if i > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:i])
		before = isWordRune(r)
	}
	if i < len(text) {
		r, _ := utf8.DecodeRuneInString(text[i:])
		after = isWordRune(r)
	}
	return before != after
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// rules holds one compiled rule per category. RE2 matching is linear in the
// input size, so crafted input cannot trigger catastrophic backtracking.
var rules = map[Category]*rule{
	CategoryEmail: newRule(
		`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}`,
	),
	// French phone numbers: +33 or a leading 0, then four pairs of digits
	CategoryPhone: newRule(
		`(?:\+33|0)[1-9](?:[` + space + `.-]?` + digit + `{2}){4}`,
	),
	// Card numbers and other 13 to 19 digit runs
	CategoryLongNumber: newRule(
		digit + `{13,19}`,
	),
	// French social security number, 15 digits
	CategoryNationalID: newRule(
		`[1-2][` + space + `]?` + digit + `{2}[` + space + `]?` + digit + `{2}[` + space + `]?` + digit + `{2}[` +
			space + `]?` + digit + `{3}[` + space + `]?` + digit + `{3}[` + space + `]?` + digit + `{2}`,
	),
	CategoryIBAN: newRule(
		`[A-Z]{2}` + digit + `{2}[A-Z0-9]{1,30}`,
	),
	CategoryIPAddress: newRule(
		`(?:` + digit + `{1,3}\.){3}` + digit + `{1,3}`,
	),
}

// defaultKeepPrefix is the number of leading characters left visible per category.
var defaultKeepPrefix = map[Category]int{
	CategoryEmail:      2,
	CategoryPhone:      3,
	CategoryNationalID: 0,
	CategoryLongNumber: 4,
	CategoryIBAN:       4,
	CategoryIPAddress:  3,
}

// Match returns the non-overlapping matches of category c in text, left to
// right, or nil for an unknown category.
func Match(c Category, text string) []string {
	r, ok := rules[c]
	if !ok {
		return nil
	}
	return r.findAll(text)
}

// KeepPrefix returns the default visible prefix length for a category
func KeepPrefix(c Category) int {
	return defaultKeepPrefix[c]
}
