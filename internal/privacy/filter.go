package privacy

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaskChar is the full block glyph. It is not a letter or digit, so
// masked output never matches a later category's pattern.
const DefaultMaskChar = '█'

// Filter detects and masks sensitive data. It holds no mutable state and is
// safe for concurrent use.
type Filter struct {
	policies map[Category]MaskPolicy
}

var defaultFilter = NewFilter(DefaultMaskChar)

// NewFilter creates a filter masking with maskChar and the default prefix lengths.
//
// A letter or digit mask char works but can alias: masked output of one
// category may then be matched by a category processed after it.
func NewFilter(maskChar rune) *Filter {
	if maskChar == 0 || maskChar == utf8.RuneError {
		maskChar = DefaultMaskChar
	}

	policies := make(map[Category]MaskPolicy, len(defaultKeepPrefix))
	for category, keep := range defaultKeepPrefix {
		policies[category] = MaskPolicy{MaskChar: maskChar, KeepPrefix: keep}
	}

	return &Filter{policies: policies}
}

// Policy returns the mask policy for a category
func (f *Filter) Policy(c Category) MaskPolicy {
	return f.policies[c]
}

// Detect scans text once per category in DetectionOrder and returns every
// match. The same characters may be reported under several categories.
func (f *Filter) Detect(text string) []Finding {
	findings := make([]Finding, 0)

	for _, category := range DetectionOrder {
		for _, loc := range rules[category].findAllIndex(text) {
			findings = append(findings, Finding{
				Category: category,
				Text:     text[loc[0]:loc[1]],
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}

	return findings
}

// Anonymize masks every category in MaskingOrder. Each category re-scans the
// partially masked text and replaces all occurrences of each matched literal.
func (f *Filter) Anonymize(text string) AnonymizationResult {
	result, _ := f.anonymize(text)
	return result
}

func (f *Filter) anonymize(text string) (AnonymizationResult, map[Category]int) {
	redacted := text
	categories := make([]Category, 0)
	counts := make(map[Category]int)

	for _, category := range MaskingOrder {
		matches := rules[category].findAll(redacted)
		if len(matches) == 0 {
			continue
		}

		policy := f.policies[category]
		for _, match := range matches {
			redacted = strings.ReplaceAll(redacted, match, Mask(match, policy.KeepPrefix, policy.MaskChar))
		}

		categories = append(categories, category)
		counts[category] = len(matches)
	}

	return AnonymizationResult{RedactedText: redacted, Categories: categories}, counts
}

// FilterText anonymizes text when enabled and passes it through untouched otherwise.
func (f *Filter) FilterText(text string, enabled bool) AnonymizationResult {
	if !enabled {
		return AnonymizationResult{RedactedText: text, Categories: []Category{}}
	}
	return f.Anonymize(text)
}

// Mask keeps the first keep characters of s and replaces the rest with
// maskChar. When s is not longer than keep, every character is masked.
// The result always has as many characters as s.
func Mask(s string, keep int, maskChar rune) string {
	runes := []rune(s)
	if keep < 0 {
		keep = 0
	}

	if len(runes) <= keep {
		return strings.Repeat(string(maskChar), len(runes))
	}

	return string(runes[:keep]) + strings.Repeat(string(maskChar), len(runes)-keep)
}

// DetectSensitiveData runs Detect with the default filter
func DetectSensitiveData(text string) []Finding {
	return defaultFilter.Detect(text)
}

// AnonymizeText runs Anonymize with the default filter
func AnonymizeText(text string) AnonymizationResult {
	return defaultFilter.Anonymize(text)
}

// FilterSensitiveData anonymizes text with the default filter, or returns it
// unchanged with no categories when enabled is false.
func FilterSensitiveData(text string, enabled bool) AnonymizationResult {
	return defaultFilter.FilterText(text, enabled)
}
