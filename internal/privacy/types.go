package privacy

// Category identifies a kind of sensitive data
type Category string

const (
	CategoryEmail      Category = "EMAIL"
	CategoryPhone      Category = "PHONE"
	CategoryLongNumber Category = "LONG_NUMBER"
	CategoryNationalID Category = "NATIONAL_ID"
	CategoryIBAN       Category = "IBAN"
	CategoryIPAddress  Category = "IP_ADDRESS"
)

// DetectionOrder is the order in which categories are scanned by Detect.
var DetectionOrder = []Category{
	CategoryEmail,
	CategoryPhone,
	CategoryLongNumber,
	CategoryNationalID,
	CategoryIBAN,
	CategoryIPAddress,
}

// MaskingOrder is the order in which categories are masked by Anonymize.
// NATIONAL_ID runs before LONG_NUMBER so a 15 digit social security number
// is fully masked instead of keeping the long-number prefix.
var MaskingOrder = []Category{
	CategoryEmail,
	CategoryPhone,
	CategoryNationalID,
	CategoryLongNumber,
	CategoryIBAN,
	CategoryIPAddress,
}

// Finding is one detected occurrence of sensitive data
type Finding struct {
	Category Category `json:"category"`
	Text     string   `json:"text"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
}

// MaskPolicy controls how a match of one category is masked
type MaskPolicy struct {
	MaskChar   rune
	KeepPrefix int
}

// AnonymizationResult contains the redacted text and the categories that were masked
type AnonymizationResult struct {
	RedactedText string     `json:"redactedText"`
	Categories   []Category `json:"categories"`
}

// Has reports whether category c was found
func (r AnonymizationResult) Has(c Category) bool {
	for _, found := range r.Categories {
		if found == c {
			return true
		}
	}
	return false
}

// ProcessResult is what the Detector returns to the application
type ProcessResult struct {
	AnonymizationResult
	Counts  map[Category]int `json:"counts"`
	Enabled bool             `json:"enabled"`
}

// Total returns the number of masked matches across all categories
func (r ProcessResult) Total() int {
	total := 0
	for _, n := range r.Counts {
		total += n
	}
	return total
}
