package history

import "time"

// Analysis is one stored pipeline run. Only redacted text is persisted.
type Analysis struct {
	ID           int64     `db:"id" json:"id"`
	TextHash     string    `db:"text_hash" json:"text_hash"`
	RedactedText string    `db:"redacted_text" json:"redacted_text"`
	Answer       string    `db:"answer" json:"answer"`
	Model        string    `db:"model" json:"model"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Stats summarizes the stored history
type Stats struct {
	TotalAnalyses int64      `db:"total" json:"total_analyses"`
	DistinctTexts int64      `db:"distinct_texts" json:"distinct_texts"`
	LastAnalysis  *time.Time `db:"last_analysis" json:"last_analysis,omitempty"`
}
