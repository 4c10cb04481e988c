package etl

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/screen-tutor/internal/privacy"
)

// ErrUnsupportedFormat is returned for output files that are neither Parquet
// nor JSON lines
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Record represents a single record from the input dataset
type Record struct {
	ID   string `parquet:"id" json:"id"`
	Text string `parquet:"text" json:"text"`
}

// RedactedRecord is written to the output dataset. Findings are not kept.
type RedactedRecord struct {
	ID           string `parquet:"id" json:"id"`
	RedactedText string `parquet:"redacted_text" json:"redacted_text"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64                    `json:"total_records"`
	ProcessedOK     int64                    `json:"processed_ok"`
	ProcessedFailed int64                    `json:"processed_failed"`
	RecordsMasked   int64                    `json:"records_masked"`
	Counts          map[privacy.Category]int `json:"counts"`
	Duration        time.Duration            `json:"duration"`
	Errors          []string                 `json:"errors,omitempty"`
}

// Config contains ETL pipeline configuration
type Config struct {
	BatchSize      int `yaml:"batch_size" mapstructure:"batch_size"`           // 1000
	WorkerCount    int `yaml:"worker_count" mapstructure:"worker_count"`       // 4
	ProgressReport int `yaml:"progress_report" mapstructure:"progress_report"` // 10000
}

// DefaultConfig returns the settings used by cmd/etl when no flag overrides them
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      1000,
		WorkerCount:    4,
		ProgressReport: 10000,
	}
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsWritten int64     `json:"records_written"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "jsonl"
)

// DetectFileFormat detects file format from extension. Unknown extensions are
// read as CSV.
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// detectOutputFormat accepts only the formats the pipeline can write
func detectOutputFormat(filename string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, nil
	default:
		return "", ErrUnsupportedFormat
	}
}
