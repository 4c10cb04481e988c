package etl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/screen-tutor/internal/config"
	"github.com/raaihank/screen-tutor/internal/logger"
	"github.com/raaihank/screen-tutor/internal/privacy"
)

func newTestPipeline(t *testing.T, maxInputBytes int, cfg *Config) *Pipeline {
	t.Helper()
	privacyCfg := config.GetDefaults().Privacy
	privacyCfg.MaskChar = "*"
	if maxInputBytes > 0 {
		privacyCfg.MaxInputBytes = maxInputBytes
	}
	detector, err := privacy.New(privacyCfg, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	return NewPipeline(detector, cfg, zap.NewNop())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func readJSONLines(t *testing.T, path string) []RedactedRecord {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer file.Close()

	var records []RedactedRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record RedactedRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("bad output line %q: %v", scanner.Text(), err)
		}
		records = append(records, record)
	}
	return records
}

func TestProcessCSVToJSONLines(t *testing.T) {
	input := writeFile(t, "in.csv", "id,text\n"+
		"a1,Mail: john.doe@example.com\n"+
		"a2,Bonjour\n"+
		"a3,\"Serveur 192.168.1.100, port 80\"\n")
	output := filepath.Join(t.TempDir(), "out.jsonl")

	p := newTestPipeline(t, 0, &Config{BatchSize: 2, WorkerCount: 3})
	result, err := p.ProcessFile(context.Background(), input, output)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	if result.TotalRecords != 3 || result.ProcessedOK != 3 || result.ProcessedFailed != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.RecordsMasked != 2 {
		t.Errorf("RecordsMasked = %d, want 2", result.RecordsMasked)
	}
	if result.Counts[privacy.CategoryEmail] != 1 || result.Counts[privacy.CategoryIPAddress] != 1 {
		t.Errorf("unexpected counts: %v", result.Counts)
	}

	want := []RedactedRecord{
		{ID: "a1", RedactedText: "Mail: jo******************"},
		{ID: "a2", RedactedText: "Bonjour"},
		{ID: "a3", RedactedText: "Serveur 192**********, port 80"},
	}
	got := readJSONLines(t, output)
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if stats := p.GetStats(); stats.RecordsRead != 3 || stats.CurrentBatch != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestCSVWithoutIDColumnUsesRowNumber(t *testing.T) {
	input := writeFile(t, "in.csv", "Text,label\nappelle 0612345678,x\n")
	output := filepath.Join(t.TempDir(), "out.json")

	p := newTestPipeline(t, 0, nil)
	if _, err := p.ProcessFile(context.Background(), input, output); err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	got := readJSONLines(t, output)
	if len(got) != 1 || got[0].ID != "1" || got[0].RedactedText != "appelle 061*******" {
		t.Errorf("unexpected output: %+v", got)
	}
}

func TestCSVWithoutTextColumn(t *testing.T) {
	input := writeFile(t, "in.csv", "id,body\n1,hello\n")
	p := newTestPipeline(t, 0, nil)

	if _, err := p.ProcessFile(context.Background(), input, filepath.Join(t.TempDir(), "out.jsonl")); err == nil {
		t.Error("expected error for missing text column")
	}
}

func TestOversizedRecordsCountAsFailed(t *testing.T) {
	input := writeFile(t, "in.jsonl",
		`{"id":"short","text":"ok"}`+"\n"+
			`{"id":"long","text":"`+strings.Repeat("x", 64)+`"}`+"\n")
	output := filepath.Join(t.TempDir(), "out.jsonl")

	p := newTestPipeline(t, 32, nil)
	result, err := p.ProcessFile(context.Background(), input, output)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	if result.TotalRecords != 2 || result.ProcessedOK != 1 || result.ProcessedFailed != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "record long") {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
	if strings.Contains(result.Errors[0], "xxxx") {
		t.Error("error message leaks record text")
	}

	got := readJSONLines(t, output)
	if len(got) != 1 || got[0].ID != "short" {
		t.Errorf("unexpected output: %+v", got)
	}
}

func TestJSONLinesSkipsUndecodableRows(t *testing.T) {
	input := writeFile(t, "in.ndjson", "{\"text\":\"a@b.fr\"}\n\nnot json\n")
	output := filepath.Join(t.TempDir(), "out.jsonl")

	p := newTestPipeline(t, 0, nil)
	result, err := p.ProcessFile(context.Background(), input, output)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if result.ProcessedOK != 1 || result.ProcessedFailed != 1 || result.TotalRecords != 2 {
		t.Errorf("unexpected result: %+v", result)
	}

	got := readJSONLines(t, output)
	if len(got) != 1 || got[0].ID != "1" || got[0].RedactedText != "a@****" {
		t.Errorf("unexpected output: %+v", got)
	}
}

func TestProcessParquet(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.parquet")
	output := filepath.Join(dir, "out.parquet")

	file, err := os.Create(input)
	if err != nil {
		t.Fatalf("create input: %v", err)
	}
	writer := parquet.NewGenericWriter[Record](file)
	rows := make([]Record, 25)
	for i := range rows {
		rows[i] = Record{ID: fmt.Sprintf("r%d", i), Text: fmt.Sprintf("user%d@example.com", i)}
	}
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("write rows: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	file.Close()

	p := newTestPipeline(t, 0, &Config{BatchSize: 10, WorkerCount: 4})
	result, err := p.ProcessFile(context.Background(), input, output)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if result.ProcessedOK != 25 || result.Counts[privacy.CategoryEmail] != 25 {
		t.Errorf("unexpected result: %+v", result)
	}

	out, err := os.Open(output)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer out.Close()

	reader := parquet.NewGenericReader[RedactedRecord](out)
	defer reader.Close()
	if reader.NumRows() != 25 {
		t.Fatalf("output has %d rows, want 25", reader.NumRows())
	}
	got := make([]RedactedRecord, 25)
	if n, err := reader.Read(got); n != 25 && err != nil {
		t.Fatalf("read output: %d %v", n, err)
	}
	if got[0].ID != "r0" || got[0].RedactedText != "us***************" {
		t.Errorf("first row = %+v", got[0])
	}
	for _, row := range got {
		if strings.Contains(row.RedactedText, "@example") {
			t.Errorf("row %s not redacted: %q", row.ID, row.RedactedText)
		}
	}
}

func TestUnsupportedOutputFormat(t *testing.T) {
	input := writeFile(t, "in.csv", "text\nhello\n")
	p := newTestPipeline(t, 0, nil)

	_, err := p.ProcessFile(context.Background(), input, filepath.Join(t.TempDir(), "out.csv"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestProcessCancelled(t *testing.T) {
	input := writeFile(t, "in.csv", "text\nhello\n")
	p := newTestPipeline(t, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.ProcessFile(ctx, input, filepath.Join(t.TempDir(), "out.jsonl")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDetectFileFormat(t *testing.T) {
	tests := []struct {
		filename string
		want     FileFormat
	}{
		{"data.csv", FormatCSV},
		{"data.PARQUET", FormatParquet},
		{"data.jsonl", FormatJSON},
		{"data.json", FormatJSON},
		{"data.ndjson", FormatJSON},
		{"data.txt", FormatCSV},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := DetectFileFormat(tt.filename); got != tt.want {
				t.Errorf("DetectFileFormat(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}
