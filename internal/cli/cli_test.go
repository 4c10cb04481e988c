package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raaihank/screen-tutor/internal/config"
	"github.com/raaihank/screen-tutor/internal/history"
	"github.com/raaihank/screen-tutor/internal/logger"
	"github.com/raaihank/screen-tutor/internal/pipeline"
	"github.com/raaihank/screen-tutor/internal/privacy"
)

func testDetector(t *testing.T) *privacy.Detector {
	t.Helper()
	cfg := config.GetDefaults().Privacy
	cfg.MaskChar = "*"
	detector, err := privacy.New(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	return detector
}

func TestReadInput(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		stdin string
		want  string
	}{
		{"args joined", []string{"mail", "a@b.fr"}, "ignored", "mail a@b.fr"},
		{"stdin", nil, "ligne 1\nligne 2\n", "ligne 1\nligne 2"},
		{"stdin crlf", nil, "texte\r\n", "texte"},
		{"empty stdin", nil, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readInput(tt.args, strings.NewReader(tt.stdin))
			if err != nil {
				t.Fatalf("readInput failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("readInput() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnonymize(t *testing.T) {
	detector := testDetector(t)

	result, err := anonymize(detector, "IBAN FR7630006000011234567890189", true)
	if err != nil {
		t.Fatalf("anonymize failed: %v", err)
	}
	if result.RedactedText != "IBAN FR76"+strings.Repeat("*", 23) || !result.Has(privacy.CategoryIBAN) {
		t.Errorf("unexpected result: %+v", result)
	}

	result, err = anonymize(detector, "a@b.fr", false)
	if err != nil {
		t.Fatalf("anonymize failed: %v", err)
	}
	if result.RedactedText != "a@b.fr" || len(result.Categories) != 0 {
		t.Errorf("disabled anonymize changed the text: %+v", result)
	}
}

func TestWriteFindings(t *testing.T) {
	findings := []privacy.Finding{{Category: privacy.CategoryEmail, Text: "a@b.fr", Start: 0, End: 6}}

	var buf bytes.Buffer
	if err := writeFindings(&buf, findings, false); err != nil {
		t.Fatalf("writeFindings failed: %v", err)
	}
	if !strings.Contains(buf.String(), `EMAIL`) || !strings.Contains(buf.String(), `"a@b.fr"`) {
		t.Errorf("unexpected text output: %q", buf.String())
	}

	buf.Reset()
	if err := writeFindings(&buf, findings, true); err != nil {
		t.Fatalf("writeFindings failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"total": 1`) {
		t.Errorf("unexpected JSON output: %s", buf.String())
	}

	buf.Reset()
	_ = writeFindings(&buf, nil, false)
	if !strings.Contains(buf.String(), "No personal data") {
		t.Errorf("unexpected empty output: %q", buf.String())
	}
}

func TestPrintResult(t *testing.T) {
	result := &pipeline.Result{
		RedactedText: "Question 1 ...",
		Categories:   []privacy.Category{privacy.CategoryEmail, privacy.CategoryPhone},
		Answer:       "RÉPONSE: B",
		Summary:      "Q1: B",
		Model:        "llama-3.3-70b-versatile",
		Cached:       true,
		Duration:     1500 * time.Millisecond,
	}

	var out, info bytes.Buffer
	printResult(&out, &info, result)

	if out.String() != "RÉPONSE: B\n" {
		t.Errorf("stdout = %q", out.String())
	}
	if !strings.Contains(info.String(), "masked: EMAIL, PHONE") || !strings.Contains(info.String(), "cached") {
		t.Errorf("details = %q", info.String())
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"une ligne", 80, "une ligne"},
		{"première\nseconde", 80, "première"},
		{"éééééé", 3, "ééé…"},
	}

	for _, tt := range tests {
		if got := firstLine(tt.in, tt.n); got != tt.want {
			t.Errorf("firstLine(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestWriteHistory(t *testing.T) {
	last := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	stats := &history.Stats{TotalAnalyses: 3, DistinctTexts: 2, LastAnalysis: &last}
	recent := []history.Analysis{{ID: 7, RedactedText: "Q1 ?\nA) ...", Answer: "RÉPONSE: A", Model: "m", CreatedAt: last}}

	var buf bytes.Buffer
	writeHistory(&buf, stats, recent)

	for _, want := range []string{"Analyses: 3 (2 distinct texts)", "#7", "Q1 ?", "-> RÉPONSE: A"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestFetchLastResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/last" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"result":"Q1: B | Q2: D"}`))
	}))
	defer server.Close()

	got, err := fetchLastResult(server.URL)
	if err != nil {
		t.Fatalf("fetchLastResult failed: %v", err)
	}
	if got != "Q1: B | Q2: D" {
		t.Errorf("fetchLastResult() = %q", got)
	}

	if _, err := fetchLastResult(server.URL + "/missing"); err == nil {
		t.Error("expected error for HTTP 404")
	}
}

func TestHealthCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	flagAddr = server.URL
	defer func() { flagAddr = "http://localhost:8080" }()

	var out bytes.Buffer
	healthCmd.SetOut(&out)
	if err := healthCmd.RunE(healthCmd, nil); err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if !strings.Contains(out.String(), "passed") {
		t.Errorf("output = %q", out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	if out.String() != "screentutor version "+version+"\n" {
		t.Errorf("output = %q", out.String())
	}
}
