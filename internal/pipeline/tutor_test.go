package pipeline

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raaihank/screen-tutor/internal/cache"
	"github.com/raaihank/screen-tutor/internal/config"
	"github.com/raaihank/screen-tutor/internal/history"
	"github.com/raaihank/screen-tutor/internal/logger"
	"github.com/raaihank/screen-tutor/internal/privacy"
	"go.uber.org/zap"
)

type fakeExtractor struct {
	text    string
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeExtractor) ExtractText(ctx context.Context, img image.Image) (string, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	return f.text, f.err
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	received []string
	answer   string
	err      error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	f.received = append(f.received, text)
	f.mu.Unlock()
	return f.answer, f.err
}

func (f *fakeAnalyzer) Model() string { return "fake-model" }

type memoryCache struct {
	entries map[string]string
}

func (m *memoryCache) Lookup(ctx context.Context, text string) *cache.LookupResult {
	if answer, ok := m.entries[text]; ok {
		return &cache.LookupResult{CacheHit: true, Answer: &cache.CachedAnswer{Answer: answer, Model: "cached-model"}}
	}
	return &cache.LookupResult{}
}

func (m *memoryCache) Store(ctx context.Context, text, answer, model string) error {
	m.entries[text] = answer
	return nil
}

type memoryHistory struct {
	records []*history.Analysis
}

func (m *memoryHistory) Insert(ctx context.Context, a *history.Analysis) error {
	m.records = append(m.records, a)
	return nil
}

type recordingPublisher struct {
	detections []map[privacy.Category]int
	analyses   []string
}

func (p *recordingPublisher) PublishDetection(source string, counts map[privacy.Category]int) {
	p.detections = append(p.detections, counts)
}

func (p *recordingPublisher) PublishAnalysis(summary string, cached bool, duration time.Duration) {
	p.analyses = append(p.analyses, summary)
}

type staticScreen struct{ err error }

func (s staticScreen) Capture() (image.Image, error) {
	if s.err != nil {
		return nil, s.err
	}
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

func newDetector(t *testing.T) *privacy.Detector {
	t.Helper()
	d, err := privacy.New(config.PrivacyConfig{Enabled: true, MaskChar: "*", MaxInputBytes: 1 << 16}, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	return d
}

var testImage = image.NewRGBA(image.Rect(0, 0, 4, 4))

func TestAnalyzeRedactsBeforeModel(t *testing.T) {
	analyzer := &fakeAnalyzer{answer: "✅ RÉPONSE: C"}
	hist := &memoryHistory{}
	pub := &recordingPublisher{}

	tutor, err := New(Options{
		Extractor: &fakeExtractor{text: "Nom: Jean, email jean@ecole.fr\nQuestion 1 ?"},
		Filter:    newDetector(t),
		Analyzer:  analyzer,
		History:   hist,
		Publisher: pub,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create tutor: %v", err)
	}

	result, err := tutor.Analyze(context.Background(), testImage)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if len(analyzer.received) != 1 || strings.Contains(analyzer.received[0], "jean@ecole.fr") {
		t.Fatalf("model received unredacted text: %q", analyzer.received)
	}
	if result.Summary != "Q1: C" || result.Model != "fake-model" || result.Cached {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(result.Categories) != 1 || result.Categories[0] != privacy.CategoryEmail {
		t.Errorf("unexpected categories: %v", result.Categories)
	}
	if tutor.LastResult() != "✅ RÉPONSE: C" {
		t.Errorf("LastResult() = %q", tutor.LastResult())
	}
	if len(hist.records) != 1 || strings.Contains(hist.records[0].RedactedText, "jean@ecole.fr") {
		t.Errorf("unexpected history: %+v", hist.records)
	}
	if len(pub.detections) != 1 || pub.detections[0][privacy.CategoryEmail] != 1 {
		t.Errorf("unexpected detection events: %v", pub.detections)
	}
	if len(pub.analyses) != 1 {
		t.Errorf("expected one analysis event, got %d", len(pub.analyses))
	}
}

func TestAnalyzeWithoutModel(t *testing.T) {
	tutor, _ := New(Options{
		Extractor: &fakeExtractor{text: "Appelez le 0612345678"},
		Filter:    newDetector(t),
	}, zap.NewNop())

	result, err := tutor.Analyze(context.Background(), testImage)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.Answer != "" || result.Summary != "" {
		t.Errorf("no model should run: %+v", result)
	}
	if tutor.LastResult() != "Appelez le 061*******" {
		t.Errorf("LastResult() = %q", tutor.LastResult())
	}
	if tutor.LLMEnabled() {
		t.Error("LLMEnabled() should be false")
	}
}

func TestAnalyzeUsesCache(t *testing.T) {
	analyzer := &fakeAnalyzer{answer: "RÉPONSE: A"}
	answers := &memoryCache{entries: map[string]string{}}

	tutor, _ := New(Options{
		Extractor: &fakeExtractor{text: "Question 1 ?"},
		Filter:    newDetector(t),
		Analyzer:  analyzer,
		Cache:     answers,
	}, zap.NewNop())

	first, err := tutor.Analyze(context.Background(), testImage)
	if err != nil || first.Cached {
		t.Fatalf("first run should miss: %+v, %v", first, err)
	}

	second, err := tutor.Analyze(context.Background(), testImage)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if !second.Cached || second.Answer != "RÉPONSE: A" || second.Model != "cached-model" {
		t.Errorf("expected cached answer: %+v", second)
	}
	if len(analyzer.received) != 1 {
		t.Errorf("model called %d times, want 1", len(analyzer.received))
	}
}

func TestUnmaskedTextIsNotPersisted(t *testing.T) {
	disabled, err := privacy.New(config.PrivacyConfig{Enabled: false, MaskChar: "*", MaxInputBytes: 1 << 16}, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	tests := []struct {
		name   string
		filter TextFilter
	}{
		{"privacy disabled", disabled},
		{"no filter", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := &fakeAnalyzer{answer: "RÉPONSE: B"}
			answers := &memoryCache{entries: map[string]string{}}
			hist := &memoryHistory{}

			opts := Options{
				Extractor: &fakeExtractor{text: "email jean@ecole.fr"},
				Analyzer:  analyzer,
				Cache:     answers,
				History:   hist,
			}
			if tt.filter != nil {
				opts.Filter = tt.filter
			}
			tutor, _ := New(opts, zap.NewNop())

			for i := 0; i < 2; i++ {
				result, err := tutor.Analyze(context.Background(), testImage)
				if err != nil {
					t.Fatalf("Analyze failed: %v", err)
				}
				if result.Cached || result.Answer != "RÉPONSE: B" {
					t.Errorf("unexpected result: %+v", result)
				}
			}

			if len(answers.entries) != 0 {
				t.Errorf("raw text cached: %v", answers.entries)
			}
			if len(hist.records) != 0 {
				t.Errorf("raw text recorded: %+v", hist.records[0])
			}
			if len(analyzer.received) != 2 || analyzer.received[0] != "email jean@ecole.fr" {
				t.Errorf("model should receive the text as is: %q", analyzer.received)
			}
		})
	}
}

func TestAnalyzeErrors(t *testing.T) {
	t.Run("extraction", func(t *testing.T) {
		tutor, _ := New(Options{Extractor: &fakeExtractor{err: errors.New("no text")}}, zap.NewNop())
		if _, err := tutor.Analyze(context.Background(), testImage); err == nil {
			t.Error("expected extraction error")
		}
		if tutor.LastResult() != "" {
			t.Errorf("LastResult() = %q, want empty", tutor.LastResult())
		}
	})

	t.Run("model", func(t *testing.T) {
		tutor, _ := New(Options{
			Extractor: &fakeExtractor{text: "Question"},
			Analyzer:  &fakeAnalyzer{err: errors.New("HTTP 500")},
		}, zap.NewNop())
		if _, err := tutor.Analyze(context.Background(), testImage); err == nil {
			t.Error("expected model error")
		}
		if tutor.LastResult() != AnalysisFailedText {
			t.Errorf("LastResult() = %q", tutor.LastResult())
		}
	})

	t.Run("input too large", func(t *testing.T) {
		d, _ := privacy.New(config.PrivacyConfig{Enabled: true, MaskChar: "*", MaxInputBytes: 4}, logger.NewNop())
		tutor, _ := New(Options{Extractor: &fakeExtractor{text: "too long"}, Filter: d}, zap.NewNop())
		if _, err := tutor.Analyze(context.Background(), testImage); !errors.Is(err, privacy.ErrInputTooLarge) {
			t.Errorf("expected ErrInputTooLarge, got %v", err)
		}
	})

	t.Run("missing extractor", func(t *testing.T) {
		if _, err := New(Options{}, zap.NewNop()); err == nil {
			t.Error("expected error without extractor")
		}
	})
}

func TestAnalyzeBusy(t *testing.T) {
	extractor := &fakeExtractor{text: "Question", block: make(chan struct{}), entered: make(chan struct{})}
	tutor, _ := New(Options{Extractor: extractor}, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := tutor.Analyze(context.Background(), testImage)
		done <- err
	}()

	<-extractor.entered
	if _, err := tutor.Analyze(context.Background(), testImage); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	close(extractor.block)
	if err := <-done; err != nil {
		t.Errorf("first analysis failed: %v", err)
	}
}

func TestAnalyzeScreen(t *testing.T) {
	tutor, _ := New(Options{Extractor: &fakeExtractor{text: "Question"}}, zap.NewNop())
	if _, err := tutor.AnalyzeScreen(context.Background()); !errors.Is(err, ErrNoScreen) {
		t.Errorf("expected ErrNoScreen, got %v", err)
	}

	tutor, _ = New(Options{Extractor: &fakeExtractor{text: "Question"}, Screen: staticScreen{}}, zap.NewNop())
	if _, err := tutor.AnalyzeScreen(context.Background()); err != nil {
		t.Errorf("AnalyzeScreen failed: %v", err)
	}

	tutor, _ = New(Options{Extractor: &fakeExtractor{text: "Question"}, Screen: staticScreen{err: errors.New("no display")}}, zap.NewNop())
	if _, err := tutor.AnalyzeScreen(context.Background()); err == nil {
		t.Error("expected capture error")
	}
}
