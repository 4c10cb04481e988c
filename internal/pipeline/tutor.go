package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/raaihank/screen-tutor/internal/cache"
	"github.com/raaihank/screen-tutor/internal/history"
	"github.com/raaihank/screen-tutor/internal/llm"
	"github.com/raaihank/screen-tutor/internal/privacy"
	"go.uber.org/zap"
)

var (
	// ErrBusy is returned when an analysis is already running
	ErrBusy = errors.New("analysis already in progress")
	// ErrNoScreen is returned by AnalyzeScreen when no capturer is configured
	ErrNoScreen = errors.New("screen capture not configured")
)

// AnalysisFailedText is kept as the last result when the model call fails
const AnalysisFailedText = "Impossible d'analyser le QCM"

// TextExtractor turns an image into text
type TextExtractor interface {
	ExtractText(ctx context.Context, img image.Image) (string, error)
}

// TextFilter redacts personal data from extracted text
type TextFilter interface {
	Process(text string) (privacy.ProcessResult, error)
}

// Analyzer answers the questions found in a text
type Analyzer interface {
	Analyze(ctx context.Context, text string) (string, error)
	Model() string
}

// AnswerCache stores answers keyed by redacted text
type AnswerCache interface {
	Lookup(ctx context.Context, redactedText string) *cache.LookupResult
	Store(ctx context.Context, redactedText, answer, model string) error
}

// HistoryStore records completed analyses
type HistoryStore interface {
	Insert(ctx context.Context, a *history.Analysis) error
}

// Screen captures the current display
type Screen interface {
	Capture() (image.Image, error)
}

// Publisher receives pipeline events, e.g. for a live dashboard
type Publisher interface {
	PublishDetection(source string, counts map[privacy.Category]int)
	PublishAnalysis(summary string, cached bool, duration time.Duration)
}

// Options wires the optional collaborators of a Tutor. Nil fields disable
// the matching step.
type Options struct {
	Extractor TextExtractor
	Filter    TextFilter
	Analyzer  Analyzer
	Cache     AnswerCache
	History   HistoryStore
	Screen    Screen
	Publisher Publisher
}

// Result is the outcome of one analysis
type Result struct {
	ExtractedText string                   `json:"-"`
	RedactedText  string                   `json:"redacted_text"`
	Categories    []privacy.Category       `json:"categories"`
	Counts        map[privacy.Category]int `json:"counts"`
	Answer        string                   `json:"answer,omitempty"`
	Summary       string                   `json:"summary,omitempty"`
	Model         string                   `json:"model,omitempty"`
	Cached        bool                     `json:"cached"`
	Duration      time.Duration            `json:"duration"`
}

// FinalText is the model answer, or the redacted text when no model ran
func (r *Result) FinalText() string {
	if r.Answer != "" {
		return r.Answer
	}
	return r.RedactedText
}

// Tutor runs OCR, redaction and QCM analysis on screenshots
type Tutor struct {
	opts   Options
	logger *zap.Logger

	busy atomic.Bool

	mu   sync.RWMutex
	last string
}

// New creates a new tutor pipeline
func New(opts Options, logger *zap.Logger) (*Tutor, error) {
	if opts.Extractor == nil {
		return nil, errors.New("text extractor is required")
	}
	return &Tutor{opts: opts, logger: logger}, nil
}

// LLMEnabled reports whether an analyzer is configured
func (t *Tutor) LLMEnabled() bool {
	return t.opts.Analyzer != nil
}

// LastResult returns the final text of the last successful analysis
func (t *Tutor) LastResult() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

func (t *Tutor) setLast(text string) {
	t.mu.Lock()
	t.last = text
	t.mu.Unlock()
}

// AnalyzeScreen captures the screen and analyzes it
func (t *Tutor) AnalyzeScreen(ctx context.Context) (*Result, error) {
	if t.opts.Screen == nil {
		return nil, ErrNoScreen
	}

	img, err := t.opts.Screen.Capture()
	if err != nil {
		return nil, fmt.Errorf("screen capture failed: %w", err)
	}
	return t.Analyze(ctx, img)
}

// Analyze runs the pipeline on an image. Only one analysis runs at a time;
// concurrent calls get ErrBusy.
func (t *Tutor) Analyze(ctx context.Context, img image.Image) (*Result, error) {
	if !t.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer t.busy.Store(false)

	result, err := t.analyze(ctx, img)
	if err != nil {
		sentry.CaptureException(err)
		t.logger.Error("Analysis failed", zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (t *Tutor) analyze(ctx context.Context, img image.Image) (*Result, error) {
	start := time.Now()

	text, err := t.opts.Extractor.ExtractText(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("text extraction failed: %w", err)
	}

	result := &Result{ExtractedText: text, RedactedText: text}

	// Only masked text may reach the cache or the history
	masked := false
	if t.opts.Filter != nil {
		filtered, err := t.opts.Filter.Process(text)
		if err != nil {
			return nil, fmt.Errorf("privacy filter failed: %w", err)
		}
		result.RedactedText = filtered.RedactedText
		result.Categories = filtered.Categories
		result.Counts = filtered.Counts
		masked = filtered.Enabled

		if filtered.Total() > 0 && t.opts.Publisher != nil {
			t.opts.Publisher.PublishDetection("analysis", filtered.Counts)
		}
	}

	t.logger.Info("Text ready for analysis",
		zap.Int("characters", len([]rune(result.RedactedText))),
		zap.Int("categories", len(result.Categories)),
	)

	if t.opts.Analyzer != nil {
		if err := t.answer(ctx, result, masked); err != nil {
			t.setLast(AnalysisFailedText)
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	t.setLast(result.FinalText())

	if t.opts.Publisher != nil {
		t.opts.Publisher.PublishAnalysis(result.Summary, result.Cached, result.Duration)
	}

	return result, nil
}

// answer fills in the model answer from the cache or the analyzer. Unless
// masked is set, the text is unredacted and nothing is cached or recorded.
func (t *Tutor) answer(ctx context.Context, result *Result, masked bool) error {
	model := t.opts.Analyzer.Model()

	if !masked && (t.opts.Cache != nil || t.opts.History != nil) {
		t.logger.Debug("Privacy filter off, answer will not be cached or recorded")
	}

	if masked && t.opts.Cache != nil {
		if hit := t.opts.Cache.Lookup(ctx, result.RedactedText); hit.CacheHit && hit.Answer != nil {
			result.Answer = hit.Answer.Answer
			result.Model = hit.Answer.Model
			result.Summary = llm.Summarize(result.Answer)
			result.Cached = true
			return nil
		}
	}

	answer, err := t.opts.Analyzer.Analyze(ctx, result.RedactedText)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	result.Answer = answer
	result.Model = model
	result.Summary = llm.Summarize(answer)

	if !masked {
		return nil
	}

	if t.opts.Cache != nil {
		if err := t.opts.Cache.Store(ctx, result.RedactedText, answer, model); err != nil {
			t.logger.Warn("Failed to cache answer", zap.Error(err))
		}
	}

	if t.opts.History != nil {
		record := &history.Analysis{
			TextHash:     cache.TextHash(result.RedactedText),
			RedactedText: result.RedactedText,
			Answer:       answer,
			Model:        model,
		}
		if err := t.opts.History.Insert(ctx, record); err != nil {
			t.logger.Warn("Failed to record analysis", zap.Error(err))
		}
	}

	return nil
}
