package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/raaihank/screen-tutor/internal/cache"
	"github.com/raaihank/screen-tutor/internal/capture"
	"github.com/raaihank/screen-tutor/internal/config"
	"github.com/raaihank/screen-tutor/internal/history"
	"github.com/raaihank/screen-tutor/internal/llm"
	"github.com/raaihank/screen-tutor/internal/logger"
	"github.com/raaihank/screen-tutor/internal/ocr"
	"github.com/raaihank/screen-tutor/internal/pipeline"
	"github.com/raaihank/screen-tutor/internal/privacy"
)

// app holds the services shared by the commands
type app struct {
	config   *config.Config
	logger   *logger.Logger
	detector *privacy.Detector
	closers  []func() error
}

// newApp loads configuration and builds the logger, error reporting and the
// privacy detector
func newApp() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     "screentutor@" + version,
		}); err != nil {
			log.Warn("Failed to initialize Sentry", zap.Error(err))
		}
	}

	detector, err := privacy.New(cfg.Privacy, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize privacy detector: %w", err)
	}

	return &app{config: cfg, logger: log, detector: detector}, nil
}

// close releases every opened service and flushes logs and error reports
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close service", zap.Error(err))
		}
	}
	sentry.Flush(2 * time.Second)
	_ = a.logger.Sync()
}

// reportError sends a command failure to Sentry when it is configured
func (a *app) reportError(err error) error {
	if err != nil {
		sentry.CaptureException(err)
	}
	return err
}

// openCache connects to Redis when the answer cache is enabled. A failed
// connection disables the cache.
func (a *app) openCache() *cache.AnswerCache {
	if !a.config.Cache.Enabled {
		return nil
	}
	answerCache, err := cache.NewAnswerCache(a.config.Cache, a.logger.Logger)
	if err != nil {
		a.logger.Warn("Answer cache disabled", zap.Error(err))
		return nil
	}
	a.closers = append(a.closers, answerCache.Close)
	return answerCache
}

// openHistory connects to PostgreSQL when history is enabled. A failed
// connection disables history.
func (a *app) openHistory() *history.Store {
	if !a.config.History.Enabled {
		return nil
	}
	store, err := history.NewStore(a.config.History, a.logger.Logger)
	if err != nil {
		a.logger.Warn("Analysis history disabled", zap.Error(err))
		return nil
	}
	a.closers = append(a.closers, store.Close)
	return store
}

// newTutor builds the analysis pipeline. A missing OCR key is returned as
// ocr.ErrMissingAPIKey. A missing LLM key only disables the LLM step.
func (a *app) newTutor(publisher pipeline.Publisher) (*pipeline.Tutor, error) {
	extractor, err := ocr.New(a.config.OCR, a.logger.Logger)
	if err != nil {
		return nil, err
	}

	// The detector passes text through while privacy is disabled, so a
	// reloaded config takes effect without rebuilding the pipeline
	opts := pipeline.Options{
		Extractor: extractor,
		Filter:    a.detector,
		Screen:    capture.New(a.config.Capture, a.logger.Logger),
		Publisher: publisher,
	}

	if a.config.LLM.Enabled {
		analyzer, err := llm.New(a.config.LLM, a.logger.Logger)
		switch {
		case errors.Is(err, llm.ErrMissingAPIKey):
			a.logger.Warn("LLM analysis disabled: no API key configured")
		case err != nil:
			return nil, err
		default:
			opts.Analyzer = analyzer
		}
	}

	// Assign only non-nil stores so the interfaces stay nil when disabled
	if answerCache := a.openCache(); answerCache != nil {
		opts.Cache = answerCache
	}
	if store := a.openHistory(); store != nil {
		opts.History = store
	}

	a.logger.Info("Analysis pipeline ready",
		zap.String("ocr", extractor.String()),
		zap.Bool("privacy", a.detector.Enabled()),
		zap.Bool("llm", opts.Analyzer != nil),
		zap.Bool("cache", opts.Cache != nil),
		zap.Bool("history", opts.History != nil))

	return pipeline.New(opts, a.logger.Logger)
}
