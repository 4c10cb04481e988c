package privacy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/raaihank/screen-tutor/internal/config"
	"github.com/raaihank/screen-tutor/internal/logger"
	"go.uber.org/zap"
)

// ErrInputTooLarge is returned when text exceeds the configured input limit
var ErrInputTooLarge = errors.New("input exceeds privacy filter size limit")

// Detector applies the privacy filter according to configuration. It can be
// reconfigured at runtime and is safe for concurrent use.
type Detector struct {
	mu       sync.RWMutex
	filter   *Filter
	enabled  bool
	maxBytes int
	logger   *logger.Logger
}

// New creates a new privacy detector instance
func New(cfg config.PrivacyConfig, log *logger.Logger) (*Detector, error) {
	detector := &Detector{logger: log}
	if err := detector.Update(cfg); err != nil {
		return nil, err
	}

	log.Info("Privacy filter initialized",
		zap.Bool("enabled", cfg.Enabled),
		zap.String("mask_char", cfg.MaskChar),
		zap.Int("categories", len(MaskingOrder)),
	)

	return detector, nil
}

// Update applies a new privacy configuration
func (d *Detector) Update(cfg config.PrivacyConfig) error {
	if cfg.MaxInputBytes <= 0 {
		return fmt.Errorf("invalid max input bytes: %d", cfg.MaxInputBytes)
	}

	filter := NewFilter(cfg.MaskRune())

	d.mu.Lock()
	defer d.mu.Unlock()

	d.filter = filter
	d.enabled = cfg.Enabled
	d.maxBytes = cfg.MaxInputBytes

	return nil
}

// Enabled reports whether anonymization is active
func (d *Detector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *Detector) snapshot() (*Filter, bool, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.filter, d.enabled, d.maxBytes
}

// Process anonymizes text when the filter is enabled and passes it through
// unchanged otherwise.
func (d *Detector) Process(text string) (ProcessResult, error) {
	if !d.Enabled() {
		return ProcessResult{
			AnonymizationResult: AnonymizationResult{RedactedText: text, Categories: []Category{}},
			Counts:              map[Category]int{},
		}, nil
	}
	return d.Anonymize(text)
}

// Anonymize masks text regardless of the enabled flag. Only category counts
// are logged, never the matched text.
func (d *Detector) Anonymize(text string) (ProcessResult, error) {
	filter, _, maxBytes := d.snapshot()

	if len(text) > maxBytes {
		return ProcessResult{}, fmt.Errorf("%w: %d > %d bytes", ErrInputTooLarge, len(text), maxBytes)
	}

	result, counts := filter.anonymize(text)
	if len(result.Categories) > 0 {
		fields := make([]zap.Field, 0, len(counts))
		for _, category := range result.Categories {
			fields = append(fields, zap.Int(string(category), counts[category]))
		}
		d.logger.Debug("Sensitive data masked", fields...)
	}

	return ProcessResult{AnonymizationResult: result, Counts: counts, Enabled: true}, nil
}

// Detect returns findings regardless of whether masking is enabled
func (d *Detector) Detect(text string) ([]Finding, error) {
	filter, _, maxBytes := d.snapshot()

	if len(text) > maxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrInputTooLarge, len(text), maxBytes)
	}

	return filter.Detect(text), nil
}
