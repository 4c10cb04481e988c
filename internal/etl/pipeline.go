package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raaihank/screen-tutor/internal/privacy"
)

// maxErrors bounds the error messages kept in a ProcessingResult
const maxErrors = 100

// Anonymizer masks one record's text
type Anonymizer interface {
	Anonymize(text string) (privacy.ProcessResult, error)
}

// Pipeline redacts personal data from datasets in batches
type Pipeline struct {
	anonymizer Anonymizer
	config     *Config
	logger     *zap.Logger
	stats      *ProcessingStats
	mu         sync.RWMutex
}

// NewPipeline creates a new ETL pipeline
func NewPipeline(anonymizer Anonymizer, config *Config, logger *zap.Logger) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}

	return &Pipeline{
		anonymizer: anonymizer,
		config:     config,
		logger:     logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// ProcessFile reads inputPath (CSV, Parquet or JSON lines) and writes the
// redacted records to outputPath (Parquet or JSON lines)
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*ProcessingResult, error) {
	p.logger.Info("Starting ETL pipeline",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.String("format", string(DetectFileFormat(inputPath))),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	// Validate the output before touching the input
	if _, err := detectOutputFormat(outputPath); err != nil {
		return nil, fmt.Errorf("%w: %s", err, outputPath)
	}

	reader, err := openReader(inputPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	writer, err := createWriter(outputPath)
	if err != nil {
		return nil, err
	}

	result, err := p.process(ctx, reader, writer)
	if closeErr := writer.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("failed to close output: %w", closeErr)
	}
	if err != nil {
		return result, err
	}

	p.logger.Info("ETL pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("records_masked", result.RecordsMasked),
		zap.Any("counts", result.Counts),
		zap.Duration("total_duration", result.Duration))

	return result, nil
}

// process drives the batch loop between a reader and a writer
func (p *Pipeline) process(ctx context.Context, reader recordReader, writer recordWriter) (*ProcessingResult, error) {
	start := time.Now()
	p.resetStats()

	result := &ProcessingResult{Counts: map[privacy.Category]int{}}
	defer func() {
		result.Duration = time.Since(start)
	}()

	var lastReport int64
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		batch, err := reader.ReadBatch(p.config.BatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		redacted, err := p.processBatch(ctx, batch, result)
		if err != nil {
			return result, err
		}
		if err := writer.Write(redacted); err != nil {
			return result, fmt.Errorf("failed to write batch: %w", err)
		}

		p.updateStats(int64(len(batch)), int64(len(redacted)))

		if p.config.ProgressReport > 0 && result.TotalRecords-lastReport >= int64(p.config.ProgressReport) {
			lastReport = result.TotalRecords
			p.reportProgress(result)
		}
	}

	if skipped := reader.Skipped(); skipped > 0 {
		result.TotalRecords += skipped
		result.ProcessedFailed += skipped
		result.addError(fmt.Sprintf("%d rows could not be decoded", skipped))
	}

	return result, nil
}

// processBatch anonymizes a batch concurrently and returns the redacted
// records in input order. Records that cannot be anonymized are dropped and
// counted as failed.
func (p *Pipeline) processBatch(ctx context.Context, batch []Record, result *ProcessingResult) ([]RedactedRecord, error) {
	outcomes := make([]privacy.ProcessResult, len(batch))
	failures := make([]error, len(batch))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.WorkerCount)

	for i := range batch {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcomes[i], failures[i] = p.anonymizer.Anonymize(batch[i].Text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	redacted := make([]RedactedRecord, 0, len(batch))
	for i, record := range batch {
		result.TotalRecords++

		if err := failures[i]; err != nil {
			result.ProcessedFailed++
			if errors.Is(err, privacy.ErrInputTooLarge) {
				p.logger.Debug("Record exceeds input limit",
					zap.String("id", record.ID),
					zap.Int("length", len(record.Text)))
			}
			result.addError(fmt.Sprintf("record %s: %v", record.ID, err))
			continue
		}

		outcome := outcomes[i]
		result.ProcessedOK++
		if outcome.Total() > 0 {
			result.RecordsMasked++
			for category, n := range outcome.Counts {
				result.Counts[category] += n
			}
		}
		redacted = append(redacted, RedactedRecord{ID: record.ID, RedactedText: outcome.RedactedText})
	}

	p.logger.Debug("Batch processed",
		zap.Int("batch_size", len(batch)),
		zap.Int("written", len(redacted)))

	return redacted, nil
}

func (r *ProcessingResult) addError(msg string) {
	if len(r.Errors) < maxErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	stats := p.GetStats()

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Float64("rate_per_sec", stats.ProcessingRate),
		zap.Duration("elapsed", time.Since(stats.StartTime)))
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

func (p *Pipeline) updateStats(read, written int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.RecordsRead += read
	p.stats.RecordsWritten += written
	p.stats.CurrentBatch++
	if elapsed := time.Since(p.stats.StartTime).Seconds(); elapsed > 0 {
		p.stats.ProcessingRate = float64(p.stats.RecordsRead) / elapsed
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}
