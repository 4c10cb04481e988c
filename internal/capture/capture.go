package capture

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/kbinani/screenshot"
	"github.com/raaihank/screen-tutor/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrNoDisplay is returned when no active display is available
	ErrNoDisplay = errors.New("no active displays found")
	// ErrInvalidRegion is returned for empty capture rectangles
	ErrInvalidRegion = errors.New("invalid capture region")
)

// Capturer grabs screenshots of a configured display
type Capturer struct {
	config config.CaptureConfig
	logger *zap.Logger
}

// New creates a new screen capturer
func New(cfg config.CaptureConfig, logger *zap.Logger) *Capturer {
	return &Capturer{config: cfg, logger: logger}
}

// NumDisplays reports the number of active displays
func NumDisplays() int {
	return screenshot.NumActiveDisplays()
}

// Capture grabs the configured display
func (c *Capturer) Capture() (image.Image, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, ErrNoDisplay
	}

	display := c.config.Display
	if display < 0 || display >= n {
		return nil, fmt.Errorf("display %d out of range (have %d)", display, n)
	}

	img, err := screenshot.CaptureDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("failed to capture display %d: %w", display, err)
	}

	c.logger.Debug("Screen captured",
		zap.Int("display", display),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
	)

	c.saveDebug(img)
	return img, nil
}

// CaptureRegion grabs a rectangle in virtual-screen coordinates
func (c *Capturer) CaptureRegion(rect image.Rectangle) (image.Image, error) {
	if rect.Empty() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegion, rect)
	}

	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, fmt.Errorf("failed to capture region: %w", err)
	}

	c.saveDebug(img)
	return img, nil
}

// saveDebug writes a timestamped PNG when debug saving is on. Failures are
// logged and never fail the capture.
func (c *Capturer) saveDebug(img image.Image) {
	if !c.config.DebugSave || c.config.DebugSaveDir == "" {
		return
	}

	path, err := SavePNG(img, c.config.DebugSaveDir, time.Now())
	if err != nil {
		c.logger.Warn("Failed to save debug screenshot", zap.Error(err))
		return
	}
	c.logger.Debug("Debug screenshot saved", zap.String("path", path))
}

// SavePNG writes img to dir as capture_<timestamp>.png and returns the path
func SavePNG(img image.Image, dir string, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("capture_%s.png", at.Format("20060102_150405")))
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return "", fmt.Errorf("failed to encode PNG: %w", err)
	}
	return path, nil
}
