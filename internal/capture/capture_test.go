package capture

import (
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raaihank/screen-tutor/internal/config"
	"go.uber.org/zap"
)

func TestCaptureRegionRejectsEmpty(t *testing.T) {
	c := New(config.CaptureConfig{}, zap.NewNop())
	if _, err := c.CaptureRegion(image.Rect(10, 10, 10, 50)); !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("expected ErrInvalidRegion, got %v", err)
	}
}

func TestSavePNG(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "debug")
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	path, err := SavePNG(image.NewRGBA(image.Rect(0, 0, 4, 4)), dir, at)
	if err != nil {
		t.Fatalf("SavePNG failed: %v", err)
	}
	if filepath.Base(path) != "capture_20250314_092653.png" {
		t.Errorf("unexpected file name %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("file is not a PNG: %v", err)
	}
}
