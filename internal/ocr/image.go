package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	defaultQuality = 85
	reducedQuality = 70
)

// Downscale shrinks img to fit within maxWidth x maxHeight, keeping the
// aspect ratio. Images that already fit are returned as is.
func Downscale(img image.Image, maxWidth, maxHeight int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxWidth && height <= maxHeight {
		return img
	}

	scale := min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))
	newWidth := max(1, int(float64(width)*scale))
	newHeight := max(1, int(float64(height)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// EncodeJPEG encodes img at quality 85 and falls back to quality 70 when the
// result is larger than maxKB kilobytes.
func EncodeJPEG(img image.Image, maxKB int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: defaultQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	if maxKB > 0 && buf.Len() > maxKB*1024 {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: reducedQuality}); err != nil {
			return nil, fmt.Errorf("failed to encode JPEG: %w", err)
		}
	}

	return buf.Bytes(), nil
}
