package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/raaihank/screen-tutor/internal/config"
	"github.com/raaihank/screen-tutor/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrMissingAPIKey is returned by New when no OCR.space key is configured
	ErrMissingAPIKey = errors.New("missing OCR.space API key (set OCRSPACE_API_KEY, free key at https://ocr.space/ocrapi)")
	// ErrNoText is returned when the service found no text in the image
	ErrNoText = errors.New("no text detected")
	// ErrProcessing is returned when the service reports a processing error
	ErrProcessing = errors.New("OCR processing failed")
)

// Client extracts text from images with the OCR.space API
type Client struct {
	config     config.OCRConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New creates a new OCR client
func New(cfg config.OCRConfig, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}, nil
}

// response mirrors the subset of the OCR.space reply we use
type response struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool         `json:"IsErroredOnProcessing"`
	ErrorMessage          errorMessage `json:"ErrorMessage"`
}

// errorMessage accepts both a string and a list of strings
type errorMessage []string

func (m *errorMessage) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*m = errorMessage{single}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*m = list
	return nil
}

func (m errorMessage) first() string {
	if len(m) == 0 || m[0] == "" {
		return "unknown error"
	}
	return m[0]
}

// ExtractText sends img to OCR.space and returns the trimmed text
func (c *Client) ExtractText(ctx context.Context, img image.Image) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("OCR rate limiter: %w", err)
	}

	bounds := img.Bounds()
	scaled := Downscale(img, c.config.MaxWidth, c.config.MaxHeight)
	payload, err := EncodeJPEG(scaled, c.config.MaxUploadKB)
	if err != nil {
		return "", err
	}

	c.logger.Debug("Sending image to OCR.space",
		zap.Int("width", bounds.Dx()),
		zap.Int("height", bounds.Dy()),
		zap.Int("scaled_width", scaled.Bounds().Dx()),
		zap.Float64("size_kb", float64(len(payload))/1024),
		zap.String("language", c.config.Language),
	)

	form := url.Values{}
	form.Set("apikey", c.config.APIKey)
	form.Set("language", c.config.Language)
	form.Set("isOverlayRequired", "false")
	form.Set("base64Image", "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(payload))
	form.Set("OCREngine", strconv.Itoa(c.config.Engine))

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("OCR request failed: HTTP %d", resp.StatusCode)
	}

	var result response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode OCR response: %w", err)
	}

	if result.IsErroredOnProcessing {
		return "", fmt.Errorf("%w: %s", ErrProcessing, result.ErrorMessage.first())
	}

	if len(result.ParsedResults) == 0 {
		return "", ErrNoText
	}

	text := strings.TrimSpace(result.ParsedResults[0].ParsedText)
	if text == "" {
		return "", ErrNoText
	}

	c.logger.Info("Text extracted",
		zap.Int("characters", len([]rune(text))),
		zap.Duration("duration", time.Since(start)),
	)

	return text, nil
}

// ExtractTextFromBytes decodes a PNG or JPEG image and extracts its text
func (c *Client) ExtractTextFromBytes(ctx context.Context, data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	return c.ExtractText(ctx, img)
}

// String describes the client without exposing the key
func (c *Client) String() string {
	return fmt.Sprintf("ocr.Client{url=%s, language=%s, key=%s}", c.config.URL, c.config.Language, logger.RedactKey(c.config.APIKey))
}
