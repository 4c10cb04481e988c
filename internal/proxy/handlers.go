package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/raaihank/screen-tutor/internal/pipeline"
	"github.com/raaihank/screen-tutor/internal/privacy"
	"go.uber.org/zap"
)

type textRequest struct {
	Text    string `json:"text"`
	Enabled *bool  `json:"enabled,omitempty"`
}

type detectResponse struct {
	Findings []privacy.Finding `json:"findings"`
	Total    int               `json:"total"`
}

type anonymizeResponse struct {
	RedactedText string                   `json:"redacted_text"`
	Categories   []privacy.Category       `json:"categories"`
	Counts       map[privacy.Category]int `json:"counts"`
}

type analyzeResponse struct {
	RedactedText string                   `json:"redacted_text"`
	Categories   []privacy.Category       `json:"categories"`
	Counts       map[privacy.Category]int `json:"counts"`
	Answer       string                   `json:"answer,omitempty"`
	Summary      string                   `json:"summary,omitempty"`
	Model        string                   `json:"model,omitempty"`
	Cached       bool                     `json:"cached"`
	DurationMS   float64                  `json:"duration_ms"`
}

// handleDetect returns the findings for a text. Matched text is returned to
// the caller that sent it and is never logged.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decodeText(w, r, &req) {
		return
	}

	findings, err := s.detector.Detect(req.Text)
	if err != nil {
		s.writeFilterError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detectResponse{Findings: findings, Total: len(findings)})
}

// handleAnonymize masks a text. "enabled": false returns it unchanged.
func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decodeText(w, r, &req) {
		return
	}

	if req.Enabled != nil && !*req.Enabled {
		writeJSON(w, http.StatusOK, anonymizeResponse{
			RedactedText: req.Text,
			Categories:   []privacy.Category{},
			Counts:       map[privacy.Category]int{},
		})
		return
	}

	result, err := s.detector.Anonymize(req.Text)
	if err != nil {
		s.writeFilterError(w, err)
		return
	}

	if result.Total() > 0 && s.wsHub != nil {
		s.wsHub.PublishDetection("api", result.Counts)
	}

	writeJSON(w, http.StatusOK, anonymizeResponse{
		RedactedText: result.RedactedText,
		Categories:   result.Categories,
		Counts:       result.Counts,
	})
}

// handleAnalyze runs the tutor pipeline on an uploaded PNG or JPEG, sent as
// the multipart field "image" or as the raw request body.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.tutor == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis is not configured (missing OCR API key)")
		return
	}

	img, err := s.readImage(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.tutor.Analyze(r.Context(), img)
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, privacy.ErrInputTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Analysis failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		RedactedText: result.RedactedText,
		Categories:   result.Categories,
		Counts:       result.Counts,
		Answer:       result.Answer,
		Summary:      result.Summary,
		Model:        result.Model,
		Cached:       result.Cached,
		DurationMS:   float64(result.Duration.Microseconds()) / 1000,
	})
}

// handleLast returns the final text of the last analysis
func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	if s.tutor == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": s.tutor.LastResult()})
}

func (s *Server) readImage(w http.ResponseWriter, r *http.Request) (image.Image, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("missing image field: %w", err)
		}
		defer file.Close()
		src = file
	}

	img, _, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

func (s *Server) decodeText(w http.ResponseWriter, r *http.Request, req *textRequest) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeFilterError(w http.ResponseWriter, err error) {
	if errors.Is(err, privacy.ErrInputTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// handleLLMProxy forwards a redacted request to the configured LLM API
func (s *Server) handleLLMProxy(w http.ResponseWriter, r *http.Request) {
	r.URL.Path = strings.TrimPrefix(r.URL.Path, "/llm")
	if r.URL.Path == "" {
		r.URL.Path = "/"
	}
	r.URL.RawPath = ""

	start := time.Now()
	s.llmProxy.ServeHTTP(w, r)

	s.logger.WithRequestID(getRequestID(r.Context())).Info("Request proxied",
		zap.String("path", r.URL.Path),
		zap.Duration("upstream_duration", time.Since(start)),
	)
}

// newLLMProxy builds the reverse proxy to the LLM API. The configured API key
// replaces any Authorization header sent by the client.
func (s *Server) newLLMProxy(target *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)

	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = target.Host

		if s.config.LLM.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.config.LLM.APIKey)
		}
		if _, ok := req.Header["User-Agent"]; !ok {
			req.Header.Set("User-Agent", "ScreenTutor/"+Version)
		}
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Proxy error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream request failed")
	}

	proxy.Transport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: s.config.LLM.Timeout,
	}

	return proxy
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
