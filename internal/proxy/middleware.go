package proxy

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/screen-tutor/internal/logger"
	"github.com/raaihank/screen-tutor/internal/privacy"
	"github.com/raaihank/screen-tutor/internal/websocket"
	"go.uber.org/zap"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// requestIDMiddleware assigns every request an ID, reusing a valid incoming
// X-Request-ID header.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs HTTP requests and responses
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := getRequestID(r.Context())
		log := s.logger.WithRequestID(requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		log.Debug("HTTP request started",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Any("headers", logger.SafeHeaders(r.Header)),
		)

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		log.Info("HTTP request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status_code", rw.statusCode),
			zap.Duration("duration", duration),
			zap.Int("response_size", rw.size),
		)

		if s.wsHub != nil {
			s.wsHub.PublishRequest(websocket.RequestLogEvent{
				RequestID:    requestID,
				Method:       r.Method,
				Path:         r.URL.Path,
				StatusCode:   rw.statusCode,
				ClientIP:     websocket.ClientIP(r),
				UserAgent:    r.UserAgent(),
				Duration:     duration,
				ResponseSize: int64(rw.size),
				Headers:      logger.SafeHeaders(r.Header),
			})
		}
	})
}

// rateLimitMiddleware rejects clients that exceed their request budget
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := websocket.ClientIP(r)
		if !s.limiter.Allow(client) {
			s.logger.WithRequestID(getRequestID(r.Context())).Warn("Rate limit exceeded",
				zap.String("client_ip", client),
			)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// llmAuthMiddleware guards the LLM proxy, which forwards requests with the
// configured API key. With llm.proxy_token set, callers must send it as a
// bearer token. Without one, only loopback clients are served.
func (s *Server) llmAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.llmCallerAllowed(r) {
			s.logger.WithRequestID(getRequestID(r.Context())).Warn("LLM proxy request rejected",
				zap.String("remote_addr", r.RemoteAddr),
			)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) llmCallerAllowed(r *http.Request) bool {
	if token := s.config.LLM.ProxyToken; token != "" {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		return ok && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
	}

	// X-Forwarded-For is ignored here, the peer address cannot be spoofed
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// privacyMiddleware masks personal data in request bodies before they are
// forwarded. JSON bodies keep their structure and only string values are
// masked. Other bodies are masked as plain text.
func (s *Server) privacyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.detector.Enabled() || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}

		log := s.logger.WithRequestID(getRequestID(r.Context()))

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes))
		r.Body.Close()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			log.Error("Failed to read request body", zap.Error(err))
			writeError(w, http.StatusBadRequest, "failed to read request")
			return
		}

		redacted, counts, err := s.redactBody(body)
		if err != nil {
			if errors.Is(err, privacy.ErrInputTooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, err.Error())
				return
			}
			log.Error("Failed to redact request body", zap.Error(err))
			writeError(w, http.StatusBadRequest, "failed to process request body")
			return
		}

		if total := sumCounts(counts); total > 0 {
			log.Info("Sensitive data masked in request",
				zap.Int("total", total),
				zap.Any("counts", counts),
			)
			if s.wsHub != nil {
				s.wsHub.PublishDetection("llm_proxy", counts)
			}
		}

		r.Body = io.NopCloser(bytes.NewReader(redacted))
		r.ContentLength = int64(len(redacted))
		r.Header.Set("Content-Length", strconv.Itoa(len(redacted)))

		next.ServeHTTP(w, r)
	})
}

// redactBody masks a request body and returns the per-category counts
func (s *Server) redactBody(body []byte) ([]byte, map[privacy.Category]int, error) {
	counts := map[privacy.Category]int{}

	if json.Valid(body) {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()

		var doc any
		if err := dec.Decode(&doc); err == nil {
			redacted, err := s.redactValue(doc, counts)
			if err != nil {
				return nil, nil, err
			}

			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetEscapeHTML(false)
			if err := enc.Encode(redacted); err != nil {
				return nil, nil, err
			}
			return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), counts, nil
		}
	}

	result, err := s.detector.Process(string(body))
	if err != nil {
		return nil, nil, err
	}
	addCounts(counts, result.Counts)
	return []byte(result.RedactedText), counts, nil
}

// redactValue walks a decoded JSON document and masks every string value.
// Object keys are left untouched.
func (s *Server) redactValue(v any, counts map[privacy.Category]int) (any, error) {
	switch val := v.(type) {
	case string:
		result, err := s.detector.Process(val)
		if err != nil {
			return nil, err
		}
		addCounts(counts, result.Counts)
		return result.RedactedText, nil
	case map[string]any:
		for k, child := range val {
			redacted, err := s.redactValue(child, counts)
			if err != nil {
				return nil, err
			}
			val[k] = redacted
		}
		return val, nil
	case []any:
		for i, child := range val {
			redacted, err := s.redactValue(child, counts)
			if err != nil {
				return nil, err
			}
			val[i] = redacted
		}
		return val, nil
	default:
		return v, nil
	}
}

func addCounts(dst, src map[privacy.Category]int) {
	for category, n := range src {
		dst[category] += n
	}
}

func sumCounts(counts map[privacy.Category]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

// responseWriter wraps http.ResponseWriter to capture response data
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Flush lets streamed completions pass through the logging wrapper
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// getRequestID extracts request ID from context
func getRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return "unknown"
}
