package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raaihank/screen-tutor/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrMissingAPIKey is returned by New when no Groq key is configured
	ErrMissingAPIKey = errors.New("missing Groq API key (set GROQ_API_KEY, free key at https://console.groq.com)")
	// ErrUnauthorized is returned when the API rejects the key
	ErrUnauthorized = errors.New("invalid Groq API key")
	// ErrRateLimited is returned when the API throttles the request
	ErrRateLimited = errors.New("Groq rate limit reached, retry in a few seconds")
	// ErrEmptyResponse is returned when the completion has no content
	ErrEmptyResponse = errors.New("empty completion response")
)

const qcmPrompt = `Tu es un assistant expert qui analyse des QCM (questions à choix multiples).

Voici le texte extrait d'un QCM. Analyse-le et :
1. Identifie TOUTES les questions
2. Liste les options de réponse pour chaque question
3. Pour CHAQUE question, détermine la RÉPONSE CORRECTE
4. Donne une EXPLICATION COURTE pour chaque réponse

Format de réponse souhaité :

❓ QUESTION 1: [texte de la question]
Options:
A) [option A]
B) [option B]
C) [option C]
D) [option D]

✅ RÉPONSE: [lettre]
💡 EXPLICATION: [explication courte et claire]

---

❓ QUESTION 2: ...
[etc.]

Si le texte ne contient pas de QCM identifiable, indique-le clairement.`

const userPrefix = "Voici le texte du QCM à analyser:\n\n"

// Message is a single chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI-compatible completion request body
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// ChatResponse is the subset of the completion reply we read
type ChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Client analyzes QCM text with a chat completion API
type Client struct {
	config     config.LLMConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New creates a new LLM client
func New(cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}, nil
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.config.Model
}

// Analyze asks the model to answer every question found in text
func (c *Client) Analyze(ctx context.Context, text string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("LLM rate limiter: %w", err)
	}

	body, err := json.Marshal(ChatRequest{
		Model: c.config.Model,
		Messages: []Message{
			{Role: "system", Content: qcmPrompt},
			{Role: "user", Content: userPrefix + text},
		},
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create LLM request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("LLM request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("LLM request failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode LLM response: %w", err)
	}

	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}

	c.logger.Info("Analysis completed",
		zap.String("model", c.config.Model),
		zap.Duration("duration", time.Since(start)),
	)

	return result.Choices[0].Message.Content, nil
}
