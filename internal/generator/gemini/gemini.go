// Package gemini generates lesson documents through the Google Gemini API
// (generateContent and its SSE streaming variant).
package gemini

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

	"github.com/modulpintar/modulpintar-server/internal/apperr"
	"github.com/modulpintar/modulpintar-server/internal/generator"
)

// Config holds configuration for the Gemini backend.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://generativelanguage.googleapis.com
	Model          string // optional, defaults to gemini-2.0-flash
	RequestTimeout time.Duration
}

// Engine calls the Gemini API to produce lesson documents.
type Engine struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates an Engine instance.
func New(cfg Config) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second // document generation can run long
	}

	return &Engine{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Name identifies the backend in logs and audit entries.
func (e *Engine) Name() string { return "gemini/" + e.model }

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (e *Engine) requestBody(spec generator.LessonSpec) ([]byte, error) {
	req := generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: generator.BuildPrompt(spec)}},
		}},
	}
	return json.Marshal(req)
}

// Generate produces the complete document in a single call.
func (e *Engine) Generate(ctx context.Context, spec generator.LessonSpec) (string, error) {
	body, err := e.requestBody(spec)
	if err != nil {
		return "", fmt.Errorf("gemini: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", e.baseURL, e.model, e.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", apperr.Wrap(apperr.GeneratorFailure, "generator unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Wrap(apperr.GeneratorFailure, "generator response truncated", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", apperr.Wrap(apperr.GeneratorFailure, "generator rejected the request", apiError(resp.StatusCode, respBody))
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", apperr.Wrap(apperr.GeneratorFailure, "generator response unreadable", err)
	}
	return extractText(parsed)
}

// GenerateStream produces the document incrementally over SSE.
func (e *Engine) GenerateStream(ctx context.Context, spec generator.LessonSpec) (<-chan generator.Chunk, error) {
	body, err := e.requestBody(spec)
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse", e.baseURL, e.model, e.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.GeneratorFailure, "generator unreachable", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, apperr.Wrap(apperr.GeneratorFailure, "generator rejected the request", apiError(resp.StatusCode, respBody))
	}

	out := make(chan generator.Chunk, 10)

	go func() {
		defer close(out)
		defer resp.Body.Close()

		// Sends must not outlive the receiver; an abandoned channel is
		// signalled through ctx.
		send := func(c generator.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		reader := io.Reader(resp.Body)
		buffer := make([]byte, 8192)
		leftover := ""
		emitted := false

		// handleLine parses one SSE line and reports whether the stream
		// is finished.
		handleLine := func(line string) bool {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data: ") {
				return false
			}
			payload := strings.TrimPrefix(line, "data: ")

			var parsed generateResponse
			if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
				send(generator.Chunk{Err: apperr.Wrap(apperr.GeneratorFailure, "generator stream unreadable", err)})
				return true
			}
			if blocked(parsed) {
				send(generator.Chunk{Err: generator.ErrContentFiltered})
				return true
			}
			for _, c := range parsed.Candidates {
				for _, p := range c.Content.Parts {
					if p.Text != "" {
						emitted = true
						if !send(generator.Chunk{Text: p.Text}) {
							return true
						}
					}
				}
			}
			return false
		}

		for {
			select {
			case <-ctx.Done():
				send(generator.Chunk{Err: ctx.Err()})
				return
			default:
			}

			n, err := reader.Read(buffer)
			if n > 0 {
				data := leftover + string(buffer[:n])
				lines := strings.Split(data, "\n")

				// Keep the last incomplete line for next iteration
				leftover = lines[len(lines)-1]
				lines = lines[:len(lines)-1]

				for _, line := range lines {
					if handleLine(line) {
						return
					}
				}
			}

			if err != nil {
				if err == io.EOF {
					// A final line without a trailing newline still counts.
					if handleLine(leftover) {
						return
					}
					if !emitted {
						send(generator.Chunk{Err: generator.ErrEmptyResponse})
					}
					return
				}
				send(generator.Chunk{Err: apperr.Wrap(apperr.GeneratorFailure, "generator stream interrupted", err)})
				return
			}
		}
	}()

	return out, nil
}

func blocked(resp generateResponse) bool {
	if resp.PromptFeedback.BlockReason != "" {
		return true
	}
	for _, c := range resp.Candidates {
		switch c.FinishReason {
		case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
			return true
		}
	}
	return false
}

func extractText(resp generateResponse) (string, error) {
	if blocked(resp) {
		return "", generator.ErrContentFiltered
	}
	var b strings.Builder
	for _, c := range resp.Candidates {
		for _, p := range c.Content.Parts {
			b.WriteString(p.Text)
		}
	}
	if b.Len() == 0 {
		return "", generator.ErrEmptyResponse
	}
	return b.String(), nil
}

func apiError(status int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Errorf("gemini: %s (code=%d, status=%s)", errResp.Error.Message, errResp.Error.Code, errResp.Error.Status)
	}
	return fmt.Errorf("gemini: http %d: %s", status, string(body))
}
