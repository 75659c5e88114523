package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
	"github.com/modulpintar/modulpintar-server/internal/generator"
)

func testSpec() generator.LessonSpec {
	return generator.LessonSpec{
		Subject:  "Matematika",
		Grade:    "VII",
		Topic:    "Perbandingan",
		Sessions: 1,
	}
}

func newTestEngine(t *testing.T, baseURL string) *Engine {
	t.Helper()
	e, err := New(Config{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		RequestTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// collect drains a chunk channel into the assembled text and the terminal
// error, if any.
func collect(ch <-chan generator.Chunk) (string, error) {
	var b strings.Builder
	for c := range ch {
		if c.Err != nil {
			return b.String(), c.Err
		}
		b.WriteString(c.Text)
	}
	return b.String(), nil
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config with all fields",
			cfg: Config{
				APIKey:         "test-key",
				BaseURL:        "https://generativelanguage.googleapis.com",
				Model:          "gemini-2.0-flash",
				RequestTimeout: 30 * time.Second,
			},
		},
		{
			name: "valid config with minimal fields",
			cfg:  Config{APIKey: "test-key"},
		},
		{
			name:    "missing api key",
			cfg:     Config{BaseURL: "https://generativelanguage.googleapis.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("New() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() unexpected error = %v", err)
			}
			if e.model == "" || e.baseURL == "" {
				t.Errorf("defaults not applied: model=%q baseURL=%q", e.model, e.baseURL)
			}
		})
	}
}

func TestGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if key := r.URL.Query().Get("key"); key != "test-key" {
			t.Errorf("key = %q, want test-key", key)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"# Modul Ajar"},{"text":": Perbandingan"}]},"finishReason":"STOP"}]}`)
	}))
	defer server.Close()

	e := newTestEngine(t, server.URL)
	got, err := e.Generate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "# Modul Ajar: Perbandingan" {
		t.Errorf("Generate = %q", got)
	}
}

func TestGenerate_PromptBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer server.Close()

	e := newTestEngine(t, server.URL)
	_, err := e.Generate(context.Background(), testSpec())
	if !errors.Is(err, generator.ErrContentFiltered) {
		t.Fatalf("expected ErrContentFiltered, got %v", err)
	}
	if apperr.KindOf(err) != apperr.ContentFiltered {
		t.Errorf("kind = %v, want ContentFiltered", apperr.KindOf(err))
	}
}

func TestGenerate_FinishReasonBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[]},"finishReason":"PROHIBITED_CONTENT"}]}`)
	}))
	defer server.Close()

	e := newTestEngine(t, server.URL)
	_, err := e.Generate(context.Background(), testSpec())
	if !errors.Is(err, generator.ErrContentFiltered) {
		t.Fatalf("expected ErrContentFiltered, got %v", err)
	}
}

func TestGenerate_EmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer server.Close()

	e := newTestEngine(t, server.URL)
	_, err := e.Generate(context.Background(), testSpec())
	if !errors.Is(err, generator.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestGenerate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	}))
	defer server.Close()

	e := newTestEngine(t, server.URL)
	_, err := e.Generate(context.Background(), testSpec())
	if err == nil {
		t.Fatal("expected error for HTTP 400")
	}
	if apperr.KindOf(err) != apperr.GeneratorFailure {
		t.Errorf("kind = %v, want GeneratorFailure", apperr.KindOf(err))
	}
	if !strings.Contains(err.Error(), "API key not valid") {
		t.Errorf("error does not carry the upstream message: %v", err)
	}
}

func TestGenerateStream_ReassemblesSplitLines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if alt := r.URL.Query().Get("alt"); alt != "sse" {
			t.Errorf("alt = %q, want sse", alt)
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("ResponseWriter does not support flushing")
		}
		w.Header().Set("Content-Type", "text/event-stream")

		// One event split mid-JSON across two flushes, then a whole one.
		fmt.Fprint(w, `data: {"candidates":[{"content":{"parts":[{"text":"Peng`)
		flusher.Flush()
		fmt.Fprint(w, "antar\"}]}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\" materi\"}]}}]}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	e := newTestEngine(t, server.URL)
	ch, err := e.GenerateStream(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	got, err := collect(ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != "Pengantar materi" {
		t.Errorf("stream text = %q", got)
	}
}

func TestGenerateStream_FlushesFinalLineWithoutNewline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The body ends abruptly after the data line, no trailing newline.
		fmt.Fprint(w, `data: {"candidates":[{"content":{"parts":[{"text":"Penutup"}]}}]}`)
	}))
	defer server.Close()

	e := newTestEngine(t, server.URL)
	ch, err := e.GenerateStream(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	got, err := collect(ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != "Penutup" {
		t.Errorf("stream text = %q, want the unterminated final line delivered", got)
	}
}

func TestGenerateStream_Blocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Bagian awal\"}]}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[]},\"finishReason\":\"SAFETY\"}]}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	e := newTestEngine(t, server.URL)
	ch, err := e.GenerateStream(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	got, err := collect(ch)
	if !errors.Is(err, generator.ErrContentFiltered) {
		t.Fatalf("expected ErrContentFiltered, got %v", err)
	}
	if got != "Bagian awal" {
		t.Errorf("text before the block = %q", got)
	}
}

func TestGenerateStream_EmptyStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Connection closes without a single data line.
	}))
	defer server.Close()

	e := newTestEngine(t, server.URL)
	ch, err := e.GenerateStream(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	_, err = collect(ch)
	if !errors.Is(err, generator.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestGenerateStream_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer server.Close()

	e := newTestEngine(t, server.URL)
	_, err := e.GenerateStream(context.Background(), testSpec())
	if err == nil {
		t.Fatal("expected error for HTTP 429")
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error does not carry the upstream message: %v", err)
	}
}

func TestGenerateStream_MalformedEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json}\n\n")
	}))
	defer server.Close()

	e := newTestEngine(t, server.URL)
	ch, err := e.GenerateStream(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	_, err = collect(ch)
	if err == nil {
		t.Fatal("expected error for malformed event")
	}
	if apperr.KindOf(err) != apperr.GeneratorFailure {
		t.Errorf("kind = %v, want GeneratorFailure", apperr.KindOf(err))
	}
}

func TestGenerateStream_TerminatesOnCancel(t *testing.T) {
	event := "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"tick\"}]}}]}\n\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		for {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			fmt.Fprint(w, event)
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newTestEngine(t, server.URL)
	ch, err := e.GenerateStream(ctx, testSpec())
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	if c, ok := <-ch; !ok || c.Err != nil {
		t.Fatalf("expected a first chunk, got ok=%v err=%v", ok, c.Err)
	}
	cancel()

	// The stream must wind down even though nobody drains it promptly.
	deadline := time.NewTimer(2 * time.Second)
	defer deadline.Stop()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline.C:
			t.Fatal("stream did not terminate after cancellation")
		}
	}
}
