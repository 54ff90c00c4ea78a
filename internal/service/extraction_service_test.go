package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"receiptly/pkg/config"

	"go.uber.org/zap"
)

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	reply := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		t.Fatalf("encode reply: %v", err)
	}
}

func newTestExtractor(baseURL string) *VisionExtractor {
	return NewVisionExtractor(&config.OpenAIConfig{
		APIKey:     "test-key",
		Model:      "gpt-4o-mini",
		BaseURL:    baseURL,
		PromptPath: "no-such-prompt-file.txt",
		Timeout:    5 * time.Second,
	}, zap.NewNop())
}

func TestExtractParsesJSONFromProse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "Here is the receipt:\n"+
			`{"merchant": "Cafe Milano", "amount": "42.80", "date": "2024-03-15", "category": "food", "items": []}`+
			"\nLet me know if you need anything else.")
	}))
	defer srv.Close()

	raw, err := newTestExtractor(srv.URL).Extract(context.Background(), []byte("img"), "image/jpeg")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if raw.Merchant != "Cafe Milano" {
		t.Errorf("merchant = %q", raw.Merchant)
	}
	if float64(raw.Amount) != 42.80 {
		t.Errorf("amount = %v", raw.Amount)
	}
	if raw.Category != "food" {
		t.Errorf("category = %q", raw.Category)
	}
}

func TestExtractRejectsResponsesWithoutJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "I cannot read this image, sorry.")
	}))
	defer srv.Close()

	_, err := newTestExtractor(srv.URL).Extract(context.Background(), []byte("img"), "image/jpeg")
	if !errors.Is(err, ErrInvalidDataFormat) {
		t.Fatalf("want ErrInvalidDataFormat, got %v", err)
	}
}

func TestExtractRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		chatReply(t, w, `{"merchant": "Corner Shop", "amount": 5, "date": "2024-01-02", "category": "other"}`)
	}))
	defer srv.Close()

	raw, err := newTestExtractor(srv.URL).Extract(context.Background(), []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("extract after retries: %v", err)
	}
	if raw.Merchant != "Corner Shop" {
		t.Errorf("merchant = %q", raw.Merchant)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestExtractGivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestExtractor(srv.URL).Extract(context.Background(), []byte("img"), "image/jpeg")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := calls.Load(); got != maxExtractionAttempts {
		t.Errorf("expected %d attempts, got %d", maxExtractionAttempts, got)
	}
}

func TestExtractDoesNotRetryAuthFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestExtractor(srv.URL).Extract(context.Background(), []byte("img"), "image/jpeg")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("401 must not be retried, got %d attempts", got)
	}
}

func TestLoadPromptFallsBackToDefault(t *testing.T) {
	prompt := loadPrompt("does-not-exist.txt", zap.NewNop())
	if prompt != defaultExtractionPrompt {
		t.Errorf("expected built-in default prompt, got %q", prompt)
	}
}

func TestParseExtractionGreedyBraces(t *testing.T) {
	// Nested objects must survive the first-to-last brace slice.
	content := "```json\n" +
		`{"merchant": "M&S", "amount": 10, "date": "2024-02-02", "category": "other", "items": [{"name": "tea", "quantity": 1, "unit_price": 10, "total_price": 10}]}` +
		"\n```"

	raw, err := parseExtraction(content)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(raw.Items) != 1 || raw.Items[0].Name != "tea" {
		t.Errorf("items did not parse: %+v", raw.Items)
	}
}
