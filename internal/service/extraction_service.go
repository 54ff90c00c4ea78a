package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"receiptly/internal/schema"
	"receiptly/pkg/config"

	"go.uber.org/zap"
)

const (
	// One request, up to three attempts total on transient failures.
	maxExtractionAttempts = 3

	extractionMaxTokens   = 1000
	extractionTemperature = 0.2
)

// ErrInvalidDataFormat marks responses the provider produced but the
// pipeline cannot use: no JSON object, or an unparseable one. Kept
// distinct from provider failures for observability.
var ErrInvalidDataFormat = errors.New("AI returned invalid data format")

// defaultExtractionPrompt is the required fallback when the external
// prompt file cannot be read.
const defaultExtractionPrompt = "Analyze receipt image and return JSON with date, merchant, amount, items, and category"

// VisionExtractor turns a stored receipt image into a raw, unvalidated
// extraction via an OpenAI-compatible vision completion API.
type VisionExtractor struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	prompt     string
	logger     *zap.Logger
}

func NewVisionExtractor(cfg *config.OpenAIConfig, logger *zap.Logger) *VisionExtractor {
	return &VisionExtractor{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		prompt:     loadPrompt(cfg.PromptPath, logger),
		logger:     logger,
	}
}

func loadPrompt(path string, logger *zap.Logger) string {
	data, err := os.ReadFile(path)
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		logger.Warn("Extraction prompt file unavailable, using built-in default",
			zap.String("path", path),
			zap.Error(err),
		)
		return defaultExtractionPrompt
	}
	return string(data)
}

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract sends the image inline (base64 data URI) with the instruction
// prompt and parses the first JSON object out of the free-form reply.
func (e *VisionExtractor) Extract(ctx context.Context, image []byte, mimeType string) (*schema.RawReceipt, error) {
	req := chatRequest{
		Model:       e.model,
		MaxTokens:   extractionMaxTokens,
		Temperature: extractionTemperature,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: e.prompt},
					{
						Type: "image_url",
						ImageURL: &imageURL{
							URL:    fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image)),
							Detail: "high",
						},
					},
				},
			},
		},
	}

	content, err := e.complete(ctx, req)
	if err != nil {
		return nil, err
	}

	return parseExtraction(content)
}

// complete performs the chat-completion call with a retry budget of
// maxExtractionAttempts against transient failures (network errors,
// rate limits, 5xx).
func (e *VisionExtractor) complete(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxExtractionAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt-1) * time.Second):
			}
		}

		content, retryable, err := e.doRequest(ctx, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable {
			break
		}

		e.logger.Warn("Vision completion attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return "", fmt.Errorf("vision completion failed: %w", lastErr)
}

func (e *VisionExtractor) doRequest(ctx context.Context, body []byte) (content string, retryable bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", transient, fmt.Errorf("completion API returned status %d: %s", resp.StatusCode, string(raw))
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", false, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", false, fmt.Errorf("no choices in completion response")
	}

	return completion.Choices[0].Message.Content, false, nil
}

// parseExtraction locates the substring from the first '{' to the last
// '}' greedily and parses it. Anything else is a hard format failure;
// the pipeline never substitutes placeholder data.
func parseExtraction(content string) (*schema.RawReceipt, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrInvalidDataFormat)
	}

	jsonStr := content[start : end+1]

	var raw schema.RawReceipt
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataFormat, err)
	}
	return &raw, nil
}
