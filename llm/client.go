// Package llm is the boundary to the hosted multimodal extraction service.
// The client sends one request per document — the ordered page images plus a
// fixed instruction — and returns the raw text payload for auditing. It does
// not retry; retry policy belongs to the caller.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tmacedo/billscan/raster"
)

var (
	// ErrMissingAPIKey means the extraction service credential is absent.
	// This is fatal to a whole run, so it is surfaced at construction time.
	ErrMissingAPIKey = errors.New("billscan: extraction api key is not set")

	// ErrNoPages means there were no page images to send. The external
	// service is never called with zero images.
	ErrNoPages = errors.New("billscan: no page images to extract")

	// ErrMalformedResponse means the service reply was not a single JSON
	// object. Field-level recovery belongs to the normalizer, not here.
	ErrMalformedResponse = errors.New("billscan: extraction response is not a single JSON object")
)

// ExtractionPrompt is the fixed instruction sent with every request. It pins
// the exact output schema: the eleven keys, each nullable, one format per key.
const ExtractionPrompt = "You are a strict invoice extractor. Read the utility bill IMAGES and return ONLY JSON " +
	"with these keys (null if unknown): " +
	"vendor, invoice_date (YYYY-MM-DD), total, " +
	"account_number, bill_date (YYYY-MM-DD), due_date (YYYY-MM-DD), " +
	"service_from (YYYY-MM-DD), service_to (YYYY-MM-DD), usage_kwh (integer), " +
	"total_current_charges, total_amount_due. " +
	"Currency values are plain decimals with no symbols or separators. " +
	"No prose, no markdown - JSON only."

// Extractor sends page images plus an instruction to the extraction service
// and returns its raw text payload.
type Extractor interface {
	Extract(ctx context.Context, pages []raster.PageImage, instruction string) (string, error)
}

// Config configures the extraction client.
type Config struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url"`
	// Timeout bounds each HTTP request on top of the caller's context.
	Timeout time.Duration `json:"-"`
}

// Client talks to Gemini through its OpenAI-compatible chat-completions
// endpoint, forcing JSON output.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient validates the credential and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// --- wire types ---

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []visionMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat responseFormat  `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type visionMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Extract performs exactly one call to the extraction service and returns the
// reply as a single JSON object in text form.
func (c *Client) Extract(ctx context.Context, pages []raster.PageImage, instruction string) (string, error) {
	if len(pages) == 0 {
		return "", ErrNoPages
	}

	content := make([]contentPart, 0, len(pages)+1)
	content = append(content, contentPart{Type: "text", Text: instruction})
	for _, p := range pages {
		content = append(content, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(p.JPEG),
			},
		})
	}

	body := chatCompletionRequest{
		Model:          c.cfg.Model,
		Messages:       []visionMessage{{Role: "user", Content: content}},
		Temperature:    0,
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	respBody, err := c.doPost(ctx, "/chat/completions", body)
	if err != nil {
		return "", err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decoding extraction response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrMalformedResponse)
	}

	return singleJSONObject(resp.Choices[0].Message.Content)
}

// singleJSONObject verifies the payload is one JSON object, tolerating only
// markdown code fences around it (transport noise, not payload content).
func singleJSONObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	dec := json.NewDecoder(strings.NewReader(s))
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	// Anything after the first value means the reply was not a single object.
	if dec.More() {
		return "", fmt.Errorf("%w: trailing content after JSON object", ErrMalformedResponse)
	}
	return s, nil
}

func (c *Client) doPost(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling extraction service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading extraction response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction service returned HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
