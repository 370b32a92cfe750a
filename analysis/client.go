package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nijaru/scriptparser/models"
	"github.com/pkg/errors"
)

const (
	jsonResponseType = "json_object"
	maxErrorBody     = 512
)

// Config captures the settings for one OpenAI-compatible chat endpoint.
type Config struct {
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client analyses transcripts through an OpenAI-compatible chat completion API.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	systemPrompt string
}

var _ Provider = (*Client)(nil)

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSystemPrompt replaces the default analysis prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) {
		if strings.TrimSpace(prompt) != "" {
			c.systemPrompt = prompt
		}
	}
}

// NewClient validates cfg and returns a client. A missing key or endpoint is a
// configuration error.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.APIKey == "" {
		return nil, errors.Errorf("%s: api key required", cfg.Name)
	}
	if cfg.BaseURL == "" {
		return nil, errors.Errorf("%s: base url required", cfg.Name)
	}
	if cfg.Model == "" {
		return nil, errors.Errorf("%s: model required", cfg.Name)
	}

	c := &Client{
		cfg:          cfg,
		httpClient:   http.DefaultClient,
		systemPrompt: SystemPrompt,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string {
	return c.cfg.Name
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze sends the transcript and decodes the structured reply. A reply that
// lacks hook, core or cta is an error.
func (c *Client) Analyze(ctx context.Context, text string) (*models.StructuredAnalysis, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.Errorf("%s: empty transcript", c.cfg.Name)
	}

	content, err := c.completeJSON(ctx, c.systemPrompt, text)
	if err != nil {
		return nil, errors.Wrapf(err, "%s API error", c.cfg.Name)
	}

	var result models.StructuredAnalysis
	if err := DecodeJSON(content, &result); err != nil {
		return nil, errors.Wrapf(err, "%s: failed to parse response", c.cfg.Name)
	}
	normalize(&result)
	if !result.Complete() {
		return nil, errors.Wrapf(ErrIncomplete, "%s", c.cfg.Name)
	}
	return &result, nil
}

func (c *Client) completeJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "chat/completions")
	if err != nil {
		return "", errors.Wrap(err, "build url")
	}

	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    c.cfg.Temperature,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "encode body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return "", &httpStatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", errors.Wrap(err, "decode response")
	}
	if completion.Error != nil && completion.Error.Message != "" {
		return "", errors.New(completion.Error.Message)
	}
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	return "", errors.New("empty completion content")
}

func normalize(a *models.StructuredAnalysis) {
	a.Hook = strings.TrimSpace(a.Hook)
	a.Core = strings.TrimSpace(a.Core)
	a.CTA = strings.TrimSpace(a.CTA)
	highlights := a.Highlights[:0]
	for _, h := range a.Highlights {
		if h = strings.TrimSpace(h); h != "" {
			highlights = append(highlights, h)
		}
	}
	if len(highlights) == 0 {
		highlights = nil
	}
	a.Highlights = highlights
}
