// Package assistant talks to the language-model gateway: the streamed chat
// completion endpoint and the single-shot chat endpoint used for title
// suggestions.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"interview-agent/internal/domain"
)

// defaultBaseURL is the fallback gateway endpoint used when no host is
// configured.
const defaultBaseURL = "https://ankitkf.ngrok.io"

const (
	streamChatPath = "/api/openai/stream-chat"
	chatPath       = "/api/openai/chat"
)

// chatRequest is the wire payload for both endpoints.
type chatRequest struct {
	API         domain.APICredentials `json:"api"`
	Model       string                `json:"model"`
	Messages    []domain.ChatMessage  `json:"messages"`
	Temperature float64               `json:"temperature"`
	MaxTokens   int                   `json:"max_tokens"`
}

// chatResponse is the single-shot endpoint's response shape.
type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// tokenPayload is the JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware
// context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("assistant: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client issues chat calls against the gateway. The API key is fetched from
// the parameter store on first use and cached for the process lifetime; with
// no getter configured the client runs unauthenticated and omits the key.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	getter       Getter
	paramPrefix  string
	orgID        string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithStreamClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.streamClient = httpClient
	}
}

// WithKeyFromParamStore resolves the API key from `<prefix>/llm-api-key` on
// first use.
func WithKeyFromParamStore(ps Getter, paramPrefix string) Option {
	return func(c *Client) {
		c.getter = ps
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	}
}

func WithOrganizationID(orgID string) Option {
	return func(c *Client) {
		c.orgID = strings.TrimSpace(orgID)
	}
}

// NewClient creates a gateway client. Single-shot calls carry an overall
// timeout; the streaming client only bounds time-to-first-byte, since a
// healthy stream may legitimately run for minutes.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		streamClient: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 30 * time.Second},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// resolveAPIKey fetches the key once and reuses the result. Without a getter
// the key is empty and omitted from the payload.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.getter == nil {
		return "", nil
	}
	c.keyOnce.Do(func() {
		raw, err := c.getter.GetParameter(ctx, c.paramPrefix+"/llm-api-key")
		if err != nil {
			c.keyErr = fmt.Errorf("assistant: fetch token from paramstore: %w", err)
			return
		}
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			c.keyErr = fmt.Errorf("assistant: unmarshal paramstore token value: %w", err)
			return
		}
		if tp.Token == "" {
			c.keyErr = errors.New("assistant: API token is empty")
			return
		}
		c.apiKey = tp.Token
	})
	return c.apiKey, c.keyErr
}

func (c *Client) payload(ctx context.Context, model string, messages []domain.ChatMessage, temperature float64, maxTokens int) ([]byte, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(chatRequest{
		API: domain.APICredentials{
			APIKey:            apiKey,
			APIHost:           c.baseURL,
			APIOrganizationID: c.orgID,
		},
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: marshal request: %w", err)
	}
	return body, nil
}

// StreamChat starts a streamed completion and returns the raw response body.
// The caller owns the body and must close it; cancelling ctx aborts the
// stream mid-read.
func (c *Client) StreamChat(ctx context.Context, model string, messages []domain.ChatMessage, temperature float64, maxTokens int) (io.ReadCloser, error) {
	if model == "" {
		return nil, errors.New("assistant: model must not be empty")
	}
	body, err := c.payload(ctx, model, messages, temperature, maxTokens)
	if err != nil {
		return nil, err
	}

	url := c.baseURL + streamChatPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("assistant: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assistant: request failed: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		_ = res.Body.Close()
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	return res.Body, nil
}

// Chat issues a single-shot completion and returns the assistant message
// content. Used for title suggestions.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage, temperature float64, maxTokens int) (string, error) {
	if model == "" {
		return "", errors.New("assistant: model must not be empty")
	}
	body, err := c.payload(ctx, model, messages, temperature, maxTokens)
	if err != nil {
		return "", err
	}

	url := c.baseURL + chatPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("assistant: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("assistant: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("assistant: read response body: %w", err)
	}
	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("assistant: decode response: %w", err)
	}
	return payload.Message.Content, nil
}
