// Package interview talks to the interview API: question fetching and answer
// grading.
package interview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"interview-agent/internal/domain"
)

// defaultBaseURL is the hardcoded fallback host used when no API host is
// configured.
const defaultBaseURL = "https://ankitkf.ngrok.io"

// questionsResponse is the question-fetch response shape.
type questionsResponse struct {
	Questions []struct {
		Question string `json:"question"`
	} `json:"questions"`
}

// gradeRequest is the grading request payload.
type gradeRequest struct {
	Question        string `json:"question"`
	CandidateAnswer string `json:"candidate_answer"`
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("interview: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the interview API.
type Client struct {
	baseURL    string
	httpClient *http.Client
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

// NewClient creates an interview API client against the configured host, or
// the fallback host when none is given.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Questions fetches the question set for the given years of experience and
// programming language. The API's ordering is kept as-is; questions[0] is
// the opening question.
func (c *Client) Questions(ctx context.Context, years int, language string) ([]domain.Question, error) {
	u := fmt.Sprintf("%s/interview-questions?yoe=%d&pl=%s", c.baseURL, years, url.QueryEscape(language))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("interview: create request: %w", err)
	}

	raw, err := c.doJSONRequest(req, u)
	if err != nil {
		return nil, err
	}

	var payload questionsResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("interview: decode questions response: %w", err)
	}

	questions := make([]domain.Question, 0, len(payload.Questions))
	for _, q := range payload.Questions {
		questions = append(questions, domain.Question{Question: q.Question})
	}
	return questions, nil
}

// Grade submits a candidate answer for the given question and returns the
// score and its description.
func (c *Client) Grade(ctx context.Context, question, answer string) (domain.Grade, error) {
	if strings.TrimSpace(question) == "" {
		return domain.Grade{}, errors.New("interview: question must not be empty")
	}

	body, err := json.Marshal(gradeRequest{Question: question, CandidateAnswer: answer})
	if err != nil {
		return domain.Grade{}, fmt.Errorf("interview: marshal grade request: %w", err)
	}

	u := c.baseURL + "/grade-answers"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return domain.Grade{}, fmt.Errorf("interview: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.doJSONRequest(req, u)
	if err != nil {
		return domain.Grade{}, err
	}

	var grade domain.Grade
	if err := json.Unmarshal(raw, &grade); err != nil {
		return domain.Grade{}, fmt.Errorf("interview: decode grade response: %w", err)
	}
	return grade, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("interview: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("interview: read response body: %w", err)
	}
	return buf, nil
}
