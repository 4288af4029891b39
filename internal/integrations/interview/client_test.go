package interview

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient()
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.NotNil(t, c.httpClient)
}

func TestWithBaseURL_TrimsTrailingSlash(t *testing.T) {
	c := NewClient(WithBaseURL("http://localhost:9090/"))
	require.Equal(t, "http://localhost:9090", c.baseURL)
}

// ---------------------------------------------------------------------------
// Client.Questions
// ---------------------------------------------------------------------------

func TestQuestions_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/interview-questions", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "3", r.URL.Query().Get("yoe"))
		require.Equal(t, "C++", r.URL.Query().Get("pl"))
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"questions":[{"question":"Q1"},{"question":"Q2"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	questions, err := c.Questions(context.Background(), 3, "C++")
	require.NoError(t, err)
	require.Len(t, questions, 2)
	require.Equal(t, "Q1", questions[0].Question)
	require.Equal(t, "Q2", questions[1].Question)
	require.False(t, questions[0].Graded)
}

func TestQuestions_EmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"questions":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	questions, err := c.Questions(context.Background(), 1, "PHP")
	require.NoError(t, err)
	require.Empty(t, questions)
}

func TestQuestions_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
		_, _ = w.Write([]byte(`{"error":"unavailable"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Questions(context.Background(), 1, "PHP")
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 503, statusErr.HTTPStatusCode())
}

func TestQuestions_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Questions(context.Background(), 1, "PHP")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode questions response")
}

func TestQuestions_NetworkError(t *testing.T) {
	c := NewClient(
		WithBaseURL("http://127.0.0.1:1"),
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}),
	)
	_, err := c.Questions(context.Background(), 1, "PHP")
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

// ---------------------------------------------------------------------------
// Client.Grade
// ---------------------------------------------------------------------------

func TestGrade_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/grade-answers", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"question":"Q1","candidate_answer":"my answer"}`, string(reqBody))
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"score":7,"score_description":"Good attempt."}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	grade, err := c.Grade(context.Background(), "Q1", "my answer")
	require.NoError(t, err)
	require.Equal(t, "7", grade.Score.String())
	require.Equal(t, "Good attempt.", grade.Description)
}

func TestGrade_FractionalScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"score":7.5,"score_description":"Solid."}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	grade, err := c.Grade(context.Background(), "Q1", "my answer")
	require.NoError(t, err)
	require.Equal(t, "7.5", grade.Score.String())
}

func TestGrade_EmptyQuestion(t *testing.T) {
	c := NewClient()
	_, err := c.Grade(context.Background(), "  ", "my answer")
	require.Error(t, err)
	require.Contains(t, err.Error(), "question")
}

func TestGrade_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Grade(context.Background(), "Q1", "my answer")
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 429, statusErr.HTTPStatusCode())
}

func TestGrade_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Grade(context.Background(), "Q1", "my answer")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode grade response")
}
