package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Kocoro-lab/Shannon/go/coverage/internal/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", 5*time.Second, circuitbreaker.CompletionSettings(), zaptest.NewLogger(t))
}

func TestCompletePostsAgentQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/agent/query", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "summarize", body["query"])
		ctx := body["context"].(map[string]any)
		assert.Equal(t, DefaultRole, ctx["role"])
		assert.Equal(t, true, ctx["grounding"])
		assert.Equal(t, "json", ctx["response_format"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":     true,
			"response":    `{"summary":"ok"}`,
			"tokens_used": 321,
			"model_used":  "gemini-2.5-flash",
			"provider":    "google",
			"metadata": map[string]any{
				"citations": []map[string]string{{"uri": "https://apnews.com/a", "title": "apnews.com"}},
			},
		})
	})

	comp, err := c.Complete(context.Background(), Prompt{Query: "summarize", Grounding: true, ResponseFormat: "json"})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, comp.Text)
	assert.Equal(t, 321, comp.TokensUsed)
	assert.Equal(t, "google", comp.Provider)
	require.Len(t, comp.Citations, 1)
	assert.Equal(t, "https://apnews.com/a", comp.Citations[0].URI)
}

func TestCompleteStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"slow down"}`))
	})

	_, err := c.Complete(context.Background(), Prompt{Query: "q"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Contains(t, se.Error(), "slow down")
}

func TestCompleteUnsuccessfulEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"provider unavailable"}`))
	})

	_, err := c.Complete(context.Background(), Prompt{Query: "q"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "provider unavailable", se.Body)
}

func TestCompleteHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, Prompt{Query: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, c.Ready(), "a caller deadline does not trip the breaker")
}

func TestCompleteTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url, time.Second, circuitbreaker.CompletionSettings(), zaptest.NewLogger(t))
	_, err := c.Complete(context.Background(), Prompt{Query: "q"})
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}
