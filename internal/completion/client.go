package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/coverage/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/tracing"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://llm-service:8000"
	DefaultRole    = "news_analyst"

	maxResponseBytes = 4 << 20
	maxErrorBody     = 512
)

// Prompt is one completion request.
type Prompt struct {
	Query          string
	Role           string
	Grounding      bool
	ResponseFormat string
	MaxTokens      int
}

// Citation is a grounding reference attached to a completion.
type Citation struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Completion is the raw text plus grounding metadata.
type Completion struct {
	Text       string
	Citations  []Citation
	TokensUsed int
	ModelUsed  string
	Provider   string
}

// Client produces grounded completions.
type Client interface {
	Complete(ctx context.Context, p Prompt) (*Completion, error)
}

// StatusError is a non-2xx answer from the completion service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("completion service returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("completion service returned HTTP %d: %s", e.Code, e.Body)
}

// HTTPClient calls the llm-service /agent/query endpoint.
type HTTPClient struct {
	baseURL string
	http    *circuitbreaker.HTTPWrapper
	logger  *zap.Logger
}

// NewHTTPClient creates a client for baseURL. timeout bounds each call at the
// transport level; callers still pass their own deadline.
func NewHTTPClient(baseURL string, timeout time.Duration, settings circuitbreaker.Settings, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	hc := &http.Client{Timeout: timeout}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    circuitbreaker.NewHTTPWrapper(hc, "completion", "llm-service", settings, logger),
		logger:  logger,
	}
}

type queryRequest struct {
	Query   string       `json:"query"`
	Context queryContext `json:"context"`
}

type queryContext struct {
	Role           string `json:"role,omitempty"`
	Grounding      bool   `json:"grounding"`
	ResponseFormat string `json:"response_format,omitempty"`
	MaxTokens      int    `json:"max_tokens,omitempty"`
}

type queryResponse struct {
	Success    *bool      `json:"success"`
	Response   string     `json:"response"`
	TokensUsed int        `json:"tokens_used"`
	ModelUsed  string     `json:"model_used"`
	Provider   string     `json:"provider"`
	Citations  []Citation `json:"citations"`
	Metadata   struct {
		Citations []Citation `json:"citations"`
	} `json:"metadata"`
	Error string `json:"error"`
}

// Complete posts the prompt and returns the completion. Transport failures
// are returned as-is; non-2xx answers as *StatusError.
func (c *HTTPClient) Complete(ctx context.Context, p Prompt) (comp *Completion, err error) {
	role := p.Role
	if role == "" {
		role = DefaultRole
	}
	buf, err := json.Marshal(queryRequest{
		Query: p.Query,
		Context: queryContext{
			Role:           role,
			Grounding:      p.Grounding,
			ResponseFormat: p.ResponseFormat,
			MaxTokens:      p.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/agent/query"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	start := time.Now()
	defer func() {
		status := "ok"
		tokens := 0
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			tokens = comp.TokensUsed
		}
		metrics.RecordCompletion(status, time.Since(start).Seconds(), tokens)
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", "coverage")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read completion body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	var out queryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &StatusError{Code: http.StatusBadGateway, Body: "unparseable completion envelope"}
	}
	if out.Success != nil && !*out.Success {
		msg := out.Error
		if msg == "" {
			msg = "completion service returned success=false"
		}
		return nil, &StatusError{Code: http.StatusBadGateway, Body: msg}
	}

	cites := out.Citations
	if len(cites) == 0 {
		cites = out.Metadata.Citations
	}
	c.logger.Debug("Completion received",
		zap.Int("tokens_used", out.TokensUsed),
		zap.String("model_used", out.ModelUsed),
		zap.String("provider", out.Provider),
		zap.Int("citations", len(cites)),
	)
	return &Completion{
		Text:       out.Response,
		Citations:  cites,
		TokensUsed: out.TokensUsed,
		ModelUsed:  out.ModelUsed,
		Provider:   out.Provider,
	}, nil
}

// Ready reports whether the breaker currently admits calls.
func (c *HTTPClient) Ready() bool {
	return c.http.State() != circuitbreaker.StateOpen
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
