package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Kocoro-lab/Shannon/go/coverage/internal/citations"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/completion"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/extract"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/quota"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/registry"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/resolver"
	"go.uber.org/zap"
)

const (
	DefaultCompletionTimeout = 45 * time.Second

	maxURLLength      = 2048
	maxKeywordsLength = 300
)

// Request is a coverage lookup.
type Request struct {
	URL      string `json:"url"`
	Keywords string `json:"keywords,omitempty"`
}

// Usage is the quota view returned to clients.
type Usage struct {
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"resetAt"`
}

// Response is the successful result of a coverage lookup.
type Response struct {
	Summary        string                     `json:"summary"`
	CommonGround   []string                   `json:"commonGround,omitempty"`
	KeyDifferences []string                   `json:"keyDifferences,omitempty"`
	Alternatives   []citations.ResolvedSource `json:"alternatives"`
	IsPaywalled    bool                       `json:"isPaywalled"`
	Usage          Usage                      `json:"usage"`
}

// Result carries everything the caller must act on, including on failure:
// the token to hand back and the quota status to report.
type Result struct {
	Response *Response
	Token    quota.Token
	Counted  bool
	Quota    quota.Status
	State    State
}

// Controller runs the coverage pipeline for one request at a time; it holds
// no per-request state and is safe for concurrent use.
type Controller struct {
	guard             *quota.Guard
	extractor         *extract.Extractor
	completer         completion.Client
	processor         *citations.Processor
	registry          *registry.Registry
	completionTimeout time.Duration
	logger            *zap.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithCompletionTimeout bounds the upstream completion call.
func WithCompletionTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.completionTimeout = d
		}
	}
}

// WithExtractor replaces the default coverage extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(c *Controller) { c.extractor = e }
}

// NewController wires the pipeline stages.
func NewController(guard *quota.Guard, completer completion.Client, processor *citations.Processor, reg *registry.Registry, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		guard:             guard,
		extractor:         extract.NewCoverage(),
		completer:         completer,
		processor:         processor,
		registry:          reg,
		completionTimeout: DefaultCompletionTimeout,
		logger:            logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Guard returns the quota guard, for callers that report usage without running.
func (c *Controller) Guard() *quota.Guard { return c.guard }

// Run executes the pipeline. The returned Result is always populated; when
// err is non-nil it is a *Error.
func (c *Controller) Run(ctx context.Context, req Request, token quota.Token) (res Result, err error) {
	start := time.Now()
	res = Result{Token: token, State: Received}
	logger := c.logger.With(zap.String("url", req.URL))

	defer func() {
		status := "ok"
		if err != nil {
			pe, ok := AsError(err)
			if !ok {
				pe = NewError(UpstreamError, "Unexpected pipeline failure.", err)
				err = pe
			}
			pe.State = res.State
			status = strings.ToLower(string(pe.Kind))
			metrics.PipelineErrors.WithLabelValues(string(pe.Kind), res.State.String()).Inc()
			logger.Warn("Coverage request failed",
				zap.String("error_type", string(pe.Kind)),
				zap.String("state", res.State.String()),
				zap.Bool("retryable", pe.Retryable),
				zap.Error(pe.Err),
			)
			res.State = Failed
		}
		metrics.RecordRequest(status, time.Since(start).Seconds())
	}()

	res.Quota = c.guard.Check(token)
	if !res.Quota.Allowed {
		metrics.QuotaRejections.Inc()
		return res, NewError(RateLimited,
			fmt.Sprintf("Daily limit of %d lookups reached. Try again after %s.", res.Quota.Limit, res.Quota.ResetAt.Format(time.RFC1123)),
			nil)
	}
	res.State = QuotaChecked

	req, origin, verr := normalizeRequest(req)
	if verr != nil {
		return res, verr
	}
	res.State = InputValidated

	res.Token = c.guard.Increment(token)
	res.Counted = true
	res.Quota = c.guard.Check(res.Token)

	comp, err := c.complete(ctx, req)
	if err != nil {
		return res, err
	}
	res.State = UpstreamCompleted

	structured, strategy, ok := c.extractor.ExtractWith(comp.Text)
	if !ok {
		metrics.ExtractionStrategy.WithLabelValues("none").Inc()
		return res, NewError(UpstreamError, "The analysis service returned an unreadable answer.", nil)
	}
	metrics.ExtractionStrategy.WithLabelValues(strategy).Inc()
	res.State = Extracted

	raws := make([]citations.RawCitation, 0, len(comp.Citations))
	for _, ct := range comp.Citations {
		raws = append(raws, citations.RawCitation{URI: ct.URI, Title: ct.Title})
	}
	sources := c.processor.Process(ctx, origin, raws)
	res.State = CitationsProcessed

	res.Response = &Response{
		Summary:        structured.String("summary"),
		CommonGround:   extract.StringList(structured["commonGround"]),
		KeyDifferences: extract.StringList(structured["keyDifferences"]),
		Alternatives:   sources,
		IsPaywalled:    origin != "" && c.registry.IsPaywalled(origin),
		Usage: Usage{
			Used:      res.Quota.Used,
			Remaining: res.Quota.Remaining,
			Limit:     res.Quota.Limit,
			ResetAt:   res.Quota.ResetAt,
		},
	}
	res.State = Responded

	logger.Info("Coverage request completed",
		zap.String("strategy", strategy),
		zap.Int("citations", len(raws)),
		zap.Int("alternatives", len(sources)),
		zap.Int("tokens_used", comp.TokensUsed),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (c *Controller) complete(ctx context.Context, req Request) (*completion.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.completionTimeout)
	defer cancel()

	comp, err := c.completer.Complete(ctx, completion.Prompt{
		Query:          BuildPrompt(req),
		Role:           completion.DefaultRole,
		Grounding:      true,
		ResponseFormat: "json",
	})
	if err != nil {
		return nil, classifyUpstream(err)
	}
	if comp == nil {
		return nil, NewError(UpstreamError, "The analysis service returned an empty answer.", nil)
	}
	return comp, nil
}

// normalizeRequest trims and checks the input, returning the origin domain
// when the URL names a real article.
func normalizeRequest(req Request) (Request, string, error) {
	req.URL = strings.TrimSpace(req.URL)
	req.Keywords = strings.Join(strings.Fields(req.Keywords), " ")

	if req.URL == "" && req.Keywords == "" {
		return req, "", NewError(InvalidInput, "Provide an article URL or keywords.", nil)
	}
	if len(req.URL) > maxURLLength {
		return req, "", NewError(InvalidInput, "The URL is too long.", nil)
	}
	if utf8.RuneCountInString(req.Keywords) > maxKeywordsLength {
		return req, "", NewError(InvalidInput, "Keywords are too long.", nil)
	}
	if req.URL == "" {
		return req, "", nil
	}

	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return req, "", NewError(InvalidInput, "Enter a full article URL starting with http:// or https://.", err)
	}
	if resolver.IsWrapper(u) {
		if req.Keywords == "" {
			return req, "", NewError(InvalidInput, "This link hides the original article. Add a few keywords describing the story.", nil)
		}
		return req, "", nil
	}
	return req, registry.NormalizeDomain(u.Hostname()), nil
}
