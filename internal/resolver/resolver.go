package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/coverage/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/validation"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a single resolution.
	DefaultTimeout = 5 * time.Second
	MinTimeout     = 3 * time.Second
	MaxTimeout     = 8 * time.Second

	maxBodyBytes = 1 << 20
	userAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

var (
	// ErrUnresolvable means the wrapper never revealed a target URL.
	ErrUnresolvable = errors.New("redirect target not found")
	// ErrFetch means the wrapper page could not be fetched or read.
	ErrFetch = errors.New("fetch failed")
	// ErrInvalidURL means the input could not be parsed as an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid citation url")
	// ErrErrorPage means the wrapper landed on an error status or on a page
	// whose only titles are error, login or anti-bot placeholders.
	ErrErrorPage = errors.New("landing page is an error page")
)

// Resolution is the real article location behind a citation.
type Resolution struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// Resolver unwraps indirect citation URLs.
type Resolver struct {
	client    *http.Client
	validator *validation.Validator
	cache     Cache
	limiter   *HostLimiter
	timeout   time.Duration
	logger    *zap.Logger

	extraWrappers map[string]bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the HTTP client used for fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithCache memoizes wrapper resolutions.
func WithCache(c Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithHostLimiter paces wrapper fetches per host.
func WithHostLimiter(l *HostLimiter) Option {
	return func(r *Resolver) { r.limiter = l }
}

// WithTimeout sets the per-resolution budget, clamped to [MinTimeout, MaxTimeout].
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = clampTimeout(d) }
}

// WithWrapperHosts treats every URL on the given hosts (host or host:port) as a wrapper.
func WithWrapperHosts(hosts ...string) Option {
	return func(r *Resolver) {
		if r.extraWrappers == nil {
			r.extraWrappers = make(map[string]bool, len(hosts))
		}
		for _, h := range hosts {
			r.extraWrappers[strings.ToLower(h)] = true
		}
	}
}

// WithValidator sets the title validator.
func WithValidator(v *validation.Validator) Option {
	return func(r *Resolver) { r.validator = v }
}

// New creates a resolver.
func New(logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		client:    &http.Client{},
		validator: validation.NewValidator(),
		timeout:   DefaultTimeout,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) isWrapper(u *url.URL) bool {
	if IsWrapper(u) {
		return true
	}
	return r.extraWrappers[strings.ToLower(u.Host)] || r.extraWrappers[strings.ToLower(u.Hostname())]
}

// Timeout returns the per-resolution budget.
func (r *Resolver) Timeout() time.Duration { return r.timeout }

func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// Resolve returns the article URL behind uri and, when the page offers one, its title.
// URLs that are not wrappers come back unchanged without a network call. Failures,
// ErrErrorPage included, are returned once and never retried or cached.
func (r *Resolver) Resolve(ctx context.Context, uri string) (Resolution, error) {
	u, err := parseAbsolute(uri)
	if err != nil {
		return Resolution{}, err
	}
	if !r.isWrapper(u) {
		return Resolution{URI: uri}, nil
	}

	if r.cache != nil {
		if res, ok := r.cache.Get(ctx, uri); ok {
			metrics.ResolverCacheHits.Inc()
			return res, nil
		}
		metrics.ResolverCacheMisses.Inc()
	}

	res, err := r.fetch(ctx, uri)
	if err != nil {
		return Resolution{}, err
	}
	if r.cache != nil {
		r.cache.Set(ctx, uri, res)
	}
	return res, nil
}

func (r *Resolver) fetch(ctx context.Context, uri string) (res Resolution, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodGet, uri)
	start := time.Now()
	defer func() {
		outcome := "resolved"
		if err != nil {
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ResolverFetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return Resolution{}, fmt.Errorf("build request: %w", err)
	}
	setBrowserHeaders(req)

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, req.URL.Hostname()); err != nil {
			return Resolution{}, err
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %s: %w", ErrFetch, uri, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}

	final := resp.Request.URL
	if !r.isWrapper(final) {
		if resp.StatusCode >= http.StatusBadRequest {
			return Resolution{}, fmt.Errorf("%w: %s returned status %d", ErrErrorPage, final, resp.StatusCode)
		}
		title, errorPage := pageTitle(bytes.NewReader(body), r.validator)
		if errorPage {
			return Resolution{}, fmt.Errorf("%w: %s", ErrErrorPage, final)
		}
		r.logger.Debug("Resolved citation redirect",
			zap.String("from", uri),
			zap.String("to", final.String()),
			zap.Int("status", resp.StatusCode),
			zap.Bool("has_title", title != ""),
		)
		return Resolution{URI: final.String(), Title: title}, nil
	}

	if target := embeddedTarget(body, final, r.isWrapper); target != "" {
		r.logger.Debug("Unwrapped citation from page body",
			zap.String("from", uri),
			zap.String("to", target),
		)
		return Resolution{URI: target}, nil
	}
	return Resolution{}, ErrUnresolvable
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
}

func parseAbsolute(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidURL
	}
	return u, nil
}
