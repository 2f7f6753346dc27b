package citations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Kocoro-lab/Shannon/go/coverage/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/registry"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/resolver"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxCitations = 12
	DefaultConcurrency  = 6
	DefaultItemTimeout  = 8 * time.Second
)

// DropReason records why a citation did not become a source.
type DropReason string

const (
	DropArtifact        DropReason = "artifact"
	DropCapped          DropReason = "capped"
	DropInvalidURL      DropReason = "invalid_url"
	DropUnresolvable    DropReason = "unresolvable"
	DropErrorPage       DropReason = DropReason(validation.ReasonErrorPage)
	DropForeignLanguage DropReason = DropReason(validation.ReasonForeignLanguage)
	DropOrigin          DropReason = "origin"
	DropDuplicate       DropReason = "duplicate"
	DropPanic           DropReason = "panic"
)

// RawCitation is a grounding reference as returned upstream.
type RawCitation struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// ResolvedSource is one alternative outlet in a response.
type ResolvedSource struct {
	URI          string              `json:"uri"`
	Title        string              `json:"title"`
	DisplayName  string              `json:"displayName"`
	Domain       string              `json:"domain"`
	OutletType   registry.OutletType `json:"outletType"`
	CountryCode  string              `json:"countryCode"`
	IsSyndicated bool                `json:"isSyndicated"`
}

// Outcome is the fate of one raw citation.
type Outcome struct {
	Raw    RawCitation
	Source *ResolvedSource
	Drop   DropReason
	Err    error
}

// Kept reports whether the citation survived every stage.
func (o Outcome) Kept() bool { return o.Drop == "" && o.Source != nil }

// Resolver unwraps citation URLs.
type Resolver interface {
	Resolve(ctx context.Context, uri string) (resolver.Resolution, error)
}

// Processor turns raw citations into validated, classified, deduplicated
// and ordered sources.
type Processor struct {
	resolver     Resolver
	registry     *registry.Registry
	validator    *validation.Validator
	maxCitations int
	concurrency  int
	itemTimeout  time.Duration
	logger       *zap.Logger
}

// Option configures a Processor.
type Option func(*Processor)

func WithMaxCitations(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxCitations = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithItemTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.itemTimeout = d
		}
	}
}

func WithValidator(v *validation.Validator) Option {
	return func(p *Processor) { p.validator = v }
}

// NewProcessor creates a processor.
func NewProcessor(res Resolver, reg *registry.Registry, logger *zap.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		resolver:     res,
		registry:     reg,
		validator:    validation.NewValidator(),
		maxCitations: DefaultMaxCitations,
		concurrency:  DefaultConcurrency,
		itemTimeout:  DefaultItemTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process returns the sources for a response. originDomain is the submitted
// article's domain and may be empty.
func (p *Processor) Process(ctx context.Context, originDomain string, raws []RawCitation) []ResolvedSource {
	outcomes := p.Evaluate(ctx, originDomain, raws)

	sources := make([]ResolvedSource, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Kept() {
			sources = append(sources, *o.Source)
		}
	}
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if a.IsSyndicated != b.IsSyndicated {
			return a.IsSyndicated
		}
		return a.OutletType.Priority() < b.OutletType.Priority()
	})

	metrics.RecordCitations(len(raws), len(sources))
	return sources
}

// Evaluate returns one outcome per raw citation: pre-filtered drops in input
// order, then resolved citations in completion order with duplicates marked.
func (p *Processor) Evaluate(ctx context.Context, originDomain string, raws []RawCitation) []Outcome {
	outcomes := make([]Outcome, 0, len(raws))
	candidates := make([]RawCitation, 0, len(raws))
	for _, raw := range raws {
		switch {
		case isArtifact(raw.Title):
			outcomes = append(outcomes, p.drop(Outcome{Raw: raw, Drop: DropArtifact}))
		case len(candidates) >= p.maxCitations:
			outcomes = append(outcomes, p.drop(Outcome{Raw: raw, Drop: DropCapped}))
		default:
			candidates = append(candidates, raw)
		}
	}

	origin := registry.NormalizeDomain(originDomain)
	resolved := p.fanOut(ctx, origin, candidates)

	seen := make(map[string]bool, len(resolved))
	for _, o := range resolved {
		if o.Kept() {
			if seen[o.Source.Domain] {
				o.Drop = DropDuplicate
			} else {
				seen[o.Source.Domain] = true
			}
		}
		if o.Drop != "" {
			o = p.drop(o)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (p *Processor) fanOut(ctx context.Context, origin string, candidates []RawCitation) []Outcome {
	var (
		mu      sync.Mutex
		results = make([]Outcome, 0, len(candidates))
		g       errgroup.Group
	)
	g.SetLimit(p.concurrency)

	for _, raw := range candidates {
		g.Go(func() error {
			o := p.evaluateOne(ctx, origin, raw)
			mu.Lock()
			results = append(results, o)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Processor) evaluateOne(ctx context.Context, origin string, raw RawCitation) (out Outcome) {
	out.Raw = raw
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Raw: raw, Drop: DropPanic, Err: fmt.Errorf("panic resolving citation: %v", r)}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.itemTimeout)
	defer cancel()

	res, err := p.resolver.Resolve(ctx, raw.URI)
	if err != nil {
		out.Err = err
		switch {
		case errors.Is(err, resolver.ErrInvalidURL):
			out.Drop = DropInvalidURL
		case errors.Is(err, resolver.ErrErrorPage):
			out.Drop = DropErrorPage
		default:
			out.Drop = DropUnresolvable
		}
		return out
	}

	uri, err := NormalizeURL(res.URI)
	if err != nil {
		out.Err = err
		out.Drop = DropInvalidURL
		return out
	}
	domain, err := ExtractDomain(uri)
	if err != nil || domain == "" {
		out.Err = err
		out.Drop = DropInvalidURL
		return out
	}
	if origin != "" && domain == origin {
		out.Drop = DropOrigin
		return out
	}

	title := strings.TrimSpace(res.Title)
	if title == "" {
		title = strings.TrimSpace(raw.Title)
	}
	if title == "" {
		title = domain
	}
	if ok, reason := p.validator.Accept(title); !ok {
		out.Drop = DropReason(reason)
		return out
	}

	entry := p.registry.Classify(domain)
	out.Source = &ResolvedSource{
		URI:          uri,
		Title:        title,
		DisplayName:  entry.DisplayName,
		Domain:       domain,
		OutletType:   entry.OutletType,
		CountryCode:  entry.CountryCode,
		IsSyndicated: origin != "" && p.registry.IsSyndicatedFrom(domain, origin),
	}
	return out
}

func (p *Processor) drop(o Outcome) Outcome {
	metrics.CitationDrops.WithLabelValues(string(o.Drop)).Inc()
	fields := []zap.Field{
		zap.String("reason", string(o.Drop)),
		zap.String("uri", o.Raw.URI),
	}
	if o.Err != nil {
		fields = append(fields, zap.Error(o.Err))
	}
	if o.Drop == DropPanic {
		p.logger.Error("Citation evaluation panicked", fields...)
	} else {
		p.logger.Debug("Dropped citation", fields...)
	}
	return o
}

// artifactMarkers identify titles that name the grounding service itself.
var artifactMarkers = []string{
	"vertexaisearch",
	"grounding-api-redirect",
	"google.com/search",
	"google search",
	"cloud.google.com",
}

func isArtifact(title string) bool {
	t := strings.ToLower(title)
	for _, m := range artifactMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}
