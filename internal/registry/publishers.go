package registry

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/publicsuffix"
	"gopkg.in/yaml.v3"
)

//go:embed data/publishers.yaml
var defaultTable []byte

// OutletType is a coarse editorial or ownership category.
type OutletType string

const (
	Wire              OutletType = "wire"
	PublicBroadcaster OutletType = "public_broadcaster"
	International     OutletType = "international"
	National          OutletType = "national"
	Corporate         OutletType = "corporate"
	Magazine          OutletType = "magazine"
	Specialized       OutletType = "specialized"
	Analysis          OutletType = "analysis"
	Local             OutletType = "local"
	Reference         OutletType = "reference"
)

var outletPriority = map[OutletType]int{
	Wire:              0,
	PublicBroadcaster: 1,
	International:     2,
	National:          3,
	Corporate:         3,
	Magazine:          4,
	Specialized:       5,
	Analysis:          6,
	Local:             7,
	Reference:         8,
}

// Priority orders outlet types for display; lower sorts first. Unknown types sort last.
func (t OutletType) Priority() int {
	if p, ok := outletPriority[t]; ok {
		return p
	}
	return len(outletPriority)
}

// Valid reports whether t is a known outlet type.
func (t OutletType) Valid() bool {
	_, ok := outletPriority[t]
	return ok
}

// Entry is one publisher classification.
type Entry struct {
	MatchKey    string     `yaml:"match" json:"-"`
	DisplayName string     `yaml:"name" json:"displayName"`
	OutletType  OutletType `yaml:"type" json:"outletType"`
	CountryCode string     `yaml:"country" json:"countryCode"`
}

// Table is the on-disk form of the registry.
type Table struct {
	Version        int                 `yaml:"version"`
	DefaultCountry string              `yaml:"default_country"`
	Outlets        []Entry             `yaml:"outlets"`
	Syndication    map[string][]string `yaml:"syndication"`
	Paywalled      []string            `yaml:"paywalled"`
	TLDCountries   map[string]string   `yaml:"tld_countries"`
}

// Registry classifies domains. It is built once and never mutated, so it is
// safe to share across requests.
type Registry struct {
	version        int
	defaultCountry string
	entries        []Entry
	partners       map[string][]string
	paywalled      []string
	tldCountry     map[string]string
}

// New builds a registry from a table, rejecting entries with no key or an unknown type.
func New(t Table) (*Registry, error) {
	r := &Registry{
		version:        t.Version,
		defaultCountry: strings.ToUpper(strings.TrimSpace(t.DefaultCountry)),
		entries:        make([]Entry, 0, len(t.Outlets)),
		partners:       make(map[string][]string, len(t.Syndication)),
		tldCountry:     make(map[string]string, len(t.TLDCountries)),
	}
	if r.defaultCountry == "" {
		r.defaultCountry = "US"
	}

	for i, e := range t.Outlets {
		e.MatchKey = strings.ToLower(strings.TrimSpace(e.MatchKey))
		if e.MatchKey == "" {
			return nil, fmt.Errorf("outlet %d: empty match key", i)
		}
		if !e.OutletType.Valid() {
			return nil, fmt.Errorf("outlet %q: unknown outlet type %q", e.MatchKey, e.OutletType)
		}
		if e.CountryCode == "" {
			e.CountryCode = r.defaultCountry
		}
		r.entries = append(r.entries, e)
	}
	for origin, list := range t.Syndication {
		key := NormalizeDomain(origin)
		for _, p := range list {
			if p = NormalizeDomain(p); p != "" {
				r.partners[key] = append(r.partners[key], p)
			}
		}
	}
	for _, d := range t.Paywalled {
		if d = NormalizeDomain(d); d != "" {
			r.paywalled = append(r.paywalled, d)
		}
	}
	for suffix, cc := range t.TLDCountries {
		r.tldCountry[strings.ToLower(suffix)] = strings.ToUpper(cc)
	}
	return r, nil
}

// Parse decodes a YAML table and builds a registry from it.
func Parse(data []byte) (*Registry, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse publisher table: %w", err)
	}
	return New(t)
}

// LoadDefault builds the registry from the table shipped with the binary.
func LoadDefault() (*Registry, error) {
	return Parse(defaultTable)
}

// LoadFile builds the registry from a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read publisher table: %w", err)
	}
	return Parse(data)
}

// Version returns the table version.
func (r *Registry) Version() int { return r.version }

// Len returns the number of table entries.
func (r *Registry) Len() int { return len(r.entries) }

// Classify returns the publisher entry for domain. It always returns an entry;
// unknown domains get a name derived from the domain itself.
func (r *Registry) Classify(domain string) Entry {
	d := NormalizeDomain(domain)

	for _, e := range r.entries {
		if strings.Contains(e.MatchKey, ".") && hostMatches(d, e.MatchKey) {
			return e
		}
	}
	// Bare keys match the meaningful label by prefix only, so "bbc" takes
	// bbcnews.com but not abbcorp.com.
	label := MeaningfulLabel(d)
	for _, e := range r.entries {
		if !strings.Contains(e.MatchKey, ".") && strings.HasPrefix(label, e.MatchKey) {
			return e
		}
	}

	name := strings.ToUpper(label)
	if name == "" {
		name = strings.ToUpper(d)
	}
	return Entry{
		MatchKey:    d,
		DisplayName: name,
		OutletType:  Local,
		CountryCode: r.countryFor(d),
	}
}

// IsSyndicatedFrom reports whether domain republishes stories from originDomain.
func (r *Registry) IsSyndicatedFrom(domain, originDomain string) bool {
	d := NormalizeDomain(domain)
	o := NormalizeDomain(originDomain)
	if d == "" || o == "" || d == o {
		return false
	}
	for origin, partners := range r.partners {
		if !hostMatches(o, origin) {
			continue
		}
		for _, p := range partners {
			if hostMatches(d, p) {
				return true
			}
		}
	}
	return false
}

// IsPaywalled reports whether domain is a known paywalled origin.
func (r *Registry) IsPaywalled(domain string) bool {
	d := NormalizeDomain(domain)
	for _, p := range r.paywalled {
		if hostMatches(d, p) {
			return true
		}
	}
	return false
}

func (r *Registry) countryFor(domain string) string {
	suffix, _ := publicsuffix.PublicSuffix(domain)
	if i := strings.LastIndex(suffix, "."); i >= 0 {
		suffix = suffix[i+1:]
	}
	if cc, ok := r.tldCountry[suffix]; ok {
		return cc
	}
	return r.defaultCountry
}

// genericLabels never name a publisher on their own.
var genericLabels = map[string]bool{
	"www": true, "m": true, "amp": true, "mobile": true, "news": true,
	"edition": true, "en": true, "uk": true, "us": true, "eu": true,
	"international": true, "global": true, "beta": true, "web": true,
}

// MeaningfulLabel returns the label that names the publisher: the first label of
// the registrable domain, or the first non-generic label when the registrable
// domain cannot be computed.
func MeaningfulLabel(domain string) string {
	d := NormalizeDomain(domain)
	if d == "" {
		return ""
	}
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(d); err == nil {
		label, _, _ := strings.Cut(etld1, ".")
		return label
	}
	labels := strings.Split(d, ".")
	for i, l := range labels {
		if i == len(labels)-1 && i > 0 {
			break
		}
		if !genericLabels[l] {
			return l
		}
	}
	return labels[0]
}

// NormalizeDomain lowercases a host and strips scheme, path, port and "www.".
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimSuffix(d, ".")
	return strings.TrimPrefix(d, "www.")
}

func hostMatches(host, key string) bool {
	return host == key || strings.HasSuffix(host, "."+key)
}
