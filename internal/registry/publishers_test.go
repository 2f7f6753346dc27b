package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefault(t *testing.T) *Registry {
	t.Helper()
	r, err := LoadDefault()
	require.NoError(t, err)
	require.Greater(t, r.Len(), 50)
	return r
}

func TestClassifyKnownPublishers(t *testing.T) {
	r := loadDefault(t)

	cases := []struct {
		domain string
		name   string
		typ    OutletType
		cc     string
	}{
		{"apnews.com", "Associated Press", Wire, "US"},
		{"www.reuters.com", "Reuters", Wire, "GB"},
		{"feeds.bbc.co.uk", "BBC", PublicBroadcaster, "GB"},
		{"news.yahoo.com", "Yahoo News", Corporate, "US"},
		{"finance.yahoo.com", "Yahoo Finance", Corporate, "US"},
		{"NYTimes.com", "The New York Times", National, "US"},
		{"en.wikipedia.org", "Wikipedia", Reference, "US"},
	}
	for _, c := range cases {
		e := r.Classify(c.domain)
		assert.Equal(t, c.name, e.DisplayName, c.domain)
		assert.Equal(t, c.typ, e.OutletType, c.domain)
		assert.Equal(t, c.cc, e.CountryCode, c.domain)
	}
}

func TestClassifyLabelFragment(t *testing.T) {
	r := loadDefault(t)
	e := r.Classify("reutersagency.com")
	assert.Equal(t, "Reuters", e.DisplayName)
	assert.Equal(t, Wire, e.OutletType)

	e = r.Classify("bbcnews.com")
	assert.Equal(t, "BBC", e.DisplayName)
}

func TestClassifyLabelFragmentNeedsPrefix(t *testing.T) {
	r := loadDefault(t)

	e := r.Classify("abbcorp.com")
	assert.Equal(t, "ABBCORP", e.DisplayName)
	assert.Equal(t, Local, e.OutletType)

	e = r.Classify("thereuterssite.net")
	assert.Equal(t, "THEREUTERSSITE", e.DisplayName)
}

func TestClassifyFallback(t *testing.T) {
	r := loadDefault(t)

	e := r.Classify("www.springfieldgazette.com")
	assert.Equal(t, "SPRINGFIELDGAZETTE", e.DisplayName)
	assert.Equal(t, Local, e.OutletType)
	assert.Equal(t, "US", e.CountryCode)

	e = r.Classify("news.kentishherald.co.uk")
	assert.Equal(t, "KENTISHHERALD", e.DisplayName, "meaningful label is the second segment")
	assert.Equal(t, "GB", e.CountryCode)

	e = r.Classify("edition.lokalzeitung.de")
	assert.Equal(t, "LOKALZEITUNG", e.DisplayName)
	assert.Equal(t, "DE", e.CountryCode)

	e = r.Classify("")
	assert.Equal(t, Local, e.OutletType, "classify never fails")
}

func TestSyndicationAndPaywall(t *testing.T) {
	r := loadDefault(t)

	assert.True(t, r.IsSyndicatedFrom("dnyuz.com", "www.nytimes.com"))
	assert.True(t, r.IsSyndicatedFrom("www.msn.com", "nytimes.com"))
	assert.False(t, r.IsSyndicatedFrom("cnn.com", "nytimes.com"))
	assert.False(t, r.IsSyndicatedFrom("nytimes.com", "nytimes.com"))
	assert.False(t, r.IsSyndicatedFrom("dnyuz.com", "example.com"))

	assert.True(t, r.IsPaywalled("https://www.wsj.com/articles/x"))
	assert.False(t, r.IsPaywalled("apnews.com"))
}

func TestOutletPriorityOrder(t *testing.T) {
	order := []OutletType{Wire, PublicBroadcaster, International, National, Magazine, Specialized, Analysis, Local, Reference}
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1].Priority(), order[i].Priority(), "%s before %s", order[i-1], order[i])
	}
	assert.Equal(t, National.Priority(), Corporate.Priority())
	assert.Greater(t, OutletType("unknown").Priority(), Reference.Priority())
}

func TestNewRejectsBadEntries(t *testing.T) {
	_, err := New(Table{Outlets: []Entry{{MatchKey: "", OutletType: Wire}}})
	assert.Error(t, err)

	_, err = New(Table{Outlets: []Entry{{MatchKey: "x.com", OutletType: "tabloid"}}})
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "publishers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 9
default_country: GB
outlets:
  - {match: example.com, name: Example, type: wire}
`), 0o644))

	r, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9, r.Version())
	e := r.Classify("example.com")
	assert.Equal(t, "Example", e.DisplayName)
	assert.Equal(t, "GB", e.CountryCode)
	assert.Equal(t, "GB", r.Classify("unknown.xyz").CountryCode)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "example.com", NormalizeDomain("https://WWW.Example.com:8443/path?q=1"))
	assert.Equal(t, "news.example.com", NormalizeDomain("news.example.com."))
}
