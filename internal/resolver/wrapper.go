package resolver

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// IsWrapper reports whether u is an indirection URL that must be followed to
// reach the article.
func IsWrapper(u *url.URL) bool {
	if u == nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case host == "vertexaisearch.cloud.google.com":
		return true
	case host == "news.google.com":
		return strings.Contains(u.Path, "/articles/") || strings.HasPrefix(u.Path, "/read/")
	case host == "google.com" || strings.HasPrefix(host, "google."):
		return u.Path == "/url"
	}
	return false
}

// IsWrapperURL is IsWrapper for a raw string.
func IsWrapperURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return IsWrapper(u)
}

// serviceHosts belong to the indirection service or page furniture and are never
// the article itself.
var serviceHosts = []string{
	"google.com",
	"gstatic.com",
	"googleapis.com",
	"googleusercontent.com",
	"googletagmanager.com",
	"google-analytics.com",
	"doubleclick.net",
	"youtube.com",
	"schema.org",
	"w3.org",
}

func isServiceHost(host string) bool {
	host = strings.ToLower(host)
	for _, s := range serviceHosts {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	// regional google domains: google.co.uk, accounts.google.de, ...
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return false
	}
	return strings.HasPrefix(etld1, "google.")
}
