package resolver

import (
	"bytes"
	"html"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/coverage/internal/validation"
	"github.com/PuerkitoBio/goquery"
)

var (
	// window.location = "...", location.href='...', document.location = "..."
	reScriptAssign = regexp.MustCompile(`(?:window\.|document\.|top\.)?location(?:\.href)?\s*=\s*["']([^"']+)["']`)
	// location.replace("...") / location.assign("...")
	reScriptCall = regexp.MustCompile(`location\.(?:replace|assign)\(\s*["']([^"']+)["']\s*\)`)
	reBareURL    = regexp.MustCompile(`https?://[^\s"'<>\\)\]]+`)
	reRefreshURL = regexp.MustCompile(`(?i)url\s*=\s*['"]?([^'"\s>]+)`)

	jsUnescaper = strings.NewReplacer(`\/`, `/`, `\u0026`, `&`, `\u003d`, `=`, `\x26`, `&`, `\x3d`, `=`)
)

// titleSeparators split "Headline | Publisher" style titles.
var titleSeparators = []string{" | ", " - ", " — ", " – ", " :: ", " · "}

// pageTitle returns the first acceptable title among <title>, og:title and
// twitter:title, or "" when none passes the validator. errorPage is set when no
// candidate passed and at least one was rejected as an error page.
func pageTitle(body io.Reader, v *validation.Validator) (title string, errorPage bool) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", false
	}

	candidates := []string{
		stripPublisherSuffix(doc.Find("title").First().Text()),
		metaContent(doc, `meta[property="og:title"]`, `meta[name="og:title"]`),
		metaContent(doc, `meta[name="twitter:title"]`, `meta[property="twitter:title"]`),
	}
	for _, c := range candidates {
		c = cleanTitle(c)
		if c == "" {
			continue
		}
		ok, reason := v.Accept(c)
		if ok {
			return c, false
		}
		if reason == validation.ReasonErrorPage {
			errorPage = true
		}
	}
	return "", errorPage
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(content) != "" {
			return content
		}
	}
	return ""
}

func cleanTitle(s string) string {
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// stripPublisherSuffix drops a trailing " | Publisher" segment when the rest is
// still a usable headline.
func stripPublisherSuffix(title string) string {
	t := cleanTitle(title)
	for _, sep := range titleSeparators {
		idx := strings.LastIndex(t, sep)
		if idx <= 0 {
			continue
		}
		head := strings.TrimSpace(t[:idx])
		tail := strings.TrimSpace(t[idx+len(sep):])
		if len(tail) <= 40 && len(head) >= 15 {
			return head
		}
	}
	return t
}

// embeddedTarget looks for the article URL inside a wrapper page: meta refresh,
// then a script-assigned navigation, then the first bare URL that is neither a
// wrapper nor a service host.
func embeddedTarget(body []byte, base *url.URL, isWrapper func(*url.URL) bool) string {
	accept := func(raw string) string {
		raw = strings.TrimSpace(jsUnescaper.Replace(html.UnescapeString(raw)))
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ""
		}
		if isWrapper(u) || isServiceHost(u.Hostname()) {
			return ""
		}
		return u.String()
	}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		target := ""
		doc.Find("meta[http-equiv]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			equiv, _ := s.Attr("http-equiv")
			if !strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
				return true
			}
			content, _ := s.Attr("content")
			if m := reRefreshURL.FindStringSubmatch(content); m != nil {
				target = accept(m[1])
			}
			return target == ""
		})
		if target != "" {
			return target
		}
	}

	text := string(body)
	for _, re := range []*regexp.Regexp{reScriptAssign, reScriptCall} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if target := accept(m[1]); target != "" {
				return target
			}
		}
	}

	for _, m := range reBareURL.FindAllString(text, -1) {
		m = strings.TrimRight(m, `.,;:!?'"`)
		if target := accept(m); target != "" {
			return target
		}
	}
	return ""
}
