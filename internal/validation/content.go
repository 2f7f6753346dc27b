package validation

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultLanguageThreshold is the minimum share of target-script letters.
const DefaultLanguageThreshold = 0.7

// Rejection reasons returned by Validator.Accept.
const (
	ReasonErrorPage       = "error_page"
	ReasonForeignLanguage = "foreign_language"
)

// errorMarkers flag anti-bot walls, login gates and error pages. Matched
// case-insensitively on word boundaries.
var errorMarkers = []string{
	"access denied",
	"403 forbidden",
	"404",
	"page not found",
	"500 internal",
	"502 bad gateway",
	"503 service",
	"service unavailable",
	"captcha",
	"just a moment",
	"attention required",
	"are you a robot",
	"are you human",
	"verify you are human",
	"security check",
	"checking your browser",
	"enable javascript",
	"subscribe to",
	"subscribe now",
	"subscription required",
	"sign in",
	"sign up",
	"log in",
	"paywall",
	"cookie consent",
	"too many requests",
	"error page",
}

var errorMarkerRe = compileMarkers(errorMarkers)

func compileMarkers(markers []string) *regexp.Regexp {
	quoted := make([]string, len(markers))
	for i, m := range markers {
		quoted[i] = regexp.QuoteMeta(m)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// otherScripts are the non-target alphabets counted against a title.
var otherScripts = []*unicode.RangeTable{
	unicode.Cyrillic,
	unicode.Greek,
	unicode.Arabic,
	unicode.Hebrew,
	unicode.Han,
	unicode.Hiragana,
	unicode.Katakana,
	unicode.Hangul,
	unicode.Devanagari,
	unicode.Thai,
}

// IsErrorPage reports whether a title is empty or looks like an error or placeholder page.
func IsErrorPage(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "" {
		return true
	}
	return errorMarkerRe.MatchString(t)
}

// IsTargetLanguage reports whether Latin letters make up more than 70% of the
// scripted letters in text. Text with no scripted letters passes.
func IsTargetLanguage(text string) bool {
	return ScriptRatioAbove(text, unicode.Latin, DefaultLanguageThreshold)
}

// ScriptRatioAbove reports whether target-script letters exceed threshold as a
// share of target plus known other scripts.
func ScriptRatioAbove(text string, target *unicode.RangeTable, threshold float64) bool {
	var inTarget, inOther int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		if unicode.Is(target, r) {
			inTarget++
			continue
		}
		for _, tbl := range otherScripts {
			if unicode.Is(tbl, r) {
				inOther++
				break
			}
		}
	}
	total := inTarget + inOther
	if total == 0 {
		return true
	}
	return float64(inTarget)/float64(total) > threshold
}

// Validator applies both checks with a configurable language threshold.
type Validator struct {
	Target    *unicode.RangeTable
	Threshold float64
}

// NewValidator returns a Latin-script validator with the default threshold.
func NewValidator() *Validator {
	return &Validator{Target: unicode.Latin, Threshold: DefaultLanguageThreshold}
}

// Accept reports whether a title is usable and, if not, why.
func (v *Validator) Accept(title string) (bool, string) {
	if IsErrorPage(title) {
		return false, ReasonErrorPage
	}
	target, threshold := unicode.Latin, DefaultLanguageThreshold
	if v != nil {
		if v.Target != nil {
			target = v.Target
		}
		if v.Threshold > 0 {
			threshold = v.Threshold
		}
	}
	if !ScriptRatioAbove(title, target, threshold) {
		return false, ReasonForeignLanguage
	}
	return true, ""
}
