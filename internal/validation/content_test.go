package validation

import (
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
)

func TestIsErrorPage(t *testing.T) {
	cases := map[string]bool{
		"":                                    true,
		"   ":                                 true,
		"403 Forbidden":                       true,
		"Access Denied":                       true,
		"Just a moment...":                    true,
		"Please complete the CAPTCHA":         true,
		"Sign in to continue reading":         true,
		"404 - Page Not Found":                true,
		"Subscribe to read | Financial Times": true,
		"Storm batters coast as thousands lose power": false,
		"Senate passes budget after late-night vote":  false,
		"Biden to sign infrastructure bill":           false,
		"Tech blog interview with the founders":       false,
		"Readers subscribe today for new rates":       false,
		"Please log in.":                              true,
		"Error 404":                                   true,
	}
	for title, want := range cases {
		assert.Equal(t, want, IsErrorPage(title), title)
	}
}

func TestIsTargetLanguage(t *testing.T) {
	assert.True(t, IsTargetLanguage("Storm batters coast"))
	assert.True(t, IsTargetLanguage("2026 — 10/12"), "no letters passes")
	assert.True(t, IsTargetLanguage(""), "empty passes")
	assert.False(t, IsTargetLanguage("Шторм обрушился на побережье"))
	assert.False(t, IsTargetLanguage("台风袭击沿海地区"))
	assert.True(t, IsTargetLanguage("Putin says Россия ready for talks with Ukraine officials"))
}

func TestScriptRatioBoundary(t *testing.T) {
	// 7 Latin, 3 Cyrillic: exactly 0.7 does not exceed the threshold.
	assert.False(t, ScriptRatioAbove("abcdefgжзи", unicode.Latin, 0.7))
	// 8 Latin, 2 Cyrillic.
	assert.True(t, ScriptRatioAbove("abcdefghжз", unicode.Latin, 0.7))
}

func TestValidatorAccept(t *testing.T) {
	v := NewValidator()

	ok, reason := v.Accept("403 Forbidden")
	assert.False(t, ok)
	assert.Equal(t, ReasonErrorPage, reason)

	ok, reason = v.Accept("Новости дня")
	assert.False(t, ok)
	assert.Equal(t, ReasonForeignLanguage, reason)

	ok, reason = v.Accept("Markets rally on rate cut hopes")
	assert.True(t, ok)
	assert.Empty(t, reason)

	var nilValidator *Validator
	ok, _ = nilValidator.Accept("Markets rally")
	assert.True(t, ok)
}
