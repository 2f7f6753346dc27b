package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFencedJSON(t *testing.T) {
	e := NewCoverage()
	out, strategy, ok := e.ExtractWith("```json\n{\"summary\": \"ok\"}\n```")
	require.True(t, ok)
	assert.Equal(t, "direct", strategy)
	assert.Equal(t, "ok", out.String("summary"))
	assert.Equal(t, []any{}, out["commonGround"])
	assert.Equal(t, []any{}, out["keyDifferences"])
}

func TestExtractSmartQuotesInsideProse(t *testing.T) {
	e := NewCoverage()
	out, ok := e.Extract("Blah {\"summary\": \"He said ‘hi’\"} blah")
	require.True(t, ok)
	assert.Equal(t, "He said 'hi'", out.String("summary"))
}

func TestExtractCurlyDelimitedObject(t *testing.T) {
	e := NewCoverage()
	raw := "{“summary”: “A storm hit the coast.”, “commonGround”: [“winds”]}"
	out, strategy, ok := e.ExtractWith(raw)
	require.True(t, ok)
	assert.Equal(t, "normalized", strategy)
	assert.Equal(t, "A storm hit the coast.", out.String("summary"))
	assert.Equal(t, []any{"winds"}, out["commonGround"])
}

func TestExtractRawNewlinesInString(t *testing.T) {
	e := NewCoverage()
	raw := "{\"summary\": \"line one\nline two\tend\", \"keyDifferences\": [\"a\"]}"
	out, ok := e.Extract(raw)
	require.True(t, ok)
	assert.Equal(t, "line one\nline two\tend", out.String("summary"))
	assert.Equal(t, []any{"a"}, out["keyDifferences"])
}

func TestExtractLiteralFallback(t *testing.T) {
	e := NewCoverage()
	raw := `Here you go: "summary": "Officials said \"no comment\" today", "commonGround": [unterminated`
	out, strategy, ok := e.ExtractWith(raw)
	require.True(t, ok)
	assert.Equal(t, "literal", strategy)
	assert.Equal(t, `Officials said "no comment" today`, out.String("summary"))
	assert.Equal(t, []any{}, out["commonGround"], "optional fields get their default")
}

func TestExtractTotality(t *testing.T) {
	e := NewCoverage()
	inputs := []string{
		"",
		"no json here",
		`{"commonGround": ["x"]}`,
		`{"summary": ""}`,
		`[1,2,3]`,
		"```json\n{\"summary\": \n```",
		`{"summary": 42}`,
		`{"summary": {"text": "nested"}}`,
		`{"summary": ["a"]}`,
	}
	for _, in := range inputs {
		out, ok := e.Extract(in)
		if !ok {
			assert.Nil(t, out, in)
			continue
		}
		for _, f := range e.Fields {
			_, present := out[f.Name]
			assert.True(t, present, "field %s missing for %q", f.Name, in)
		}
	}
	_, ok := e.Extract(`{"commonGround": ["x"]}`)
	assert.False(t, ok, "missing required field must not be silently accepted")

	for _, in := range []string{`{"summary": 42}`, `{"summary": {"text": "nested"}}`, `{"summary": ["a"]}`} {
		_, ok := e.Extract(in)
		assert.False(t, ok, "non-string summary %s", in)
	}
}

func TestExtractMistypedFields(t *testing.T) {
	e := NewCoverage()

	out, strategy, ok := e.ExtractWith(`{"summary": ["a"], "draft": {"summary": "Recovered text."}}`)
	require.True(t, ok)
	assert.Equal(t, "literal", strategy, "a mistyped summary moves the cascade on")
	assert.Equal(t, "Recovered text.", out.String("summary"))

	out, ok = e.Extract(`{"summary": "Budget passed.", "commonGround": "one point", "keyDifferences": 7}`)
	require.True(t, ok)
	assert.Equal(t, "Budget passed.", out.String("summary"))
	assert.Equal(t, []any{}, out["commonGround"])
	assert.Equal(t, []any{}, out["keyDifferences"])
}

func TestStrategiesIndividually(t *testing.T) {
	e := NewCoverage()
	byName := map[string]Strategy{}
	for _, s := range e.Strategies() {
		byName[s.Name] = s
	}
	require.Len(t, byName, 4)

	_, ok := byName["direct"].Parse(`prefix {"summary":"x"}`)
	assert.False(t, ok)

	obj, ok := byName["braced"].Parse(`prefix {"summary":"x"} suffix`)
	require.True(t, ok)
	assert.Equal(t, "x", obj["summary"])

	_, ok = byName["literal"].Parse(`{"other": "x"}`)
	assert.False(t, ok)
}

func TestStringList(t *testing.T) {
	assert.Equal(t, []string{"a"}, StringList("a"))
	assert.Equal(t, []string{"a", "b", "c"}, StringList([]any{"a", map[string]any{"point": "b"}, " c ", 4}))
	assert.Nil(t, StringList(nil))
	assert.Nil(t, StringList("  "))
}
