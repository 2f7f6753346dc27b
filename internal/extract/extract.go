// Package extract pulls a structured JSON object out of free-form completion text.
//
// The completion service is prompted to emit JSON but nothing guarantees it does.
// Extraction runs an ordered list of strategies, each an actual parse of
// progressively more permissive input, and stops at the first that yields an
// object carrying every required field. It never fabricates a result.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Structured is the extracted object keyed by field name.
type Structured map[string]any

// String returns the named field as a string, or "" when absent or not a string.
func (s Structured) String(name string) string {
	v, _ := s[name].(string)
	return v
}

// Kind is the JSON shape a field must have.
type Kind int

const (
	// KindAny accepts any non-null value.
	KindAny Kind = iota
	KindString
	KindList
)

// Field describes one expected field of the completion.
type Field struct {
	Name     string
	Required bool
	Kind     Kind
	// Default fills an optional field the completion omitted or mistyped.
	Default any
}

func (f Field) accepts(v any) bool {
	switch f.Kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindList:
		_, ok := v.([]any)
		return ok
	}
	return true
}

// Strategy turns raw text into a candidate object.
type Strategy struct {
	Name  string
	Parse func(raw string) (map[string]any, bool)
}

// Extractor applies the strategy cascade for a fixed set of fields.
type Extractor struct {
	Fields []Field
	// KeyField is the single field the last-resort literal match recovers.
	KeyField string
}

// CoverageFields are the fields the coverage prompt asks for.
func CoverageFields() []Field {
	return []Field{
		{Name: "summary", Required: true, Kind: KindString},
		{Name: "commonGround", Kind: KindList, Default: []any{}},
		{Name: "keyDifferences", Kind: KindList, Default: []any{}},
	}
}

// New returns an extractor for fields; keyField defaults to the first required field.
func New(fields []Field, keyField string) *Extractor {
	if keyField == "" {
		for _, f := range fields {
			if f.Required {
				keyField = f.Name
				break
			}
		}
	}
	return &Extractor{Fields: fields, KeyField: keyField}
}

// NewCoverage returns the extractor used by the coverage pipeline.
func NewCoverage() *Extractor {
	return New(CoverageFields(), "summary")
}

// Strategies returns the cascade in application order.
func (e *Extractor) Strategies() []Strategy {
	return []Strategy{
		{Name: "direct", Parse: func(raw string) (map[string]any, bool) {
			return parseObject(stripFence(raw))
		}},
		{Name: "normalized", Parse: func(raw string) (map[string]any, bool) {
			return parseObject(repairText(stripFence(raw)))
		}},
		{Name: "braced", Parse: func(raw string) (map[string]any, bool) {
			sub, ok := braceSpan(stripFence(raw))
			if !ok {
				return nil, false
			}
			if obj, ok := parseObject(sub); ok {
				return obj, true
			}
			return parseObject(repairText(sub))
		}},
		{Name: "literal", Parse: func(raw string) (map[string]any, bool) {
			return literalField(raw, e.KeyField)
		}},
	}
}

// Extract runs the cascade. It returns false when no strategy produced an
// object with every required field.
func (e *Extractor) Extract(raw string) (Structured, bool) {
	out, _, ok := e.ExtractWith(raw)
	return out, ok
}

// ExtractWith is Extract that also reports which strategy succeeded.
func (e *Extractor) ExtractWith(raw string) (Structured, string, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, "", false
	}
	for _, s := range e.Strategies() {
		obj, ok := s.Parse(raw)
		if !ok {
			continue
		}
		if out, ok := e.complete(obj); ok {
			return out, s.Name, true
		}
	}
	return nil, "", false
}

// complete checks required fields and fills defaults for the rest. A required
// field of the wrong kind fails the object; an optional one falls back to its
// default.
func (e *Extractor) complete(obj map[string]any) (Structured, bool) {
	out := make(Structured, len(e.Fields))
	for _, f := range e.Fields {
		v, present := obj[f.Name]
		if present && !isBlank(v) && f.accepts(v) {
			out[f.Name] = normalizeValue(v)
			continue
		}
		if f.Required {
			return nil, false
		}
		out[f.Name] = f.Default
	}
	return out, true
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*\\s*\\n?(.*?)\\n?```\\s*$")

// stripFence removes a surrounding fenced code block, if any.
func stripFence(raw string) string {
	t := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(t); m != nil {
		return strings.TrimSpace(m[1])
	}
	return t
}

func parseObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// braceSpan returns the text between the first '{' and the last '}' inclusive.
func braceSpan(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

const (
	leftDouble  = '“'
	rightDouble = '”'
	leftSingle  = '‘'
	rightSingle = '’'
)

// repairText straightens typographic quotes and escapes raw control characters
// inside string literals. A string opened with a curly double quote is closed by
// one; curly double quotes inside an ASCII-quoted string become escaped quotes.
func repairText(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	inString := false
	curlyOpened := false
	escaped := false

	for _, r := range s {
		if inString {
			if escaped {
				escaped = false
				b.WriteRune(r)
				continue
			}
			switch r {
			case '\\':
				escaped = true
				b.WriteRune(r)
			case '"':
				if curlyOpened {
					b.WriteString(`\"`)
				} else {
					inString = false
					b.WriteRune(r)
				}
			case leftDouble, rightDouble:
				if curlyOpened {
					inString = false
					b.WriteRune('"')
				} else {
					b.WriteString(`\"`)
				}
			case leftSingle, rightSingle:
				b.WriteRune('\'')
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				b.WriteRune(r)
			}
			continue
		}

		switch r {
		case '"':
			inString, curlyOpened = true, false
			b.WriteRune(r)
		case leftDouble, rightDouble:
			inString, curlyOpened = true, true
			b.WriteRune('"')
		case leftSingle, rightSingle:
			b.WriteRune('\'')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// literalField recovers a single string field with a literal-string regex that
// tolerates escaped quotes and raw line breaks.
func literalField(raw, field string) (map[string]any, bool) {
	if field == "" {
		return nil, false
	}
	re, err := regexp.Compile(`"` + regexp.QuoteMeta(field) + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	if err != nil {
		return nil, false
	}
	m := re.FindStringSubmatch(repairQuotesOnly(raw))
	if m == nil {
		return nil, false
	}
	literal := strings.NewReplacer("\n", `\n`, "\r", `\r`, "\t", `\t`).Replace(m[1])
	var value string
	if err := json.Unmarshal([]byte(`"`+literal+`"`), &value); err != nil {
		return nil, false
	}
	if strings.TrimSpace(value) == "" {
		return nil, false
	}
	return map[string]any{field: value}, true
}

func repairQuotesOnly(s string) string {
	return strings.NewReplacer(
		string(leftDouble), `"`, string(rightDouble), `"`,
	).Replace(s)
}

var singleQuotes = strings.NewReplacer(string(leftSingle), "'", string(rightSingle), "'")

// normalizeValue straightens typographic single quotes in every string leaf.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return singleQuotes.Replace(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeValue(item)
		}
		return out
	}
	return v
}

// StringList coerces a field value into a list of strings. Objects contribute
// their first string-valued entry among "text", "point", "title", "description".
func StringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			switch it := item.(type) {
			case string:
				if s := strings.TrimSpace(it); s != "" {
					out = append(out, s)
				}
			case map[string]any:
				for _, k := range []string{"text", "point", "title", "description"} {
					if s, ok := it[k].(string); ok && strings.TrimSpace(s) != "" {
						out = append(out, strings.TrimSpace(s))
						break
					}
				}
			}
		}
		return out
	}
	return nil
}
