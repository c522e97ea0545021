package scanner

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"
)

// StrategyKind tags a normalization strategy.
type StrategyKind string

const (
	StrategyJSONKey    StrategyKind = "json-key"
	StrategyColonSplit StrategyKind = "colon-split"
	StrategyRaw        StrategyKind = "raw"
)

// Strategy extracts an identifier from a decoded payload. Extract reports
// false when the payload does not have the shape the strategy handles.
type Strategy struct {
	Kind    StrategyKind
	Extract func(payload string) (string, bool)
}

// Strategies are tried in order; the first match wins.
var Strategies = []Strategy{
	{Kind: StrategyJSONKey, Extract: jsonKeyMatch},
	{Kind: StrategyColonSplit, Extract: colonSplit},
	{Kind: StrategyRaw, Extract: rawTrim},
}

var identifierKey = regexp.MustCompile(`(?i)book|id|num|val`)

// Normalize turns a decoded QR payload into a book number candidate.
func Normalize(payload string) string {
	v, _ := NormalizeKind(payload)
	return v
}

// NormalizeKind is Normalize that also reports which strategy matched.
func NormalizeKind(payload string) (string, StrategyKind) {
	for _, s := range Strategies {
		if v, ok := s.Extract(payload); ok {
			return stripQuotes(v), s.Kind
		}
	}
	return "", StrategyRaw
}

type jsonField struct {
	key   string
	value json.RawMessage
}

// jsonKeyMatch handles a single JSON object. The first key matching
// identifierKey wins; otherwise the first key in document order.
func jsonKeyMatch(payload string) (string, bool) {
	trimmed := strings.TrimSpace(payload)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	fields, ok := objectFields(trimmed)
	if !ok || len(fields) == 0 {
		return "", false
	}

	pick := fields[0]
	for _, f := range fields {
		if identifierKey.MatchString(f.key) {
			pick = f
			break
		}
	}
	return renderValue(pick.value), true
}

func objectFields(s string) ([]jsonField, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, false
	}
	var fields []jsonField
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := tok.(string)
		if !ok {
			return nil, false
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, false
		}
		fields = append(fields, jsonField{key: key, value: raw})
	}
	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return fields, true
}

func renderValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return string(raw)
}

// colonSplit handles "label: value" payloads, keeping the trailing segment.
func colonSplit(payload string) (string, bool) {
	if !strings.Contains(payload, ":") {
		return "", false
	}
	parts := strings.Split(payload, ":")
	last := strings.TrimSpace(parts[len(parts)-1])
	if last == "" {
		return "", false
	}
	return last, true
}

func rawTrim(payload string) (string, bool) {
	return strings.TrimSpace(payload), true
}

// stripQuotes removes exactly one layer of matching wrapping quotes.
func stripQuotes(v string) string {
	if len(v) < 2 {
		return v
	}
	first, last := v[0], v[len(v)-1]
	if first == last && (first == '"' || first == '\'' || first == '`') {
		return strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}
