package scanner

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		kind    StrategyKind
	}{
		{"json book key", `{"bookNo":"123"}`, "123", StrategyJSONKey},
		{"json first key fallback", `{"foo":"456"}`, "456", StrategyJSONKey},
		{"json matching key not first", `{"name":"Asha","book_no":"789"}`, "789", StrategyJSONKey},
		{"json key case insensitive", `{"PatientID":"55"}`, "55", StrategyJSONKey},
		{"json numeric value", `{"num": 42}`, "42", StrategyJSONKey},
		{"json value with quotes", `{"val":"'88'"}`, "88", StrategyJSONKey},
		{"colon trailing segment", "A: B: C", "C", StrategyColonSplit},
		{"colon label", "Book No: 1024 ", "1024", StrategyColonSplit},
		{"raw trimmed", "  314  ", "314", StrategyRaw},
		{"double quoted", `"2048"`, "2048", StrategyRaw},
		{"single quoted", `'2049'`, "2049", StrategyRaw},
		{"backtick quoted", "`2050`", "2050", StrategyRaw},
		{"one layer only", `"'77'"`, "'77'", StrategyRaw},
		{"mismatched quotes kept", `"12'`, `"12'`, StrategyRaw},
		{"json array is not an object", `["1","2"]`, `["1","2"]`, StrategyRaw},
		{"empty object falls through", `{}`, "{}", StrategyRaw},
		{"broken json with colon", `{"book": 1`, "1", StrategyColonSplit},
		{"trailing colon falls to raw", "BOOK:", "BOOK:", StrategyRaw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, kind := NormalizeKind(tt.payload)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.payload, got, tt.want)
			}
			if kind != tt.kind {
				t.Errorf("Normalize(%q) strategy = %s, want %s", tt.payload, kind, tt.kind)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	payloads := []string{
		`{"bookNo":"123"}`,
		`{"foo":"456"}`,
		"A: B: C",
		"  314  ",
		`"2048"`,
		"BOOK:",
		`{"num": 42}`,
		"",
	}
	for _, p := range payloads {
		once := Normalize(p)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", p, once, twice)
		}
	}
}

func TestStrategies_Order(t *testing.T) {
	want := []StrategyKind{StrategyJSONKey, StrategyColonSplit, StrategyRaw}
	if len(Strategies) != len(want) {
		t.Fatalf("expected %d strategies, got %d", len(want), len(Strategies))
	}
	for i, s := range Strategies {
		if s.Kind != want[i] {
			t.Errorf("strategy %d = %s, want %s", i, s.Kind, want[i])
		}
	}
}

func TestStrategies_ReportNoMatch(t *testing.T) {
	if _, ok := jsonKeyMatch("plain"); ok {
		t.Error("json strategy should not match plain text")
	}
	if _, ok := colonSplit("plain"); ok {
		t.Error("colon strategy should not match text without a colon")
	}
	if v, ok := rawTrim(" x "); !ok || v != "x" {
		t.Errorf("raw strategy = %q, %v", v, ok)
	}
}
