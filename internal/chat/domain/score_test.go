package domain_test

import (
	"testing"

	"crew/internal/chat/domain"
)

func TestExtractScore(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    int
		ok      bool
	}{
		{"clean json", `{"score": 85}`, 85, true},
		{"json with noise keys", `{"score": 42, "reason": "missing tests"}`, 42, true},
		{"json string value", `{"score": "77"}`, 77, true},
		{"uppercase json key", `{"Score": 64}`, 64, true},
		{"negative sentinel", `{"score": -1}`, -1, true},
		{"json embedded in prose", `After review I conclude {"score": 88} overall.`, 88, true},
		{"malformed json trailing comma", `{"score": 73,}`, 73, true},
		{"malformed json single quotes", `{'score': 55}`, 55, true},
		{"lowercase text", "score: 91", 91, true},
		{"capitalized text", "Score: 12", 12, true},
		{"fraction form", "I rate this 87/100 overall", 87, true},
		{"no score at all", "the work looks reasonable so far", 0, false},
		{"empty content", "", 0, false},
		{"whitespace only", "   \n ", 0, false},
		{"zero is a real score", `{"score": 0}`, 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := domain.ExtractScore(tc.content)
			if ok != tc.ok {
				t.Fatalf("ExtractScore(%q) ok=%v, want %v", tc.content, ok, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("ExtractScore(%q) = %d, want %d", tc.content, got, tc.want)
			}
		})
	}
}

func TestExtractScore_StructuredParseWinsOverRegex(t *testing.T) {
	// The prose mentions 100 but the JSON carries the real verdict.
	got, ok := domain.ExtractScore(`Rating out of 100: {"score": 68}`)
	if !ok || got != 68 {
		t.Fatalf("expected the JSON score 68, got %d ok=%v", got, ok)
	}
}

func TestExtractScore_FallbackOrderPrefersLowercase(t *testing.T) {
	got, ok := domain.ExtractScore("score: 30 but my gut Score: 80")
	if !ok || got != 30 {
		t.Fatalf("lowercase pattern must win, got %d ok=%v", got, ok)
	}
}
