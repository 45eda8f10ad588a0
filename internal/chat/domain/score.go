package domain

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"crew/internal/shared/jsonx"
)

// Verifier output arrives as raw JSON, JSON embedded in prose or free text
// like "score: 85". A structured parse (with repair for the malformed JSON
// LLMs tend to emit) is tried first, then the regex fallbacks in a fixed
// priority order. "No score found" is a valid outcome distinct from zero.
var scoreFallbackPatterns = []*regexp.Regexp{
	regexp.MustCompile(`score["\s:]*(-?\d+)`),
	regexp.MustCompile(`Score["\s:]*(-?\d+)`),
	regexp.MustCompile(`(-?\d+)/100`),
}

// ExtractScore parses a numeric quality score out of turn content.
func ExtractScore(content string) (int, bool) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0, false
	}

	if score, ok := scoreFromJSON(trimmed); ok {
		return score, true
	}
	if candidate := embeddedJSONObject(trimmed); candidate != "" && candidate != trimmed {
		if score, ok := scoreFromJSON(candidate); ok {
			return score, true
		}
	}

	for _, pattern := range scoreFallbackPatterns {
		match := pattern.FindStringSubmatch(content)
		if len(match) != 2 {
			continue
		}
		if score, err := strconv.Atoi(match[1]); err == nil {
			return score, true
		}
	}
	return 0, false
}

func scoreFromJSON(candidate string) (int, bool) {
	var payload map[string]any
	if err := jsonx.Unmarshal([]byte(candidate), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return 0, false
		}
		if err := jsonx.Unmarshal([]byte(repaired), &payload); err != nil {
			return 0, false
		}
	}

	for key, value := range payload {
		if !strings.EqualFold(key, "score") {
			continue
		}
		switch v := value.(type) {
		case float64:
			return int(v), true
		case jsonx.Number:
			if n, err := v.Int64(); err == nil {
				return int(n), true
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// embeddedJSONObject returns the outermost {...} span inside prose, or "".
func embeddedJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}
