package domain

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"crew/internal/chat/ports"
)

// LoopPattern names which degenerate-repetition heuristic matched.
type LoopPattern string

const (
	PatternNone               LoopPattern = ""
	PatternIdenticalRepeat    LoopPattern = "identical_repeat"
	PatternEmptyAlternation   LoopPattern = "empty_alternation"
	PatternProgressStuck      LoopPattern = "progress_stuck"
	PatternPingPong           LoopPattern = "ping_pong"
	PatternTimeoutStorm       LoopPattern = "timeout_storm"
	PatternScoreStall         LoopPattern = "score_stall"
	PatternSameSpeakerNoTools LoopPattern = "same_speaker_no_tools"
)

// LoopDetectorConfig holds the thresholds for every repetition heuristic.
// The same-speaker check deliberately keeps its own multiplier instead of
// reusing RepeatRun; the two thresholds evolved separately and stay
// separately tunable.
type LoopDetectorConfig struct {
	// Window bounds how far back any check looks.
	Window int
	// RepeatRun is k: identical (speaker, content) pairs needed in a row.
	RepeatRun int
	// ShortContentLimit is the rune count below which content counts as empty.
	ShortContentLimit int
	// ShortContentFraction: strictly more than this share of short turns trips
	// the empty-alternation check.
	ShortContentFraction float64
	// ShortContentMinTurns guards the fraction check against tiny windows.
	ShortContentMinTurns int
	// StuckProgressCount: this many equal trailing progress percentages trip
	// the progress-stuck check.
	StuckProgressCount int
	// PingPongWindow / PingPongMinAlternations: structural two-party
	// back-and-forth, regardless of content.
	PingPongWindow          int
	PingPongMinAlternations int
	// TimeoutMarker marks a backend timeout inside turn content.
	TimeoutMarker string
	// TimeoutStormCount: this many marked turns in the window trip the check.
	TimeoutStormCount int
	// SameSpeakerMultiplier: one speaker appearing Multiplier*RepeatRun times
	// without tool use raises the advisory flag.
	SameSpeakerMultiplier int
}

// DefaultLoopDetectorConfig mirrors the reference thresholds.
func DefaultLoopDetectorConfig() LoopDetectorConfig {
	return LoopDetectorConfig{
		Window:                  30,
		RepeatRun:               6,
		ShortContentLimit:       10,
		ShortContentFraction:    0.5,
		ShortContentMinTurns:    10,
		StuckProgressCount:      10,
		PingPongWindow:          20,
		PingPongMinAlternations: 18,
		TimeoutMarker:           "timed out waiting for the backend",
		TimeoutStormCount:       2,
		SameSpeakerMultiplier:   2,
	}
}

// LoopDetector flags degenerate repetition over a bounded window of turns.
// It is stateless: Detect is a pure function of its input and is cheap
// enough to run after every turn.
type LoopDetector struct {
	cfg LoopDetectorConfig
}

// NewLoopDetector builds a detector, filling zero config fields with defaults.
func NewLoopDetector(cfg LoopDetectorConfig) *LoopDetector {
	def := DefaultLoopDetectorConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.RepeatRun <= 0 {
		cfg.RepeatRun = def.RepeatRun
	}
	if cfg.ShortContentLimit <= 0 {
		cfg.ShortContentLimit = def.ShortContentLimit
	}
	if cfg.ShortContentFraction <= 0 {
		cfg.ShortContentFraction = def.ShortContentFraction
	}
	if cfg.ShortContentMinTurns <= 0 {
		cfg.ShortContentMinTurns = def.ShortContentMinTurns
	}
	if cfg.StuckProgressCount <= 0 {
		cfg.StuckProgressCount = def.StuckProgressCount
	}
	if cfg.PingPongWindow <= 0 {
		cfg.PingPongWindow = def.PingPongWindow
	}
	if cfg.PingPongMinAlternations <= 0 {
		cfg.PingPongMinAlternations = def.PingPongMinAlternations
	}
	if cfg.TimeoutMarker == "" {
		cfg.TimeoutMarker = def.TimeoutMarker
	}
	if cfg.TimeoutStormCount <= 0 {
		cfg.TimeoutStormCount = def.TimeoutStormCount
	}
	if cfg.SameSpeakerMultiplier <= 0 {
		cfg.SameSpeakerMultiplier = def.SameSpeakerMultiplier
	}
	return &LoopDetector{cfg: cfg}
}

// Detect checks the trailing window of turns against the five loop patterns
// in a fixed order and short-circuits on the first match.
func (d *LoopDetector) Detect(turns []ports.Turn) (LoopPattern, bool) {
	window := tail(turns, d.cfg.Window)
	if len(window) == 0 {
		return PatternNone, false
	}

	if d.identicalRepeat(window) {
		return PatternIdenticalRepeat, true
	}
	if d.emptyAlternation(window) {
		return PatternEmptyAlternation, true
	}
	if d.progressStuck(window) {
		return PatternProgressStuck, true
	}
	if d.pingPong(window) {
		return PatternPingPong, true
	}
	if d.timeoutStorm(window) {
		return PatternTimeoutStorm, true
	}
	return PatternNone, false
}

// SameSpeakerWithoutTools is the lenient secondary heuristic: one speaker
// dominating the window without a single tool call. It never hard-stops a
// conversation on its own.
func (d *LoopDetector) SameSpeakerWithoutTools(turns []ports.Turn) (ports.Role, bool) {
	window := tail(turns, d.cfg.Window)
	threshold := d.cfg.SameSpeakerMultiplier * d.cfg.RepeatRun

	counts := make(map[ports.Role]int, 4)
	usedTools := make(map[ports.Role]bool, 4)
	for _, turn := range window {
		counts[turn.Speaker]++
		if turn.Kind == ports.KindToolCall || turn.Kind == ports.KindToolResult {
			usedTools[turn.Speaker] = true
		}
	}
	for speaker, count := range counts {
		if count >= threshold && !usedTools[speaker] {
			return speaker, true
		}
	}
	return "", false
}

func (d *LoopDetector) identicalRepeat(window []ports.Turn) bool {
	k := d.cfg.RepeatRun
	if len(window) < k {
		return false
	}
	last := window[len(window)-1]
	for i := len(window) - k; i < len(window); i++ {
		if window[i].Speaker != last.Speaker || window[i].Content != last.Content {
			return false
		}
	}
	return true
}

func (d *LoopDetector) emptyAlternation(window []ports.Turn) bool {
	if len(window) < d.cfg.ShortContentMinTurns {
		return false
	}
	short := 0
	for _, turn := range window {
		if utf8.RuneCountInString(strings.TrimSpace(turn.Content)) < d.cfg.ShortContentLimit {
			short++
		}
	}
	return float64(short) > d.cfg.ShortContentFraction*float64(len(window))
}

func (d *LoopDetector) progressStuck(window []ports.Turn) bool {
	values := make([]int, 0, len(window))
	for _, turn := range window {
		if pct, ok := ExtractProgressPercent(turn.Content); ok {
			values = append(values, pct)
		}
	}
	n := d.cfg.StuckProgressCount
	if len(values) < n {
		return false
	}
	last := values[len(values)-1]
	for _, v := range values[len(values)-n:] {
		if v != last {
			return false
		}
	}
	return true
}

func (d *LoopDetector) pingPong(window []ports.Turn) bool {
	n := d.cfg.PingPongWindow
	if len(window) < n {
		return false
	}
	recent := window[len(window)-n:]

	speakers := make(map[ports.Role]struct{}, 3)
	for _, turn := range recent {
		speakers[turn.Speaker] = struct{}{}
		if len(speakers) > 2 {
			return false
		}
	}
	if len(speakers) != 2 {
		return false
	}

	alternations := 0
	for i := 1; i < len(recent); i++ {
		if recent[i].Speaker != recent[i-1].Speaker {
			alternations++
		}
	}
	return alternations >= d.cfg.PingPongMinAlternations
}

func (d *LoopDetector) timeoutStorm(window []ports.Turn) bool {
	hits := 0
	for _, turn := range window {
		if strings.Contains(turn.Content, d.cfg.TimeoutMarker) {
			hits++
			if hits >= d.cfg.TimeoutStormCount {
				return true
			}
		}
	}
	return false
}

var progressPercentPattern = regexp.MustCompile(`Progress:\s*(-?\d+)\s*%`)

// ExtractProgressPercent pulls a "Progress: N%" marker out of turn content.
func ExtractProgressPercent(content string) (int, bool) {
	match := progressPercentPattern.FindStringSubmatch(content)
	if len(match) != 2 {
		return 0, false
	}
	pct, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return pct, true
}

func tail(turns []ports.Turn, n int) []ports.Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
