package domain

import (
	"strings"

	"crew/internal/chat/ports"
	"crew/internal/shared/logging"
)

// TerminationState is the terminal classification of a conversation. A
// running conversation stays in StateRunning; every other state is terminal.
type TerminationState string

const (
	StateRunning         TerminationState = "running"
	StateSuccess         TerminationState = "success"
	StateLoopAbort       TerminationState = "loop_abort"
	StateHandoff         TerminationState = "handoff"
	StateBudgetExhausted TerminationState = "budget_exhausted"
)

// Terminal reports whether s ends the conversation.
func (s TerminationState) Terminal() bool {
	return s != StateRunning && s != ""
}

// TerminationSignal is the result of evaluating the policy against the
// current conversation. It is recomputed from the turn list on every turn;
// nothing here is persisted.
type TerminationSignal struct {
	State    TerminationState
	Score    int
	HasScore bool
	Pattern  LoopPattern
	// Advisory carries the lenient same-speaker flag when it fired while the
	// conversation keeps running.
	Advisory LoopPattern
	Reason   string
}

// TerminationPolicyConfig configures the stop rules.
type TerminationPolicyConfig struct {
	// ScoreThreshold: a verifier score strictly above this ends the task.
	ScoreThreshold int
	// TurnBudget is the hard runaway guard on total turns.
	TurnBudget int
	// CompletionMarker is the explicit sentinel a verifier can emit.
	CompletionMarker string
	// HandoffMarker routes control to an external actor when present in a
	// control turn.
	HandoffMarker string
	// HandoffTarget is the role whose mid-conversation turns mean control
	// left the agent team.
	HandoffTarget ports.Role
	// VerifierRole and PresenterRole name the scoring and presenting agents.
	VerifierRole  ports.Role
	PresenterRole ports.Role
	// ZeroScoreRepeatLimit: consecutive (empty presenter, zero score) pairs
	// before the circuit breaker forces an abort.
	ZeroScoreRepeatLimit int
}

// DefaultTerminationPolicyConfig mirrors the reference thresholds.
func DefaultTerminationPolicyConfig() TerminationPolicyConfig {
	return TerminationPolicyConfig{
		ScoreThreshold:       90,
		TurnBudget:           200,
		CompletionMarker:     "TASK_COMPLETE",
		HandoffMarker:        "HANDOFF_TO_USER",
		HandoffTarget:        ports.RoleUser,
		VerifierRole:         ports.RoleVerifier,
		PresenterRole:        ports.RolePresenter,
		ZeroScoreRepeatLimit: 10,
	}
}

// TerminationPolicy decides, after every appended turn, whether the
// conversation should stop and why. Evaluate is a pure function of the turn
// list; calling it twice on the same input yields the same signal.
type TerminationPolicy struct {
	cfg      TerminationPolicyConfig
	detector *LoopDetector
	logger   ports.Logger
}

// NewTerminationPolicy builds a policy around the given loop detector,
// filling zero config fields with defaults.
func NewTerminationPolicy(cfg TerminationPolicyConfig, detector *LoopDetector, logger ports.Logger) *TerminationPolicy {
	def := DefaultTerminationPolicyConfig()
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = def.ScoreThreshold
	}
	if cfg.TurnBudget <= 0 {
		cfg.TurnBudget = def.TurnBudget
	}
	if cfg.CompletionMarker == "" {
		cfg.CompletionMarker = def.CompletionMarker
	}
	if cfg.HandoffMarker == "" {
		cfg.HandoffMarker = def.HandoffMarker
	}
	if cfg.HandoffTarget == "" {
		cfg.HandoffTarget = def.HandoffTarget
	}
	if cfg.VerifierRole == "" {
		cfg.VerifierRole = def.VerifierRole
	}
	if cfg.PresenterRole == "" {
		cfg.PresenterRole = def.PresenterRole
	}
	if cfg.ZeroScoreRepeatLimit <= 0 {
		cfg.ZeroScoreRepeatLimit = def.ZeroScoreRepeatLimit
	}
	if detector == nil {
		detector = NewLoopDetector(LoopDetectorConfig{})
	}
	return &TerminationPolicy{cfg: cfg, detector: detector, logger: logging.OrNop(logger)}
}

// TurnBudget exposes the configured hard turn limit.
func (p *TerminationPolicy) TurnBudget() int {
	return p.cfg.TurnBudget
}

// Evaluate applies the stop rules in order. The loop detector runs first as
// a safety net independent of any explicit score; the score-based circuit
// breaker backs it up for conversations whose degenerate signal is the score
// rather than raw content.
func (p *TerminationPolicy) Evaluate(turns []ports.Turn) TerminationSignal {
	if pattern, looping := p.detector.Detect(turns); looping {
		return TerminationSignal{
			State:   StateLoopAbort,
			Pattern: pattern,
			Reason:  "loop detected: " + string(pattern),
		}
	}

	if p.zeroScoreStalled(turns) {
		return TerminationSignal{
			State:   StateLoopAbort,
			Pattern: PatternScoreStall,
			Reason:  "presenter/verifier zero-score stall",
		}
	}

	signal := TerminationSignal{State: StateRunning}

	if verifier, ok := lastTurnBy(turns, p.cfg.VerifierRole); ok {
		if score, found := ExtractScore(verifier.Content); found {
			signal.Score = score
			signal.HasScore = true
			switch {
			case score == -1:
				// The verifier itself noticed a stuck or unfinishable task.
				// Exiting gracefully here avoids an infinite replan loop.
				return TerminationSignal{
					State:    StateSuccess,
					Score:    score,
					HasScore: true,
					Reason:   "verifier flagged incomplete task, graceful exit",
				}
			case score > p.cfg.ScoreThreshold:
				return TerminationSignal{
					State:    StateSuccess,
					Score:    score,
					HasScore: true,
					Reason:   "verifier score above threshold",
				}
			}
			// A low score keeps the conversation running so the team can
			// replan; the budget rule below still applies.
		} else if strings.Contains(verifier.Content, p.cfg.CompletionMarker) {
			return TerminationSignal{
				State:  StateSuccess,
				Reason: "verifier completion marker",
			}
		}
	}

	if p.handoffReached(turns) {
		signal.State = StateHandoff
		signal.Reason = "control routed to external actor"
		return signal
	}

	if len(turns) > p.cfg.TurnBudget {
		signal.State = StateBudgetExhausted
		signal.Reason = "turn budget exceeded"
		return signal
	}

	if speaker, flagged := p.detector.SameSpeakerWithoutTools(turns); flagged {
		signal.Advisory = PatternSameSpeakerNoTools
		p.logger.Warn("speaker %s dominates the window without tool use", speaker)
	}
	return signal
}

// zeroScoreStalled detects the repeating two-turn pattern of an empty
// presenter turn followed by a verifier score of exactly zero. The generic
// empty-alternation check misses it when the verifier keeps producing
// non-trivial JSON around the zero.
func (p *TerminationPolicy) zeroScoreStalled(turns []ports.Turn) bool {
	pairs := 0
	i := len(turns) - 1
	for i >= 1 {
		verifier := turns[i]
		presenter := turns[i-1]
		if verifier.Speaker != p.cfg.VerifierRole || presenter.Speaker != p.cfg.PresenterRole {
			break
		}
		if strings.TrimSpace(presenter.Content) != "" {
			break
		}
		score, found := ExtractScore(verifier.Content)
		if !found || score != 0 {
			break
		}
		pairs++
		i -= 2
	}
	return pairs >= p.cfg.ZeroScoreRepeatLimit
}

func (p *TerminationPolicy) handoffReached(turns []ports.Turn) bool {
	if len(turns) == 0 {
		return false
	}
	last := turns[len(turns)-1]
	if last.Kind == ports.KindControl && strings.Contains(last.Content, p.cfg.HandoffMarker) {
		return true
	}
	// Paused conversations re-enter with injected human turns; those do not
	// mean control left the team.
	if injected, ok := last.Metadata[MetadataHumanInput].(bool); ok && injected {
		return false
	}
	return last.Speaker == p.cfg.HandoffTarget
}

func lastTurnBy(turns []ports.Turn, role ports.Role) (ports.Turn, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Speaker == role {
			return turns[i], true
		}
	}
	return ports.Turn{}, false
}
