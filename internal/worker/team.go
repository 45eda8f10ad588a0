package worker

import (
	"context"
	"sort"
	"strings"

	"crew/internal/chat/ports"
)

// Agent binds one roster entry to the shared runtime. Its per-task system
// prompt is the roster template with the task statement substituted in.
type Agent struct {
	role    ports.Role
	prompt  string
	runtime ports.AgentRuntime
}

// NewAgent builds a participant for one roster entry.
func NewAgent(spec AgentSpec, task ports.Task, runtime ports.AgentRuntime) *Agent {
	prompt := strings.ReplaceAll(spec.Prompt, "{{task}}", task.Content)
	return &Agent{role: spec.Role, prompt: prompt, runtime: runtime}
}

// Name implements ports.Participant.
func (a *Agent) Name() ports.Role { return a.role }

// Invoke implements ports.Participant by running one completion.
func (a *Agent) Invoke(ctx context.Context, history []ports.Turn) ([]ports.Turn, error) {
	turn, err := a.runtime.Complete(ctx, a.role, a.prompt, history)
	if err != nil {
		return nil, err
	}
	return []ports.Turn{turn}, nil
}

// BuildTeam instantiates the roster for one task, ordered by priority.
func BuildTeam(spec *RosterSpec, task ports.Task, runtime ports.AgentRuntime) []ports.Participant {
	agents := make([]AgentSpec, len(spec.Agents))
	copy(agents, spec.Agents)
	sort.SliceStable(agents, func(i, j int) bool { return agents[i].Priority < agents[j].Priority })

	team := make([]ports.Participant, 0, len(agents))
	for _, agent := range agents {
		team = append(team, NewAgent(agent, task, runtime))
	}
	return team
}

const oraclePrompt = `You are the conversation moderator for a crew of agents working one task.
Given the transcript, reply with only the name of the agent who should speak next.
Valid names: %s`

// RuntimeOracle delegates speaker selection to the model. An unusable answer
// falls back to the static priority order so the conversation never stalls
// on moderation.
type RuntimeOracle struct {
	runtime ports.AgentRuntime
	logger  ports.Logger
}

// NewRuntimeOracle builds a model-backed speaker oracle.
func NewRuntimeOracle(runtime ports.AgentRuntime, logger ports.Logger) *RuntimeOracle {
	return &RuntimeOracle{runtime: runtime, logger: logger}
}

// SelectNext implements ports.SpeakerOracle.
func (o *RuntimeOracle) SelectNext(ctx context.Context, history []ports.Turn, roster []ports.Participant) (ports.Participant, error) {
	names := make([]string, 0, len(roster))
	for _, participant := range roster {
		names = append(names, string(participant.Name()))
	}
	prompt := strings.Replace(oraclePrompt, "%s", strings.Join(names, ", "), 1)

	turn, err := o.runtime.Complete(ctx, ports.RoleSystem, prompt, history)
	if err != nil {
		o.logger.Warn("speaker oracle failed, falling back to priority order: %v", err)
		return o.fallback(history, roster), nil
	}

	choice := ports.Role(strings.ToLower(strings.TrimSpace(turn.Content)))
	for _, participant := range roster {
		if participant.Name() == choice {
			return participant, nil
		}
	}
	o.logger.Warn("speaker oracle chose %q, not in roster; falling back to priority order", choice)
	return o.fallback(history, roster), nil
}

// fallback rotates through the roster in priority order, starting after the
// previous speaker.
func (o *RuntimeOracle) fallback(history []ports.Turn, roster []ports.Participant) ports.Participant {
	if len(history) == 0 {
		return roster[0]
	}
	last := history[len(history)-1].Speaker
	for i, participant := range roster {
		if participant.Name() == last {
			return roster[(i+1)%len(roster)]
		}
	}
	return roster[0]
}
