// Package worker polls the task queue and runs one conversation per task.
package worker

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"crew/internal/chat/ports"
)

// AgentSpec declares one roster member and its system prompt template. The
// template may reference {{task}}, replaced with the task statement per run.
type AgentSpec struct {
	Role     ports.Role `yaml:"role"`
	Prompt   string     `yaml:"prompt"`
	Priority int        `yaml:"priority"`
}

// RosterSpec is the YAML shape of a crew roster file.
type RosterSpec struct {
	FirstSpeaker ports.Role  `yaml:"first_speaker"`
	Agents       []AgentSpec `yaml:"agents"`
}

// LoadRoster reads and validates a roster file.
func LoadRoster(path string) (*RosterSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var spec RosterSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate rejects empty or duplicated rosters.
func (s *RosterSpec) Validate() error {
	if len(s.Agents) == 0 {
		return fmt.Errorf("roster declares no agents")
	}
	seen := make(map[ports.Role]bool, len(s.Agents))
	for _, agent := range s.Agents {
		if agent.Role == "" {
			return fmt.Errorf("roster agent with empty role")
		}
		if seen[agent.Role] {
			return fmt.Errorf("duplicate roster role %q", agent.Role)
		}
		seen[agent.Role] = true
	}
	if s.FirstSpeaker != "" && !seen[s.FirstSpeaker] {
		return fmt.Errorf("first speaker %q is not in the roster", s.FirstSpeaker)
	}
	return nil
}

// DefaultRoster returns the built-in seven-agent crew used when no roster
// file is configured.
func DefaultRoster() *RosterSpec {
	return &RosterSpec{
		FirstSpeaker: ports.RolePlanner,
		Agents: []AgentSpec{
			{Role: ports.RolePlanner, Priority: 1, Prompt: "You are the planner. Break the task into concrete steps and assign them.\nTask: {{task}}"},
			{Role: ports.RoleCoder, Priority: 2, Prompt: "You are the coder. Implement the steps the planner laid out.\nTask: {{task}}"},
			{Role: ports.RoleSearcher, Priority: 3, Prompt: "You are the searcher. Find the information the crew is missing.\nTask: {{task}}"},
			{Role: ports.RoleUploader, Priority: 4, Prompt: "You are the uploader. Package and deliver finished artifacts.\nTask: {{task}}"},
			{Role: ports.RolePresenter, Priority: 5, Prompt: "You are the presenter. Write the final user-facing answer. When the task is fully done, include TASK_COMPLETE.\nTask: {{task}}"},
			{Role: ports.RoleVerifier, Priority: 6, Prompt: "You are the verifier. Score the crew's result from 0 to 100 as JSON {\"score\": N}. Use -1 if scoring does not apply.\nTask: {{task}}"},
			{Role: ports.RoleTerminator, Priority: 7, Prompt: "You are the terminator. If the conversation should stop, say why; otherwise stay silent.\nTask: {{task}}"},
		},
	}
}
