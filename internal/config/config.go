// Package config loads worker configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"crew/internal/chat/domain"
	"crew/internal/observability"
	"crew/internal/progress"
)

// ChatConfig tunes the conversation loop and its termination rules.
type ChatConfig struct {
	ScoreThreshold       int    `mapstructure:"score_threshold"`
	TurnBudget           int    `mapstructure:"turn_budget"`
	CompletionMarker     string `mapstructure:"completion_marker"`
	HandoffMarker        string `mapstructure:"handoff_marker"`
	ZeroScoreRepeatLimit int    `mapstructure:"zero_score_repeat_limit"`
	FirstSpeaker         string `mapstructure:"first_speaker"`

	LoopWindow            int    `mapstructure:"loop_window"`
	RepeatRun             int    `mapstructure:"repeat_run"`
	StuckProgressCount    int    `mapstructure:"stuck_progress_count"`
	TimeoutMarker         string `mapstructure:"timeout_marker"`
	TimeoutStormCount     int    `mapstructure:"timeout_storm_count"`
	SameSpeakerMultiplier int    `mapstructure:"same_speaker_multiplier"`
}

// ProgressConfig tunes the progress publishing pipeline.
type ProgressConfig struct {
	QueueCapacity     int           `mapstructure:"queue_capacity"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LogPath           string        `mapstructure:"log_path"`
}

// WorkerConfig tunes task polling and per-task bookkeeping.
type WorkerConfig struct {
	QueueDir     string        `mapstructure:"queue_dir"`
	AuditDir     string        `mapstructure:"audit_dir"`
	RosterPath   string        `mapstructure:"roster_path"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	SummaryModel   string        `mapstructure:"summary_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
	RequestRetries int           `mapstructure:"request_retries"`
}

// LoggingConfig controls the file-backed debug logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the root configuration for the crew worker.
type Config struct {
	Chat     ChatConfig                  `mapstructure:"chat"`
	Progress ProgressConfig              `mapstructure:"progress"`
	Worker   WorkerConfig                `mapstructure:"worker"`
	LLM      LLMConfig                   `mapstructure:"llm"`
	Logging  LoggingConfig               `mapstructure:"logging"`
	Tracing  observability.TracingConfig `mapstructure:"tracing"`
}

// Load reads configuration from the given file path (optional), then from a
// crew.yaml in the working directory or ~/.crew, then from CREW_* environment
// variables. Missing files are not an error; defaults cover every field.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CREW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("crew")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.crew")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	chat := domain.DefaultTerminationPolicyConfig()
	loop := domain.DefaultLoopDetectorConfig()

	v.SetDefault("chat.score_threshold", chat.ScoreThreshold)
	v.SetDefault("chat.turn_budget", chat.TurnBudget)
	v.SetDefault("chat.completion_marker", chat.CompletionMarker)
	v.SetDefault("chat.handoff_marker", chat.HandoffMarker)
	v.SetDefault("chat.zero_score_repeat_limit", chat.ZeroScoreRepeatLimit)
	v.SetDefault("chat.first_speaker", "planner")

	v.SetDefault("chat.loop_window", loop.Window)
	v.SetDefault("chat.repeat_run", loop.RepeatRun)
	v.SetDefault("chat.stuck_progress_count", loop.StuckProgressCount)
	v.SetDefault("chat.timeout_marker", loop.TimeoutMarker)
	v.SetDefault("chat.timeout_storm_count", loop.TimeoutStormCount)
	v.SetDefault("chat.same_speaker_multiplier", loop.SameSpeakerMultiplier)

	prog := progress.DefaultConfig()
	v.SetDefault("progress.queue_capacity", prog.Capacity)
	v.SetDefault("progress.heartbeat_interval", prog.HeartbeatInterval)
	v.SetDefault("progress.log_path", "")

	v.SetDefault("worker.queue_dir", "./queue")
	v.SetDefault("worker.audit_dir", "./audit")
	v.SetDefault("worker.roster_path", "")
	v.SetDefault("worker.poll_interval", 2*time.Second)

	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.model", "openai/gpt-4o-mini")
	v.SetDefault("llm.summary_model", "")
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.request_retries", 3)

	v.SetDefault("logging.level", "info")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "crew")
	v.SetDefault("tracing.service_version", "dev")
}

// LoopDetector materializes the loop detection knobs into domain config.
func (c *Config) LoopDetector() domain.LoopDetectorConfig {
	cfg := domain.DefaultLoopDetectorConfig()
	if c.Chat.LoopWindow > 0 {
		cfg.Window = c.Chat.LoopWindow
	}
	if c.Chat.RepeatRun > 0 {
		cfg.RepeatRun = c.Chat.RepeatRun
	}
	if c.Chat.StuckProgressCount > 0 {
		cfg.StuckProgressCount = c.Chat.StuckProgressCount
	}
	if c.Chat.TimeoutMarker != "" {
		cfg.TimeoutMarker = c.Chat.TimeoutMarker
	}
	if c.Chat.TimeoutStormCount > 0 {
		cfg.TimeoutStormCount = c.Chat.TimeoutStormCount
	}
	if c.Chat.SameSpeakerMultiplier > 0 {
		cfg.SameSpeakerMultiplier = c.Chat.SameSpeakerMultiplier
	}
	return cfg
}

// TerminationPolicy materializes the termination knobs into domain config.
func (c *Config) TerminationPolicy() domain.TerminationPolicyConfig {
	cfg := domain.DefaultTerminationPolicyConfig()
	if c.Chat.ScoreThreshold > 0 {
		cfg.ScoreThreshold = c.Chat.ScoreThreshold
	}
	if c.Chat.TurnBudget > 0 {
		cfg.TurnBudget = c.Chat.TurnBudget
	}
	if c.Chat.CompletionMarker != "" {
		cfg.CompletionMarker = c.Chat.CompletionMarker
	}
	if c.Chat.HandoffMarker != "" {
		cfg.HandoffMarker = c.Chat.HandoffMarker
	}
	if c.Chat.ZeroScoreRepeatLimit > 0 {
		cfg.ZeroScoreRepeatLimit = c.Chat.ZeroScoreRepeatLimit
	}
	return cfg
}
