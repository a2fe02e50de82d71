// Package config loads kernel configuration from a YAML file with
// environment-variable overrides, following the load pattern of
// github.com/emergent/emergent's CLI config (viper env binding over a YAML
// base, defaults filled in afterward).
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
)

// Project configures which author keys the kernel accepts events from, and
// under which project identifier its execution lock is tracked.
type Project struct {
	ID        string   `mapstructure:"id" yaml:"id"`
	Whitelist []string `mapstructure:"whitelist" yaml:"whitelist"`
}

// Lock configures the ExecutionQueue's per-project mutex timeout.
type Lock struct {
	MaxDurationMs int64 `mapstructure:"max_duration_ms" yaml:"max_duration_ms"`
}

// Termination configures the termination Enforcer's retry budget.
type Termination struct {
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// Stream configures StreamPublisher batching and outbound rate limiting.
type Stream struct {
	FlushDelayMs     int64 `mapstructure:"flush_delay_ms" yaml:"flush_delay_ms"`
	MaxPublishPerSec int   `mapstructure:"max_publish_per_sec" yaml:"max_publish_per_sec"`
	MaxPublishBurst  int   `mapstructure:"max_publish_burst" yaml:"max_publish_burst"`
}

// Typing configures the typing-indicator minimum visible duration.
type Typing struct {
	MinVisibleMs int64 `mapstructure:"min_visible_ms" yaml:"min_visible_ms"`
}

// Queue configures ExecutionQueue's ETA estimator and storage backend.
type Queue struct {
	AvgExecHintMs int64  `mapstructure:"avg_exec_hint_ms" yaml:"avg_exec_hint_ms"`
	Backend       string `mapstructure:"backend" yaml:"backend"` // "mem" or "redis"
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
}

// Bus configures the Nostr relay connection.
type Bus struct {
	PrivateKey string   `mapstructure:"private_key" yaml:"private_key"`
	Relays     []string `mapstructure:"relays" yaml:"relays"`
}

// Persistence selects and configures ConversationStore's storage backend.
type Persistence struct {
	Backend  string `mapstructure:"backend" yaml:"backend"` // "file", "mongo", or "sqlite"
	Path     string `mapstructure:"path" yaml:"path"`       // file/sqlite directory or db path
	MongoURI string `mapstructure:"mongo_uri" yaml:"mongo_uri"`
	MongoDB  string `mapstructure:"mongo_db" yaml:"mongo_db"`
}

// Control configures the administrative gRPC/JSON socket tenexctl dials.
type Control struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// LLM selects and configures the model.Client provider backing every agent
// registration (spec.md §6.2).
type LLM struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // "anthropic", "openai", or "bedrock"
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	Model    string `mapstructure:"model" yaml:"model"`
}

// Config is the recognized option set from spec.md §6.5.
type Config struct {
	Project     Project     `mapstructure:"project" yaml:"project"`
	Lock        Lock        `mapstructure:"lock" yaml:"lock"`
	Termination Termination `mapstructure:"termination" yaml:"termination"`
	Stream      Stream      `mapstructure:"stream" yaml:"stream"`
	Typing      Typing      `mapstructure:"typing" yaml:"typing"`
	Queue       Queue       `mapstructure:"queue" yaml:"queue"`
	Bus         Bus         `mapstructure:"bus" yaml:"bus"`
	Persistence Persistence `mapstructure:"persistence" yaml:"persistence"`
	Control     Control     `mapstructure:"control" yaml:"control"`
	LLM         LLM         `mapstructure:"llm" yaml:"llm"`
}

func defaults() Config {
	return Config{
		Lock:        Lock{MaxDurationMs: 1_800_000},
		Termination: Termination{MaxAttempts: 2},
		Stream:      Stream{FlushDelayMs: 100, MaxPublishPerSec: 50, MaxPublishBurst: 10},
		Typing:      Typing{MinVisibleMs: 5_000},
		Queue:       Queue{AvgExecHintMs: 600_000, Backend: "mem"},
		Persistence: Persistence{Backend: "file", Path: "./data/conversations"},
		Control:     Control{ListenAddr: "127.0.0.1:7717"},
		LLM:         LLM{Provider: "anthropic", Model: "claude-sonnet-4-5"},
	}
}

// Load reads path (if present) over TENEX_-prefixed environment overrides,
// and fills any option left unset by both with its spec-default value.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("TENEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("project.id")
	_ = v.BindEnv("project.whitelist")
	_ = v.BindEnv("lock.max_duration_ms")
	_ = v.BindEnv("termination.max_attempts")
	_ = v.BindEnv("stream.flush_delay_ms")
	_ = v.BindEnv("stream.max_publish_per_sec")
	_ = v.BindEnv("stream.max_publish_burst")
	_ = v.BindEnv("typing.min_visible_ms")
	_ = v.BindEnv("queue.avg_exec_hint_ms")
	_ = v.BindEnv("queue.backend")
	_ = v.BindEnv("queue.redis_addr")
	_ = v.BindEnv("bus.private_key")
	_ = v.BindEnv("bus.relays")
	_ = v.BindEnv("persistence.backend")
	_ = v.BindEnv("persistence.path")
	_ = v.BindEnv("persistence.mongo_uri")
	_ = v.BindEnv("persistence.mongo_db")
	_ = v.BindEnv("control.listen_addr")
	_ = v.BindEnv("llm.provider")
	_ = v.BindEnv("llm.api_key")
	_ = v.BindEnv("llm.model")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, kernelerrors.Wrap(kernelerrors.KindValidation, "config: read config file", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, kernelerrors.Wrap(kernelerrors.KindValidation, "config: stat config file", err)
		}
	}

	cfg := defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindValidation, "config: unmarshal", err)
	}

	def := defaults()
	if cfg.Lock.MaxDurationMs == 0 {
		cfg.Lock.MaxDurationMs = def.Lock.MaxDurationMs
	}
	if cfg.Termination.MaxAttempts == 0 {
		cfg.Termination.MaxAttempts = def.Termination.MaxAttempts
	}
	if cfg.Stream.FlushDelayMs == 0 {
		cfg.Stream.FlushDelayMs = def.Stream.FlushDelayMs
	}
	if cfg.Typing.MinVisibleMs == 0 {
		cfg.Typing.MinVisibleMs = def.Typing.MinVisibleMs
	}
	if cfg.Stream.MaxPublishPerSec == 0 {
		cfg.Stream.MaxPublishPerSec = def.Stream.MaxPublishPerSec
	}
	if cfg.Stream.MaxPublishBurst == 0 {
		cfg.Stream.MaxPublishBurst = def.Stream.MaxPublishBurst
	}
	if cfg.Queue.AvgExecHintMs == 0 {
		cfg.Queue.AvgExecHintMs = def.Queue.AvgExecHintMs
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = def.Queue.Backend
	}
	if cfg.Persistence.Backend == "" {
		cfg.Persistence.Backend = def.Persistence.Backend
	}
	if cfg.Persistence.Path == "" {
		cfg.Persistence.Path = def.Persistence.Path
	}
	if cfg.Control.ListenAddr == "" {
		cfg.Control.ListenAddr = def.Control.ListenAddr
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = def.LLM.Provider
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}

	if cfg.Project.ID == "" {
		return nil, kernelerrors.New(kernelerrors.KindValidation, "config: project.id is required")
	}

	return &cfg, nil
}

// LockMaxDuration returns lock.maxDurationMs as a time.Duration.
func (c *Config) LockMaxDuration() time.Duration {
	return time.Duration(c.Lock.MaxDurationMs) * time.Millisecond
}

// StreamFlushDelay returns stream.flushDelayMs as a time.Duration.
func (c *Config) StreamFlushDelay() time.Duration {
	return time.Duration(c.Stream.FlushDelayMs) * time.Millisecond
}

// TypingMinVisible returns typing.minVisibleMs as a time.Duration.
func (c *Config) TypingMinVisible() time.Duration {
	return time.Duration(c.Typing.MinVisibleMs) * time.Millisecond
}

// QueueAvgExecHint returns queue.avgExecHintMs as a time.Duration.
func (c *Config) QueueAvgExecHint() time.Duration {
	return time.Duration(c.Queue.AvgExecHintMs) * time.Millisecond
}

// Whitelisted reports whether authorKey is in the project's whitelist. An
// empty whitelist accepts every author.
func (c *Config) Whitelisted(authorKey string) bool {
	if len(c.Project.Whitelist) == 0 {
		return true
	}
	for _, k := range c.Project.Whitelist {
		if k == authorKey {
			return true
		}
	}
	return false
}
