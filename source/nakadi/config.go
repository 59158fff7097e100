package nakadi

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix            = "SUBFLOW_NAKADI__"
	defaultQueueCapacity = 16
)

type TokenCfg struct {
	Static string `koanf:"static"` // literal token, empty = no auth header
	Env    string `koanf:"env"`    // env var holding the token
	File   string `koanf:"file"`   // file holding the token
}

type StreamCfg struct {
	BatchLimit           int           `koanf:"batch_limit"`
	StreamLimit          int           `koanf:"stream_limit"`
	BatchFlushTimeout    time.Duration `koanf:"batch_flush_timeout"`
	MaxUncommittedEvents int           `koanf:"max_uncommitted_events"`
	MaxLineBytes         int           `koanf:"max_line_bytes"`
}

type ReconnectCfg struct {
	Initial          time.Duration `koanf:"initial"`
	Max              time.Duration `koanf:"max"`
	ResetAfter       time.Duration `koanf:"reset_after"` // streaming this long resets the backoff
	MaxTokenAttempts int           `koanf:"max_token_attempts"`
}

type DispatchCfg struct {
	Workers       int `koanf:"workers"`
	QueueCapacity int `koanf:"queue_capacity"` // per worker lane
}

type CheckpointCfg struct {
	Attempts int           `koanf:"attempts"`
	Backoff  time.Duration `koanf:"backoff"`
	Timeout  time.Duration `koanf:"timeout"` // per attempt
}

type Config struct {
	BaseURL        string         `koanf:"base_url"`
	SubscriptionID SubscriptionID `koanf:"subscription_id"`
	RequestTimeout time.Duration  `koanf:"request_timeout"` // stream open and commit round trips

	Token      TokenCfg      `koanf:"token"`
	Stream     StreamCfg     `koanf:"stream"`
	Reconnect  ReconnectCfg  `koanf:"reconnect"`
	Dispatch   DispatchCfg   `koanf:"dispatch"`
	Checkpoint CheckpointCfg `koanf:"checkpoint"`
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `SUBFLOW_NAKADI__`, `__` separates nested keys).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("nakadi schema_version %q not supported (want v1)", sv)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	// 0 is a valid capacity, so only a missing key gets the default.
	if !k.Exists("dispatch.queue_capacity") {
		cfg.Dispatch.QueueCapacity = defaultQueueCapacity
	}
	return cfg, cfg.Validate()
}

// envKey maps SUBFLOW_NAKADI__STREAM__BATCH_LIMIT to stream.batch_limit.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

func applyDefaults(c *Config) {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.Stream.BatchLimit == 0 {
		c.Stream.BatchLimit = 1
	}
	if c.Stream.MaxUncommittedEvents == 0 {
		c.Stream.MaxUncommittedEvents = 10
	}
	if c.Stream.MaxLineBytes == 0 {
		c.Stream.MaxLineBytes = 10 << 20
	}
	if c.Reconnect.Initial == 0 {
		c.Reconnect.Initial = 100 * time.Millisecond
	}
	if c.Reconnect.Max == 0 {
		c.Reconnect.Max = 30 * time.Second
	}
	if c.Reconnect.ResetAfter == 0 {
		c.Reconnect.ResetAfter = time.Minute
	}
	if c.Reconnect.MaxTokenAttempts == 0 {
		c.Reconnect.MaxTokenAttempts = 10
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 4
	}
	if c.Checkpoint.Attempts == 0 {
		c.Checkpoint.Attempts = 5
	}
	if c.Checkpoint.Backoff == 0 {
		c.Checkpoint.Backoff = 100 * time.Millisecond
	}
	if c.Checkpoint.Timeout == 0 {
		c.Checkpoint.Timeout = 10 * time.Second
	}
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("nakadi.base_url is required")
	}
	if c.SubscriptionID == "" {
		return errors.New("nakadi.subscription_id is required")
	}
	if c.Dispatch.Workers < 0 || c.Dispatch.QueueCapacity < 0 {
		return errors.New("nakadi.dispatch sizes must be positive")
	}
	if c.Reconnect.Max < c.Reconnect.Initial {
		return fmt.Errorf("nakadi.reconnect.max %s below initial %s", c.Reconnect.Max, c.Reconnect.Initial)
	}
	return nil
}
