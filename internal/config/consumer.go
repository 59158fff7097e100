package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"subflow/internal/spec"
	"subflow/source/nakadi"
)

const SupportedSchema = "v1"

// LoadConsumerSpec parses a consumer YAML, validates schema_version, and
// returns the parsed spec and an absolute path to the source config (if set).
func LoadConsumerSpec(path string) (spec.File, string, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, "", err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, "", fmt.Errorf("consumer spec %s: %w", path, err)
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, "", fmt.Errorf("consumer schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = "nakadi"
	}
	if cfg.Source.Driver == "" {
		cfg.Source.Driver = "http"
	}
	if len(cfg.Sinks) == 0 {
		return cfg, "", errors.New("consumer spec: at least one sink is required")
	}
	confPath := cfg.Source.Config
	if confPath != "" && !filepath.IsAbs(confPath) {
		confPath = filepath.Join(filepath.Dir(path), confPath)
	}
	return cfg, confPath, nil
}

// LoadNakadiConfig delegates to the Nakadi source loader while centralizing
// loader entrypoints under internal/config.
func LoadNakadiConfig(path string) (nakadi.Config, error) {
	return nakadi.LoadConfig(path)
}
