// Package config loads persona-state settings from an optional persona.yaml
// inside the package plus PERSONA_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/rcliao/persona-state/internal/scoring"
)

// Config holds all tunables.
type Config struct {
	Scoring     ScoringConfig     `mapstructure:"scoring" yaml:"scoring"`
	Compression CompressionConfig `mapstructure:"compression" yaml:"compression"`
	WorkingSet  WorkingSetConfig  `mapstructure:"working_set" yaml:"working_set"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ScoringConfig tunes salience, decay and forgetting.
type ScoringConfig struct {
	HalfLifeDays         float64 `mapstructure:"half_life_days" yaml:"half_life_days"`
	ArchiveThreshold     float64 `mapstructure:"archive_threshold" yaml:"archive_threshold"`
	Stickiness           float64 `mapstructure:"stickiness" yaml:"stickiness"`
	ActivationSaturation float64 `mapstructure:"activation_saturation" yaml:"activation_saturation"`
	InterferenceRate     float64 `mapstructure:"interference_rate" yaml:"interference_rate"`
	HotThreshold         float64 `mapstructure:"hot_threshold" yaml:"hot_threshold"`
	WarmThreshold        float64 `mapstructure:"warm_threshold" yaml:"warm_threshold"`

	// CompetitionSimilarity is the feature similarity at which another
	// memory counts as a competitor for interference. 0 disables it.
	CompetitionSimilarity float64 `mapstructure:"competition_similarity" yaml:"competition_similarity"`
}

// CompressionConfig selects memories for summarization.
type CompressionConfig struct {
	Threshold          float64 `mapstructure:"threshold" yaml:"threshold"`
	MinIdleDays        float64 `mapstructure:"min_idle_days" yaml:"min_idle_days"`
	MaxActivationCount int     `mapstructure:"max_activation_count" yaml:"max_activation_count"`
}

// WorkingSetConfig bounds the derived working set.
type WorkingSetConfig struct {
	Limit int `mapstructure:"limit" yaml:"limit"`
}

// LoggingConfig selects log level and output format (console or json).
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	p := scoring.DefaultParams()
	return &Config{
		Scoring: ScoringConfig{
			HalfLifeDays:          p.HalfLifeDays,
			ArchiveThreshold:      0.15,
			Stickiness:            0.05,
			ActivationSaturation:  p.ActivationSaturation,
			InterferenceRate:      p.InterferenceRate,
			CompetitionSimilarity: 0.95,
			HotThreshold:          p.HotThreshold,
			WarmThreshold:         p.WarmThreshold,
		},
		Compression: CompressionConfig{
			Threshold:          0.3,
			MinIdleDays:        14,
			MaxActivationCount: 2,
		},
		WorkingSet: WorkingSetConfig{Limit: 50},
		Logging:    LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads path (which may not exist) over the defaults and applies
// PERSONA_* environment overrides, e.g. PERSONA_SCORING_HALF_LIFE_DAYS.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("PERSONA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the scoring engine cannot use.
func (c *Config) Validate() error {
	s := c.Scoring
	switch {
	case s.HalfLifeDays <= 0:
		return errors.New("scoring.half_life_days must be > 0")
	case s.Stickiness < 0 || s.Stickiness > 1:
		return errors.New("scoring.stickiness must be in [0, 1]")
	case s.ArchiveThreshold < 0 || s.ArchiveThreshold > 1:
		return errors.New("scoring.archive_threshold must be in [0, 1]")
	case s.CompetitionSimilarity < 0 || s.CompetitionSimilarity > 1:
		return errors.New("scoring.competition_similarity must be in [0, 1]")
	case s.WarmThreshold >= s.HotThreshold:
		return errors.New("scoring.warm_threshold must be below scoring.hot_threshold")
	case c.WorkingSet.Limit < 0:
		return errors.New("working_set.limit must be >= 0")
	}
	return nil
}

// ScoringParams converts to the scoring engine's parameters.
func (c *Config) ScoringParams() scoring.Params {
	return scoring.Params{
		ActivationSaturation: c.Scoring.ActivationSaturation,
		HalfLifeDays:         c.Scoring.HalfLifeDays,
		HotThreshold:         c.Scoring.HotThreshold,
		WarmThreshold:        c.Scoring.WarmThreshold,
		InterferenceRate:     c.Scoring.InterferenceRate,
	}
}

// Forgetting converts to the forgetting policy.
func (c *Config) Forgetting() scoring.ForgettingPolicy {
	return scoring.ForgettingPolicy{
		HalfLifeDays:     c.Scoring.HalfLifeDays,
		ArchiveThreshold: c.Scoring.ArchiveThreshold,
		Stickiness:       c.Scoring.Stickiness,
	}
}

// CompressionPolicy converts to the compression trigger.
func (c *Config) CompressionPolicy() scoring.CompressionPolicy {
	return scoring.CompressionPolicy{
		Threshold:          c.Compression.Threshold,
		MinIdleDays:        c.Compression.MinIdleDays,
		MaxActivationCount: c.Compression.MaxActivationCount,
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("scoring.half_life_days", d.Scoring.HalfLifeDays)
	v.SetDefault("scoring.archive_threshold", d.Scoring.ArchiveThreshold)
	v.SetDefault("scoring.stickiness", d.Scoring.Stickiness)
	v.SetDefault("scoring.activation_saturation", d.Scoring.ActivationSaturation)
	v.SetDefault("scoring.interference_rate", d.Scoring.InterferenceRate)
	v.SetDefault("scoring.competition_similarity", d.Scoring.CompetitionSimilarity)
	v.SetDefault("scoring.hot_threshold", d.Scoring.HotThreshold)
	v.SetDefault("scoring.warm_threshold", d.Scoring.WarmThreshold)
	v.SetDefault("compression.threshold", d.Compression.Threshold)
	v.SetDefault("compression.min_idle_days", d.Compression.MinIdleDays)
	v.SetDefault("compression.max_activation_count", d.Compression.MaxActivationCount)
	v.SetDefault("working_set.limit", d.WorkingSet.Limit)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
