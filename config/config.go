// Package config loads the CLI's optional YAML configuration file:
// the default codec Parameters, a fallback sample rate for inputs
// that don't carry one, an MQTT telemetry section, and logging
// verbosity.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/simonwerner/x3archive/x3"
)

// Config is the top-level shape of the CLI's YAML configuration file.
type Config struct {
	Codec   CodecConfig   `yaml:"codec"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Logging LoggingConfig `yaml:"logging"`
}

// CodecConfig holds the default encoding parameters and the sample
// rate assumed for raw PCM input that carries none of its own.
type CodecConfig struct {
	BlockLen          int   `yaml:"block_len"`
	BlocksPerFrame    int   `yaml:"blocks_per_frame"`
	RiceCodes         []int `yaml:"rice_codes"`
	MaxBFPBits        int   `yaml:"max_bfp_bits"`
	MaxPredictorOrder int   `yaml:"max_predictor_order"`
	DefaultSampleRate int   `yaml:"default_sample_rate"`
}

// MQTTConfig holds the telemetry broker connection settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// LoggingConfig holds logging verbosity settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Quiet bool   `yaml:"quiet"`
}

// Default returns the configuration the CLI falls back to when no
// --config file is given.
func Default() *Config {
	p := x3.DefaultParameters()
	return &Config{
		Codec: CodecConfig{
			BlockLen:          p.BlockLen,
			BlocksPerFrame:    p.BlocksPerFrame,
			RiceCodes:         p.RiceCodes,
			MaxBFPBits:        p.MaxBFPBits,
			MaxPredictorOrder: p.MaxPredictorOrder,
			DefaultSampleRate: 44100,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads and parses a YAML configuration file, then validates it.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration describes a usable codec and
// telemetry setup.
func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("codec: %w", err)
	}
	if c.Codec.DefaultSampleRate <= 0 {
		return fmt.Errorf("codec.default_sample_rate must be positive")
	}
	if c.MQTT.Enabled {
		if c.MQTT.BrokerURL == "" {
			return fmt.Errorf("mqtt.broker_url is required when mqtt is enabled")
		}
		if c.MQTT.TopicPrefix == "" {
			return fmt.Errorf("mqtt.topic_prefix is required when mqtt is enabled")
		}
	}
	return nil
}

// Params builds the x3.Parameters value described by the codec
// section.
func (c *Config) Params() x3.Parameters {
	return x3.Parameters{
		BlockLen:          c.Codec.BlockLen,
		BlocksPerFrame:    c.Codec.BlocksPerFrame,
		RiceCodes:         c.Codec.RiceCodes,
		MaxBFPBits:        c.Codec.MaxBFPBits,
		MaxPredictorOrder: c.Codec.MaxPredictorOrder,
	}
}
