package app

import (
	"errors"
	"fmt"
)

// Commands the app can run.
const (
	CommandSynth   = "synth"
	CommandLint    = "lint"
	CommandPublish = "publish"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command        string
	DescriptorPath string // hcl files

	OutDir  string
	Format  string // template format written next to JSON: json or yaml
	Strict  bool   // rule warnings fail synthesis too
	Verbose bool   // rule explanations in findings

	// Publish only.
	Endpoint string
	DryRun   bool
	Account  string
	Region   string

	LogFormat string
	LogLevel  string
}

// DefaultOutDir is where the cloud assembly is written.
const DefaultOutDir = "cdk.out"

// NewConfig applies defaults and validates cfg.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.Command == "" {
		cfg.Command = CommandSynth
	}
	if cfg.OutDir == "" {
		cfg.OutDir = DefaultOutDir
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}

	switch cfg.Command {
	case CommandSynth, CommandLint:
		if cfg.DescriptorPath == "" {
			return nil, errors.New("DescriptorPath is a required configuration field and cannot be empty")
		}
	case CommandPublish:
	default:
		return nil, fmt.Errorf("unknown command '%s'", cfg.Command)
	}

	if cfg.Format != "json" && cfg.Format != "yaml" {
		return nil, fmt.Errorf("invalid format '%s': must be 'json' or 'yaml'", cfg.Format)
	}
	return &cfg, nil
}
