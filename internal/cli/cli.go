package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/specialistvlad/steloinfra/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

const usage = `
steloinfra - Synthesizes the stelo web infrastructure from HCL descriptors.

Usage:
  steloinfra [global options] [command] [options] [DESCRIPTOR_PATH]

Commands:
  synth     Load, validate, synthesize and lint; write the cloud assembly (default).
  lint      Synthesize in memory and print security rule findings.
  publish   Upload the file assets of a written cloud assembly.

Arguments:
  DESCRIPTOR_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Global options:
`

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	global := flag.NewFlagSet("steloinfra", flag.ContinueOnError)
	global.SetOutput(output)
	global.Usage = func() {
		fmt.Fprint(output, usage)
		global.PrintDefaults()
	}

	logFormatFlag := global.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := global.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := global.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, usageError("%s", err.Error())
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, usageError("invalid log-format: must be 'text' or 'json'")
	}
	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	rest := global.Args()
	command := app.CommandSynth
	if len(rest) > 0 {
		switch rest[0] {
		case app.CommandSynth, app.CommandLint, app.CommandPublish:
			command, rest = rest[0], rest[1:]
		case "help":
			global.Usage()
			return nil, true, nil
		}
	}
	slog.Debug("Command determined.", "command", command)

	cfg := app.Config{Command: command, LogFormat: logFormat, LogLevel: logLevel}
	sub := flag.NewFlagSet("steloinfra "+command, flag.ContinueOnError)
	sub.SetOutput(output)
	sub.Usage = func() {
		fmt.Fprintf(output, "\nUsage:\n  steloinfra %s [options]%s\n\nOptions:\n", command, pathArg(command))
		sub.PrintDefaults()
	}

	switch command {
	case app.CommandSynth:
		sub.StringVar(&cfg.OutDir, "out", app.DefaultOutDir, "Directory the cloud assembly is written to.")
		sub.StringVar(&cfg.Format, "format", "json", "Template format written besides JSON. Options: 'json' or 'yaml'.")
		sub.BoolVar(&cfg.Strict, "strict", false, "Fail on security rule warnings, not only errors.")
		sub.BoolVar(&cfg.Verbose, "verbose", false, "Include rule explanations in findings.")
	case app.CommandLint:
		sub.BoolVar(&cfg.Strict, "strict", false, "Fail on security rule warnings, not only errors.")
		sub.BoolVar(&cfg.Verbose, "verbose", false, "Include rule explanations in findings.")
	case app.CommandPublish:
		sub.StringVar(&cfg.OutDir, "out", app.DefaultOutDir, "Directory holding the cloud assembly.")
		sub.StringVar(&cfg.Endpoint, "endpoint", "", "S3 endpoint override, e.g. for LocalStack.")
		sub.BoolVar(&cfg.DryRun, "dry-run", false, "Report what would be uploaded without touching S3.")
		sub.StringVar(&cfg.Account, "account", "", "Target account for environment-agnostic destinations.")
		sub.StringVar(&cfg.Region, "region", "", "Target region for environment-agnostic destinations.")
	}

	if err := sub.Parse(rest); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, usageError("%s", err.Error())
	}
	slog.Debug("Arguments parsed successfully.")

	paths := 1
	if command == app.CommandPublish {
		paths = 0
	}
	if sub.NArg() > paths {
		return nil, false, usageError("unexpected arguments: %s", strings.Join(sub.Args()[paths:], " "))
	}
	if paths == 1 {
		if sub.NArg() == 0 {
			slog.Debug("No descriptor path provided, printing usage and exiting.")
			sub.Usage()
			return nil, true, nil
		}
		cfg.DescriptorPath = sub.Arg(0)
	}

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, usageError("%s", err.Error())
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

func pathArg(command string) string {
	if command == app.CommandPublish {
		return ""
	}
	return " DESCRIPTOR_PATH"
}
