package config

import (
	"context"

	"github.com/zclconf/go-cty/cty"
)

// Loader is the interface for a format-specific descriptor loader.
type Loader interface {
	// Load reads descriptors from the given paths, translates them into the
	// format-agnostic model, and returns a matching Converter.
	Load(ctx context.Context, paths ...string) (*Model, Converter, error)
}

// Converter binds the raw body of a stage into the Go input struct of the
// builder registered for the stage's kind.
type Converter interface {
	// DecodeStage decodes the stage body into target, which must be a
	// pointer to a struct carrying format-specific tags.
	DecodeStage(ctx context.Context, stage *Stage, target any) error

	// ToCtyValue converts a native Go value into its cty equivalent.
	ToCtyValue(v any) (cty.Value, error)
}
