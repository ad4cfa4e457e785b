package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/specialistvlad/steloinfra/internal/config"
	"github.com/specialistvlad/steloinfra/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Converter is the HCL-specific implementation of the config.Converter interface.
type Converter struct{}

// NewConverter creates a new HCL converter.
func NewConverter() *Converter {
	return &Converter{}
}

// DecodeStage decodes a stage body into target using its `hcl` struct tags.
// Expressions see the same locals, app and functions as the pipeline.
func (c *Converter) DecodeStage(ctx context.Context, stage *config.Stage, target any) error {
	ctxlog.FromContext(ctx).Debug("Decoding stage body.", "stage", stage.Name, "kind", stage.Kind, "target", fmt.Sprintf("%T", target))
	if diags := gohcl.DecodeBody(stage.Body, stage.EvalCtx, target); diags.HasErrors() {
		return fmt.Errorf("failed to decode stage '%s' of kind '%s': %w", stage.Name, stage.Kind, diags)
	}
	return nil
}

// ToCtyValue converts a native Go value into its corresponding cty.Value.
func (c *Converter) ToCtyValue(v any) (cty.Value, error) {
	if v == nil {
		return cty.NilVal, nil
	}
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty.Type: %w", err)
	}
	return gocty.ToCtyValue(v, ty)
}
