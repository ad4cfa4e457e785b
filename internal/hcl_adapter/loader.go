// Package hcl_adapter loads HCL descriptors into the format-agnostic
// config.Model: locals, the app entry block, the pipeline and the stages.
package hcl_adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/steloinfra/internal/config"
	"github.com/specialistvlad/steloinfra/internal/ctxlog"
	"github.com/specialistvlad/steloinfra/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	// LookupEnv backs the env() descriptor function.
	LookupEnv LookupEnvFunc
}

// NewLoader creates a new HCL descriptor loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{LookupEnv: os.LookupEnv}
}

// Load parses every descriptor below paths. Blocks may be spread over any
// number of files; locals are shared by all of them.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, config.Converter, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("no .hcl descriptors found in %s", strings.Join(paths, ", "))
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	var blocks hcl.Blocks
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		content, diags := hclFile.Body.Content(rootSchema)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		blocks = append(blocks, content.Blocks...)
	}

	evalCtx := l.evalContext()
	locals, err := evalLocals(blocksOfType(blocks, "locals"), evalCtx)
	if err != nil {
		return nil, nil, err
	}
	evalCtx.Variables["local"] = cty.ObjectVal(locals)
	logger.Debug("Locals evaluated.", "count", len(locals))

	model := &config.Model{}

	appBlock, diags := FindUniqueBlock(blocks, "app")
	if diags.HasErrors() {
		return nil, nil, diags
	}
	if appBlock != nil {
		app, err := decodeApp(appBlock, evalCtx)
		if err != nil {
			return nil, nil, err
		}
		model.App = app
		if evalCtx.Variables["app"], err = appValue(app); err != nil {
			return nil, nil, err
		}
	}

	pipelineBlock, diags := FindUniqueBlock(blocks, "pipeline")
	if diags.HasErrors() {
		return nil, nil, diags
	}
	if pipelineBlock != nil {
		p, err := decodePipeline(pipelineBlock, evalCtx)
		if err != nil {
			return nil, nil, err
		}
		model.Pipeline = p
	}

	for _, block := range blocksOfType(blocks, "stage") {
		st, err := decodeStage(block, evalCtx)
		if err != nil {
			return nil, nil, err
		}
		model.Stages = append(model.Stages, st)
	}

	logger.Debug("HCL loading complete.", "files", len(files), "stages", len(model.Stages), "has_pipeline", model.Pipeline != nil)
	return model, NewConverter(), nil
}

// findAllHCLFiles walks all given paths and returns a flat, de-duplicated
// list of the .hcl files found.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var all []string
	seen := make(map[string]struct{})

	for _, path := range paths {
		found, err := fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			if os.IsNotExist(err) {
				continue // It's not an error if a configured path doesn't exist.
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		for _, f := range found {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			all = append(all, f)
		}
	}
	return all, nil
}

func (l *Loader) evalContext() *hcl.EvalContext {
	lookup := l.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{},
		Functions: functions(lookup),
	}
}

// evalLocals resolves all locals attributes. A local may reference other
// locals in any file and any order; cycles and unknown names are errors.
func evalLocals(blocks hcl.Blocks, evalCtx *hcl.EvalContext) (map[string]cty.Value, error) {
	pending := map[string]*hcl.Attribute{}
	for _, block := range blocks {
		attrs, diags := block.Body.JustAttributes()
		if diags.HasErrors() {
			return nil, diags
		}
		for name, attr := range attrs {
			if prev, ok := pending[name]; ok {
				return nil, fmt.Errorf("local '%s' is declared at both %s and %s", name, prev.NameRange, attr.NameRange)
			}
			pending[name] = attr
		}
	}

	values := map[string]cty.Value{}
	for len(pending) > 0 {
		names := make([]string, 0, len(pending))
		for name := range pending {
			names = append(names, name)
		}
		sort.Strings(names)

		progressed := false
		for _, name := range names {
			attr := pending[name]
			if waitsOnPending(attr.Expr, pending) {
				continue
			}
			evalCtx.Variables["local"] = cty.ObjectVal(values)
			val, diags := attr.Expr.Value(evalCtx)
			if diags.HasErrors() {
				return nil, diags
			}
			values[name] = val
			delete(pending, name)
			progressed = true
		}

		if !progressed {
			var refs []string
			for _, name := range names {
				for _, t := range pending[name].Expr.Variables() {
					refs = append(refs, fmt.Sprintf("%s -> %s", name, traversalKey(t)))
				}
			}
			return nil, fmt.Errorf("locals form a cycle: %s", strings.Join(refs, ", "))
		}
	}
	return values, nil
}

// waitsOnPending reports whether expr references a local not yet evaluated.
func waitsOnPending(expr hcl.Expression, pending map[string]*hcl.Attribute) bool {
	for _, t := range expr.Variables() {
		if t.RootName() != "local" || len(t) < 2 {
			continue
		}
		if attr, ok := t[1].(hcl.TraverseAttr); ok {
			if _, waiting := pending[attr.Name]; waiting {
				return true
			}
		}
	}
	return false
}

func decodeApp(block *hcl.Block, evalCtx *hcl.EvalContext) (*config.App, error) {
	var ab AppBlock
	if diags := gohcl.DecodeBody(block.Body, evalCtx, &ab); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode app '%s': %w", block.Labels[0], diags)
	}
	return &config.App{
		Name:    block.Labels[0],
		Account: ab.Account,
		Region:  ab.Region,
		Tags:    ab.Tags,
	}, nil
}

// appValue exposes the app block to later expressions as `app`.
func appValue(a *config.App) (cty.Value, error) {
	tags := a.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	tagsVal, err := NewConverter().ToCtyValue(tags)
	if err != nil {
		return cty.NilVal, fmt.Errorf("app '%s' tags: %w", a.Name, err)
	}
	return cty.ObjectVal(map[string]cty.Value{
		"name":    cty.StringVal(a.Name),
		"account": cty.StringVal(a.Account),
		"region":  cty.StringVal(a.Region),
		"tags":    tagsVal,
	}), nil
}

func decodePipeline(block *hcl.Block, evalCtx *hcl.EvalContext) (*config.Pipeline, error) {
	var pb PipelineBlock
	if diags := gohcl.DecodeBody(block.Body, evalCtx, &pb); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode pipeline '%s': %w", block.Labels[0], diags)
	}
	return translatePipeline(block.Labels[0], &pb)
}

func decodeStage(block *hcl.Block, evalCtx *hcl.EvalContext) (*config.Stage, error) {
	content, remain, diags := block.Body.PartialContent(stageSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode stage '%s': %w", block.Labels[1], diags)
	}

	var stageName string
	if attr, ok := content.Attributes["stage_name"]; ok {
		if diags := gohcl.DecodeExpression(attr.Expr, evalCtx, &stageName); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode stage '%s': %w", block.Labels[1], diags)
		}
	}

	return &config.Stage{
		Kind:      block.Labels[0],
		Name:      block.Labels[1],
		StageName: stageName,
		BaseDir:   filepath.Dir(block.DefRange.Filename),
		Body:      remain,
		EvalCtx:   evalCtx,
		DeclRange: block.DefRange,
	}, nil
}
