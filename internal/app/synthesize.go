package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/steloinfra/internal/assembly"
	"github.com/specialistvlad/steloinfra/internal/config"
	"github.com/specialistvlad/steloinfra/internal/ctxlog"
	"github.com/specialistvlad/steloinfra/internal/nag"
	"github.com/specialistvlad/steloinfra/internal/pipeline"
	"github.com/specialistvlad/steloinfra/internal/registry"
	"github.com/specialistvlad/steloinfra/internal/stack"
)

// Synthesis is the in-memory result of loading and synthesizing the
// descriptors: the assembly to write and the rule reports of its stacks.
type Synthesis struct {
	Assembly *assembly.Assembly
	Reports  []*nag.Report
}

// Err returns the rule findings that fail synthesis, joined per stack.
func (s *Synthesis) Err(strict bool) error {
	var errs []error
	for _, r := range s.Reports {
		if err := r.Err(strict); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Synthesize loads the descriptors, builds every stage and the pipeline, and
// synthesizes their templates. Nothing is written.
func (a *App) Synthesize(ctx context.Context) (*Synthesis, error) {
	logger := ctxlog.FromContext(ctx)

	model, conv, err := a.loader.Load(ctx, a.config.DescriptorPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load descriptors: %w", err)
	}
	logger.Debug("Descriptors loaded and translated into unified model.")

	if err := model.Validate(); err != nil {
		return nil, err
	}
	if err := a.registry.ValidateRegistry(ctx, model); err != nil {
		return nil, err
	}

	out := &Synthesis{Assembly: &assembly.Assembly{}}
	env := stack.Environment{Account: model.App.Account, Region: model.App.Region}

	for _, st := range model.Stages {
		stageArt, err := a.buildStage(ctx, model, conv, st, env)
		if err != nil {
			return nil, err
		}
		out.Assembly.Stages = append(out.Assembly.Stages, stageArt)
		for _, art := range stageArt.Artifacts {
			out.addReport(art.Report)
		}
	}

	ps, err := pipeline.Build(ctx, model.App, model.Pipeline, out.Assembly.Stages)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline '%s': %w", model.Pipeline.Name, err)
	}
	art, err := a.synthStack(ctx, ps)
	if err != nil {
		return nil, err
	}
	out.Assembly.Artifacts = append(out.Assembly.Artifacts, art)
	out.addReport(art.Report)

	logger.Info("Synthesis complete.", "stages", len(out.Assembly.Stages), "reports", len(out.Reports))
	return out, nil
}

func (s *Synthesis) addReport(r *nag.Report) {
	if r != nil {
		s.Reports = append(s.Reports, r)
	}
}

// buildStage decodes a stage through its registered builder and
// synthesizes the stacks it declares.
func (a *App) buildStage(ctx context.Context, model *config.Model, conv config.Converter, st *config.Stage, env stack.Environment) (*assembly.StageArtifact, error) {
	ctx, logger := ctxlog.With(ctx, "stage", st.Name, "kind", st.Kind)

	handler, ok := a.registry.Stage(st.Kind)
	if !ok {
		return nil, fmt.Errorf("stage '%s' uses unknown kind '%s'", st.Name, st.Kind)
	}

	input := handler.NewInput()
	if err := conv.DecodeStage(ctx, st, input); err != nil {
		return nil, err
	}
	if handler.Validate != nil {
		if err := handler.Validate(input); err != nil {
			return nil, fmt.Errorf("stage '%s': %w", st.Name, err)
		}
	}

	bc := &registry.BuildContext{App: model.App, Stage: st, Env: env, Tags: model.App.Tags}
	stacks, err := handler.Build(ctx, bc, input)
	if err != nil {
		return nil, fmt.Errorf("stage '%s': %w", st.Name, err)
	}

	stage := stack.NewStage(st.Name, st.StageName, env)
	out := &assembly.StageArtifact{Stage: stage}
	for _, s := range stacks {
		if err := stage.AddStack(s); err != nil {
			return nil, err
		}
		art, err := a.synthStack(ctx, s)
		if err != nil {
			return nil, err
		}
		out.Artifacts = append(out.Artifacts, art)
	}

	logger.Debug("Stage synthesized.", "stacks", len(stacks))
	return out, nil
}

// synthStack renders one stack and runs the rule pack when the stack asks
// for security checks.
func (a *App) synthStack(ctx context.Context, s *stack.Stack) (*assembly.Artifact, error) {
	tmpl, err := s.Synthesize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize stack '%s': %w", s.ID, err)
	}

	var report *nag.Report
	if s.SecurityChecks {
		report = nag.Run(ctx, s.ID, tmpl, nag.AwsSolutions(), a.config.Verbose)
	}
	return assembly.NewArtifact(s, tmpl, report)
}
