// Package pipeline declares the self-mutating delivery pipeline stack: an
// encrypted artifact store, one CodeBuild project per phase, the source
// connections and one deployment stage per wave.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/specialistvlad/steloinfra/internal/assembly"
	"github.com/specialistvlad/steloinfra/internal/cfn"
	"github.com/specialistvlad/steloinfra/internal/config"
	"github.com/specialistvlad/steloinfra/internal/ctxlog"
	"github.com/specialistvlad/steloinfra/internal/dag"
	"github.com/specialistvlad/steloinfra/internal/stack"
)

// StackID is the construct ID of the pipeline stack.
const StackID = "Pipeline"

// Build environment defaults.
const (
	DefaultBuildImage  = "aws/codebuild/amazonlinux2-aarch64-standard:3.0"
	DefaultComputeType = "BUILD_GENERAL1_SMALL"
)

// Fixed pipeline stages preceding the deployment waves.
const (
	PhaseSource         = "Source"
	PhaseBuild          = "Build"
	PhaseUpdatePipeline = "UpdatePipeline"
	PhaseAssets         = "Assets"
)

// SynthOutput is the artifact carrying the cloud assembly between stages.
const SynthOutput = "Synth_Output"

// ChangeSetName is the change set prepared and executed per stack.
const ChangeSetName = "PipelineChange"

type builder struct {
	ctx   context.Context
	app   *config.App
	p     *config.Pipeline
	s     *stack.Stack
	env   stack.Environment
	waves map[string][]*assembly.StageArtifact

	key, bucket, role *stack.Resource
	logGroups         map[string]*stack.Resource

	synth, mutate *stack.Resource
	assetRole     *stack.Resource
	assetProjects []assetProject
	policies      []*stack.Resource
}

// Build declares the pipeline stack. stages are the synthesized stages the
// pipeline's waves deploy, matched by stage ID.
func Build(ctx context.Context, app *config.App, p *config.Pipeline, stages []*assembly.StageArtifact) (*stack.Stack, error) {
	ctx, logger := ctxlog.With(ctx, "pipeline", p.Name)

	byID := make(map[string]*assembly.StageArtifact, len(stages))
	for _, st := range stages {
		byID[st.Stage.ID] = st
	}

	var errs config.Errors
	waves := make(map[string][]*assembly.StageArtifact, len(p.Waves))
	for _, w := range p.Waves {
		switch w.Name {
		case PhaseSource, PhaseBuild, PhaseUpdatePipeline, PhaseAssets:
			errs.Add("wave '%s' shadows a fixed pipeline stage", w.Name)
		}
		for _, name := range w.Stages {
			st, ok := byID[name]
			if !ok {
				errs.Add("wave '%s': stage '%s' was not synthesized", w.Name, name)
				continue
			}
			for _, a := range st.Artifacts {
				if r := a.Stack.Env.Region; r != "" && app.Region != "" && r != app.Region {
					errs.Add("wave '%s': stack '%s' deploys to region '%s' outside the pipeline region '%s'", w.Name, a.Stack.ID, r, app.Region)
				}
			}
			waves[w.Name] = append(waves[w.Name], st)
		}
	}
	for phase, lg := range p.LogGroups {
		if lg.RemovalPolicy != "" && lg.RemovalPolicy != cfn.PolicyDelete && lg.RemovalPolicy != cfn.PolicyRetain {
			errs.Add("log group for phase '%s': removal_policy '%s' must be Delete or Retain", phase, lg.RemovalPolicy)
		}
	}
	if p.Synth == nil {
		errs.Add("pipeline '%s' has no synth block", p.Name)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	tags := map[string]string{}
	for k, v := range app.Tags {
		tags[k] = v
	}
	for k, v := range p.Tags {
		tags[k] = v
	}

	env := stack.Environment{Account: app.Account, Region: app.Region}
	s := stack.New(StackID, stack.Props{
		StackName:             orDefault(p.StackName, p.Name+"-pipeline"),
		Description:           p.Description,
		TerminationProtection: p.TerminationProtection,
		Env:                   env,
		Tags:                  tags,
		SecurityChecks:        p.SecurityChecks,
	})

	b := &builder{ctx: ctx, app: app, p: p, s: s, env: env, waves: waves, logGroups: map[string]*stack.Resource{}}
	steps := []func() error{
		b.artifactStore,
		b.pipelineRole,
		b.phaseLogGroups,
		b.synthProject,
		b.selfMutationProject,
		b.assetPublishing,
		b.pipeline,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	logger.Info("Pipeline stack declared.", "resources", len(s.Resources()), "waves", len(p.Waves), "assets", b.assetCount())
	return s, nil
}

// StageOrder returns the pipeline stages in execution order. Each stage
// depends on the one feeding it, and every wave waits for the assets.
func StageOrder(p *config.Pipeline, hasAssets bool) ([]string, error) {
	g := dag.New()
	add := func(id string) error {
		if g.HasNode(id) {
			return fmt.Errorf("pipeline stage '%s' is declared more than once", id)
		}
		g.AddNode(id)
		return nil
	}

	chain := []string{PhaseSource, PhaseBuild}
	if p.SelfMutation {
		chain = append(chain, PhaseUpdatePipeline)
	}
	if hasAssets {
		chain = append(chain, PhaseAssets)
	}
	fixed := len(chain)
	for _, w := range p.Waves {
		chain = append(chain, w.Name)
	}

	for _, id := range chain {
		if err := add(id); err != nil {
			return nil, err
		}
	}
	for i := 1; i < len(chain); i++ {
		if err := g.AddEdge(chain[i-1], chain[i]); err != nil {
			return nil, err
		}
	}
	// Every later stage consumes the synth output, and waves wait for the
	// last fixed stage.
	for _, id := range chain[2:] {
		if err := g.AddEdge(PhaseBuild, id); err != nil {
			return nil, err
		}
	}
	for _, id := range chain[fixed:] {
		if err := g.AddEdge(chain[fixed-1], id); err != nil {
			return nil, err
		}
	}
	return g.TopologicalSort()
}

func (b *builder) assetCount() int {
	n := 0
	for _, p := range b.assetProjects {
		n += len(p.assets)
	}
	return n
}

// deployTargets returns the environments the waves deploy into, deduplicated.
func (b *builder) deployTargets() []stack.Environment {
	var out []stack.Environment
	seen := map[string]bool{}
	for _, w := range b.p.Waves {
		for _, st := range b.waves[w.Name] {
			for _, a := range st.Artifacts {
				name := a.Stack.Env.Name()
				if !seen[name] {
					seen[name] = true
					out = append(out, a.Stack.Env)
				}
			}
		}
	}
	return out
}

func (b *builder) partitionArn(parts ...any) map[string]any {
	return cfn.Join("", append([]any{"arn:", cfn.Ref(cfn.PseudoPartition)}, parts...)...)
}

func (b *builder) accountRoot(account string) map[string]any {
	if account == "" {
		return b.partitionArn(":iam::", cfn.Ref(cfn.PseudoAccountID), ":root")
	}
	return b.partitionArn(":iam::" + account + ":root")
}

// bootstrapRole renders a bootstrap role ARN for env.
func bootstrapRole(env stack.Environment, pattern string) map[string]any {
	return cfn.Sub(env.Resolve(pattern))
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
