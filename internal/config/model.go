package config

import (
	"github.com/hashicorp/hcl/v2"
)

// Model is the unified, format-agnostic representation of every descriptor
// of one deployment: the entry (app), the pipeline and the stages.
type Model struct {
	App      *App
	Pipeline *Pipeline
	Stages   []*Stage
}

// Stage returns the declared stage with the given name.
func (m *Model) Stage(name string) (*Stage, bool) {
	for _, s := range m.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// App is the entry descriptor: the target environment and application name.
type App struct {
	Name    string
	Account string
	Region  string
	Tags    map[string]string
}

// Pipeline is the self-mutating delivery pipeline descriptor.
type Pipeline struct {
	Name                  string
	PipelineName          string
	StackName             string
	Description           string
	TerminationProtection bool
	Tags                  map[string]string

	SelfMutation                  bool
	CrossAccountKeys              bool
	EnableKeyRotation             bool
	PublishAssetsInParallel       bool
	UseChangeSets                 bool
	// ReuseCrossRegionSupportStacks is accepted for parity with existing
	// descriptors. Waves must deploy in the pipeline region, so no support
	// stacks are ever needed.
	ReuseCrossRegionSupportStacks bool
	SecurityChecks                bool

	BuildEnvironment *BuildEnvironment
	LogGroups        map[string]*LogGroup
	Sources          []*Source
	Synth            *Synth
	Waves            []*Wave
}

// Source returns the declared source connection with the given name.
func (p *Pipeline) Source(name string) (*Source, bool) {
	for _, s := range p.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Pipeline phases that own a build project and a log group.
const (
	PhaseSynth      = "synth"
	PhaseSelfMutate = "self_mutate"
	PhaseAssets     = "assets"
)

// BuildEnvironment is the compute environment shared by all build projects.
type BuildEnvironment struct {
	Image                string
	ComputeType          string
	Privileged           bool
	EnvironmentVariables map[string]string
}

// LogGroup is the log destination of one pipeline phase.
type LogGroup struct {
	Phase         string
	Name          string
	RetentionDays int
	RemovalPolicy string
}

// Source is a repository connection feeding the pipeline.
type Source struct {
	Name          string
	Repository    string
	Branch        string
	ConnectionArn string
	CloneOutput   bool
}

// Synth is the build step producing the cloud assembly.
type Synth struct {
	Input                  string
	AdditionalInputs       map[string]string
	InstallCommands        []string
	Commands               []string
	PrimaryOutputDirectory string
}

// Wave is a group of stages deployed after the asset phase.
type Wave struct {
	Name   string
	Stages []string
}

// Stage is a deployable unit instantiated by a registered builder. Its body
// is decoded lazily through the Converter once the builder is known.
type Stage struct {
	Kind      string
	Name      string
	StageName string
	BaseDir   string
	Body      hcl.Body
	EvalCtx   *hcl.EvalContext
	DeclRange hcl.Range
}
