package hcl_adapter

import (
	"github.com/hashicorp/hcl/v2"
)

// rootSchema lists every top-level block a descriptor file may contain.
var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "locals"},
		{Type: "app", LabelNames: []string{"name"}},
		{Type: "pipeline", LabelNames: []string{"name"}},
		{Type: "stage", LabelNames: []string{"kind", "name"}},
	},
}

// stageSchema holds the stage attributes owned by the loader. Everything
// else in a stage body belongs to the stage builder.
var stageSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "stage_name"},
	},
}

// AppBlock is the entry descriptor.
type AppBlock struct {
	Account string            `hcl:"account,optional"`
	Region  string            `hcl:"region,optional"`
	Tags    map[string]string `hcl:"tags,optional"`
}

// PipelineBlock is the delivery pipeline descriptor. Optional flags are
// pointers so unset values fall back to the pipeline defaults.
type PipelineBlock struct {
	PipelineName                  string            `hcl:"pipeline_name,optional"`
	StackName                     string            `hcl:"stack_name,optional"`
	Description                   string            `hcl:"description,optional"`
	TerminationProtection         *bool             `hcl:"termination_protection,optional"`
	Tags                          map[string]string `hcl:"tags,optional"`
	SelfMutation                  *bool             `hcl:"self_mutation,optional"`
	CrossAccountKeys              *bool             `hcl:"cross_account_keys,optional"`
	EnableKeyRotation             *bool             `hcl:"enable_key_rotation,optional"`
	PublishAssetsInParallel       *bool             `hcl:"publish_assets_in_parallel,optional"`
	UseChangeSets                 *bool             `hcl:"use_change_sets,optional"`
	ReuseCrossRegionSupportStacks *bool             `hcl:"reuse_cross_region_support_stacks,optional"`
	SecurityChecks                *bool             `hcl:"security_checks,optional"`

	BuildEnvironment *BuildEnvironmentBlock `hcl:"build_environment,block"`
	LogGroups        []*LogGroupBlock       `hcl:"log_group,block"`
	Sources          []*SourceBlock         `hcl:"source,block"`
	Synth            *SynthBlock            `hcl:"synth,block"`
	Waves            []*WaveBlock           `hcl:"wave,block"`
}

// BuildEnvironmentBlock is the compute environment of all build projects.
type BuildEnvironmentBlock struct {
	Image                string            `hcl:"image,optional"`
	ComputeType          string            `hcl:"compute_type,optional"`
	Privileged           bool              `hcl:"privileged,optional"`
	EnvironmentVariables map[string]string `hcl:"environment_variables,optional"`
}

// LogGroupBlock binds a log group to a pipeline phase.
type LogGroupBlock struct {
	Phase         string `hcl:"phase,label"`
	Name          string `hcl:"name"`
	RetentionDays int    `hcl:"retention_days,optional"`
	RemovalPolicy string `hcl:"removal_policy,optional"`
}

// SourceBlock is a repository connection.
type SourceBlock struct {
	Name          string `hcl:"name,label"`
	Repository    string `hcl:"repository"`
	Branch        string `hcl:"branch,optional"`
	ConnectionArn string `hcl:"connection_arn"`
	CloneOutput   bool   `hcl:"clone_output,optional"`
}

// SynthBlock is the build step producing the cloud assembly.
type SynthBlock struct {
	Input                  string            `hcl:"input"`
	AdditionalInputs       map[string]string `hcl:"additional_inputs,optional"`
	InstallCommands        []string          `hcl:"install_commands,optional"`
	Commands               []string          `hcl:"commands"`
	PrimaryOutputDirectory string            `hcl:"primary_output_directory,optional"`
}

// WaveBlock is a group of stages deployed together.
type WaveBlock struct {
	Name   string   `hcl:"name,label"`
	Stages []string `hcl:"stages"`
}
