package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/specialistvlad/steloinfra/internal/assembly"
	"github.com/specialistvlad/steloinfra/internal/cfn"
	"github.com/specialistvlad/steloinfra/internal/config"
	"github.com/specialistvlad/steloinfra/internal/stack"
)

// Tool installs of the framework-facing phases.
const (
	cdkInstall       = "npm install -g aws-cdk@2"
	cdkAssetsInstall = "npm install -g cdk-assets@latest"
)

// assetProject is one asset publishing action and the assets it publishes.
type assetProject struct {
	name    string
	project *stack.Resource
	assets  []assembly.PublishedAsset
}

func (b *builder) pipelineName() string {
	return orDefault(b.p.PipelineName, b.p.Name)
}

// buildEnvironment renders the compute environment shared by all projects.
func (b *builder) buildEnvironment() map[string]any {
	image, compute, privileged := DefaultBuildImage, DefaultComputeType, false
	var vars map[string]string
	if e := b.p.BuildEnvironment; e != nil {
		image = orDefault(e.Image, image)
		compute = orDefault(e.ComputeType, compute)
		privileged = e.Privileged
		vars = e.EnvironmentVariables
	}

	kind := "LINUX_CONTAINER"
	if strings.Contains(image, "aarch64") {
		kind = "ARM_CONTAINER"
	}

	out := map[string]any{
		"ComputeType":              compute,
		"Image":                    image,
		"ImagePullCredentialsType": "CODEBUILD",
		"PrivilegedMode":           privileged,
		"Type":                     kind,
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		list := make([]any, 0, len(names))
		for _, name := range names {
			list = append(list, map[string]any{"Name": name, "Type": "PLAINTEXT", "Value": vars[name]})
		}
		out["EnvironmentVariables"] = list
	}
	return out
}

func (b *builder) project(path, phase, step string, role *stack.Resource, spec *BuildSpec) (*stack.Resource, error) {
	body, err := spec.Render()
	if err != nil {
		return nil, err
	}

	props := cfn.Props{
		"Artifacts":   map[string]any{"Type": "CODEPIPELINE"},
		"Description": fmt.Sprintf("Pipeline step %s/%s", b.pipelineName(), step),
		"Environment": b.buildEnvironment(),
		"ServiceRole": role.Arn(),
		"Source":      map[string]any{"BuildSpec": body, "Type": "CODEPIPELINE"},
	}
	if lg, ok := b.logGroups[phase]; ok {
		props["LogsConfig"] = map[string]any{
			"CloudWatchLogs": map[string]any{"GroupName": lg.Ref(), "Status": "ENABLED"},
		}
	}

	if b.key != nil {
		props["EncryptionKey"] = b.key.Arn()
		return b.s.Add(path, "AWS::CodeBuild::Project", props), nil
	}
	props["EncryptionKey"] = "alias/aws/s3"
	return b.s.Add(path, "AWS::CodeBuild::Project", props).
		Suppress("AwsSolutions-CB4", "Artifacts are encrypted with the S3 managed key"), nil
}

// logGrant lets a project write to its phase log group, or to the default
// /aws/codebuild/<project> group when the phase declares none.
func (b *builder) logGrant(phase string, projects ...*stack.Resource) map[string]any {
	var resources []any
	if lg, ok := b.logGroups[phase]; ok {
		resources = []any{lg.Arn()}
	} else {
		for _, p := range projects {
			group := b.partitionArn(":logs:", cfn.Ref(cfn.PseudoRegion), ":", cfn.Ref(cfn.PseudoAccountID), ":log-group:/aws/codebuild/", p.Ref())
			resources = append(resources, group, cfn.Join("", group, ":*"))
		}
	}
	return map[string]any{
		"Action":   []any{"logs:CreateLogGroup", "logs:CreateLogStream", "logs:PutLogEvents"},
		"Effect":   "Allow",
		"Resource": resources,
	}
}

// sourceArtifact returns the artifact a named source is checked out into.
func (b *builder) sourceArtifact(name string) string {
	if src, ok := b.p.Source(name); ok {
		return ArtifactName(src.Repository)
	}
	return ArtifactName(name)
}

// synthSources returns the sources the synth step reads, primary first.
func (b *builder) synthSources() []*config.Source {
	sy := b.p.Synth
	var out []*config.Source
	if src, ok := b.p.Source(sy.Input); ok {
		out = append(out, src)
	}
	dirs := make([]string, 0, len(sy.AdditionalInputs))
	for dir := range sy.AdditionalInputs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		if src, ok := b.p.Source(sy.AdditionalInputs[dir]); ok {
			out = append(out, src)
		}
	}
	return out
}

func (b *builder) synthProject() error {
	sy := b.p.Synth
	commands := append(mountCommands(sy.AdditionalInputs, b.sourceArtifact), sy.Commands...)
	spec := newBuildSpec(sy.InstallCommands, commands)
	spec.Artifacts = &Artifacts{
		BaseDirectory: orDefault(sy.PrimaryOutputDirectory, "cdk.out"),
		Files:         []string{"**/*"},
	}

	role := b.serviceRole("CodePipeline/Build/Synth/CdkBuildProject/Role/Resource", "codebuild.amazonaws.com")
	project, err := b.project("CodePipeline/Build/Synth/CdkBuildProject/Resource", config.PhaseSynth, "Build/Synth", role, spec)
	if err != nil {
		return err
	}
	b.synth = project

	statements := append(b.artifactGrants(), b.logGrant(config.PhaseSynth, project))
	var clones []any
	for _, src := range b.synthSources() {
		if src.CloneOutput {
			clones = append(clones, src.ConnectionArn)
		}
	}
	if len(clones) > 0 {
		statements = append(statements, map[string]any{
			"Action":   "codestar-connections:UseConnection",
			"Effect":   "Allow",
			"Resource": clones,
		})
	}
	b.policies = append(b.policies, b.rolePolicy(role, "SynthRoleDefaultPolicy", statements))
	return nil
}

func (b *builder) selfMutationProject() error {
	if !b.p.SelfMutation {
		return nil
	}

	spec := newBuildSpec(
		[]string{cdkInstall},
		[]string{fmt.Sprintf("cdk -a . deploy %s --require-approval=never --verbose", StackID)},
	)
	role := b.serviceRole("CodePipeline/UpdatePipeline/SelfMutation/Role/Resource", "codebuild.amazonaws.com")
	project, err := b.project("CodePipeline/UpdatePipeline/SelfMutation/Resource", config.PhaseSelfMutate, "UpdatePipeline/SelfMutate", role, spec)
	if err != nil {
		return err
	}
	b.mutate = project

	statements := append(b.artifactGrants(),
		b.logGrant(config.PhaseSelfMutate, project),
		map[string]any{
			"Action": "sts:AssumeRole",
			"Condition": map[string]any{
				"ForAnyValue:StringEquals": map[string]any{
					"iam:ResourceTag/aws-cdk:bootstrap-role": []any{"image-publishing", "file-publishing", "deploy"},
				},
			},
			"Effect":   "Allow",
			"Resource": b.partitionArn(":iam::*:role/*"),
		},
		map[string]any{
			"Action":   "cloudformation:DescribeStacks",
			"Effect":   "Allow",
			"Resource": "*",
		},
		map[string]any{
			"Action":   "s3:ListBucket",
			"Effect":   "Allow",
			"Resource": "*",
		},
	)
	b.policies = append(b.policies, b.rolePolicy(role, "SelfMutationRoleDefaultPolicy", statements))
	return nil
}

// assetPublishing declares the projects publishing every file asset of the
// deployed stages. Sequential publishing uses one project for all assets.
func (b *builder) assetPublishing() error {
	var published []assembly.PublishedAsset
	for _, w := range b.p.Waves {
		for _, st := range b.waves[w.Name] {
			published = append(published, st.PublishedAssets()...)
		}
	}
	if len(published) == 0 {
		return nil
	}

	groups := [][]assembly.PublishedAsset{published}
	if b.p.PublishAssetsInParallel {
		groups = groups[:0]
		for _, a := range published {
			groups = append(groups, []assembly.PublishedAsset{a})
		}
	}

	b.assetRole = b.serviceRole("CodePipeline/Assets/FileRole/Resource", "codebuild.amazonaws.com")
	projects := make([]*stack.Resource, 0, len(groups))
	for i, group := range groups {
		name := "FileAsset"
		if b.p.PublishAssetsInParallel {
			name = fmt.Sprintf("FileAsset%d", i+1)
		}
		commands := make([]string, 0, len(group))
		for _, a := range group {
			commands = append(commands, fmt.Sprintf("cdk-assets --path %s --verbose publish %s", shellQuote(a.ManifestPath), shellQuote(a.Selector())))
		}
		project, err := b.project("CodePipeline/Assets/"+name+"/Resource", config.PhaseAssets, "Assets/"+name, b.assetRole, newBuildSpec([]string{cdkAssetsInstall}, commands))
		if err != nil {
			return err
		}
		projects = append(projects, project)
		b.assetProjects = append(b.assetProjects, assetProject{name: name, project: project, assets: group})
	}

	var publishingRoles []any
	for _, env := range b.deployTargets() {
		publishingRoles = append(publishingRoles, bootstrapRole(env, stack.FilePublishingRolePattern))
	}
	statements := append(b.artifactGrants(), b.logGrant(config.PhaseAssets, projects...))
	if len(publishingRoles) > 0 {
		statements = append(statements, map[string]any{
			"Action":   "sts:AssumeRole",
			"Effect":   "Allow",
			"Resource": publishingRoles,
		})
	}
	b.policies = append(b.policies, b.rolePolicy(b.assetRole, "AssetsFileRoleDefaultPolicy", statements))
	return nil
}
