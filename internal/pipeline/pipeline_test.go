package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/specialistvlad/steloinfra/internal/assembly"
	"github.com/specialistvlad/steloinfra/internal/assets"
	"github.com/specialistvlad/steloinfra/internal/cfn"
	"github.com/specialistvlad/steloinfra/internal/config"
	"github.com/specialistvlad/steloinfra/internal/nag"
	"github.com/specialistvlad/steloinfra/internal/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

const connArn = "arn:aws:codestar-connections:us-east-1:123456789012:connection/abc"

func steloApp() *config.App {
	return &config.App{
		Name:    "stelo-web",
		Account: "123456789012",
		Region:  "us-east-1",
		Tags:    map[string]string{"stelo:app": "website"},
	}
}

func steloPipeline() *config.Pipeline {
	return &config.Pipeline{
		Name:                          "stelo-web",
		StackName:                     "stelo-web-pipeline",
		Description:                   "Stack to manage Stelo websites pipeline",
		TerminationProtection:         true,
		Tags:                          map[string]string{"stelo:website:entity": "pipeline"},
		SelfMutation:                  true,
		CrossAccountKeys:              true,
		EnableKeyRotation:             true,
		UseChangeSets:                 true,
		ReuseCrossRegionSupportStacks: true,
		SecurityChecks:                true,
		BuildEnvironment: &config.BuildEnvironment{
			Image:       DefaultBuildImage,
			ComputeType: DefaultComputeType,
			EnvironmentVariables: map[string]string{
				"STELO_SITE_GIT_CONN_ARN": connArn,
				"STELO_SITE_ACCOUNT":      "123456789012",
			},
		},
		LogGroups: map[string]*config.LogGroup{
			config.PhaseSynth:      {Phase: config.PhaseSynth, Name: "/aws/codebuild/stelo-web-synth", RetentionDays: 180, RemovalPolicy: "Delete"},
			config.PhaseSelfMutate: {Phase: config.PhaseSelfMutate, Name: "/aws/codebuild/stelo-web-mutate", RetentionDays: 180, RemovalPolicy: "Delete"},
			config.PhaseAssets:     {Phase: config.PhaseAssets, Name: "/aws/codebuild/stelo-web-assets", RetentionDays: 180, RemovalPolicy: "Delete"},
		},
		Sources: []*config.Source{
			{Name: "cdk.stelo.me", Repository: "jfkisafk/cdk.stelo.me", Branch: "main", ConnectionArn: connArn, CloneOutput: true},
			{Name: "stelo.cdn", Repository: "jfkisafk/stelo.cdn", Branch: "main", ConnectionArn: connArn, CloneOutput: true},
		},
		Synth: &config.Synth{
			Input:            "cdk.stelo.me",
			AdditionalInputs: map[string]string{"../cdn": "stelo.cdn"},
			Commands:         []string{"go run ./cmd/cli synth"},
		},
		Waves: []*config.Wave{{Name: "Global", Stages: []string{"CDN"}}},
	}
}

// cdnStage synthesizes a one-stack stage carrying a single file asset.
func cdnStage(t *testing.T) *assembly.StageArtifact {
	t.Helper()
	ctx := context.Background()

	site := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(site, "index.html"), []byte("<html></html>"), 0o644))
	asset, err := assets.Stage(ctx, site, "CDNStack/AssetsDeployment/Asset1")
	require.NoError(t, err)

	env := stack.Environment{Account: "123456789012", Region: "us-east-1"}
	s := stack.New("CDNStack", stack.Props{StackName: "stelo-web-cdn"})
	_, key := s.AddFileAsset(asset)
	s.Add("Bucket", "AWS::S3::Bucket", cfn.Props{"Tags": []any{map[string]any{"Key": "asset", "Value": key}}})

	st := stack.NewStage("CDN", "stelo-web-cdn", env)
	require.NoError(t, st.AddStack(s))

	tmpl, err := s.Synthesize(ctx)
	require.NoError(t, err)
	a, err := assembly.NewArtifact(s, tmpl, nil)
	require.NoError(t, err)
	return &assembly.StageArtifact{Stage: st, Artifacts: []*assembly.Artifact{a}}
}

func synth(t *testing.T, p *config.Pipeline, stages ...*assembly.StageArtifact) *cfn.Template {
	t.Helper()
	s, err := Build(context.Background(), steloApp(), p, stages)
	require.NoError(t, err)
	tmpl, err := s.Synthesize(context.Background())
	require.NoError(t, err)
	return tmpl
}

func onlyResource(t *testing.T, tmpl *cfn.Template, resourceType string) *cfn.Resource {
	t.Helper()
	ids := tmpl.ResourcesOfType(resourceType)
	require.Len(t, ids, 1, resourceType)
	return tmpl.Resources[ids[0]]
}

func projectByDescription(t *testing.T, tmpl *cfn.Template, suffix string) *cfn.Resource {
	t.Helper()
	for _, id := range tmpl.ResourcesOfType("AWS::CodeBuild::Project") {
		res := tmpl.Resources[id]
		if d, _ := res.Properties["Description"].(string); strings.HasSuffix(d, suffix) {
			return res
		}
	}
	t.Fatalf("no project described as %q", suffix)
	return nil
}

func buildSpecOf(t *testing.T, project *cfn.Resource) *BuildSpec {
	t.Helper()
	body, ok := cfn.LookupString(project.Properties, "Source", "BuildSpec")
	require.True(t, ok)
	spec := &BuildSpec{}
	require.NoError(t, yaml.Unmarshal([]byte(body), spec))
	return spec
}

func stageNames(t *testing.T, tmpl *cfn.Template) []string {
	t.Helper()
	pipe := onlyResource(t, tmpl, "AWS::CodePipeline::Pipeline")
	stages, ok := pipe.Properties["Stages"].([]any)
	require.True(t, ok)
	var names []string
	for _, st := range stages {
		name, _ := cfn.LookupString(st, "Name")
		names = append(names, name)
	}
	return names
}

func actionsOf(t *testing.T, tmpl *cfn.Template, stage string) []any {
	t.Helper()
	pipe := onlyResource(t, tmpl, "AWS::CodePipeline::Pipeline")
	for _, st := range pipe.Properties["Stages"].([]any) {
		if name, _ := cfn.LookupString(st, "Name"); name == stage {
			actions, _ := cfn.Lookup(st, "Actions")
			return actions.([]any)
		}
	}
	t.Fatalf("pipeline has no stage %q", stage)
	return nil
}

func TestBuild_StageOrder(t *testing.T) {
	tmpl := synth(t, steloPipeline(), cdnStage(t))
	assert.Equal(t, []string{"Source", "Build", "UpdatePipeline", "Assets", "Global"}, stageNames(t, tmpl))

	pipe := onlyResource(t, tmpl, "AWS::CodePipeline::Pipeline")
	assert.Equal(t, "stelo-web", pipe.Properties["Name"])
	assert.Equal(t, true, pipe.Properties["RestartExecutionOnUpdate"])
	assert.Len(t, pipe.DependsOn, 5, "pipeline role, its policy and three project policies")
}

func TestStageOrder(t *testing.T) {
	tests := []struct {
		name      string
		mutate    bool
		hasAssets bool
		waves     []string
		want      []string
		wantErr   string
	}{
		{
			name:   "no self mutation no assets",
			waves:  []string{"Global"},
			want:   []string{"Source", "Build", "Global"},
			mutate: false,
		},
		{
			name:      "waves keep declaration order",
			mutate:    true,
			hasAssets: true,
			waves:     []string{"Beta", "Prod"},
			want:      []string{"Source", "Build", "UpdatePipeline", "Assets", "Beta", "Prod"},
		},
		{
			name:    "duplicate wave",
			waves:   []string{"Global", "Global"},
			wantErr: "declared more than once",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &config.Pipeline{SelfMutation: tt.mutate}
			for _, w := range tt.waves {
				p.Waves = append(p.Waves, &config.Wave{Name: w})
			}
			got, err := StageOrder(p, tt.hasAssets)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuild_LogGroupsAndProjects(t *testing.T) {
	tmpl := synth(t, steloPipeline(), cdnStage(t))

	groups := map[string]*cfn.Resource{}
	for _, id := range tmpl.ResourcesOfType("AWS::Logs::LogGroup") {
		res := tmpl.Resources[id]
		groups[res.Properties["LogGroupName"].(string)] = res
	}
	require.Len(t, groups, 3)
	for _, name := range []string{"/aws/codebuild/stelo-web-synth", "/aws/codebuild/stelo-web-mutate", "/aws/codebuild/stelo-web-assets"} {
		lg, ok := groups[name]
		require.True(t, ok, name)
		assert.Equal(t, 180, lg.Properties["RetentionInDays"])
		assert.Equal(t, cfn.PolicyDelete, lg.DeletionPolicy)
	}

	require.Len(t, tmpl.ResourcesOfType("AWS::CodeBuild::Project"), 3)
	synthProject := projectByDescription(t, tmpl, "/Build/Synth")
	env := synthProject.Properties["Environment"]
	image, _ := cfn.LookupString(env, "Image")
	kind, _ := cfn.LookupString(env, "Type")
	compute, _ := cfn.LookupString(env, "ComputeType")
	assert.Equal(t, "aws/codebuild/amazonlinux2-aarch64-standard:3.0", image)
	assert.Equal(t, "ARM_CONTAINER", kind)
	assert.Equal(t, "BUILD_GENERAL1_SMALL", compute)

	vars, _ := cfn.Lookup(env, "EnvironmentVariables")
	assert.Equal(t, []any{
		map[string]any{"Name": "STELO_SITE_ACCOUNT", "Type": "PLAINTEXT", "Value": "123456789012"},
		map[string]any{"Name": "STELO_SITE_GIT_CONN_ARN", "Type": "PLAINTEXT", "Value": connArn},
	}, vars)

	group, _ := cfn.Lookup(synthProject.Properties, "LogsConfig", "CloudWatchLogs", "GroupName")
	synthGroupID := ""
	for _, id := range tmpl.ResourcesOfType("AWS::Logs::LogGroup") {
		if tmpl.Resources[id].Properties["LogGroupName"] == "/aws/codebuild/stelo-web-synth" {
			synthGroupID = id
		}
	}
	assert.Equal(t, cfn.Ref(synthGroupID), group)

	key := tmpl.ResourcesOfType("AWS::KMS::Key")
	require.Len(t, key, 1)
	assert.Equal(t, cfn.GetAtt(key[0], "Arn"), synthProject.Properties["EncryptionKey"])
}

func TestBuild_SynthStep(t *testing.T) {
	tmpl := synth(t, steloPipeline(), cdnStage(t))

	spec := buildSpecOf(t, projectByDescription(t, tmpl, "/Build/Synth"))
	assert.Equal(t, "0.2", spec.Version)
	require.NotNil(t, spec.Artifacts)
	assert.Equal(t, "cdk.out", spec.Artifacts.BaseDirectory)

	build := spec.Phases["build"].Commands
	require.Len(t, build, 2)
	assert.Contains(t, build[0], `ln -s -- "$CODEBUILD_SRC_DIR_jfkisafk_stelo_cdn_Source" "../cdn"`)
	assert.Equal(t, "go run ./cmd/cli synth", build[1])

	sources := actionsOf(t, tmpl, "Source")
	require.Len(t, sources, 2)
	repo, _ := cfn.LookupString(sources[0], "Configuration", "FullRepositoryId")
	format, _ := cfn.LookupString(sources[0], "Configuration", "OutputArtifactFormat")
	assert.Equal(t, "jfkisafk/cdk.stelo.me", repo)
	assert.Equal(t, "CODEBUILD_CLONE_REF", format)
	name, _ := cfn.LookupString(sources[1], "Name")
	assert.Equal(t, "stelo.cdn", name)

	synthAction := actionsOf(t, tmpl, "Build")[0]
	primary, _ := cfn.LookupString(synthAction, "Configuration", "PrimarySource")
	assert.Equal(t, "jfkisafk_cdk_stelo_me_Source", primary)
	out, _ := cfn.LookupString(synthAction, "OutputArtifacts", 0, "Name")
	assert.Equal(t, SynthOutput, out)
}

func TestBuild_SelfMutation(t *testing.T) {
	tmpl := synth(t, steloPipeline(), cdnStage(t))
	spec := buildSpecOf(t, projectByDescription(t, tmpl, "/UpdatePipeline/SelfMutate"))
	assert.Equal(t, []string{"cdk -a . deploy Pipeline --require-approval=never --verbose"}, spec.Phases["build"].Commands)

	p := steloPipeline()
	p.SelfMutation = false
	tmpl = synth(t, p, cdnStage(t))
	assert.NotContains(t, stageNames(t, tmpl), PhaseUpdatePipeline)
	assert.Len(t, tmpl.ResourcesOfType("AWS::CodeBuild::Project"), 2)
}

func TestBuild_AssetPublishing(t *testing.T) {
	stage := cdnStage(t)
	published := stage.PublishedAssets()
	require.Len(t, published, 2, "site asset and stack template")

	t.Run("sequential", func(t *testing.T) {
		tmpl := synth(t, steloPipeline(), stage)
		actions := actionsOf(t, tmpl, "Assets")
		require.Len(t, actions, 1)
		spec := buildSpecOf(t, projectByDescription(t, tmpl, "/Assets/FileAsset"))
		commands := spec.Phases["build"].Commands
		require.Len(t, commands, 2)
		for i, a := range published {
			assert.Equal(t, `cdk-assets --path "assembly-CDN/CDNStack.assets.json" --verbose publish "`+a.Selector()+`"`, commands[i])
		}
	})

	t.Run("parallel", func(t *testing.T) {
		p := steloPipeline()
		p.PublishAssetsInParallel = true
		tmpl := synth(t, p, stage)
		actions := actionsOf(t, tmpl, "Assets")
		require.Len(t, actions, 2)
		name, _ := cfn.LookupString(actions[1], "Name")
		assert.Equal(t, "FileAsset2", name)
	})
}

func TestBuild_WaveDeploysWithChangeSets(t *testing.T) {
	tmpl := synth(t, steloPipeline(), cdnStage(t))
	actions := actionsOf(t, tmpl, "Global")
	require.Len(t, actions, 2)

	prepare, deploy := actions[0], actions[1]
	name, _ := cfn.LookupString(prepare, "Name")
	mode, _ := cfn.LookupString(prepare, "Configuration", "ActionMode")
	path, _ := cfn.LookupString(prepare, "Configuration", "TemplatePath")
	stackName, _ := cfn.LookupString(prepare, "Configuration", "StackName")
	assert.Equal(t, "stelo-web-cdn.CDNStack.Prepare", name)
	assert.Equal(t, "CHANGE_SET_REPLACE", mode)
	assert.Equal(t, "Synth_Output::assembly-CDN/CDNStack.template.json", path)
	assert.Equal(t, "stelo-web-cdn", stackName)

	role, _ := cfn.Lookup(prepare, "RoleArn")
	assert.Equal(t, cfn.Sub("arn:${AWS::Partition}:iam::123456789012:role/cdk-hnb659fds-deploy-role-123456789012-us-east-1"), role)

	mode, _ = cfn.LookupString(deploy, "Configuration", "ActionMode")
	order, _ := cfn.Lookup(deploy, "RunOrder")
	assert.Equal(t, "CHANGE_SET_EXECUTE", mode)
	assert.Equal(t, 2, order)

	p := steloPipeline()
	p.UseChangeSets = false
	actions = actionsOf(t, synth(t, p, cdnStage(t)), "Global")
	require.Len(t, actions, 1)
	mode, _ = cfn.LookupString(actions[0], "Configuration", "ActionMode")
	assert.Equal(t, "CREATE_UPDATE", mode)
}

func TestBuild_ArtifactStore(t *testing.T) {
	t.Run("cross account keys", func(t *testing.T) {
		tmpl := synth(t, steloPipeline(), cdnStage(t))
		key := onlyResource(t, tmpl, "AWS::KMS::Key")
		assert.Equal(t, true, key.Properties["EnableKeyRotation"])
		alias := onlyResource(t, tmpl, "AWS::KMS::Alias")
		assert.Equal(t, "alias/codepipeline-stelo-web-pipeline", alias.Properties["AliasName"])

		bucket := onlyResource(t, tmpl, "AWS::S3::Bucket")
		algo, _ := cfn.LookupString(bucket.Properties, "BucketEncryption", "ServerSideEncryptionConfiguration", 0, "ServerSideEncryptionByDefault", "SSEAlgorithm")
		assert.Equal(t, "aws:kms", algo)
	})

	t.Run("s3 managed key", func(t *testing.T) {
		p := steloPipeline()
		p.CrossAccountKeys = false
		tmpl := synth(t, p, cdnStage(t))
		assert.Empty(t, tmpl.ResourcesOfType("AWS::KMS::Key"))
		project := projectByDescription(t, tmpl, "/Build/Synth")
		assert.Equal(t, "alias/aws/s3", project.Properties["EncryptionKey"])

		report := nag.Run(context.Background(), StackID, tmpl, nag.AwsSolutions(), false)
		assert.Empty(t, report.Findings(nag.LevelError))
	})
}

func TestBuild_TagsAndSecurityChecks(t *testing.T) {
	s, err := Build(context.Background(), steloApp(), steloPipeline(), []*assembly.StageArtifact{cdnStage(t)})
	require.NoError(t, err)
	assert.Equal(t, "stelo-web-pipeline", s.Name())
	assert.True(t, s.TerminationProtection)
	assert.Equal(t, map[string]string{"stelo:app": "website", "stelo:website:entity": "pipeline"}, s.Tags)

	tmpl, err := s.Synthesize(context.Background())
	require.NoError(t, err)
	report := nag.Run(context.Background(), StackID, tmpl, nag.AwsSolutions(), false)
	assert.Empty(t, report.Findings(nag.LevelError))
	assert.Empty(t, report.Findings(nag.LevelWarning))
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *config.Pipeline)
		wantErr string
	}{
		{
			name:    "stage not synthesized",
			mutate:  func(p *config.Pipeline) { p.Waves[0].Stages = []string{"Missing"} },
			wantErr: "stage 'Missing' was not synthesized",
		},
		{
			name:    "wave shadows fixed stage",
			mutate:  func(p *config.Pipeline) { p.Waves[0].Name = "Assets" },
			wantErr: "wave 'Assets' shadows a fixed pipeline stage",
		},
		{
			name:    "bad removal policy",
			mutate:  func(p *config.Pipeline) { p.LogGroups[config.PhaseSynth].RemovalPolicy = "Snapshot" },
			wantErr: "removal_policy 'Snapshot'",
		},
		{
			name:    "no synth",
			mutate:  func(p *config.Pipeline) { p.Synth = nil },
			wantErr: "has no synth block",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := steloPipeline()
			tt.mutate(p)
			_, err := Build(context.Background(), steloApp(), p, []*assembly.StageArtifact{cdnStage(t)})
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestBuild_RejectsCrossRegionWaves(t *testing.T) {
	stage := cdnStage(t)
	stage.Artifacts[0].Stack.Env.Region = "eu-west-1"

	_, err := Build(context.Background(), steloApp(), steloPipeline(), []*assembly.StageArtifact{stage})
	require.ErrorContains(t, err, "wave 'Global': stack 'CDNStack' deploys to region 'eu-west-1' outside the pipeline region 'us-east-1'")

	stage.Artifacts[0].Stack.Env.Region = "us-east-1"
	_, err = Build(context.Background(), steloApp(), steloPipeline(), []*assembly.StageArtifact{stage})
	require.NoError(t, err)
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "jfkisafk_cdk_stelo_me_Source", ArtifactName("jfkisafk/cdk.stelo.me"))
	assert.Equal(t, "jfkisafk_stelo_cdn_Source", ArtifactName("jfkisafk/stelo.cdn"))
}
