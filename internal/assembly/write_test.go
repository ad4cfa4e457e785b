package assembly

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/steloinfra/internal/assets"
	"github.com/specialistvlad/steloinfra/internal/cfn"
	"github.com/specialistvlad/steloinfra/internal/nag"
	"github.com/specialistvlad/steloinfra/internal/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func artifactFor(t *testing.T, s *stack.Stack, withReport bool) *Artifact {
	t.Helper()
	tmpl, err := s.Synthesize(context.Background())
	require.NoError(t, err)
	var report *nag.Report
	if withReport {
		report = nag.Run(context.Background(), s.ID, tmpl, nag.AwsSolutions(), false)
	}
	a, err := NewArtifact(s, tmpl, report)
	require.NoError(t, err)
	return a
}

func testAssembly(t *testing.T) *Assembly {
	t.Helper()
	env := stack.Environment{Account: "123456789012", Region: "us-east-1"}

	site := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(site, "index.html"), []byte("hi"), 0o644))
	asset, err := assets.Stage(context.Background(), site, "CDNStack/AssetsDeployment/Asset1")
	require.NoError(t, err)

	cdn := stack.New("CDNStack", stack.Props{StackName: "stelo-web-cdn", TerminationProtection: true, Env: env})
	bucket, key := cdn.AddFileAsset(asset)
	cdn.Add("Bucket", "AWS::S3::Bucket", cfn.Props{"Tags": []any{map[string]any{"Key": "src", "Value": key}}})
	cdn.AddOutput("AssetsBucket", "", bucket)

	stage := stack.NewStage("CDN", "stelo-web-cdn", env)
	require.NoError(t, stage.AddStack(cdn))

	pipe := stack.New("Pipeline", stack.Props{StackName: "stelo-web-pipeline", Env: env, Tags: map[string]string{"stelo:app": "website"}})
	pipe.Add("Bucket", "AWS::S3::Bucket", nil)

	return &Assembly{
		Artifacts: []*Artifact{artifactFor(t, pipe, false)},
		Stages:    []*StageArtifact{{Stage: stage, Artifacts: []*Artifact{artifactFor(t, cdn, true)}}},
	}
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestWrite_Layout(t *testing.T) {
	asm := testAssembly(t)
	out := filepath.Join(t.TempDir(), "cdk.out")
	require.NoError(t, Write(context.Background(), out, asm, Options{YAML: true}))

	for _, f := range []string{
		"manifest.json",
		"Pipeline.template.json",
		"Pipeline.template.yaml",
		"Pipeline.assets.json",
		"assembly-CDN/manifest.json",
		"assembly-CDN/CDNStack.template.json",
		"assembly-CDN/CDNStack.assets.json",
		"assembly-CDN/AwsSolutions-CDNStack-NagReport.json",
	} {
		assert.FileExists(t, filepath.Join(out, f))
	}
	cdnAsset := asm.Stages[0].Artifacts[0].Stack.Assets()[0]
	assert.FileExists(t, filepath.Join(out, "assembly-CDN", cdnAsset.StagedName(), "index.html"))

	root := readJSON(t, filepath.Join(out, "manifest.json"))
	assert.Equal(t, Version, root["version"])
	stageType, _ := cfn.LookupString(root, "artifacts", "assembly-CDN", "type")
	assert.Equal(t, "cdk:cloud-assembly", stageType)
	stackType, _ := cfn.LookupString(root, "artifacts", "Pipeline", "type")
	assert.Equal(t, "aws:cloudformation:stack", stackType)
	envName, _ := cfn.LookupString(root, "artifacts", "Pipeline", "environment")
	assert.Equal(t, "aws://123456789012/us-east-1", envName)

	nested := readJSON(t, filepath.Join(out, "assembly-CDN", "manifest.json"))
	role, _ := cfn.LookupString(nested, "artifacts", "CDNStack", "properties", "assumeRoleArn")
	assert.Equal(t, "arn:${AWS::Partition}:iam::123456789012:role/cdk-hnb659fds-deploy-role-123456789012-us-east-1", role)
	display, _ := cfn.LookupString(nested, "artifacts", "CDNStack", "displayName")
	assert.Equal(t, "CDN/CDNStack", display)

	m, err := assets.ReadManifest(filepath.Join(out, "assembly-CDN", "CDNStack.assets.json"))
	require.NoError(t, err)
	require.Len(t, m.Files, 2, "site asset and template")
	tmplEntry := m.Files[asm.Stages[0].Artifacts[0].TemplateHash()]
	require.NotNil(t, tmplEntry)
	assert.Equal(t, "CDNStack.template.json", tmplEntry.Source.Path)
	assert.Equal(t, "cdk-hnb659fds-assets-123456789012-us-east-1", tmplEntry.Destinations["123456789012-us-east-1"].BucketName)
}

func TestWrite_RefusesForeignDirectory(t *testing.T) {
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "notes.txt"), []byte("keep"), 0o644))

	err := Write(context.Background(), out, testAssembly(t), Options{})
	require.ErrorContains(t, err, "refusing to overwrite")
	assert.FileExists(t, filepath.Join(out, "notes.txt"))
}

func TestWrite_ReplacesPreviousAssembly(t *testing.T) {
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "manifest.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(out, "Stale.template.json"), []byte("{}"), 0o644))

	require.NoError(t, Write(context.Background(), out, testAssembly(t), Options{}))
	assert.NoFileExists(t, filepath.Join(out, "Stale.template.json"))
}

func TestStageArtifact_PublishedAssets(t *testing.T) {
	asm := testAssembly(t)
	published := asm.Stages[0].PublishedAssets()
	require.Len(t, published, 2)
	for _, p := range published {
		assert.Equal(t, "assembly-CDN/CDNStack.assets.json", p.ManifestPath)
		assert.Equal(t, p.Hash+":123456789012-us-east-1", p.Selector())
	}
}
