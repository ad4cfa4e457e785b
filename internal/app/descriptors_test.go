package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/specialistvlad/steloinfra/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkoutDescriptors copies the repository's descriptors into a temp
// workspace laid out like a local checkout: the infrastructure repository
// with the site repository cloned next to it.
func checkoutDescriptors(t *testing.T) string {
	t.Helper()

	entries, err := os.ReadDir(filepath.Join("..", "..", "descriptors"))
	require.NoError(t, err)

	files := map[string]string{"stelo.cdn/assets/index.html": testutil.IndexHTML}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".hcl" {
			continue
		}
		content, err := os.ReadFile(filepath.Join("..", "..", "descriptors", e.Name()))
		require.NoError(t, err)
		files["cdk.stelo.me/descriptors/"+e.Name()] = string(content)
	}
	require.Len(t, files, 4, "app, pipeline and cdn descriptors plus the site page")

	return filepath.Join(testutil.WriteFiles(t, files), "cdk.stelo.me", "descriptors")
}

func readManifest(t *testing.T, path string) map[string]map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Artifacts map[string]map[string]any `json:"artifacts"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc.Artifacts
}

func TestApp_SynthShippedDescriptors(t *testing.T) {
	cfg := synthConfig(t, checkoutDescriptors(t))
	a, logs := SetupAppTest(t, cfg, steloEnv)

	require.NoError(t, a.Run(context.Background()))

	root := readManifest(t, filepath.Join(cfg.OutDir, "manifest.json"))
	require.Contains(t, root, "Pipeline")
	pipelineProps := root["Pipeline"]["properties"].(map[string]any)
	assert.Equal(t, true, pipelineProps["terminationProtection"])
	assert.Equal(t, "stelo-web-pipeline", pipelineProps["stackName"])

	nested := readManifest(t, filepath.Join(cfg.OutDir, "assembly-CDN", "manifest.json"))
	require.Contains(t, nested, "CDNStack")
	cdnProps := nested["CDNStack"]["properties"].(map[string]any)
	assert.Equal(t, true, cdnProps["terminationProtection"])
	assert.Equal(t, "stelo-web-cdn", cdnProps["stackName"])

	raw, err := os.ReadFile(filepath.Join(cfg.OutDir, "Pipeline.template.json"))
	require.NoError(t, err)
	var tmpl struct {
		Description string `json:"Description"`
	}
	require.NoError(t, json.Unmarshal(raw, &tmpl))
	assert.Equal(t, "Stack to manage Stelo websites pipeline", tmpl.Description)
	assert.Contains(t, string(raw), "stelo-web-cdn.CDNStack.Prepare")

	testutil.AssertLogged(t, logs, "Synth finished.")
	var declared bool
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, "Distribution stack declared.") {
			declared = true
			assert.Equal(t, 1, strings.Count(line, "stage=CDN"), line)
		}
	}
	assert.True(t, declared)
}
