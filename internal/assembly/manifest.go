package assembly

import (
	"github.com/specialistvlad/steloinfra/internal/stack"
)

// manifest is the cloud assembly manifest.json document.
type manifest struct {
	Version   string               `json:"version"`
	Artifacts map[string]*artifact `json:"artifacts"`
}

type artifact struct {
	Type         string                     `json:"type"`
	Environment  string                     `json:"environment,omitempty"`
	Properties   map[string]any             `json:"properties,omitempty"`
	Dependencies []string                   `json:"dependencies,omitempty"`
	Metadata     map[string][]metadataEntry `json:"metadata,omitempty"`
	DisplayName  string                     `json:"displayName,omitempty"`
}

type metadataEntry struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func newManifest() *manifest {
	return &manifest{Version: Version, Artifacts: map[string]*artifact{}}
}

// addStack records the stack and its asset manifest artifacts.
func (m *manifest) addStack(a *Artifact, displayPrefix string) {
	s := a.Stack
	assetsID := s.ID + ".assets"
	bootstrap := map[string]any{
		"requiresBootstrapStackVersion":     stack.MinBootstrapVersion,
		"bootstrapStackVersionSsmParameter": stack.BootstrapVersionParameter,
	}

	assetProps := map[string]any{"file": a.AssetManifestFile()}
	for k, v := range bootstrap {
		assetProps[k] = v
	}
	m.Artifacts[assetsID] = &artifact{Type: "cdk:asset-manifest", Properties: assetProps}

	props := map[string]any{
		"templateFile":                   a.TemplateFile(),
		"terminationProtection":          s.TerminationProtection,
		"stackName":                      s.Name(),
		"assumeRoleArn":                  s.Env.Resolve(stack.DeployRolePattern),
		"cloudFormationExecutionRoleArn": s.Env.Resolve(stack.CloudFormationExecPattern),
		"stackTemplateAssetObjectUrl":    "s3://" + s.Env.Resolve(stack.AssetsBucketPattern) + "/" + a.TemplateHash() + ".json",
		"lookupRole": map[string]any{
			"arn":                               s.Env.Resolve(stack.LookupRolePattern),
			"requiresBootstrapStackVersion":     stack.MinLookupBootstrapVersion,
			"bootstrapStackVersionSsmParameter": stack.BootstrapVersionParameter,
		},
	}
	for k, v := range bootstrap {
		props[k] = v
	}
	if len(s.Tags) > 0 {
		props["tags"] = s.Tags
	}

	metadata := map[string][]metadataEntry{}
	for _, r := range s.Resources() {
		key := "/" + displayPrefix + s.ID + "/" + r.Path
		metadata[key] = []metadataEntry{{Type: "aws:cdk:logicalId", Data: r.LogicalID}}
	}

	m.Artifacts[s.ID] = &artifact{
		Type:         "aws:cloudformation:stack",
		Environment:  s.Env.Name(),
		Properties:   props,
		Dependencies: []string{assetsID},
		Metadata:     metadata,
		DisplayName:  displayPrefix + s.ID,
	}
}

func (m *manifest) addStage(st *stack.Stage) {
	m.Artifacts[st.AssemblyDir()] = &artifact{
		Type: "cdk:cloud-assembly",
		Properties: map[string]any{
			"directoryName": st.AssemblyDir(),
			"displayName":   st.ID,
		},
	}
}
