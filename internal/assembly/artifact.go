// Package assembly writes synthesized stacks as a cloud assembly: the
// directory layout `cdk deploy`, `cdk-assets` and CodePipeline consume.
package assembly

import (
	"fmt"

	"github.com/specialistvlad/steloinfra/internal/assets"
	"github.com/specialistvlad/steloinfra/internal/cfn"
	"github.com/specialistvlad/steloinfra/internal/nag"
	"github.com/specialistvlad/steloinfra/internal/stack"
)

// Version is the cloud assembly schema version.
const Version = assets.ManifestVersion

// Artifact is one synthesized stack ready to be written.
type Artifact struct {
	Stack    *stack.Stack
	Template *cfn.Template
	Report   *nag.Report

	body         []byte
	templateHash string
}

// PublishedAsset identifies one asset destination in an asset manifest, in
// the `<hash>:<destination>` form cdk-assets selects on.
type PublishedAsset struct {
	ManifestPath  string
	Hash          string
	DestinationID string
	DisplayName   string
}

// Selector is the cdk-assets selector of the asset.
func (p PublishedAsset) Selector() string {
	return p.Hash + ":" + p.DestinationID
}

// NewArtifact renders the template once so its content hash is known
// before anything is written.
func NewArtifact(s *stack.Stack, tmpl *cfn.Template, report *nag.Report) (*Artifact, error) {
	body, err := tmpl.JSON()
	if err != nil {
		return nil, fmt.Errorf("rendering template of stack '%s': %w", s.ID, err)
	}
	return &Artifact{
		Stack:        s,
		Template:     tmpl,
		Report:       report,
		body:         body,
		templateHash: assets.HashBytes(body),
	}, nil
}

// TemplateFile is the template file name inside the assembly.
func (a *Artifact) TemplateFile() string { return a.Stack.ID + ".template.json" }

// AssetManifestFile is the asset manifest file name inside the assembly.
func (a *Artifact) AssetManifestFile() string { return a.Stack.ID + ".assets.json" }

// TemplateHash is the content hash of the rendered template.
func (a *Artifact) TemplateHash() string { return a.templateHash }

// DestinationID names the single bootstrap destination of the stack's assets.
func (a *Artifact) DestinationID() string {
	env := a.Stack.Env
	account, region := env.Account, env.Region
	if account == "" {
		account = "current_account"
	}
	if region == "" {
		region = "current_region"
	}
	return account + "-" + region
}

// destination is the bootstrap location an object key is published to.
func (a *Artifact) destination(objectKey string) *assets.Destination {
	env := a.Stack.Env
	return &assets.Destination{
		BucketName:    env.Resolve(stack.AssetsBucketPattern),
		ObjectKey:     objectKey,
		Region:        env.Region,
		AssumeRoleArn: env.Resolve(stack.FilePublishingRolePattern),
	}
}

// AssetManifest lists the stack's file assets plus its own template.
func (a *Artifact) AssetManifest() *assets.Manifest {
	m := assets.NewManifest()
	destID := a.DestinationID()
	for _, asset := range a.Stack.Assets() {
		m.Add(asset, destID, a.destination(asset.ObjectKey()))
	}
	m.AddSource(a.templateHash, assets.Source{Path: a.TemplateFile(), Packaging: assets.PackagingFile},
		a.Stack.ID+" Template", destID, a.destination(a.templateHash+".json"))
	return m
}

// PublishedAssets returns every asset destination of the stack. dir is the
// assembly-relative directory holding the manifest ("" for the root).
func (a *Artifact) PublishedAssets(dir string) []PublishedAsset {
	manifestPath := a.AssetManifestFile()
	if dir != "" {
		manifestPath = dir + "/" + manifestPath
	}
	m := a.AssetManifest()
	var out []PublishedAsset
	for _, hash := range m.Hashes() {
		entry := m.Files[hash]
		for destID := range entry.Destinations {
			out = append(out, PublishedAsset{
				ManifestPath:  manifestPath,
				Hash:          hash,
				DestinationID: destID,
				DisplayName:   entry.DisplayName,
			})
		}
	}
	return out
}

// StageArtifact is a stage's nested assembly.
type StageArtifact struct {
	Stage     *stack.Stage
	Artifacts []*Artifact
}

// PublishedAssets returns the asset destinations of every stack in the stage.
func (s *StageArtifact) PublishedAssets() []PublishedAsset {
	var out []PublishedAsset
	for _, a := range s.Artifacts {
		out = append(out, a.PublishedAssets(s.Stage.AssemblyDir())...)
	}
	return out
}

// Assembly is the whole output: top-level stacks and nested stages.
type Assembly struct {
	Artifacts []*Artifact
	Stages    []*StageArtifact
}
