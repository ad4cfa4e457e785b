package assets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ManifestVersion is the cloud assembly schema version written to asset
// manifests.
const ManifestVersion = "36.0.0"

// Manifest is the `<Stack>.assets.json` document consumed by asset publishers.
type Manifest struct {
	Version      string                `json:"version"`
	Files        map[string]*FileEntry `json:"files"`
	DockerImages map[string]any        `json:"dockerImages"`
}

// FileEntry describes one file asset and where it must be published.
type FileEntry struct {
	DisplayName  string                  `json:"displayName,omitempty"`
	Source       Source                  `json:"source"`
	Destinations map[string]*Destination `json:"destinations"`
}

// Source locates the staged asset relative to the manifest.
type Source struct {
	Path      string `json:"path"`
	Packaging string `json:"packaging"`
}

// Destination is an S3 location an asset is published to.
type Destination struct {
	BucketName    string `json:"bucketName"`
	ObjectKey     string `json:"objectKey"`
	Region        string `json:"region,omitempty"`
	AssumeRoleArn string `json:"assumeRoleArn,omitempty"`
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{
		Version:      ManifestVersion,
		Files:        make(map[string]*FileEntry),
		DockerImages: map[string]any{},
	}
}

// Add records a staged asset under its hash with a single destination
// keyed by destID.
func (m *Manifest) Add(asset FileAsset, destID string, dest *Destination) {
	m.AddSource(asset.Hash, Source{Path: asset.StagedName(), Packaging: asset.Packaging}, asset.DisplayName, destID, dest)
}

// AddSource records an asset whose source lives at an arbitrary path
// relative to the manifest, such as a stack template.
func (m *Manifest) AddSource(hash string, src Source, displayName, destID string, dest *Destination) {
	entry, ok := m.Files[hash]
	if !ok {
		entry = &FileEntry{
			DisplayName:  displayName,
			Source:       src,
			Destinations: map[string]*Destination{},
		}
		m.Files[hash] = entry
	}
	entry.Destinations[destID] = dest
}

// Hashes returns the asset hashes in lexical order.
func (m *Manifest) Hashes() []string {
	out := make([]string, 0, len(m.Files))
	for h := range m.Files {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// WriteManifest writes m to path as indented JSON.
func WriteManifest(path string, m *Manifest) error {
	raw, err := json.MarshalIndent(m, "", " ")
	if err != nil {
		return fmt.Errorf("encoding asset manifest: %w", err)
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}

// ReadManifest loads an asset manifest from path.
func ReadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding asset manifest %s: %w", path, err)
	}
	return &m, nil
}

// FindManifests returns every asset manifest below an assembly directory.
func FindManifests(assemblyDir string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(assemblyDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), "asset.") {
			return filepath.SkipDir
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".assets.json") {
			found = append(found, path)
		}
		return nil
	})
	sort.Strings(found)
	return found, err
}
