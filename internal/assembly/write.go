package assembly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/specialistvlad/steloinfra/internal/assets"
	"github.com/specialistvlad/steloinfra/internal/ctxlog"
)

// Options controls what Write emits besides the JSON templates.
type Options struct {
	// YAML additionally writes `<Stack>.template.yaml` next to each template.
	YAML bool
}

// Write replaces dir with the cloud assembly. A non-empty dir that is not a
// previous cloud assembly is left untouched and reported as an error.
func Write(ctx context.Context, dir string, asm *Assembly, opts Options) error {
	logger := ctxlog.FromContext(ctx)

	if err := prepareDir(dir); err != nil {
		return err
	}

	root := newManifest()
	for _, a := range asm.Artifacts {
		if err := writeArtifact(dir, a, opts); err != nil {
			return err
		}
		root.addStack(a, "")
	}

	for _, st := range asm.Stages {
		nestedDir := filepath.Join(dir, st.Stage.AssemblyDir())
		if err := os.MkdirAll(nestedDir, 0o755); err != nil {
			return err
		}
		nested := newManifest()
		for _, a := range st.Artifacts {
			if err := writeArtifact(nestedDir, a, opts); err != nil {
				return err
			}
			nested.addStack(a, st.Stage.ID+"/")
		}
		if err := writeJSON(filepath.Join(nestedDir, "manifest.json"), nested); err != nil {
			return err
		}
		root.addStage(st.Stage)
		logger.Debug("Nested assembly written.", "stage", st.Stage.ID, "stacks", len(st.Artifacts))
	}

	if err := writeJSON(filepath.Join(dir, "manifest.json"), root); err != nil {
		return err
	}
	logger.Info("☁️ Cloud assembly written.", "dir", dir, "stacks", len(asm.Artifacts), "stages", len(asm.Stages))
	return nil
}

func writeArtifact(dir string, a *Artifact, opts Options) error {
	if err := os.WriteFile(filepath.Join(dir, a.TemplateFile()), append(append([]byte(nil), a.body...), '\n'), 0o644); err != nil {
		return fmt.Errorf("writing template of stack '%s': %w", a.Stack.ID, err)
	}
	if opts.YAML {
		body, err := a.Template.YAML()
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, a.Stack.ID+".template.yaml"), body, 0o644); err != nil {
			return err
		}
	}

	for _, asset := range a.Stack.Assets() {
		if _, err := assets.CopyInto(asset, dir); err != nil {
			return fmt.Errorf("staging asset %s of stack '%s': %w", asset.Hash, a.Stack.ID, err)
		}
	}
	if err := assets.WriteManifest(filepath.Join(dir, a.AssetManifestFile()), a.AssetManifest()); err != nil {
		return err
	}

	if a.Report != nil {
		if _, err := a.Report.WriteJSON(dir); err != nil {
			return err
		}
	}
	return nil
}

func prepareDir(dir string) error {
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return os.MkdirAll(dir, 0o755)
	case err != nil:
		return err
	case len(entries) == 0:
		return nil
	}

	if _, err := os.Stat(filepath.Join(dir, "manifest.json")); err != nil {
		return fmt.Errorf("refusing to overwrite %s: directory is not empty and holds no cloud assembly", dir)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}
