// Package assets stages local directories and files as content-addressed
// file assets, packages them deterministically, and publishes them to their
// S3 destinations the way the CDK asset publisher does.
package assets

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/specialistvlad/steloinfra/internal/ctxlog"
	"github.com/specialistvlad/steloinfra/internal/fsutil"
	"github.com/zeebo/blake3"
)

// Packaging modes understood by the asset manifest.
const (
	PackagingZip  = "zip"
	PackagingFile = "file"
)

// DefaultExcludes are never part of a staged directory.
var DefaultExcludes = []string{".DS_Store", ".git", "Thumbs.db"}

// FileAsset is a staged, content-addressed file asset.
type FileAsset struct {
	Hash        string
	SourcePath  string
	Packaging   string
	DisplayName string
	Excludes    []string
}

// ObjectKey is the key the asset is published under.
func (a FileAsset) ObjectKey() string {
	if a.Packaging == PackagingZip {
		return a.Hash + ".zip"
	}
	return a.Hash + filepath.Ext(a.SourcePath)
}

// StagedName is the entry name of the asset inside the cloud assembly.
func (a FileAsset) StagedName() string {
	if a.Packaging == PackagingZip {
		return "asset." + a.Hash
	}
	return "asset." + a.Hash + filepath.Ext(a.SourcePath)
}

// Stage fingerprints source and returns the asset describing it. A
// directory becomes a zip asset, a regular file is published as-is.
func Stage(ctx context.Context, source, displayName string, excludes ...string) (FileAsset, error) {
	logger := ctxlog.FromContext(ctx)

	abs, err := filepath.Abs(source)
	if err != nil {
		return FileAsset{}, fmt.Errorf("resolving asset path %s: %w", source, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return FileAsset{}, fmt.Errorf("asset source %s: %w", source, err)
	}

	excludes = append(append([]string{}, DefaultExcludes...), excludes...)
	asset := FileAsset{SourcePath: abs, DisplayName: displayName, Excludes: excludes}

	if info.IsDir() {
		asset.Packaging = PackagingZip
		asset.Hash, err = fingerprintDir(abs, excludes)
	} else {
		asset.Packaging = PackagingFile
		asset.Hash, err = fingerprintFile(abs)
	}
	if err != nil {
		return FileAsset{}, fmt.Errorf("fingerprinting %s: %w", source, err)
	}

	logger.Debug("Asset staged.", "source", abs, "hash", asset.Hash, "packaging", asset.Packaging)
	return asset, nil
}

// fingerprintDir hashes every relative path and file body in sorted order,
// so renames and content edits both change the hash.
func fingerprintDir(root string, excludes []string) (string, error) {
	files, err := fsutil.ListFiles(root, excludes...)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("directory %s contains no files", root)
	}

	h := blake3.New()
	for _, rel := range files {
		fmt.Fprintf(h, "%s\x00", rel)
		if err := hashFileInto(h, filepath.Join(root, filepath.FromSlash(rel))); err != nil {
			return "", err
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the content hash used for in-memory assets such as
// rendered templates.
func HashBytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func fingerprintFile(path string) (string, error) {
	h := blake3.New()
	if err := hashFileInto(h, path); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFileInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// CopyInto copies the staged asset into dir under its StagedName.
func CopyInto(asset FileAsset, dir string) (string, error) {
	dest := filepath.Join(dir, asset.StagedName())
	if asset.Packaging == PackagingFile {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		src, base := filepath.Split(asset.SourcePath)
		if err := fsutil.CopyFiles(src, dir, []string{base}); err != nil {
			return "", err
		}
		return dest, os.Rename(filepath.Join(dir, base), dest)
	}

	files, err := fsutil.ListFiles(asset.SourcePath, asset.Excludes...)
	if err != nil {
		return "", err
	}
	if err := fsutil.CopyFiles(asset.SourcePath, dest, files); err != nil {
		return "", err
	}
	return dest, nil
}
