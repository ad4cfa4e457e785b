package assets

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/specialistvlad/steloinfra/internal/fsutil"
)

// zipEpoch is stamped on every entry so equal trees produce equal archives.
var zipEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Zip writes the files below dir into w as a deterministic zip archive.
func Zip(dir string, w io.Writer, excludes ...string) error {
	files, err := fsutil.ListFiles(dir, excludes...)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, rel := range files {
		header := &zip.FileHeader{
			Name:     rel,
			Method:   zip.Deflate,
			Modified: zipEpoch,
		}
		header.SetMode(0o644)

		entry, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("adding %s to archive: %w", rel, err)
		}
		if err := writeFileTo(entry, filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			return fmt.Errorf("adding %s to archive: %w", rel, err)
		}
	}
	return zw.Close()
}

func writeFileTo(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
