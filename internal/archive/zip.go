package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mterres/opmigrate/internal/snapshot"
)

// ZipDir packs the contents of dir into a zip file at zipPath. Paths inside
// the zip are relative to dir, matching what Load expects.
func ZipDir(dir, zipPath string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create zip: %w", err)
	}
	defer func() { _ = out.Close() }()

	w := zip.NewWriter(out)
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		f, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
		_, err = io.Copy(f, src)
		return err
	})
	if err != nil {
		return fmt.Errorf("pack archive: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}
	return out.Close()
}

func openZip(zipPath string) (fs.FS, func(), error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open zip: %w", err)
	}
	closeFn := func() { _ = r.Close() }

	// Some zips carry a single top-level directory wrapping the layout.
	// Detect that and descend so Load sees the same tree either way.
	root := zipRoot(&r.Reader)
	if root == "" {
		return &r.Reader, closeFn, nil
	}
	sub, err := fs.Sub(&r.Reader, root)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("open zip: %w", err)
	}
	return sub, closeFn, nil
}

func loadZip(zipPath string) (*snapshot.Snapshot, error) {
	fsys, closeFn, err := openZip(zipPath)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return loadFS(fsys)
}

// zipRoot returns the single top-level directory shared by every entry, or
// "" when entries live at the zip root.
func zipRoot(r *zip.Reader) string {
	root := ""
	for _, f := range r.File {
		name := strings.TrimPrefix(f.Name, "./")
		i := strings.Index(name, "/")
		if i < 0 {
			return ""
		}
		top := name[:i]
		if root == "" {
			root = top
		} else if root != top {
			return ""
		}
	}
	return root
}
