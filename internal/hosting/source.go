package hosting

import (
	"archive/tar"
	"compress/gzip"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
)

//go:embed assets
var assets embed.FS

// SourceArchiveName is the object name the serving and training containers
// expect for the submitted source directory.
const SourceArchiveName = "sourcedir.tar.gz"

// DefaultSource returns the bundled DBSCAN entry point (clustering.py).
func DefaultSource() fs.FS {
	sub, err := fs.Sub(assets, "assets")
	if err != nil {
		// assets is compiled in; Sub only fails on an invalid path.
		panic(err)
	}
	return sub
}

// ResolveSource returns DefaultSource when dir is empty and the directory
// tree at dir otherwise.
func ResolveSource(dir string) fs.FS {
	if dir == "" {
		return DefaultSource()
	}
	return os.DirFS(dir)
}

// PackSource writes fsys to w as a gzipped tarball with paths relative to
// the root of fsys.
func PackSource(w io.Writer, fsys fs.FS) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "." || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = path
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := fsys.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		// Release both writers; the partial archive is discarded anyway.
		_ = tw.Close()
		_ = gz.Close()
		return fmt.Errorf("archiving source: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing gzip: %w", err)
	}
	return nil
}
