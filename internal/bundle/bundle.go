// Package bundle packs deployment directories into zstd-compressed tarballs.
package bundle

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ManifestFile is written last in every bundle.
const ManifestFile = "MANIFEST.json"

// ErrEmptyBundle is returned when the source directory has no files.
var ErrEmptyBundle = errors.New("bundle: no files to export")

// Manifest lists the bundled files and their SHA-256 checksums.
type Manifest struct {
	CreatedAt time.Time         `json:"createdAt"`
	Root      string            `json:"root"`
	Files     map[string]string `json:"files"`
}

// Entry is one regular file in a bundle.
type Entry struct {
	Name string
	Size int64
}

// Export writes every regular file under dir to w as a .tar.zst stream.
// Names are relative to dir's parent, so exporting "deployments/chain-84532"
// produces entries under "chain-84532/".
func Export(dir string, w io.Writer) (*Manifest, error) {
	root := filepath.Base(filepath.Clean(dir))

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bundle: walk %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, ErrEmptyBundle
	}
	sort.Strings(files)

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("bundle: create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	m := &Manifest{
		CreatedAt: time.Now().UTC(),
		Root:      root,
		Files:     make(map[string]string, len(files)),
	}
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil, err
		}
		name := root + "/" + filepath.ToSlash(rel)

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("bundle: read %s: %w", path, err)
		}
		if err := addFile(tw, name, content); err != nil {
			return nil, err
		}
		sum := sha256.Sum256(content)
		m.Files[name] = hex.EncodeToString(sum[:])
	}

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("bundle: encode manifest: %w", err)
	}
	if err := addFile(tw, ManifestFile, manifest); err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("bundle: close tar writer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("bundle: close zstd writer: %w", err)
	}
	return m, nil
}

// ExportFile writes the bundle for dir to path.
func ExportFile(dir, path string) (*Manifest, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: create %s: %w", path, err)
	}
	m, err := Export(dir, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return m, nil
}

func addFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Size:     int64(len(content)),
		Mode:     0o644,
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("bundle: write header for %s: %w", name, err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("bundle: write content for %s: %w", name, err)
	}
	return nil
}

// List returns the regular files in a bundle, in archive order.
func List(r io.Reader) ([]Entry, error) {
	var out []Entry
	err := walk(r, func(hdr *tar.Header, _ io.Reader) error {
		out = append(out, Entry{Name: hdr.Name, Size: hdr.Size})
		return nil
	})
	return out, err
}

// Extract unpacks a bundle into dest. Entries that would land outside dest
// are skipped.
func Extract(r io.Reader, dest string) error {
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	return walk(r, func(hdr *tar.Header, body io.Reader) error {
		target := filepath.Join(absDest, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, absDest+string(os.PathSeparator)) {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("bundle: create parent directory for %s: %w", target, err)
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("bundle: create %s: %w", target, err)
		}
		if _, err := io.Copy(f, body); err != nil {
			f.Close()
			return fmt.Errorf("bundle: write %s: %w", target, err)
		}
		return f.Close()
	})
}

func walk(r io.Reader, fn func(hdr *tar.Header, body io.Reader) error) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("bundle: create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("bundle: read tar header: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}
