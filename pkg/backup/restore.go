package backup

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RestoreParams names where restored files go. Empty destinations are
// skipped.
type RestoreParams struct {
	Path        string
	ArchiveDest string
	JournalDest string
	ConfDir     string
}

// RestoreResult summarizes a restore.
type RestoreResult struct {
	FilesRestored int
	Manifest      Manifest
}

// Restore extracts a backup, verifies every checksum in its manifest and
// copies the files to their destinations. Nothing is copied when any
// checksum fails.
func Restore(p RestoreParams) (*RestoreResult, error) {
	tmpDir, err := os.MkdirTemp("", "clawback-restore-*")
	if err != nil {
		return nil, fmt.Errorf("restore: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := extract(p.Path, tmpDir); err != nil {
		return nil, fmt.Errorf("restore: extract: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(tmpDir, nameManifest))
	if err != nil {
		return nil, fmt.Errorf("restore: %s not found in backup", nameManifest)
	}
	res := &RestoreResult{}
	if err := json.Unmarshal(data, &res.Manifest); err != nil {
		return nil, fmt.Errorf("restore: parse manifest: %w", err)
	}
	for name, entry := range res.Manifest.Files {
		ok, err := checksum(filepath.Join(tmpDir, filepath.FromSlash(name)), entry.SHA256)
		if err != nil {
			return nil, fmt.Errorf("restore: checksum %s: %w", name, err)
		}
		if !ok {
			return nil, fmt.Errorf("restore: checksum mismatch for %s", name)
		}
	}

	place := func(name, dest string) error {
		src := filepath.Join(tmpDir, filepath.FromSlash(name))
		if dest == "" {
			return nil
		}
		if _, err := os.Stat(src); err != nil {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := copyFile(src, dest); err != nil {
			return err
		}
		res.FilesRestored++
		return nil
	}
	if err := place(nameArchive, p.ArchiveDest); err != nil {
		return nil, fmt.Errorf("restore: archive: %w", err)
	}
	if err := place(nameJournal, p.JournalDest); err != nil {
		return nil, fmt.Errorf("restore: journal: %w", err)
	}
	if p.ConfDir != "" {
		for name := range res.Manifest.Files {
			if !strings.HasPrefix(name, confPrefix) {
				continue
			}
			if err := place(name, filepath.Join(p.ConfDir, strings.TrimPrefix(name, confPrefix))); err != nil {
				return nil, fmt.Errorf("restore: %s: %w", name, err)
			}
		}
	}
	return res, nil
}

func extract(path, destDir string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("invalid backup entry: %s", hdr.Name)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
}

func checksum(path, expected string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == expected, nil
}
