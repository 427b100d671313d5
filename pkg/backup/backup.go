// Package backup packs the run archive, the event journal and the
// configuration into a checksummed .tar.gz, and restores from one.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Entry names inside a backup.
const (
	nameArchive  = "data/archive.bolt"
	nameJournal  = "data/journal.db"
	nameManifest = "manifest.json"
	confPrefix   = "conf/"
)

// Manifest describes the contents of a backup.
type Manifest struct {
	Version   int                  `json:"version"`
	Server    string               `json:"server"`
	Timestamp string               `json:"timestamp"`
	Runs      int                  `json:"runs"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry describes a single file within the backup.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Type   string `json:"type"` // "bolt", "sql", "conf"
}

// Params holds the inputs to Create. Empty fields are skipped.
type Params struct {
	ArchiveSnapshot   func(destPath string) error // consistent copy of the bolt archive
	JournalPath       string
	JournalCheckpoint func() error // flush the WAL before copying
	ConfFiles         []string
	Dir               string
	Server            string
	Runs              int
}

// Create writes a backup into p.Dir and returns its path.
func Create(p Params) (string, error) {
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return "", fmt.Errorf("backup: create dir %s: %w", p.Dir, err)
	}
	tmpDir, err := os.MkdirTemp("", "clawback-backup-*")
	if err != nil {
		return "", fmt.Errorf("backup: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// Stage the databases first so the tar only reads quiescent copies.
	staged := map[string]string{}
	if p.ArchiveSnapshot != nil {
		dst := filepath.Join(tmpDir, "archive.bolt")
		if err := p.ArchiveSnapshot(dst); err != nil {
			return "", fmt.Errorf("backup: archive snapshot: %w", err)
		}
		staged[nameArchive] = dst
	}
	if p.JournalPath != "" {
		if p.JournalCheckpoint != nil {
			if err := p.JournalCheckpoint(); err != nil {
				return "", fmt.Errorf("backup: journal checkpoint: %w", err)
			}
		}
		dst := filepath.Join(tmpDir, "journal.db")
		if err := copyFile(p.JournalPath, dst); err != nil {
			return "", fmt.Errorf("backup: copy journal: %w", err)
		}
		staged[nameJournal] = dst
	}

	now := time.Now()
	path := filepath.Join(p.Dir, fmt.Sprintf("backup-%s.tar.gz", now.Format("20060102-150405")))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("backup: create %s: %w", path, err)
	}
	defer out.Close()
	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	manifest := Manifest{
		Version:   1,
		Server:    p.Server,
		Timestamp: now.UTC().Format(time.RFC3339),
		Runs:      p.Runs,
		Files:     make(map[string]FileEntry),
	}
	add := func(src, name, kind string) error {
		entry, err := addFileToTar(tw, src, name)
		if err != nil {
			return err
		}
		entry.Type = kind
		manifest.Files[name] = entry
		return nil
	}
	if src, ok := staged[nameArchive]; ok {
		if err := add(src, nameArchive, "bolt"); err != nil {
			return "", err
		}
	}
	if src, ok := staged[nameJournal]; ok {
		if err := add(src, nameJournal, "sql"); err != nil {
			return "", err
		}
	}
	for _, cf := range p.ConfFiles {
		if _, err := os.Stat(cf); err != nil {
			continue
		}
		if err := add(cf, confPrefix+filepath.Base(cf), "conf"); err != nil {
			return "", err
		}
	}

	// Manifest goes last.
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("backup: marshal manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{Name: nameManifest, Size: int64(len(data)), Mode: 0644, ModTime: now}); err != nil {
		return "", fmt.Errorf("backup: write manifest header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return "", fmt.Errorf("backup: write manifest: %w", err)
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("backup: close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("backup: close gzip: %w", err)
	}
	return path, out.Close()
}

// addFileToTar copies srcPath into the tar as name and returns its checksum.
func addFileToTar(tw *tar.Writer, srcPath, name string) (FileEntry, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return FileEntry{}, fmt.Errorf("backup: open %s: %w", srcPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return FileEntry{}, fmt.Errorf("backup: stat %s: %w", srcPath, err)
	}
	if err := tw.WriteHeader(&tar.Header{Name: name, Size: info.Size(), Mode: 0644, ModTime: info.ModTime()}); err != nil {
		return FileEntry{}, fmt.Errorf("backup: header %s: %w", name, err)
	}
	h := sha256.New()
	n, err := io.Copy(tw, io.TeeReader(f, h))
	if err != nil {
		return FileEntry{}, fmt.Errorf("backup: write %s: %w", name, err)
	}
	return FileEntry{SHA256: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
