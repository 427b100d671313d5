package backup

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Info holds metadata about an existing backup file.
type Info struct {
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Timestamp string `json:"timestamp"`
	Runs      int    `json:"runs"`
}

// List scans dir for backups and returns them newest first.
func List(dir string) ([]Info, error) {
	pattern := filepath.Join(dir, "*.tar.gz")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("backup: glob %s: %w", pattern, err)
	}
	var out []Info
	for _, path := range matches {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		info := Info{
			Path:      path,
			Filename:  filepath.Base(path),
			Size:      st.Size(),
			Timestamp: st.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		}
		if m, err := readManifest(path); err == nil {
			info.Timestamp = m.Timestamp
			info.Runs = m.Runs
		}
		out = append(out, info)
	}
	// RFC3339 sorts lexically.
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

func readManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s not found in backup", nameManifest)
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name != nameManifest {
			continue
		}
		var m Manifest
		if err := json.NewDecoder(tr).Decode(&m); err != nil {
			return nil, err
		}
		return &m, nil
	}
}
