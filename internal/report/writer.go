package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const archiveTimeFormat = "20060102_150405"

// Writer persists reports. An existing report is moved to ArchiveDir before the new one
// is written; nothing is overwritten in place.
type Writer struct {
	Fs         afero.Fs
	Path       string
	ArchiveDir string // defaults to "archive" next to Path
	Now        func() time.Time
}

func NewWriter(fs afero.Fs, path, archiveDir string) *Writer {
	return &Writer{Fs: fs, Path: path, ArchiveDir: archiveDir, Now: time.Now}
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Writer) archiveDir() string {
	if w.ArchiveDir != "" {
		return w.ArchiveDir
	}
	return filepath.Join(filepath.Dir(w.Path), "archive")
}

// Write archives the current report, if any, and writes r to Path. It returns the archive
// path, empty when there was nothing to archive.
func (w *Writer) Write(r *Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	archived, err := w.archive()
	if err != nil {
		return "", err
	}

	if dir := filepath.Dir(w.Path); dir != "." {
		if err := w.Fs.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := afero.WriteFile(w.Fs, w.Path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return archived, nil
}

func (w *Writer) archive() (string, error) {
	exists, err := afero.Exists(w.Fs, w.Path)
	if err != nil {
		return "", fmt.Errorf("stat report: %w", err)
	}
	if !exists {
		return "", nil
	}

	dir := w.archiveDir()
	if err := w.Fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(w.Path), filepath.Ext(w.Path))
	stamp := w.now().Format(archiveTimeFormat)
	target := filepath.Join(dir, fmt.Sprintf("%s_%s.json", base, stamp))
	for n := 1; ; n++ {
		taken, err := afero.Exists(w.Fs, target)
		if err != nil {
			return "", fmt.Errorf("stat archive: %w", err)
		}
		if !taken {
			break
		}
		target = filepath.Join(dir, fmt.Sprintf("%s_%s_%d.json", base, stamp, n))
	}

	if err := w.Fs.Rename(w.Path, target); err != nil {
		return "", fmt.Errorf("archive report: %w", err)
	}
	return target, nil
}

// Read loads the report at Path.
func (w *Writer) Read() (*Report, error) {
	data, err := afero.ReadFile(w.Fs, w.Path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}
