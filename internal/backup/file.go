// Package backup persists a single record to a local JSON file. It is the
// last-resort tier when the remote store cannot be written.
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/leafsii/redisdb/internal/record"
	"go.uber.org/zap"
)

// DefaultPath is the backup location relative to the working directory.
const DefaultPath = "backup.json"

// File is a durable single-record store.
type File struct {
	path   string
	logger *zap.SugaredLogger
}

// Open returns a File bound to path. The file is not touched until Load or Save.
func Open(path string, logger *zap.SugaredLogger) *File {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &File{path: path, logger: logger}
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Load reads the record. A missing, empty or unparsable file is treated as
// a first run: it is reset to an empty record, persisted, and returned.
func (f *File) Load() (record.Record, error) {
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f.logger.Debugw("Backup file missing, initializing", "path", f.path)
		return f.reset()
	case err != nil:
		return nil, fmt.Errorf("read backup: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return f.reset()
	}

	r, err := record.Parse(data)
	if err != nil {
		f.logger.Warnw("Backup file corrupt, resetting to empty record", "path", f.path, "error", err)
		return f.reset()
	}
	return r, nil
}

func (f *File) reset() (record.Record, error) {
	empty := record.New()
	if err := f.Save(empty); err != nil {
		return nil, err
	}
	return empty, nil
}

// Save replaces the file content with r. Partial writes are never
// observable: the data goes to a temp file which is renamed over the target.
func (f *File) Save(r record.Record) error {
	if r == nil {
		r = record.New()
	}
	data, err := json.MarshalIndent(map[string]any(r), "", "    ")
	if err != nil {
		return fmt.Errorf("marshal backup: %w", err)
	}
	data = append(data, '\n')

	mode := fs.FileMode(0o644)
	if st, err := os.Stat(f.path); err == nil {
		mode = st.Mode()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat backup: %w", err)
	}

	if err := writeFileAtomic(f.path, data, mode); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}

// Clear persists an empty record.
func (f *File) Clear() error {
	return f.Save(record.New())
}

func writeFileAtomic(path string, content []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		_ = os.Remove(tmpName)
	}

	if err := tmp.Chmod(mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}

	// Best effort; some filesystems refuse to sync directories.
	if df, err := os.Open(dir); err == nil {
		_ = df.Sync()
		df.Close()
	}
	return nil
}
