package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"weatherwise/internal/errorutil"
	"weatherwise/internal/logger"
)

const fileSchemaVersion = 1

// fileDocument is the on-disk layout of the file substrate.
type fileDocument struct {
	SchemaVersion int               `toml:"schema_version"`
	UpdatedAt     int64             `toml:"updated_at"`
	Entries       map[string]string `toml:"entries"`
}

// File keeps the whole key space in one TOML document and rewrites it
// atomically on every batch. A missing, unreadable or corrupt document
// starts out empty.
type File struct {
	path string
	mu   sync.Mutex
	data map[string]string
}

// OpenFile loads the document at path.
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: file path is required")
	}
	complete := logger.LogOperationStart("cache_open", map[string]any{"file_path": path, "backend": "file"})

	f := &File{path: path, data: make(map[string]string)}
	errorutil.CleanupTempFiles(logger.Get().Logger, path)

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		complete(nil)
		return f, nil
	case err != nil:
		errorutil.LogWarning(logger.Get().Logger, "cache file read", err, errorutil.FileContext(path)...)
		complete(nil)
		return f, nil
	}

	var doc fileDocument
	if err := toml.Unmarshal(raw, &doc); err != nil {
		errorutil.LogWarning(logger.Get().Logger, "cache file parse", err, errorutil.FileContext(path)...)
		complete(nil)
		return f, nil
	}
	if doc.SchemaVersion != fileSchemaVersion {
		logger.Warn("Ignoring cache file %s with unsupported schema version %d", path, doc.SchemaVersion)
		complete(nil)
		return f, nil
	}
	if doc.Entries != nil {
		f.data = doc.Entries
	}
	complete(nil)
	logger.Debug("Cache file loaded: %s (%d keys)", path, len(f.data))
	return f, nil
}

func (f *File) Name() string { return "file" }

// Path returns the document location.
func (f *File) Path() string { return f.path }

func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		return "", false, ErrClosed
	}
	v, ok := f.data[key]
	return v, ok, nil
}

// Apply writes the updated document and only then swaps it in memory, so a
// failed write leaves both disk and memory on the previous state.
func (f *File) Apply(b Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		return ErrClosed
	}

	next := applyTo(f.data, b)
	raw, err := toml.Marshal(fileDocument{
		SchemaVersion: fileSchemaVersion,
		UpdatedAt:     time.Now().Unix(),
		Entries:       next,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache document: %w", err)
	}
	if err := errorutil.AtomicWriteFile(logger.Get().Logger, f.path, raw, 0600); err != nil {
		return errorutil.LogAndWrap(logger.Get().Logger, "write cache document", err, errorutil.FileContext(f.path)...)
	}
	f.data = next
	logger.Get().Debug("Cache document written",
		slog.String("file_path", f.path),
		slog.Int("keys", len(next)))
	return nil
}

func (f *File) Close() error {
	f.mu.Lock()
	f.data = nil
	f.mu.Unlock()
	return nil
}
