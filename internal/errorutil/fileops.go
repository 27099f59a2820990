package errorutil

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// FileError represents a file operation error with additional context
type FileError struct {
	Operation  string // The operation that failed (e.g., "read", "write", "rename")
	Path       string
	Underlying error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s operation failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

func (e *FileError) Unwrap() error {
	return e.Underlying
}

// NewFileError creates a new FileError
func NewFileError(operation, path string, err error) *FileError {
	return &FileError{Operation: operation, Path: path, Underlying: err}
}

// LogFileError logs a file error with its classification and returns it.
func LogFileError(logger *slog.Logger, fileErr *FileError) *FileError {
	if logger == nil || fileErr == nil {
		return fileErr
	}
	logger.LogAttrs(context.Background(), slog.LevelError, "File operation failed",
		slog.String("operation", fileErr.Operation),
		slog.String("file_path", fileErr.Path),
		slog.String("error", fileErr.Underlying.Error()),
		slog.String("error_type", FileErrorType(fileErr.Underlying)),
	)
	return fileErr
}

// FileErrorType returns a short classification of a file system error.
func FileErrorType(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, fs.ErrNotExist):
		return "file_not_found"
	case errors.Is(err, fs.ErrPermission):
		return "permission_denied"
	case errors.Is(err, fs.ErrExist):
		return "file_exists"
	case errors.Is(err, syscall.ENOSPC):
		return "no_space_left"
	case errors.Is(err, syscall.EMFILE), errors.Is(err, syscall.ENFILE):
		return "too_many_open_files"
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return "path_error_" + pathErr.Op
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return "link_error_" + linkErr.Op
	}
	return "generic_file_error"
}

// EnsureDirectory creates path and its parents, logging failures.
func EnsureDirectory(logger *slog.Logger, path string, perm os.FileMode) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, perm); err != nil {
		return LogFileError(logger, NewFileError("mkdir", path, err))
	}
	return nil
}

// AtomicWriteFile writes data to a temp file next to path, syncs it and
// renames it over path. Readers see either the old or the new content.
func AtomicWriteFile(logger *slog.Logger, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := EnsureDirectory(logger, dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return LogFileError(logger, NewFileError("create_temp", path, err))
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return LogFileError(logger, NewFileError("write_temp", tmpPath, err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return LogFileError(logger, NewFileError("sync_temp", tmpPath, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return LogFileError(logger, NewFileError("close_temp", tmpPath, err))
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return LogFileError(logger, NewFileError("chmod_temp", tmpPath, err))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return LogFileError(logger, NewFileError("rename", path, err))
	}

	if logger != nil {
		logger.Debug("File written atomically",
			slog.String("file_path", path),
			slog.Int("bytes_written", len(data)))
	}
	return nil
}

// CleanupTempFiles removes leftovers of interrupted atomic writes to path.
func CleanupTempFiles(logger *slog.Logger, path string) int {
	matches, err := filepath.Glob(path + ".*.tmp")
	if err != nil {
		return 0
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			LogFileError(logger, NewFileError("remove_temp", m, err))
			continue
		}
		removed++
	}
	if removed > 0 && logger != nil {
		logger.Debug("Removed stale temp files", slog.String("file_path", path), slog.Int("files_removed", removed))
	}
	return removed
}
