package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents logging severity using slog levels
type Level slog.Level

const (
	DebugLevel Level = Level(slog.LevelDebug)
	InfoLevel  Level = Level(slog.LevelInfo)
	WarnLevel  Level = Level(slog.LevelWarn)
	ErrorLevel Level = Level(slog.LevelError)
)

const timeFormat = "2006-01-02T15:04:05.000-07:00"

// Config mirrors the [logging] section of the configuration file.
type Config struct {
	Enabled         bool   `toml:"enabled"`
	Directory       string `toml:"directory"`
	FilenamePattern string `toml:"filename_pattern"`
	Level           string `toml:"level"`
	MaxFiles        int    `toml:"max_files"`
	MaxSizeMB       int    `toml:"max_size_mb"`
	ConsoleOutput   bool   `toml:"console_output"`
}

// RotatingLogger wraps slog.Logger and owns the file it writes to.
// Console output always goes to stderr; stdout belongs to the renderer.
type RotatingLogger struct {
	*slog.Logger
	config   Config
	console  io.Writer
	file     *os.File
	fileName string
	fileSize int64
	mu       sync.Mutex
	out      io.Writer
}

var (
	globalLogger *RotatingLogger
	globalMu     sync.Mutex
)

// Initialize replaces the global logger.
func Initialize(config Config) error {
	l, err := New(config)
	if err != nil {
		return err
	}
	globalMu.Lock()
	old := globalLogger
	globalLogger = l
	globalMu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Get returns the global logger, creating a quiet stderr logger on first use.
func Get() *RotatingLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		l := &RotatingLogger{config: Config{Level: "warn"}, console: os.Stderr}
		l.out = os.Stderr
		l.Logger = slog.New(l.handler())
		globalLogger = l
	}
	return globalLogger
}

// New builds a logger from config without touching the global instance.
func New(config Config) (*RotatingLogger, error) {
	if config.Enabled && config.FilenamePattern != "" {
		if err := ValidateFilenamePattern(config.FilenamePattern); err != nil {
			return nil, fmt.Errorf("invalid filename pattern: %w", err)
		}
	}

	l := &RotatingLogger{config: config}
	if config.ConsoleOutput {
		l.console = os.Stderr
	}

	if config.Enabled {
		if err := os.MkdirAll(expandLogDirectory(config.Directory), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := l.openLogFile()
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
	}

	l.rebuildWriter()
	l.Logger = slog.New(l.handler())
	l.Debug("logger initialized",
		slog.String("log_file", l.fileName),
		slog.String("level", config.Level),
		slog.Bool("console", config.ConsoleOutput))
	return l, nil
}

// NewWithWriter builds a logger writing only to w. Used by tests.
func NewWithWriter(w io.Writer, level string) *RotatingLogger {
	l := &RotatingLogger{config: Config{Level: level}, console: w, out: w}
	l.Logger = slog.New(l.handler())
	return l
}

// SetGlobal installs l as the global logger.
func SetGlobal(l *RotatingLogger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

func (l *RotatingLogger) handler() slog.Handler {
	return slog.NewTextHandler(l, &slog.HandlerOptions{
		Level: parseLogLevel(l.config.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(timeFormat))
			}
			if a.Key == slog.SourceKey {
				if source, ok := a.Value.Any().(*slog.Source); ok {
					return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(source.File), source.Line))
				}
			}
			return a
		},
	})
}

// rebuildWriter must be called with mu held or before the logger is shared.
func (l *RotatingLogger) rebuildWriter() {
	var writers []io.Writer
	if l.console != nil {
		writers = append(writers, l.console)
	}
	if l.file != nil {
		writers = append(writers, l.file)
	}
	if len(writers) == 0 {
		l.out = io.Discard
		return
	}
	l.out = io.MultiWriter(writers...)
}

// openLogFile opens the current log file in append mode (caller must hold mutex)
func (l *RotatingLogger) openLogFile() (*os.File, error) {
	path := filepath.Join(expandLogDirectory(l.config.Directory), generateLogFilename(l.config.FilenamePattern))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	l.fileName = path
	l.fileSize = info.Size()
	return f, nil
}

func expandLogDirectory(dir string) string {
	if dir == "" {
		dir = "logs"
	}
	if filepath.IsAbs(dir) || dir == "logs" || strings.HasPrefix(dir, "./") {
		return dir
	}
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Weatherwise", "logs")
		}
	case "darwin", "linux":
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".weatherwise", "logs")
		}
	}
	return "logs"
}

// generateLogFilename expands YYYY, YY, MM, DD and HH tokens in pattern.
func generateLogFilename(pattern string) string {
	if pattern == "" {
		pattern = "weatherwise-YYYYMMDD.log"
	}
	now := time.Now()
	r := strings.NewReplacer(
		"YYYY", fmt.Sprintf("%04d", now.Year()),
		"YY", fmt.Sprintf("%02d", now.Year()%100),
		"MM", fmt.Sprintf("%02d", now.Month()),
		"DD", fmt.Sprintf("%02d", now.Day()),
		"HH", fmt.Sprintf("%02d", now.Hour()),
	)
	return r.Replace(pattern)
}

// ValidateFilenamePattern rejects patterns that cannot form a single file name
// on every supported platform. An empty pattern selects the default.
func ValidateFilenamePattern(pattern string) error {
	if pattern == "" {
		return nil
	}
	if strings.ContainsAny(pattern, `/\:*?"<>|`) {
		return fmt.Errorf("filename pattern %q contains characters that are not allowed in file names", pattern)
	}
	if pattern == "." || pattern == ".." {
		return fmt.Errorf("filename pattern %q is not a file name", pattern)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a string to a log level
func ParseLevel(levelStr string) (Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// rotateIfNeeded must be called with mu held.
func (l *RotatingLogger) rotateIfNeeded() error {
	if l.file == nil {
		return nil
	}
	maxSize := int64(l.config.MaxSizeMB) * 1024 * 1024
	sizeExceeded := maxSize > 0 && l.fileSize >= maxSize
	dayChanged := filepath.Base(l.fileName) != generateLogFilename(l.config.FilenamePattern)
	if !sizeExceeded && !dayChanged {
		return nil
	}

	l.file.Close()
	if info, err := os.Stat(l.fileName); err == nil && info.Size() > 0 {
		ext := filepath.Ext(l.fileName)
		archived := fmt.Sprintf("%s-%s%s", strings.TrimSuffix(l.fileName, ext), time.Now().Format("20060102-150405"), ext)
		if err := os.Rename(l.fileName, archived); err != nil {
			fmt.Fprintf(os.Stderr, "failed to archive log file: %v\n", err)
		}
	}

	f, err := l.openLogFile()
	if err != nil {
		l.file = nil
		l.rebuildWriter()
		return err
	}
	l.file = f
	l.rebuildWriter()

	if l.config.MaxFiles > 0 {
		go l.cleanOldFiles(filepath.Dir(l.fileName))
	}
	return nil
}

// cleanOldFiles keeps the newest MaxFiles log files in dir.
func (l *RotatingLogger) cleanOldFiles(dir string) {
	glob := strings.NewReplacer("YYYY", "*", "YY", "*", "MM", "*", "DD", "*", "HH", "*").Replace(l.config.FilenamePattern)
	ext := filepath.Ext(glob)
	matches, err := filepath.Glob(filepath.Join(dir, strings.TrimSuffix(glob, ext)+"*"+ext))
	if err != nil {
		return
	}

	type entry struct {
		path    string
		modTime time.Time
	}
	files := make([]entry, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		files = append(files, entry{path: m, modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	for i := l.config.MaxFiles; i < len(files); i++ {
		os.Remove(files[i].path)
	}
}

// Write implements io.Writer with a rotation check after each record.
func (l *RotatingLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.out.Write(p)
	if err != nil {
		return n, err
	}
	l.fileSize += int64(n)
	if err := l.rotateIfNeeded(); err != nil {
		fmt.Fprintf(os.Stderr, "log rotation error: %v\n", err)
	}
	return n, nil
}

// Close closes the log file
func (l *RotatingLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.rebuildWriter()
	return err
}

// FileName reports the active log file, empty when file logging is off.
func (l *RotatingLogger) FileName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fileName
}

func Debug(format string, args ...any) {
	Get().Debug(fmt.Sprintf(format, args...))
}

func Info(format string, args ...any) {
	Get().Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...any) {
	Get().Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) {
	Get().Error(fmt.Sprintf(format, args...))
}

// LogAPIRequest logs an outbound provider request.
func LogAPIRequest(method, url string) {
	Get().LogAttrs(context.Background(), slog.LevelDebug, "API request started",
		slog.Group("request",
			"method", method,
			"url", url,
			"type", "api_request",
		),
	)
}

// LogAPIResponse logs a provider response; 4xx warns and 5xx errors.
func LogAPIResponse(method, url string, statusCode int, duration time.Duration, bodySize int) {
	level := slog.LevelDebug
	if statusCode >= 400 {
		level = slog.LevelWarn
	}
	if statusCode >= 500 {
		level = slog.LevelError
	}
	Get().LogAttrs(context.Background(), level, "API request completed",
		slog.Group("request",
			"method", method,
			"url", url,
			"status_code", statusCode,
			"duration", duration.String(),
			"body_size", bodySize,
			"type", "api_response",
		),
	)
}

// LogFileError logs a failed file operation with its caller.
func LogFileError(operation, filePath string, err error) {
	attrs := []slog.Attr{
		slog.Group("file",
			slog.String("operation", operation),
			slog.String("path", filePath),
			slog.String("type", "file_error"),
		),
		slog.String("error", err.Error()),
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		attrs = append(attrs, slog.String("source", fmt.Sprintf("%s:%d", filepath.Base(file), line)))
	}
	Get().LogAttrs(context.Background(), slog.LevelError, "File operation failed", attrs...)
}

// LogOperationStart logs the beginning of an operation and returns a
// completion function that records duration and outcome.
func LogOperationStart(operation string, details map[string]any) func(error) {
	start := time.Now()

	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("type", "operation_start"),
	}
	if len(details) > 0 {
		attrs = append(attrs, slog.Group("details", mapToArgs(details)...))
	}
	Get().LogAttrs(context.Background(), slog.LevelDebug, "Operation started", attrs...)

	return func(err error) {
		level := slog.LevelDebug
		message := "Operation completed"
		done := []slog.Attr{
			slog.String("operation", operation),
			slog.String("type", "operation_complete"),
			slog.Duration("duration", time.Since(start)),
			slog.Bool("success", err == nil),
		}
		if err != nil {
			level = slog.LevelWarn
			message = "Operation failed"
			done = append(done, slog.String("error", err.Error()))
		}
		Get().LogAttrs(context.Background(), level, message, done...)
	}
}

// LogWithFields logs a message with custom structured fields
func LogWithFields(level Level, message string, fields map[string]any) {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	Get().LogAttrs(context.Background(), slog.Level(level), message, attrs...)
}

func mapToArgs(m map[string]any) []any {
	args := make([]any, 0, len(m)*2)
	for _, k := range sortedKeys(m) {
		args = append(args, k, m[k])
	}
	return args
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
