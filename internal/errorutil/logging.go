package errorutil

import (
	"context"
	"fmt"
	"log/slog"
)

// LogAndWrap logs an error with structured context and returns it wrapped
// with the operation name.
func LogAndWrap(logger *slog.Logger, operation string, err error, attrs ...slog.Attr) error {
	if err == nil {
		return nil
	}
	if logger != nil {
		logAttrs := append([]slog.Attr{slog.String("error", err.Error())}, attrs...)
		logger.LogAttrs(context.Background(), slog.LevelError, operation+" failed", logAttrs...)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// LogWarning logs a recoverable error without wrapping it.
func LogWarning(logger *slog.Logger, operation string, err error, attrs ...slog.Attr) {
	if logger == nil || err == nil {
		return
	}
	logAttrs := append([]slog.Attr{slog.String("error", err.Error())}, attrs...)
	logger.LogAttrs(context.Background(), slog.LevelWarn, "Non-fatal error in "+operation, logAttrs...)
}

// LocationContext creates attributes describing a resolved place.
func LocationContext(name, country string, latitude, longitude float64) []slog.Attr {
	attrs := []slog.Attr{
		slog.Float64("latitude", latitude),
		slog.Float64("longitude", longitude),
	}
	if name != "" {
		attrs = append(attrs, slog.String("location", name))
	}
	if country != "" {
		attrs = append(attrs, slog.String("country", country))
	}
	return attrs
}

// RequestContext creates attributes identifying a coordinator request.
func RequestContext(category, requestID string) []slog.Attr {
	return []slog.Attr{
		slog.String("category", category),
		slog.String("request_id", requestID),
	}
}

// ConfigContext creates context attributes for configuration operations
func ConfigContext(configFile string) []slog.Attr {
	if configFile == "" {
		return nil
	}
	return []slog.Attr{slog.String("config_file", configFile)}
}

// FileContext creates context attributes for file operations
func FileContext(filePath string) []slog.Attr {
	if filePath == "" {
		return nil
	}
	return []slog.Attr{slog.String("file_path", filePath)}
}

// StorageContext creates attributes for a cache store key operation.
func StorageContext(backend, key string) []slog.Attr {
	return []slog.Attr{
		slog.String("backend", backend),
		slog.String("key", key),
	}
}
