package errorutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError describes one field that failed a validation rule.
type ValidationError struct {
	Field   string
	Value   any
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed for field '%s' with rule '%s'", e.Field, e.Rule)
}

// ValidateRequired checks if a field has a non-empty value
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Value: value, Rule: "required", Message: "field is required and cannot be empty"}
	}
	return nil
}

// ValidateIntRange checks if an integer value is within [min, max].
func ValidateIntRange(field string, value, min, max int) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Value:   value,
			Rule:    "int_range",
			Message: fmt.Sprintf("value must be between %d and %d, got %d", min, max, value),
		}
	}
	return nil
}

// ValidateEnum checks value case-insensitively against allowed.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if strings.ToLower(a) == v {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Value:   value,
		Rule:    "enum",
		Message: fmt.Sprintf("value must be one of: %s, got '%s'", strings.Join(allowed, ", "), value),
	}
}

// ValidateURL requires an absolute http or https URL.
func ValidateURL(field, value string) *ValidationError {
	if err := ValidateRequired(field, value); err != nil {
		return err
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{
			Field:   field,
			Value:   value,
			Rule:    "url",
			Message: fmt.Sprintf("must be an absolute http(s) URL, got '%s'", value),
		}
	}
	return nil
}

// ValidateHostPort requires a host:port pair such as "api.open-meteo.com:443".
func ValidateHostPort(field, value string) *ValidationError {
	if err := ValidateRequired(field, value); err != nil {
		return err
	}
	host, port, err := net.SplitHostPort(value)
	if err != nil || host == "" || port == "" {
		return &ValidationError{
			Field:   field,
			Value:   value,
			Rule:    "host_port",
			Message: fmt.Sprintf("must be in host:port form, got '%s'", value),
		}
	}
	return nil
}

// ValidateCoordinate checks a latitude or longitude in decimal degrees.
func ValidateCoordinate(field string, value float64, isLatitude bool) *ValidationError {
	min, max, kind := -180.0, 180.0, "longitude"
	if isLatitude {
		min, max, kind = -90.0, 90.0, "latitude"
	}
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Value:   value,
			Rule:    "coordinate",
			Message: fmt.Sprintf("%s must be between %.1f and %.1f, got %.6f", kind, min, max, value),
		}
	}
	return nil
}
