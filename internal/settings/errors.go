package settings

import "fmt"

// ConfigurationError is returned for configurations that cannot be used.
type ConfigurationError struct {
	// Feature is the feature at fault, empty for global settings.
	Feature string
	// Field is the offending field, e.g. "serverURL".
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Feature != "" && e.Field != "":
		return fmt.Sprintf("feature %q: %s: %s", e.Feature, e.Field, e.Reason)
	case e.Feature != "":
		return fmt.Sprintf("feature %q: %s", e.Feature, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	default:
		return e.Reason
	}
}

// FeatureError builds a ConfigurationError for a feature.
func FeatureError(feature, field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Feature: feature, Field: field, Reason: fmt.Sprintf(format, args...)}
}
