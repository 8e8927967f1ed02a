package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/zoobzio/activityz"
)

// FieldError is a validation failure of one field.
type FieldError struct {
	// Field is the dotted path of the field, e.g. "sampling.rules[0].ratio".
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every field error of a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks cfg and returns a ValidationError listing every problem.
func Validate(cfg *Config) error {
	var errs []FieldError

	switch cfg.IDFormat {
	case FormatW3C, FormatHierarchical:
	default:
		errs = append(errs, FieldError{
			Field:   "id_format",
			Message: fmt.Sprintf("must be %q or %q, got %q", FormatW3C, FormatHierarchical, cfg.IDFormat),
		})
	}

	for i, r := range cfg.Sampling.Rules {
		errs = append(errs, validateRule(fmt.Sprintf("sampling.rules[%d]", i), r)...)
	}

	if cfg.Collector.BufferSize < 1 {
		errs = append(errs, FieldError{Field: "collector.buffer_size", Message: "must be positive"})
	}

	if _, err := zapcore.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, FieldError{Field: "logging.level", Message: err.Error()})
	}
	switch cfg.Logging.Format {
	case LogFormatJSON, LogFormatConsole:
	default:
		errs = append(errs, FieldError{
			Field:   "logging.format",
			Message: fmt.Sprintf("must be %q or %q, got %q", LogFormatJSON, LogFormatConsole, cfg.Logging.Format),
		})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateRule(prefix string, r Rule) []FieldError {
	var errs []FieldError
	if r.Source == "" {
		errs = append(errs, FieldError{Field: prefix + ".source", Message: "is required"})
	}
	if _, ok := activityz.ParseSamplingResult(r.Result); !ok {
		errs = append(errs, FieldError{
			Field:   prefix + ".result",
			Message: fmt.Sprintf("must be one of none, propagation, all, recorded, got %q", r.Result),
		})
	}
	if r.Ratio <= 0 || r.Ratio > 1 {
		errs = append(errs, FieldError{Field: prefix + ".ratio", Message: "must be in (0, 1]"})
	}
	for j, op := range r.Operations {
		if op == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("%s.operations[%d]", prefix, j), Message: "must not be empty"})
		}
	}
	return errs
}
