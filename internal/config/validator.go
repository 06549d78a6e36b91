package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the RuntimeConfig using struct tags and cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *RuntimeConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateThresholdOrdering(); err != nil {
		return err
	}

	return nil
}

// validateThresholdOrdering ensures the memory warning threshold sits below
// the critical one; both past 1.0 or inverted would never fire as intended.
func (c *RuntimeConfig) validateThresholdOrdering() error {
	if c.MemoryManagement.WarningThreshold > 0 && c.MemoryManagement.CriticalThreshold > 0 &&
		c.MemoryManagement.WarningThreshold >= c.MemoryManagement.CriticalThreshold {
		return errors.New("memory_management: warning_threshold must be below critical_threshold")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		return fmt.Sprintf("%s is required for this rule_source", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
