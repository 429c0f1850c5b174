// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workload

import (
	"fmt"
	"regexp"
	"strings"
)

// validNameRegex matches names the orchestrator accepts for workloads and
// agents.
var validNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxNameLength = 63

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("multiple validation errors: %s", strings.Join(messages, "; "))
}

// Has reports whether one of the errors concerns field.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

func (e ValidationErrors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// ValidateName checks a workload or agent name.
func ValidateName(field, name string) *ValidationError {
	switch {
	case name == "":
		return &ValidationError{Field: field, Message: "is required"}
	case len(name) > maxNameLength:
		return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d characters", maxNameLength)}
	case !validNameRegex.MatchString(name):
		return &ValidationError{Field: field, Message: "must contain only letters, numbers, underscores and hyphens"}
	}
	return nil
}

// validateStringValue performs common string validation
func validateStringValue(value, fieldName string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   fieldName,
			Message: "contains null bytes",
		}
	}

	for _, r := range value {
		if r < 32 && r != 9 && r != 10 && r != 13 { // tab, LF, CR
			return &ValidationError{
				Field:   fieldName,
				Message: "contains control characters",
			}
		}
	}
	return nil
}
