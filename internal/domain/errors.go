package domain

import "fmt"

// DataError reports projection input that cannot be used: a missing or
// malformed window, or transactions with broken identity or dates.
type DataError struct {
	Field  string
	Reason string
}

func (e *DataError) Error() string {
	if e.Field == "" {
		return "data error: " + e.Reason
	}
	return fmt.Sprintf("data error: %s: %s", e.Field, e.Reason)
}

// ValidationError reports a record that breaks a ledger or request invariant.
// Nothing is stored when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func dataErrorf(field, format string, args ...interface{}) *DataError {
	return &DataError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func validationErrorf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
