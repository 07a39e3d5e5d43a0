package normalize

import "fmt"

// ValidationError reports a raw row that cannot become a PricePoint
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s: %s", e.Field, e.Reason)
}

func missing(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "missing"}
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
