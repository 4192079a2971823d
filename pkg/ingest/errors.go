package ingest

import (
	"fmt"
	"strings"
)

// MissingRequiredFieldError rejects a single row that lacks an actor name
// or a movie title. It never aborts the batch.
type MissingRequiredFieldError struct {
	Field Field
	Line  int
}

func (e *MissingRequiredFieldError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: missing required field %s", e.Line, e.Field)
	}
	return fmt.Sprintf("missing required field %s", e.Field)
}

// InvalidSchemaError means no column could be bound to a mandatory field,
// so the source format itself is incompatible.
type InvalidSchemaError struct {
	Missing []Field
	Headers []string
}

func (e *InvalidSchemaError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = string(f)
	}
	return fmt.Sprintf("invalid schema: no column for %s in header %v", strings.Join(names, ", "), e.Headers)
}
