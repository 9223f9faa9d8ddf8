package fping

import (
	"fmt"
	"strings"
)

// ToolNotFoundError reports that the fping executable could not be located
// or started.
type ToolNotFoundError struct {
	Path string
	Err  error
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("command not found: %s: %v", e.Path, e.Err)
}

func (e *ToolNotFoundError) Unwrap() error { return e.Err }

// NoResultsError reports that none of the requested addresses produced a
// result line, which usually means they are all invalid.
type NoResultsError struct {
	Addresses []string
}

func (e *NoResultsError) Error() string {
	return "invalid addresses: " + strings.Join(e.Addresses, ",")
}
