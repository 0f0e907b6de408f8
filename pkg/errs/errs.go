// Package errs defines the fatal error kinds of the gap filler.
//
// Two kinds abort a run:
//   - DataError: the known series cannot support a fill (missing boundary
//     samples, too little history to infer the sampling interval).
//   - ConfigError: a precondition on the caller's configuration failed
//     (empty candidate sets, non-positive penalty constants, bad solver
//     settings).
//
// Degenerate one-hot slots are not errors. They are repaired by the
// solution extractor and only reported through counters and logs.
package errs

import (
	"errors"
	"fmt"
)

// DataError reports that the input series cannot support the requested fill.
type DataError struct {
	Op  string
	Err error
}

func (e *DataError) Error() string {
	if e.Op == "" {
		return "data error: " + e.Err.Error()
	}
	return fmt.Sprintf("data error: %s: %v", e.Op, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// ConfigError reports a violated configuration precondition.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Op == "" {
		return "config error: " + e.Err.Error()
	}
	return fmt.Sprintf("config error: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Data builds a DataError with a formatted message.
func Data(op, format string, args ...any) error {
	return &DataError{Op: op, Err: fmt.Errorf(format, args...)}
}

// Config builds a ConfigError with a formatted message.
func Config(op, format string, args ...any) error {
	return &ConfigError{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsData reports whether any error in err's chain is a DataError.
func IsData(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}

// IsConfig reports whether any error in err's chain is a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
