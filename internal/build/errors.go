package build

import (
	"errors"
	"fmt"
)

// Fixed messages of the output format checks
const (
	MsgESMWithCJS = `format "esm" or platform "neutral" should not output a file with extension ".cjs"`
	MsgCJSWithMJS = `non esm builds should not output a file with extension ".mjs"`
)

// ErrNoOutput is returned when the compiler succeeds but emits nothing for the entry
var ErrNoOutput = errors.New("compiler returned no output")

// ConfigurationError reports an invalid combination of build settings. It is
// detected before any work starts.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// CompileError reports a failed compilation of one entry
type CompileError struct {
	Entry string
	Err   error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile failed for %s: %v", e.Entry, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}
