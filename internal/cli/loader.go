package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"

	"github.com/roach88/livegraph/internal/compiler"
	"github.com/roach88/livegraph/internal/engine"
	"github.com/roach88/livegraph/internal/store"
)

// LoadError represents an error that occurred during spec loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeReadFailed  = "E004" // Input file or stdin unreadable
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE load or build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeDatabase    = "E008" // Database open or schema mismatch

	// E2xx codes come from schema definition errors.

	ErrCodeInvalidRules = "E301" // Rules reference unknown types, attributes or labels
	ErrCodeInvalidInput = "E302" // Transaction or query input malformed
)

// LoadSpecs compiles the CUE specs in dir. Errors are *LoadError.
func LoadSpecs(dir string) (*compiler.Spec, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := compiler.FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	spec, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, convertCompileError(err)
	}
	return spec, nil
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if !errors.As(err, &compileErr) {
		return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	code := compileErr.Code
	switch {
	case code != "":
	case compileErr.Field == "cue":
		code = ErrCodeBuildFailed
	case compileErr.Field == "rules":
		code = ErrCodeInvalidRules
	default:
		code = ErrCodeGeneric
	}
	msg := compileErr.Message
	if compileErr.Field != "cue" {
		msg = compileErr.Field + ": " + msg
	}
	return &LoadError{Code: code, Message: msg, Pos: compileErr.Pos}
}

// openEngine compiles the specs and starts an engine over the database at
// dbPath. The caller closes both the engine and the store.
func openEngine(ctx context.Context, specsDir, dbPath string) (*engine.Engine, *store.Store, error) {
	spec, err := LoadSpecs(specsDir)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, &LoadError{Code: ErrCodeDatabase, Message: err.Error()}
	}
	e, err := engine.New(ctx, spec.Registry, spec.Rules, engine.WithStore(st))
	if err != nil {
		st.Close()
		return nil, nil, &LoadError{Code: ErrCodeDatabase, Message: err.Error()}
	}
	return e, st, nil
}

// failLoad reports a spec or database error through f. Missing paths are
// command errors; everything else is a failure of the specs themselves.
func failLoad(f *OutputFormatter, err error) error {
	var le *LoadError
	if !errors.As(err, &le) {
		return f.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
	}
	exit := ExitFailure
	if le.Code == ErrCodeNotFound || le.Code == ErrCodeDatabase {
		exit = ExitCommandError
	}
	return f.Fail(exit, le.Code, le.Error(), nil)
}
