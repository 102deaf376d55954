// Package executor reads source files for prompting and runs generated code
// after a risk check.
package executor

import (
	"context"
	"time"
)

// CodeRunner defines the interface for running generated code.
// This interface enables dependency injection and easier testing.
type CodeRunner interface {
	// Run executes code with the language's interpreter and returns the result
	Run(ctx context.Context, lang Language, code string) (*ExecutionResult, error)

	// GetPermissionManager returns the permission manager
	GetPermissionManager() PermissionChecker

	// SetTimeout sets the execution timeout
	SetTimeout(timeout time.Duration)
}

// PermissionChecker defines the interface for deciding whether code may run.
type PermissionChecker interface {
	CheckPermission(lang Language, code string) Decision
}

// Ensure concrete types implement the interfaces
var _ CodeRunner = (*Executor)(nil)
var _ PermissionChecker = (*PermissionManager)(nil)
