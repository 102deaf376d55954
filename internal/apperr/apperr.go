// Package apperr defines the user-facing error taxonomy. Every error that
// reaches the command layer is reported once with a short remedy and the
// process exits with status 1.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a user-facing failure.
type Kind int

const (
	// Usage is a bad or missing argument.
	Usage Kind = iota
	// MissingDependency is an absent external tool or runtime.
	MissingDependency
	// MissingCredential is a provider call attempted without a stored key.
	MissingCredential
	// Provider covers network failures, non-2xx statuses and malformed bodies.
	Provider
	// NotFound is a referenced file, model or session that does not exist.
	NotFound
	// Unsupported is a feature not implemented for the resolved backend.
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case Usage:
		return "usage error"
	case MissingDependency:
		return "missing dependency"
	case MissingCredential:
		return "missing credential"
	case Provider:
		return "provider error"
	case NotFound:
		return "not found"
	case Unsupported:
		return "unsupported"
	default:
		return "error"
	}
}

// Error is a classified failure with an optional remedial command.
type Error struct {
	Kind    Kind
	Message string
	Remedy  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Usagef returns a usage error.
func Usagef(format string, args ...any) *Error {
	return &Error{Kind: Usage, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf returns a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf(format, args...)}
}

// Unsupportedf returns an unsupported-feature error.
func Unsupportedf(format string, args ...any) *Error {
	return &Error{Kind: Unsupported, Message: fmt.Sprintf(format, args...)}
}

// NewMissingDependency reports an absent tool together with the command that installs it.
func NewMissingDependency(tool, remedy string) *Error {
	return &Error{
		Kind:    MissingDependency,
		Message: fmt.Sprintf("%s not found", tool),
		Remedy:  remedy,
	}
}

// NewMissingCredential reports a missing provider key.
func NewMissingCredential(provider, alias string) *Error {
	return &Error{
		Kind:    MissingCredential,
		Message: fmt.Sprintf("no API key stored for %s", provider),
		Remedy:  fmt.Sprintf("ai download %s <key>", alias),
	}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// providerKinded is implemented by adapter errors that carry their own class.
type providerKinded interface {
	ProviderKind() string
}

// From classifies err for reporting. Errors that already carry a Kind are
// returned unchanged; adapter errors map to NotFound, Unsupported or Provider.
func From(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var pk providerKinded
	if !errors.As(err, &pk) {
		return &Error{Kind: Provider, Err: err}
	}
	switch pk.ProviderKind() {
	case "not-found":
		return &Error{Kind: NotFound, Err: err}
	case "unsupported-feature":
		return &Error{Kind: Unsupported, Err: err}
	case "auth":
		return &Error{Kind: Provider, Err: err, Remedy: "check the stored key with: ai keys"}
	default:
		return &Error{Kind: Provider, Err: err}
	}
}

// KindOf returns the kind of the first *Error in err's chain.
// Unclassified errors are treated as provider errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Provider
}

// RemedyOf returns the remedy of the first *Error in err's chain, if any.
func RemedyOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Remedy
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
