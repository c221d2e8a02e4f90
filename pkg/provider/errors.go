package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrRateLimited indicates the request was rejected by the provider's
	// rate limiter.
	ErrRateLimited = errors.New("request rate limited")

	// ErrUnavailable indicates the provider service is unavailable.
	ErrUnavailable = errors.New("provider unavailable")
)

// Error wraps provider-specific errors with operation context.
type Error struct {
	// Op is the operation that failed (e.g., "ForkRepo").
	Op string

	// Owner and Repo identify the repository, if applicable.
	Owner string
	Repo  string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Owner, e.Repo, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsRateLimited returns true if the error indicates provider rate limiting.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsUnavailable returns true if the error indicates the provider is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsFatal returns true for errors that retrying cannot fix: bad
// credentials, missing permissions. Rate limiting and availability
// problems are transient by contrast.
func IsFatal(err error) bool {
	return IsInvalidCredentials(err) || IsAccessDenied(err)
}
