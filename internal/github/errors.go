package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v57/github"
)

// ErrorKind classifies a provider failure for the dispatcher's retry
// policy. Only transient failures are worth retrying.
type ErrorKind int

const (
	// KindTerminal will not succeed on retry without intervention.
	KindTerminal ErrorKind = iota
	// KindTransient covers network failures, 5xx and rate limiting.
	KindTransient
	// KindAuth means the credential is missing, expired or revoked.
	KindAuth
	// KindNotFound means the resource is gone, renamed or deauthorized.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	default:
		return "terminal"
	}
}

// ProviderError wraps a provider call failure with its classification.
type ProviderError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("github: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying. The task
// dispatcher consults this through an interface check.
func (e *ProviderError) Transient() bool {
	return e.Kind == KindTransient
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindTransient
}

// IsNotFound reports whether err is an upstream not-found.
func IsNotFound(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindNotFound
}

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindAuth
}

// classify maps a go-github error onto the taxonomy. Unrecognized
// errors default to transient: they are almost always network-level.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: KindTerminal, Op: op, Err: err}
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &ProviderError{Kind: KindTransient, Op: op, Err: err}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &ProviderError{Kind: KindTransient, Op: op, Err: err}
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch {
		case ghErr.Response.StatusCode == http.StatusUnauthorized,
			ghErr.Response.StatusCode == http.StatusForbidden:
			return &ProviderError{Kind: KindAuth, Op: op, Err: err}
		case ghErr.Response.StatusCode == http.StatusNotFound:
			return &ProviderError{Kind: KindNotFound, Op: op, Err: err}
		case ghErr.Response.StatusCode >= http.StatusInternalServerError:
			return &ProviderError{Kind: KindTransient, Op: op, Err: err}
		default:
			return &ProviderError{Kind: KindTerminal, Op: op, Err: err}
		}
	}

	return &ProviderError{Kind: KindTransient, Op: op, Err: err}
}
