package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a source adapter failure.
type Kind int

const (
	// KindConfig means a required credential or endpoint is missing.
	// Surfaced immediately, never retried.
	KindConfig Kind = iota + 1

	// KindUpstream means the provider returned an application-level error
	// payload or a client-side HTTP status. Caller-caused: not retried
	// against a fallback.
	KindUpstream

	// KindTransient means a connection failure, timeout or 5xx status.
	// Triggers the fallback provider when one is configured.
	KindTransient

	// KindRateLimited means the provider kept answering 429 after the
	// client's backoff retries were exhausted.
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindUpstream:
		return "upstream"
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is a classified source adapter failure.
type Error struct {
	Kind     Kind
	Provider string // "alchemy" | "etherscan"
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %s error", e.Provider, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure justifies retrying the whole fetch
// against a fallback provider. Only transport-level failures qualify.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

// IsKind reports whether err is a provider error of the given kind.
func IsKind(err error, kind Kind) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Kind == kind
}

func newError(kind Kind, providerName, op string, err error) *Error {
	return &Error{Kind: kind, Provider: providerName, Op: op, Err: err}
}
