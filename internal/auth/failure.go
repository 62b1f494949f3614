// Package auth verifies login credentials against a static account set and
// issues and validates the signed bearer tokens that protect the weather route.
package auth

import (
	"errors"
	"fmt"
)

// Kind groups authentication failures by the externally visible message they map to.
type Kind int

const (
	// KindCredentials covers unknown usernames and wrong passwords on login.
	KindCredentials Kind = iota + 1
	// KindToken covers every bearer header or token rejection.
	KindToken
)

// External messages. These are the only strings a client ever sees for a failure.
const (
	MessageCredentials = "Incorrect username or password"
	MessageToken       = "Could not validate credentials"
)

var (
	// ErrCredentials matches any login failure via errors.Is.
	ErrCredentials = errors.New("invalid credentials")
	// ErrToken matches any bearer token failure via errors.Is.
	ErrToken = errors.New("invalid bearer token")
)

// Failure is the single error type returned for authentication problems.
// Reason and Err are internal diagnostics for logs and metrics; Message is the
// only part that may be written to a response.
type Failure struct {
	Kind   Kind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.sentinel(), f.Reason, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.sentinel(), f.Reason)
}

// Unwrap exposes the kind sentinel and the underlying cause.
func (f *Failure) Unwrap() []error {
	if f.Err != nil {
		return []error{f.sentinel(), f.Err}
	}
	return []error{f.sentinel()}
}

// Message returns the uniform client-facing text for the failure kind.
func (f *Failure) Message() string {
	if f.Kind == KindCredentials {
		return MessageCredentials
	}
	return MessageToken
}

func (f *Failure) sentinel() error {
	if f.Kind == KindCredentials {
		return ErrCredentials
	}
	return ErrToken
}

func credentialsFailure(reason string, err error) *Failure {
	return &Failure{Kind: KindCredentials, Reason: reason, Err: err}
}

func tokenFailure(reason string, err error) *Failure {
	return &Failure{Kind: KindToken, Reason: reason, Err: err}
}

// Failure reasons. Stable values, used as metric labels.
const (
	ReasonUnknownUser      = "unknown_user"
	ReasonPasswordMismatch = "password_mismatch"
	ReasonMissingHeader    = "missing_header"
	ReasonMalformedHeader  = "malformed_header"
	ReasonWrongScheme      = "wrong_scheme"
	ReasonInvalidToken     = "invalid_token"
	ReasonMissingSubject   = "missing_subject"
)
