package auth

import (
	"errors"
)

// UnknownErrorMessage is shown when the remote gave no structured reason.
const UnknownErrorMessage = "An unknown error occurred."

var (
	ErrRemoteRejected  = errors.New("login rejected by remote")
	ErrUnknown         = errors.New("login failed")
	ErrLoginInProgress = errors.New("login already in progress")
)

type Kind int

const (
	KindUnknown Kind = iota
	KindRemoteRejected
)

// Error is a classified login failure.
type Error struct {
	Kind Kind
	// Details is the remote error body for KindRemoteRejected.
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindRemoteRejected {
		return "login rejected: " + e.Details
	}
	if e.Err != nil {
		return "login failed: " + e.Err.Error()
	}
	return "login failed"
}

// Message is the text to show the user.
func (e *Error) Message() string {
	if e.Kind == KindRemoteRejected {
		return e.Details
	}
	return UnknownErrorMessage
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrRemoteRejected:
		return e.Kind == KindRemoteRejected
	case ErrUnknown:
		return e.Kind == KindUnknown
	}
	return false
}
