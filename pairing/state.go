package pairing

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of one pairing attempt.
type State int

const (
	StateConnecting State = iota
	StateRoleNegotiated
	StateSecretRequested
	StateVerifying
	StateSuccess
	StateFailedSecret
	StateFailedConnection
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRoleNegotiated:
		return "role_negotiated"
	case StateSecretRequested:
		return "secret_requested"
	case StateVerifying:
		return "verifying"
	case StateSuccess:
		return "success"
	case StateFailedSecret:
		return "failed_secret"
	case StateFailedConnection:
		return "failed_connection"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s >= StateSuccess
}

// Reason classifies why pairing did not succeed.
type Reason int

const (
	ReasonConnection Reason = iota
	ReasonSecret
	ReasonCancelled
)

func (r Reason) String() string {
	switch r {
	case ReasonConnection:
		return "connection"
	case ReasonSecret:
		return "secret"
	case ReasonCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

func (r Reason) state() State {
	switch r {
	case ReasonSecret:
		return StateFailedSecret
	case ReasonCancelled:
		return StateCancelled
	default:
		return StateFailedConnection
	}
}

// Failure is the error returned by an unsuccessful pairing attempt.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "pairing failed: " + f.Reason.String()
	}
	return fmt.Sprintf("pairing failed (%s): %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsCancelled reports whether err is a cancelled pairing attempt.
func IsCancelled(err error) bool {
	var failure *Failure
	return errors.As(err, &failure) && failure.Reason == ReasonCancelled
}

var (
	// ErrSecretMismatch indicates the entered code does not match this television.
	ErrSecretMismatch = errors.New("pairing: secret does not match")
	// ErrNoSecret indicates the user dismissed the prompt or did not answer in time.
	ErrNoSecret = errors.New("pairing: no secret entered")
)
