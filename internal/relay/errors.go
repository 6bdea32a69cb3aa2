package relay

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrWouldBlock is returned by endpoints when an operation cannot make
	// progress without waiting. The engine absorbs it.
	ErrWouldBlock = errors.New("operation would block")
	// ErrProtocolViolation is returned when the peer ends its stream before
	// the local input did
	ErrProtocolViolation = errors.New("peer closed the connection before input reached end of stream")
	// ErrInvalidCount is wrapped in an IOError when an endpoint reports a
	// byte count outside the buffer it was given
	ErrInvalidCount = errors.New("endpoint returned an invalid byte count")
)

// Role identifies an endpoint by the part it plays in the relay
type Role int

const (
	// RoleInput is the local byte producer
	RoleInput Role = iota
	// RolePeer is the remote connection
	RolePeer
	// RoleOutput is the local byte consumer
	RoleOutput
)

// String returns the string representation of a Role
func (r Role) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RolePeer:
		return "peer"
	case RoleOutput:
		return "output"
	default:
		return "unknown"
	}
}

// IOError reports a failed read, write or half-close on an endpoint
type IOError struct {
	Op   string
	Role Role
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Role, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// MultiplexError reports a failure of the readiness wait itself
type MultiplexError struct {
	Err error
}

func (e *MultiplexError) Error() string {
	return fmt.Sprintf("readiness wait: %v", e.Err)
}

func (e *MultiplexError) Unwrap() error {
	return e.Err
}

// Outcome is the single result a relay terminates with
type Outcome int

const (
	// OutcomeSuccess means both directions completed
	OutcomeSuccess Outcome = iota
	// OutcomeProtocolViolation means the peer closed too early
	OutcomeProtocolViolation
	// OutcomeIOError means an endpoint operation failed
	OutcomeIOError
	// OutcomeMultiplexError means the readiness wait failed
	OutcomeMultiplexError
	// OutcomeCanceled means the caller stopped the relay
	OutcomeCanceled
)

// String returns the string representation of an Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeProtocolViolation:
		return "protocol_violation"
	case OutcomeIOError:
		return "io_error"
	case OutcomeMultiplexError:
		return "multiplex_error"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ExitCode returns the process exit status for the outcome
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return 0
	case OutcomeIOError:
		return 1
	case OutcomeProtocolViolation:
		return 2
	case OutcomeMultiplexError:
		return 3
	case OutcomeCanceled:
		return 130
	default:
		return 1
	}
}

// Classify maps an error returned by Engine.Run to its Outcome.
// Errors the engine never produces are classified as OutcomeIOError.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	var mux *MultiplexError
	var ioErr *IOError

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case errors.Is(err, ErrProtocolViolation):
		return OutcomeProtocolViolation
	case errors.As(err, &mux):
		return OutcomeMultiplexError
	case errors.As(err, &ioErr):
		return OutcomeIOError
	default:
		return OutcomeIOError
	}
}
