package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	cause := errors.New("connection reset by peer")

	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{
			name: "nil is success",
			err:  nil,
			want: OutcomeSuccess,
		},
		{
			name: "protocol violation",
			err:  ErrProtocolViolation,
			want: OutcomeProtocolViolation,
		},
		{
			name: "io error",
			err:  &IOError{Op: "read", Role: RolePeer, Err: cause},
			want: OutcomeIOError,
		},
		{
			name: "wrapped io error",
			err:  fmt.Errorf("relay: %w", &IOError{Op: "write", Role: RoleOutput, Err: cause}),
			want: OutcomeIOError,
		},
		{
			name: "multiplex error",
			err:  &MultiplexError{Err: cause},
			want: OutcomeMultiplexError,
		},
		{
			name: "canceled",
			err:  context.Canceled,
			want: OutcomeCanceled,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: OutcomeCanceled,
		},
		{
			name: "unknown error",
			err:  io.ErrUnexpectedEOF,
			want: OutcomeIOError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutcome_ExitCode(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    int
	}{
		{OutcomeSuccess, 0},
		{OutcomeIOError, 1},
		{OutcomeProtocolViolation, 2},
		{OutcomeMultiplexError, 3},
		{OutcomeCanceled, 130},
	}

	seen := make(map[int]Outcome)
	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			if got := tt.outcome.ExitCode(); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
		if other, ok := seen[tt.want]; ok {
			t.Errorf("Outcomes %v and %v share exit code %d", other, tt.outcome, tt.want)
		}
		seen[tt.want] = tt.outcome
	}
}

func TestIOError(t *testing.T) {
	cause := errors.New("broken pipe")
	err := &IOError{Op: "write", Role: RoleOutput, Err: cause}

	if !errors.Is(err, cause) {
		t.Error("Expected IOError to unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "write output") {
		t.Errorf("Expected message to name op and role, got: %s", err.Error())
	}
}

func TestMultiplexError(t *testing.T) {
	cause := errors.New("bad file descriptor")
	err := &MultiplexError{Err: cause}

	if !errors.Is(err, cause) {
		t.Error("Expected MultiplexError to unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "readiness wait") {
		t.Errorf("Expected message to mention the readiness wait, got: %s", err.Error())
	}
}

func TestRole_String(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleInput, "input"},
		{RolePeer, "peer"},
		{RoleOutput, "output"},
		{Role(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.role.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}
