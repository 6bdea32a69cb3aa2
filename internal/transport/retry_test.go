package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/julienstroheker/relaycat/internal/logging"
)

func TestRetry(t *testing.T) {
	errFail := errors.New("fail")

	tests := []struct {
		name         string
		retries      int
		failures     int
		wantAttempts int
		wantErr      bool
	}{
		{name: "first attempt succeeds", retries: 3, failures: 0, wantAttempts: 1},
		{name: "succeeds after failures", retries: 3, failures: 2, wantAttempts: 3},
		{name: "no retries", retries: 0, failures: 5, wantAttempts: 1, wantErr: true},
		{name: "retries exhausted", retries: 2, failures: 5, wantAttempts: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := retry(context.Background(), tt.retries, time.Millisecond, logging.Nop(), func(context.Context) error {
				attempts++
				if attempts <= tt.failures {
					return errFail
				}
				return nil
			})

			if (err != nil) != tt.wantErr {
				t.Fatalf("retry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errFail) {
				t.Errorf("Expected the last attempt error, got: %v", err)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("Expected %d attempts, got: %d", tt.wantAttempts, attempts)
			}
		})
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := retry(ctx, 10, time.Hour, logging.Nop(), func(context.Context) error {
		attempts++
		cancel()
		return errors.New("fail")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetry_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := retry(ctx, 10, time.Hour, logging.Nop(), func(context.Context) error {
		return errors.New("fail")
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Expected retry to stop with the context, took: %v", elapsed)
	}
}
