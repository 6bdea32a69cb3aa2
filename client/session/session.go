package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	azrelay "github.com/julienstroheker/relaycat/internal/azure/relay"
	"github.com/julienstroheker/relaycat/internal/config"
	"github.com/julienstroheker/relaycat/internal/logging"
	"github.com/julienstroheker/relaycat/internal/relay"
	"github.com/julienstroheker/relaycat/internal/transport"
)

// Action says how the peer connection is established
type Action int

const (
	// ActionConnect dials the peer
	ActionConnect Action = iota
	// ActionListen waits for the peer to connect
	ActionListen
)

// String returns the string representation of an Action
func (a Action) String() string {
	switch a {
	case ActionConnect:
		return "connect"
	case ActionListen:
		return "listen"
	default:
		return "unknown"
	}
}

// ConnectError reports that the peer connection could not be established
type ConnectError struct {
	Action  Action
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("%s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Action, e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Options contains configuration for one session
type Options struct {
	// Config holds the validated settings
	Config *config.Config

	// Action selects dialing or listening
	Action Action

	// Address is the host:port to dial or listen on (unused in hc mode)
	Address string

	// Input is relayed to the peer (default: os.Stdin)
	Input io.Reader

	// Output receives the peer's bytes (default: os.Stdout)
	Output io.Writer

	// Logger receives session events (optional)
	Logger *logging.Logger

	// OnListening is called with the bound address once a listener is ready
	OnListening func(addr string)
}

// Result describes how a relay ended
type Result struct {
	// ID identifies the session in logs
	ID string

	// Backend is the readiness backend that ran the relay
	Backend config.Backend

	// Outcome is the relay's termination outcome
	Outcome relay.Outcome

	// Err is the error behind a failure outcome
	Err error

	// Stats are the relay's traffic counters
	Stats relay.Stats

	// Duration is the time spent relaying
	Duration time.Duration
}

// Run establishes the peer connection and relays until the relay terminates.
// Errors returned before the relay starts are configuration errors or a
// *ConnectError; the relay's own outcome is reported in the Result.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	input := opts.Input
	if input == nil {
		input = os.Stdin
	}
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	id := uuid.New().String()
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With(
		logging.String("session_id", id),
		logging.String("mode", cfg.Mode.String()),
	)

	topts, err := transportOptions(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	conn, err := establish(ctx, opts, topts, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug("Peer close failed", logging.Error(err))
		}
	}()

	ep, err := newEndpoints(cfg.Backend, cfg.BufferSize, input, output, conn)
	if err != nil {
		return nil, err
	}
	defer ep.close(logger)

	engine, err := relay.New(&relay.Options{
		Input:      ep.input,
		Peer:       ep.peer,
		Output:     ep.output,
		Poller:     ep.poller,
		BufferSize: cfg.BufferSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Relay started",
		logging.String("backend", ep.backend.String()),
		logging.Int("buffer_size", cfg.BufferSize))

	start := time.Now()
	runErr := engine.Run(ctx)
	if runErr == nil {
		runErr = ep.flush(ctx)
	}

	result := &Result{
		ID:       id,
		Backend:  ep.backend,
		Outcome:  relay.Classify(runErr),
		Err:      runErr,
		Stats:    engine.Stats(),
		Duration: time.Since(start),
	}
	logResult(logger, result)
	return result, nil
}

func logResult(logger *logging.Logger, r *Result) {
	fields := []logging.Field{
		logging.String("outcome", r.Outcome.String()),
		logging.Size("sent", r.Stats.Sent),
		logging.Size("received", r.Stats.Received),
		logging.Int("iterations", r.Stats.Iterations),
		logging.Duration("duration", r.Duration),
	}

	switch r.Outcome {
	case relay.OutcomeSuccess:
		logger.Info("Relay finished", fields...)
	case relay.OutcomeCanceled:
		logger.Warn("Relay canceled", fields...)
	default:
		logger.Error("Relay failed", append(fields, logging.Error(r.Err))...)
	}
}

// establish dials or accepts the peer connection
func establish(ctx context.Context, opts *Options, topts *transport.Options, logger *logging.Logger) (transport.Conn, error) {
	switch opts.Action {
	case ActionConnect:
		conn, err := transport.Dial(ctx, topts, opts.Address)
		if err != nil {
			return nil, &ConnectError{Action: ActionConnect, Address: opts.Address, Err: err}
		}
		logger.Info("Connected", logging.String("address", opts.Address))
		return conn, nil

	case ActionListen:
		ln, err := transport.Listen(ctx, topts, opts.Address)
		if err != nil {
			return nil, &ConnectError{Action: ActionListen, Address: opts.Address, Err: err}
		}
		defer func() {
			if err := ln.Close(); err != nil {
				logger.Debug("Listener close failed", logging.Error(err))
			}
		}()

		logger.Info("Listening", logging.String("address", ln.Addr()))
		if opts.OnListening != nil {
			opts.OnListening(ln.Addr())
		}

		conn, err := ln.Accept(ctx)
		if err != nil {
			return nil, &ConnectError{Action: ActionListen, Address: ln.Addr(), Err: err}
		}
		logger.Info("Accepted peer", logging.String("address", ln.Addr()))
		return conn, nil

	default:
		return nil, fmt.Errorf("unknown action %d", opts.Action)
	}
}

// transportOptions maps the configuration onto transport options, preparing
// the Azure Relay token provider in hc mode
func transportOptions(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*transport.Options, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	topts := &transport.Options{
		Mode:           cfg.Mode,
		ConnectTimeout: cfg.ConnectTimeout,
		Retries:        cfg.Retries,
		RetryMax:       cfg.RetryMax,
		Proxy:          cfg.Proxy,
		Insecure:       cfg.Insecure,
		Logger:         logger,
	}
	if cfg.Mode != config.ModeHybrid {
		return topts, nil
	}

	hc := cfg.Hybrid
	if hc.Ensure {
		if err := ensureHybridConnection(ctx, &hc, logger); err != nil {
			return nil, &ConnectError{Action: ActionConnect, Address: hc.Name, Err: err}
		}
	}

	var tokens azrelay.TokenProvider
	if hc.UsesSAS() {
		p, err := azrelay.NewSASTokenProvider(hc.Namespace, hc.Name, hc.KeyName, hc.Key, 0)
		if err != nil {
			return nil, err
		}
		tokens = p
	} else {
		p, err := azrelay.NewAADTokenProvider(nil)
		if err != nil {
			return nil, err
		}
		tokens = p
	}

	topts.Hybrid = &transport.HybridOptions{
		Namespace: hc.Namespace,
		Name:      hc.Name,
		Tokens:    tokens,
	}
	return topts, nil
}

// newManager is replaced in tests
var newManager = func(opts *azrelay.ManagerOptions) (hybridEnsurer, error) {
	m, err := azrelay.NewManager(opts)
	if err != nil {
		return nil, err
	}
	return m, nil
}

type hybridEnsurer interface {
	EnsureHybridConnection(ctx context.Context, name string) error
}

func ensureHybridConnection(ctx context.Context, hc *config.HybridConfig, logger *logging.Logger) error {
	mgr, err := newManager(&azrelay.ManagerOptions{
		SubscriptionID:    hc.SubscriptionID,
		ResourceGroupName: hc.ResourceGroup,
		Namespace:         hc.Namespace,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	logger.Info("Ensuring hybrid connection",
		logging.String("namespace", azrelay.NamespaceName(hc.Namespace)),
		logging.String("hybrid_connection_name", hc.Name))
	if err := mgr.EnsureHybridConnection(ctx, hc.Name); err != nil {
		return err
	}
	return nil
}

// IsConnectError reports whether err means the peer could not be reached
func IsConnectError(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce)
}
