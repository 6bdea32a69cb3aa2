package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	azrelay "github.com/julienstroheker/relaycat/internal/azure/relay"
	"github.com/julienstroheker/relaycat/internal/config"
	"github.com/julienstroheker/relaycat/internal/logging"
)

var (
	// ErrUnsupportedMode is returned for a mode with no dialer or listener
	ErrUnsupportedMode = errors.New("unsupported mode")

	// ErrListenerClosed is returned when accepting on a closed listener
	ErrListenerClosed = errors.New("listener is closed")

	// ErrConnectionClosed is returned when using a closed connection
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrWriteClosed is returned when writing after CloseWrite
	ErrWriteClosed = errors.New("write side is closed")
)

// Conn is an established peer connection. CloseWrite ends the outgoing
// stream while leaving the incoming one open.
type Conn interface {
	io.ReadWriteCloser
	CloseWrite() error
}

// Dialer establishes an outgoing connection
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// Listener accepts incoming connections
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

// Options contains configuration shared by every transport
type Options struct {
	// Mode selects the transport
	Mode config.Mode

	// ConnectTimeout bounds each connection attempt (0 means no bound)
	ConnectTimeout time.Duration

	// Retries is the number of extra dial attempts
	Retries int

	// RetryMax caps the backoff between dial attempts
	RetryMax time.Duration

	// Proxy is a SOCKS5 proxy address for tcp and mux dials
	Proxy string

	// Insecure skips TLS certificate verification
	Insecure bool

	// Hybrid configures ModeHybrid
	Hybrid *HybridOptions

	// Logger receives connection events (optional)
	Logger *logging.Logger
}

// HybridOptions locates an Azure Relay Hybrid Connection
type HybridOptions struct {
	// Namespace is the relay namespace, as a bare name or a host
	Namespace string

	// Name is the hybrid connection name
	Name string

	// Tokens supplies the SAS or Azure AD token presented to the relay
	Tokens azrelay.TokenProvider
}

func (o *Options) logger() *logging.Logger {
	if o.Logger == nil {
		return logging.Nop()
	}
	return o.Logger
}

// NewDialer returns the dialer for opts.Mode
func NewDialer(opts *Options) (Dialer, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}

	switch opts.Mode {
	case config.ModeTCP:
		tcp, err := newTCPDialer(opts)
		if err != nil {
			return nil, err
		}
		return tcp, nil
	case config.ModeUDP:
		return &udpDialer{}, nil
	case config.ModeWebSocket:
		return &wsDialer{insecure: opts.Insecure}, nil
	case config.ModeQUIC:
		return &quicDialer{insecure: opts.Insecure}, nil
	case config.ModeMux:
		tcp, err := newTCPDialer(opts)
		if err != nil {
			return nil, err
		}
		return &muxDialer{tcp: tcp}, nil
	case config.ModeHybrid:
		sender, err := NewHybridSender(opts.Hybrid, opts.logger())
		if err != nil {
			return nil, err
		}
		return sender, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, opts.Mode)
	}
}

// Dial connects to address with the transport of opts.Mode, retrying with
// exponential backoff up to opts.Retries extra times
func Dial(ctx context.Context, opts *Options, address string) (Conn, error) {
	dialer, err := NewDialer(opts)
	if err != nil {
		return nil, err
	}

	var conn Conn
	err = retry(ctx, opts.Retries, opts.RetryMax, opts.logger(), func(ctx context.Context) error {
		attemptCtx := ctx
		if opts.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
			defer cancel()
		}

		c, err := dialer.Dial(attemptCtx, address)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Listen starts accepting connections on address with the transport of
// opts.Mode. The hybrid connection mode ignores address.
func Listen(ctx context.Context, opts *Options, address string) (Listener, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}

	var (
		ln  Listener
		err error
	)
	switch opts.Mode {
	case config.ModeTCP:
		ln, err = asListener(listenTCP(ctx, address))
	case config.ModeUDP:
		ln, err = asListener(listenUDP(ctx, address))
	case config.ModeWebSocket:
		ln, err = asListener(listenWebSocket(ctx, address, opts.logger()))
	case config.ModeQUIC:
		ln, err = asListener(listenQUIC(address, opts.logger()))
	case config.ModeMux:
		ln, err = asListener(listenMux(ctx, address))
	case config.ModeHybrid:
		ln, err = asListener(NewHybridListener(opts.Hybrid, opts.logger()))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, opts.Mode)
	}
	if err != nil {
		return nil, err
	}
	return ln, nil
}

// asListener drops the typed nil a failed constructor returns
func asListener[L Listener](ln L, err error) (Listener, error) {
	if err != nil {
		return nil, err
	}
	return ln, nil
}
