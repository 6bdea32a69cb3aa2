package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
)

func muxConfig() *yamux.Config {
	conf := yamux.DefaultConfig()
	conf.KeepAliveInterval = 15 * time.Second
	conf.LogOutput = io.Discard
	return conf
}

// muxConn is a single yamux stream. Closing it tears down the session and the
// TCP connection underneath.
type muxConn struct {
	*yamux.Stream
	session *yamux.Session
}

// CloseWrite sends the stream FIN; the stream stays readable
func (c *muxConn) CloseWrite() error {
	return c.Stream.Close()
}

func (c *muxConn) Close() error {
	return c.session.Close()
}

// muxDialer opens a yamux client session over TCP
type muxDialer struct {
	tcp *tcpDialer
}

func (d *muxDialer) Dial(ctx context.Context, address string) (Conn, error) {
	conn, err := d.tcp.Dial(ctx, address)
	if err != nil {
		return nil, err
	}

	session, err := yamux.Client(conn, muxConfig())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("yamux client: %w", err)
	}

	stream, err := session.OpenStream()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("yamux open stream: %w", err)
	}

	return &muxConn{Stream: stream, session: session}, nil
}

// muxListener accepts one TCP connection and the first stream on it
type muxListener struct {
	tcp *tcpListener

	mu     sync.Mutex
	closed bool
}

func listenMux(ctx context.Context, address string) (*muxListener, error) {
	tcp, err := listenTCP(ctx, address)
	if err != nil {
		return nil, err
	}
	return &muxListener{tcp: tcp}, nil
}

func (l *muxListener) Accept(ctx context.Context) (Conn, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrListenerClosed
	}
	l.mu.Unlock()

	conn, err := acceptTCP(ctx, l.tcp.ln)
	if err != nil {
		return nil, err
	}

	session, err := yamux.Server(conn, muxConfig())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("yamux server: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = session.Close()
	})
	stream, err := session.AcceptStream()
	if !stop() {
		_ = session.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = session.Close()
		if errors.Is(err, yamux.ErrSessionShutdown) {
			return nil, fmt.Errorf("yamux session closed before a stream was opened: %w", err)
		}
		return nil, fmt.Errorf("yamux accept stream: %w", err)
	}

	return &muxConn{Stream: stream, session: session}, nil
}

func (l *muxListener) Addr() string {
	return l.tcp.Addr()
}

func (l *muxListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.tcp.Close()
}
