package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/julienstroheker/relaycat/internal/logging"
	"github.com/quic-go/quic-go"
)

const (
	// quicHello is sent by the dialer on a new stream so the listener sees
	// the stream before any payload
	quicHello byte = 0x01

	// quicLinger bounds how long a finished connection waits for the peer to
	// close it, letting in-flight stream data be acknowledged
	quicLinger = time.Second
)

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:    10 * time.Second,
		MaxIdleTimeout:     30 * time.Second,
		MaxIncomingStreams: 1,
	}
}

// quicConn is one bidirectional stream on its own QUIC connection
type quicConn struct {
	conn   *quic.Conn
	stream *quic.Stream

	// release frees resources owned beyond the connection
	release func() error

	readEOF     atomic.Bool
	writeClosed atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

func (c *quicConn) Read(p []byte) (int, error) {
	n, err := c.stream.Read(p)
	if errors.Is(err, io.EOF) {
		c.readEOF.Store(true)
	}
	return n, err
}

func (c *quicConn) Write(p []byte) (int, error) {
	return c.stream.Write(p)
}

// CloseWrite sends the stream FIN
func (c *quicConn) CloseWrite() error {
	c.writeClosed.Store(true)
	return c.stream.Close()
}

// Close tears the connection down. When both directions finished cleanly it
// first gives the peer up to quicLinger to close.
func (c *quicConn) Close() error {
	c.closeOnce.Do(func() {
		if c.readEOF.Load() && c.writeClosed.Load() {
			timer := time.NewTimer(quicLinger)
			select {
			case <-c.conn.Context().Done():
			case <-timer.C:
			}
			timer.Stop()
		}

		c.stream.CancelRead(0)
		err := c.conn.CloseWithError(0, "")
		if c.release != nil {
			err = errors.Join(err, c.release())
		}
		c.closeErr = err
	})
	return c.closeErr
}

// quicDialer opens a QUIC connection and one stream
type quicDialer struct {
	insecure bool
}

func (d *quicDialer) Dial(ctx context.Context, address string) (Conn, error) {
	conn, err := quic.DialAddr(ctx, address, clientTLSConfig(d.insecure), quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", address, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("quic open stream: %w", err)
	}
	if _, err := stream.Write([]byte{quicHello}); err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("quic hello: %w", err)
	}

	return &quicConn{conn: conn, stream: stream}, nil
}

// quicListener accepts the first stream of the first QUIC connection
type quicListener struct {
	ln     *quic.Listener
	logger *logging.Logger

	mu       sync.Mutex
	accepted bool
	closed   bool
}

func listenQUIC(address string, logger *logging.Logger) (*quicListener, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	tlsConfig, err := serverTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate: %w", err)
	}

	ln, err := quic.ListenAddr(address, tlsConfig, quicConfig())
	if err != nil {
		return nil, err
	}
	return &quicListener{ln: ln, logger: logger}, nil
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	l.mu.Lock()
	if l.closed || l.accepted {
		l.mu.Unlock()
		return nil, ErrListenerClosed
	}
	l.mu.Unlock()

	conn, err := l.ln.Accept(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, quic.ErrServerClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	l.logger.Debug("QUIC connection accepted", logging.String("remote_addr", conn.RemoteAddr().String()))

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("quic accept stream: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = stream.SetReadDeadline(time.Now())
	})
	var hello [1]byte
	_, err = io.ReadFull(stream, hello[:])
	stop()
	_ = stream.SetReadDeadline(time.Time{})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("quic hello: %w", err)
	}
	if hello[0] != quicHello {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("quic hello: unexpected byte 0x%02x", hello[0])
	}

	l.mu.Lock()
	l.accepted = true
	l.mu.Unlock()

	return &quicConn{conn: conn, stream: stream, release: l.ln.Close}, nil
}

func (l *quicListener) Addr() string {
	return l.ln.Addr().String()
}

// Close stops listening unless a connection was accepted, in which case the
// connection releases the listener when it closes
func (l *quicListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.accepted {
		return nil
	}
	return l.ln.Close()
}
