package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienstroheker/relaycat/internal/logging"
)

const (
	handshakeTimeout = 30 * time.Second
	closeGrace       = time.Second
)

// messageConn carries a byte stream over websocket binary messages. An empty
// message ends the stream in one direction.
type messageConn struct {
	conn *websocket.Conn

	// read state, used by a single reader
	reader io.Reader
	empty  bool
	eof    bool

	wmu         sync.Mutex
	writeClosed bool

	closeOnce sync.Once
	closeErr  error
}

func newMessageConn(conn *websocket.Conn) *messageConn {
	return &messageConn{conn: conn}
}

// Read returns bytes of the current message, moving on to the next message
// when it is drained
func (c *messageConn) Read(p []byte) (int, error) {
	if c.eof {
		return 0, io.EOF
	}

	for {
		if c.reader == nil {
			messageType, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.eof = true
					return 0, io.EOF
				}
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				return 0, fmt.Errorf("unexpected message type: %d", messageType)
			}
			c.reader = r
			c.empty = true
		}

		if len(p) == 0 {
			return 0, nil
		}

		n, err := c.reader.Read(p)
		if n > 0 {
			c.empty = false
		}
		if errors.Is(err, io.EOF) {
			empty := c.empty
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			if empty {
				c.eof = true
				return 0, io.EOF
			}
			continue
		}
		return n, err
	}
}

// Write sends p as one binary message
func (c *messageConn) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeClosed {
		return 0, ErrWriteClosed
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// CloseWrite sends the empty end-of-stream message
func (c *messageConn) CloseWrite() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeClosed {
		return nil
	}
	c.writeClosed = true
	return c.conn.WriteMessage(websocket.BinaryMessage, nil)
}

// Close sends a normal closure and closes the underlying connection
func (c *messageConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// handshakeError describes a failed websocket handshake, including the start
// of the response body when there is one
func handshakeError(what string, resp *http.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("failed to connect to %s: %w", what, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("failed to connect to %s (status %d: %s): %w", what, resp.StatusCode, msg, err)
	}
	return fmt.Errorf("failed to connect to %s (status %d): %w", what, resp.StatusCode, err)
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

// wsDialer connects to a websocket listener
type wsDialer struct {
	insecure bool
}

func (d *wsDialer) Dial(ctx context.Context, address string) (Conn, error) {
	target, err := webSocketURL(address)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: d.insecure},
	}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, handshakeError(target, resp, err)
	}
	closeBody(resp)

	return newMessageConn(conn), nil
}

// webSocketURL accepts a ws:// or wss:// URL, or a host:port for plain ws
func webSocketURL(address string) (string, error) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		u, err := url.Parse(address)
		if err != nil {
			return "", fmt.Errorf("invalid websocket URL %q: %w", address, err)
		}
		return u.String(), nil
	}

	if _, _, err := net.SplitHostPort(address); err != nil {
		return "", fmt.Errorf("invalid address %q: %w", address, err)
	}
	u := url.URL{Scheme: "ws", Host: address, Path: "/"}
	return u.String(), nil
}

// wsListener serves websocket upgrades and hands out the first one
type wsListener struct {
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	logger   *logging.Logger

	conns     chan *websocket.Conn
	taken     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func listenWebSocket(ctx context.Context, address string, logger *logging.Logger) (*wsListener, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	l := &wsListener{
		ln: ln,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		logger: logger,
		conns:  make(chan *websocket.Conn, 1),
		done:   make(chan struct{}),
	}
	l.server = &http.Server{
		Handler:           l,
		ReadHeaderTimeout: handshakeTimeout,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Websocket server stopped", logging.Error(err))
		}
	}()

	return l, nil
}

// ServeHTTP upgrades the first request; later ones are refused
func (l *wsListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !l.taken.CompareAndSwap(false, true) {
		http.Error(w, "connection already accepted", http.StatusServiceUnavailable)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.taken.Store(false)
		l.logger.Warn("Websocket upgrade failed",
			logging.String("remote_addr", r.RemoteAddr),
			logging.Error(err))
		return
	}

	l.logger.Debug("Websocket upgraded", logging.String("remote_addr", r.RemoteAddr))
	l.conns <- conn
}

func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrListenerClosed
	case conn := <-l.conns:
		return newMessageConn(conn), nil
	}
}

func (l *wsListener) Addr() string {
	return l.ln.Addr().String()
}

// Close stops the HTTP server. A connection already returned by Accept is
// hijacked and stays open.
func (l *wsListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.closeErr = l.server.Close()
		select {
		case conn := <-l.conns:
			_ = conn.Close()
		default:
		}
	})
	return l.closeErr
}
