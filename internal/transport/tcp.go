package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

const keepAlive = 30 * time.Second

// tcpDialer dials TCP directly or through a SOCKS5 proxy
type tcpDialer struct {
	proxy string
	base  *net.Dialer
}

func newTCPDialer(opts *Options) (*tcpDialer, error) {
	if opts.Proxy != "" {
		if _, _, err := net.SplitHostPort(opts.Proxy); err != nil {
			return nil, fmt.Errorf("invalid proxy address %q: %w", opts.Proxy, err)
		}
	}
	return &tcpDialer{
		proxy: opts.Proxy,
		base:  &net.Dialer{KeepAlive: keepAlive},
	}, nil
}

// Dial connects to address. Through a proxy, the SOCKS5 handshake runs on
// the proxy connection which is then returned as is, so the result is always
// a *net.TCPConn.
func (d *tcpDialer) Dial(ctx context.Context, address string) (Conn, error) {
	if d.proxy == "" {
		c, err := d.base.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, err
		}
		return c.(*net.TCPConn), nil
	}

	forward := &recordingDialer{base: d.base}
	socks, err := proxy.SOCKS5("tcp", d.proxy, nil, forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	c, err := socks.(proxy.ContextDialer).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy %s: %w", d.proxy, err)
	}
	if forward.conn == nil {
		_ = c.Close()
		return nil, fmt.Errorf("socks5 proxy %s: no underlying TCP connection", d.proxy)
	}
	return forward.conn, nil
}

// recordingDialer remembers the TCP connection it opened to the proxy
type recordingDialer struct {
	base *net.Dialer
	conn *net.TCPConn
}

func (r *recordingDialer) Dial(network, address string) (net.Conn, error) {
	return r.DialContext(context.Background(), network, address)
}

func (r *recordingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	c, err := r.base.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	tc, ok := c.(*net.TCPConn)
	if !ok {
		_ = c.Close()
		return nil, fmt.Errorf("proxy connection is %T, not TCP", c)
	}
	r.conn = tc
	return tc, nil
}

// tcpListener accepts TCP connections
type tcpListener struct {
	ln *net.TCPListener
}

func listenTCP(ctx context.Context, address string) (*tcpListener, error) {
	lc := net.ListenConfig{KeepAlive: keepAlive}
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln.(*net.TCPListener)}, nil
}

// Accept waits for the next connection or for ctx to end
func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	c, err := acceptTCP(ctx, l.ln)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (l *tcpListener) Addr() string {
	return l.ln.Addr().String()
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}

// acceptTCP accepts one connection, interrupting the accept when ctx ends
func acceptTCP(ctx context.Context, ln *net.TCPListener) (*net.TCPConn, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.SetDeadline(time.Now())
	})
	defer stop()

	c, err := ln.AcceptTCP()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	return c, nil
}
