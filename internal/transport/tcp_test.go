package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/armon/go-socks5"

	"github.com/julienstroheker/relaycat/internal/config"
)

// startReplyServer answers every connection with "pong:" and what it read,
// once the client half-closes
func startReplyServer(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer func() { _ = c.Close() }()
				data, err := io.ReadAll(c)
				if err != nil {
					return
				}
				_, _ = c.Write(append([]byte("pong:"), data...))
				_ = c.(*net.TCPConn).CloseWrite()
			}(c)
		}
	}()

	return ln.Addr().String()
}

func startSOCKS5(t *testing.T) string {
	t.Helper()

	server, err := socks5.New(&socks5.Config{})
	if err != nil {
		t.Fatalf("socks5.New() error = %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() { _ = server.Serve(ln) }()
	return ln.Addr().String()
}

func TestTCPDialer_HalfClose(t *testing.T) {
	target := startReplyServer(t)

	tests := []struct {
		name  string
		proxy bool
	}{
		{name: "direct", proxy: false},
		{name: "through socks5", proxy: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &Options{Mode: config.ModeTCP}
			if tt.proxy {
				opts.Proxy = startSOCKS5(t)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, err := Dial(ctx, opts, target)
			if err != nil {
				t.Fatalf("Dial() error = %v", err)
			}
			defer func() { _ = conn.Close() }()

			if _, ok := conn.(*net.TCPConn); !ok {
				t.Errorf("Expected a *net.TCPConn, got: %T", conn)
			}

			if _, err := conn.Write([]byte("ping")); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if err := conn.CloseWrite(); err != nil {
				t.Fatalf("CloseWrite() error = %v", err)
			}

			got, err := io.ReadAll(conn)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(got) != "pong:ping" {
				t.Errorf("Expected %q, got: %q", "pong:ping", got)
			}
		})
	}
}

func TestTCPDialer_ProxyUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	proxyAddr := l.Addr().String()
	_ = l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, &Options{Mode: config.ModeTCP, Proxy: proxyAddr}, "127.0.0.1:9")
	if err == nil {
		_ = conn.Close()
		t.Fatal("Expected an error dialing through an unreachable proxy")
	}
}
