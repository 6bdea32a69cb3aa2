//go:build linux || darwin || freebsd || netbsd || openbsd

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// udpListener binds a UDP socket and connects it to the sender of the first
// datagram, which stays queued for the relay to read
type udpListener struct {
	pc *net.UDPConn

	mu       sync.Mutex
	accepted bool
	closed   bool
}

func listenUDP(ctx context.Context, address string) (*udpListener, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", address)
	if err != nil {
		return nil, err
	}
	return &udpListener{pc: pc.(*net.UDPConn)}, nil
}

// Accept waits for the first datagram and connects the socket to its sender
func (l *udpListener) Accept(ctx context.Context) (Conn, error) {
	l.mu.Lock()
	if l.closed || l.accepted {
		l.mu.Unlock()
		return nil, ErrListenerClosed
	}
	l.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = l.pc.SetReadDeadline(time.Now())
	})
	defer stop()

	rc, err := l.pc.SyscallConn()
	if err != nil {
		return nil, err
	}

	var from unix.Sockaddr
	var peekErr error
	var buf [1]byte
	err = rc.Read(func(fd uintptr) bool {
		_, from, peekErr = unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK)
		return !errors.Is(peekErr, unix.EAGAIN)
	})
	if err == nil {
		err = peekErr
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("waiting for first datagram: %w", err)
	}
	if from == nil {
		return nil, fmt.Errorf("first datagram has no source address")
	}

	var connectErr error
	if err := rc.Control(func(fd uintptr) {
		connectErr = unix.Connect(int(fd), from)
	}); err != nil {
		return nil, err
	}
	if connectErr != nil {
		return nil, fmt.Errorf("connect to datagram sender: %w", connectErr)
	}
	_ = l.pc.SetReadDeadline(time.Time{})

	l.mu.Lock()
	l.accepted = true
	l.mu.Unlock()

	return &udpConn{UDPConn: l.pc}, nil
}

func (l *udpListener) Addr() string {
	return l.pc.LocalAddr().String()
}

// Close releases the socket unless it was handed out by Accept
func (l *udpListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.accepted {
		return nil
	}
	return l.pc.Close()
}
