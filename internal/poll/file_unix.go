//go:build linux || darwin || freebsd || netbsd || openbsd

package poll

import (
	"errors"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/julienstroheker/relaycat/internal/relay"
)

// Supported reports whether the descriptor backend is available on this platform
const Supported = true

// fileKind is how a descriptor signals the end of its write half
type fileKind int

const (
	kindFile fileKind = iota
	kindStream
	kindDatagram
)

func (k fileKind) String() string {
	switch k {
	case kindStream:
		return "stream"
	case kindDatagram:
		return "datagram"
	default:
		return "file"
	}
}

// File is a relay endpoint over a non-blocking duplicate of a descriptor.
// The descriptor's original status flags are restored by Close.
type File struct {
	name  string
	fd    int
	flags int
	kind  fileKind

	closed bool
}

// NewFile duplicates the descriptor of conn and switches it to non-blocking
// mode. conn may be an *os.File or any socket from package net.
func NewFile(name string, conn syscall.Conn) (*File, error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	fd := -1
	var dupErr error
	if err := rc.Control(func(orig uintptr) {
		fd, dupErr = unix.Dup(int(orig))
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if dupErr != nil {
		return nil, fmt.Errorf("%s: dup: %w", name, dupErr)
	}
	unix.CloseOnExec(fd)

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%s: get flags: %w", name, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%s: set non-blocking: %w", name, err)
	}

	return &File{
		name:  name,
		fd:    fd,
		flags: flags,
		kind:  kindOf(fd),
	}, nil
}

func kindOf(fd int) fileKind {
	typ, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return kindFile
	}
	if typ == unix.SOCK_DGRAM {
		return kindDatagram
	}
	return kindStream
}

// Fd returns the duplicated descriptor
func (f *File) Fd() int {
	return f.fd
}

// Name returns the name the endpoint was created with
func (f *File) Name() string {
	return f.name
}

// Datagram reports whether the descriptor is a datagram socket
func (f *File) Datagram() bool {
	return f.kind == kindDatagram
}

// TryRead reads without blocking. A zero-length read is end of stream; for
// datagram sockets that is an empty datagram.
func (f *File) TryRead(p []byte) (int, error) {
	n, err := unix.Read(f.fd, p)
	if err != nil {
		return 0, mapErrno(err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// TryWrite writes without blocking
func (f *File) TryWrite(p []byte) (int, error) {
	n, err := unix.Write(f.fd, p)
	if err != nil {
		return 0, mapErrno(err)
	}
	return n, nil
}

// CloseWrite signals end of stream to the remote side: shutdown(SHUT_WR) on
// stream sockets, an empty datagram on datagram sockets.
func (f *File) CloseWrite() error {
	switch f.kind {
	case kindStream:
		return unix.Shutdown(f.fd, unix.SHUT_WR)
	case kindDatagram:
		for {
			err := unix.Sendto(f.fd, nil, 0, nil)
			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
				return err
			}
			if err := waitWritable(f.fd); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%s: half-close needs a socket", f.name)
	}
}

// Close restores the original status flags and closes the duplicate
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	_, flagErr := unix.FcntlInt(uintptr(f.fd), unix.F_SETFL, f.flags)
	if err := unix.Close(f.fd); err != nil {
		return err
	}
	return flagErr
}

func (f *File) String() string {
	return fmt.Sprintf("%s(fd=%d, %s)", f.name, f.fd, f.kind)
}

// mapErrno folds transient errno values into relay.ErrWouldBlock
func mapErrno(err error) error {
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
		return relay.ErrWouldBlock
	}
	return err
}

// waitWritable blocks until fd accepts a write
func waitWritable(fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}

var _ relay.Peer = (*File)(nil)
