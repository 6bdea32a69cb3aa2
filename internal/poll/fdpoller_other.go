//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package poll

import (
	"context"
	"syscall"

	"github.com/julienstroheker/relaycat/internal/relay"
)

// Supported reports whether the descriptor backend is available on this platform
const Supported = false

// File is unavailable on this platform
type File struct{}

// NewFile always fails on this platform
func NewFile(name string, conn syscall.Conn) (*File, error) {
	return nil, ErrUnsupported
}

func (f *File) TryRead(p []byte) (int, error)  { return 0, ErrUnsupported }
func (f *File) TryWrite(p []byte) (int, error) { return 0, ErrUnsupported }
func (f *File) CloseWrite() error              { return ErrUnsupported }
func (f *File) Close() error                   { return nil }
func (f *File) Datagram() bool                 { return false }

// FDPoller is unavailable on this platform
type FDPoller struct{}

// NewFDPoller always fails on this platform
func NewFDPoller() (*FDPoller, error) {
	return nil, ErrUnsupported
}

func (p *FDPoller) Wait(ctx context.Context, interests []relay.Interest) ([]relay.Interest, error) {
	return nil, ErrUnsupported
}

func (p *FDPoller) Close() error { return nil }
