//go:build linux || darwin || freebsd || netbsd || openbsd

package poll

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/julienstroheker/relaycat/internal/relay"
)

const (
	readEvents  = unix.POLLIN | unix.POLLHUP | unix.POLLERR
	writeEvents = unix.POLLOUT | unix.POLLHUP | unix.POLLERR
)

// FDPoller waits for readiness of File endpoints with poll(2). A self-pipe
// is polled alongside the endpoints so that a done context ends the wait.
type FDPoller struct {
	wakeR int
	wakeW int

	fds   []unix.PollFd
	slots []int
	ready []relay.Interest
}

// NewFDPoller creates a descriptor poller
func NewFDPoller() (*FDPoller, error) {
	pipe := make([]int, 2)
	if err := unix.Pipe(pipe); err != nil {
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	for _, fd := range pipe {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(pipe[0])
			_ = unix.Close(pipe[1])
			return nil, fmt.Errorf("wake pipe: %w", err)
		}
	}

	return &FDPoller{
		wakeR: pipe[0],
		wakeW: pipe[1],
	}, nil
}

// Wait blocks until at least one interest is ready or ctx is done.
// Every interest must name a *File.
func (p *FDPoller) Wait(ctx context.Context, interests []relay.Interest) ([]relay.Interest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.build(interests); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, p.wake)
	defer stop()

	for {
		if _, err := unix.Poll(p.fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, fmt.Errorf("poll: %w", err)
		}

		wake := p.fds[len(p.fds)-1]
		if wake.Revents != 0 {
			p.drainWake()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		ready, err := p.collect(interests)
		if err != nil {
			return nil, err
		}
		if len(ready) > 0 {
			return ready, nil
		}
		for i := range p.fds {
			p.fds[i].Revents = 0
		}
	}
}

// build lays out one pollfd per distinct descriptor followed by the wake pipe
func (p *FDPoller) build(interests []relay.Interest) error {
	p.fds = p.fds[:0]
	p.slots = p.slots[:0]

	for _, in := range interests {
		f, ok := in.Endpoint.(*File)
		if !ok {
			return fmt.Errorf("%w: %T", ErrNoDescriptor, in.Endpoint)
		}

		slot := -1
		for i := range p.fds {
			if int(p.fds[i].Fd) == f.fd {
				slot = i
				break
			}
		}
		if slot < 0 {
			slot = len(p.fds)
			p.fds = append(p.fds, unix.PollFd{Fd: int32(f.fd)})
		}

		switch in.Kind {
		case relay.Readable:
			p.fds[slot].Events |= unix.POLLIN
		case relay.Writable:
			p.fds[slot].Events |= unix.POLLOUT
		}
		p.slots = append(p.slots, slot)
	}

	p.fds = append(p.fds, unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN})
	return nil
}

// collect maps returned events back onto the requested interests
func (p *FDPoller) collect(interests []relay.Interest) ([]relay.Interest, error) {
	for _, pfd := range p.fds[:len(p.fds)-1] {
		if pfd.Revents&unix.POLLNVAL != 0 {
			return nil, fmt.Errorf("descriptor %d: %w", pfd.Fd, unix.EBADF)
		}
	}

	p.ready = p.ready[:0]
	for i, in := range interests {
		revents := p.fds[p.slots[i]].Revents
		switch {
		case in.Kind == relay.Readable && revents&readEvents != 0:
			p.ready = append(p.ready, in)
		case in.Kind == relay.Writable && revents&writeEvents != 0:
			p.ready = append(p.ready, in)
		}
	}
	return p.ready, nil
}

func (p *FDPoller) wake() {
	_, _ = unix.Write(p.wakeW, []byte{0})
}

func (p *FDPoller) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close releases the wake pipe
func (p *FDPoller) Close() error {
	errR := unix.Close(p.wakeR)
	errW := unix.Close(p.wakeW)
	return errors.Join(errR, errW)
}

var _ relay.Poller = (*FDPoller)(nil)
