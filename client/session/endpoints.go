package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/julienstroheker/relaycat/internal/config"
	"github.com/julienstroheker/relaycat/internal/logging"
	"github.com/julienstroheker/relaycat/internal/poll"
	"github.com/julienstroheker/relaycat/internal/relay"
	"github.com/julienstroheker/relaycat/internal/transport"
)

// ErrBackendUnavailable is returned when the requested backend cannot drive
// the given endpoints
var ErrBackendUnavailable = errors.New("readiness backend unavailable")

// endpoints are the relay's three endpoints and the poller that watches them
type endpoints struct {
	backend config.Backend
	input   relay.Source
	peer    relay.Peer
	output  relay.Sink
	poller  relay.Poller

	// streams are the async adapters, flushed after a successful relay
	streams []*poll.Stream
	closers []io.Closer
}

// descriptorBacked reports whether every value exposes a descriptor
func descriptorBacked(values ...any) bool {
	for _, v := range values {
		if _, ok := v.(syscall.Conn); !ok {
			return false
		}
	}
	return true
}

// newEndpoints wraps input, output and the peer connection for backend.
// BackendAuto picks the descriptor backend when the platform and all three
// endpoints support it.
func newEndpoints(backend config.Backend, chunkSize int, input io.Reader, output io.Writer, conn transport.Conn) (*endpoints, error) {
	fdCapable := poll.Supported && descriptorBacked(input, output, conn)

	switch backend {
	case config.BackendAuto:
		if fdCapable {
			return newFDEndpoints(input, output, conn)
		}
		return newAsyncEndpoints(chunkSize, input, output, conn), nil
	case config.BackendFD:
		if !fdCapable {
			return nil, fmt.Errorf("%w: %s needs descriptor-backed input, output and peer", ErrBackendUnavailable, backend)
		}
		return newFDEndpoints(input, output, conn)
	case config.BackendAsync:
		return newAsyncEndpoints(chunkSize, input, output, conn), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrBackendUnavailable, backend)
	}
}

func newFDEndpoints(input io.Reader, output io.Writer, conn transport.Conn) (*endpoints, error) {
	ep := &endpoints{backend: config.BackendFD}

	in, err := poll.NewFile("input", input.(syscall.Conn))
	if err != nil {
		return nil, err
	}
	ep.closers = append(ep.closers, in)

	peer, err := poll.NewFile("peer", conn.(syscall.Conn))
	if err != nil {
		ep.close(logging.Nop())
		return nil, err
	}
	ep.closers = append(ep.closers, peer)

	out, err := poll.NewFile("output", output.(syscall.Conn))
	if err != nil {
		ep.close(logging.Nop())
		return nil, err
	}
	ep.closers = append(ep.closers, out)

	poller, err := poll.NewFDPoller()
	if err != nil {
		ep.close(logging.Nop())
		return nil, err
	}
	ep.closers = append(ep.closers, poller)

	ep.input, ep.peer, ep.output, ep.poller = in, peer, out, poller
	return ep, nil
}

func newAsyncEndpoints(chunkSize int, input io.Reader, output io.Writer, conn transport.Conn) *endpoints {
	poller := poll.NewAsyncPoller(chunkSize)
	in := poller.NewReader(input)
	peer := poller.NewStream(conn, conn.CloseWrite)
	out := poller.NewWriter(output)

	return &endpoints{
		backend: config.BackendAsync,
		input:   in,
		peer:    peer,
		output:  out,
		poller:  poller,
		streams: []*poll.Stream{peer, out},
		closers: []io.Closer{in, peer, out},
	}
}

// flush waits for the async writers to deliver everything the relay wrote.
// A failure is reported as an IOError of the endpoint that failed.
func (ep *endpoints) flush(ctx context.Context) error {
	roles := []relay.Role{relay.RolePeer, relay.RoleOutput}
	for i, s := range ep.streams {
		if err := s.Flush(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return ctxErr
			}
			return &relay.IOError{Op: "write", Role: roles[i], Err: err}
		}
	}
	return nil
}

// close releases the endpoints in reverse order; the caller owns input,
// output and the connection itself
func (ep *endpoints) close(logger *logging.Logger) {
	for i := len(ep.closers) - 1; i >= 0; i-- {
		if err := ep.closers[i].Close(); err != nil {
			logger.Debug("Endpoint close failed", logging.Error(err))
		}
	}
}
