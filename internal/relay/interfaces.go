package relay

import "context"

// Source is the readable half of an endpoint
type Source interface {
	// TryRead reads into p without blocking. It returns ErrWouldBlock when no
	// data is available yet and io.EOF once the stream has ended.
	TryRead(p []byte) (int, error)
}

// Sink is the writable half of an endpoint
type Sink interface {
	// TryWrite writes a prefix of p without blocking and returns its length.
	// It returns ErrWouldBlock when nothing can be accepted right now.
	TryWrite(p []byte) (int, error)
}

// Peer is the remote side of the relay, readable and writable
type Peer interface {
	Source
	Sink

	// CloseWrite shuts down the write half, signalling end of stream to the
	// remote side while reads keep working
	CloseWrite() error
}

// Kind is the kind of readiness an Interest asks for
type Kind uint8

const (
	// Readable asks to be woken when a TryRead can make progress
	Readable Kind = 1 << iota
	// Writable asks to be woken when a TryWrite can make progress
	Writable
)

// String returns the string representation of a Kind
func (k Kind) String() string {
	switch k {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	default:
		return "unknown"
	}
}

// Interest pairs an endpoint with the readiness the engine is waiting for.
// Endpoint is one of the Input, Peer or Output values given to the engine;
// endpoints are matched by identity, so they must be comparable (pointers).
type Interest struct {
	Endpoint any
	Kind     Kind
}

// Poller is the readiness-wait facility used by the engine
type Poller interface {
	// Wait blocks until at least one of the interests is actionable and
	// returns that subset. A ready report is advisory: the following
	// operation may still return ErrWouldBlock. Wait returns ctx.Err() when
	// the context ends first.
	Wait(ctx context.Context, interests []Interest) ([]Interest, error)
}
