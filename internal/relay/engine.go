package relay

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/julienstroheker/relaycat/internal/logging"
)

// Options contains configuration for an Engine
type Options struct {
	// Input is the local source relayed to the peer (e.g., stdin)
	Input Source

	// Peer is the remote connection
	Peer Peer

	// Output is the local sink receiving the peer's bytes (e.g., stdout)
	Output Sink

	// Poller waits for readiness of the three endpoints
	Poller Poller

	// BufferSize is the capacity of each direction buffer (default: 1024)
	BufferSize int

	// Logger receives debug traces of direction transitions (optional)
	Logger *logging.Logger
}

// Stats summarizes the traffic of a relay
type Stats struct {
	// Sent is the number of bytes written to the peer
	Sent int64
	// Received is the number of bytes written to the output
	Received int64
	// Iterations is the number of readiness waits performed
	Iterations int
}

// Engine relays bytes between an input, a peer and an output on a single
// goroutine. An Engine runs once; it borrows the endpoints and never closes them.
type Engine struct {
	input  Source
	peer   Peer
	output Sink
	poller Poller
	logger *logging.Logger

	toPeer   *direction
	toOutput *direction

	interests  []Interest
	iterations int
}

// New creates an Engine for one relay
func New(opts *Options) (*Engine, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.Input == nil {
		return nil, fmt.Errorf("input is required")
	}
	if opts.Peer == nil {
		return nil, fmt.Errorf("peer is required")
	}
	if opts.Output == nil {
		return nil, fmt.Errorf("output is required")
	}
	if opts.Poller == nil {
		return nil, fmt.Errorf("poller is required")
	}

	size := opts.BufferSize
	if size == 0 {
		size = DefaultBufferSize
	}
	if size < 0 || size > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d out of range [1, %d]", size, MaxBufferSize)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Engine{
		input:     opts.Input,
		peer:      opts.Peer,
		output:    opts.Output,
		poller:    opts.Poller,
		logger:    logger,
		toPeer:    newDirection("input->peer", size),
		toOutput:  newDirection("peer->output", size),
		interests: make([]Interest, 0, 4),
	}, nil
}

// Run relays until both directions complete, an endpoint or the poller fails,
// or ctx ends. It returns nil on success, ErrProtocolViolation, an *IOError,
// an *MultiplexError, or the context's error.
func (e *Engine) Run(ctx context.Context) error {
	for {
		ready, err := e.poller.Wait(ctx, e.computeInterests())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return ctxErr
			}
			return &MultiplexError{Err: err}
		}
		e.iterations++

		if err := e.dispatch(ready); err != nil {
			return err
		}

		if e.finished() {
			e.logger.Debug("Relay completed",
				logging.Int64("sent", e.toPeer.transferred),
				logging.Int64("received", e.toOutput.transferred),
				logging.Int("iterations", e.iterations))
			return nil
		}
	}
}

// Stats returns the traffic counters accumulated so far
func (e *Engine) Stats() Stats {
	return Stats{
		Sent:       e.toPeer.transferred,
		Received:   e.toOutput.transferred,
		Iterations: e.iterations,
	}
}

// States returns the current state of the input to peer and the peer to
// output directions
func (e *Engine) States() (outbound, inbound State) {
	return e.toPeer.outboundState(), e.toOutput.inboundState()
}

// computeInterests derives the readiness interests from buffer occupancy
func (e *Engine) computeInterests() []Interest {
	interests := e.interests[:0]
	if e.toPeer.wantsRead() {
		interests = append(interests, Interest{Endpoint: e.input, Kind: Readable})
	}
	if e.toOutput.wantsRead() {
		interests = append(interests, Interest{Endpoint: e.peer, Kind: Readable})
	}
	if e.toPeer.wantsWrite() {
		interests = append(interests, Interest{Endpoint: e.peer, Kind: Writable})
	}
	if e.toOutput.wantsWrite() {
		interests = append(interests, Interest{Endpoint: e.output, Kind: Writable})
	}
	e.interests = interests
	return interests
}

// dispatch performs the I/O implied by a readiness report, in a fixed order
func (e *Engine) dispatch(ready []Interest) error {
	var inputReadable, peerReadable, peerWritable, outputWritable bool
	for _, in := range ready {
		switch {
		case in.Kind == Readable && in.Endpoint == any(e.input):
			inputReadable = true
		case in.Kind == Readable && in.Endpoint == any(e.peer):
			peerReadable = true
		case in.Kind == Writable && in.Endpoint == any(e.peer):
			peerWritable = true
		case in.Kind == Writable && in.Endpoint == any(e.output):
			outputWritable = true
		}
	}

	if inputReadable && e.toPeer.wantsRead() {
		if err := e.readInput(); err != nil {
			return err
		}
	}
	if peerReadable && e.toOutput.wantsRead() {
		if err := e.readPeer(); err != nil {
			return err
		}
	}
	if outputWritable && e.toOutput.wantsWrite() {
		if err := e.writeOutput(); err != nil {
			return err
		}
	}
	if peerWritable && e.toPeer.wantsWrite() {
		if err := e.writePeer(); err != nil {
			return err
		}
	}
	return nil
}

// readInput fills the input to peer buffer
func (e *Engine) readInput() error {
	d := e.toPeer
	eof, err := fill(d.buf, e.input)
	if err != nil {
		return &IOError{Op: "read", Role: RoleInput, Err: err}
	}
	if !eof {
		return nil
	}

	d.sourceEOF = true
	e.logger.Debug("Input reached end of stream",
		logging.String("direction", d.name),
		logging.Int("buffered", d.buf.Len()))

	if d.buf.Empty() {
		return e.closePeerWrite()
	}
	e.logger.Debug("Half-close deferred until buffer drains",
		logging.String("state", d.outboundState().String()))
	return nil
}

// readPeer fills the peer to output buffer
func (e *Engine) readPeer() error {
	d := e.toOutput
	eof, err := fill(d.buf, e.peer)
	if err != nil {
		return &IOError{Op: "read", Role: RolePeer, Err: err}
	}
	if !eof {
		return nil
	}

	if !e.toPeer.sourceEOF {
		e.logger.Debug("Peer reached end of stream before input",
			logging.String("input_state", e.toPeer.outboundState().String()))
		return ErrProtocolViolation
	}

	d.sourceEOF = true
	e.logger.Debug("Peer reached end of stream",
		logging.String("direction", d.name),
		logging.String("state", StatePeerEOF.String()),
		logging.Int("buffered", d.buf.Len()))
	return nil
}

// writeOutput flushes the peer to output buffer
func (e *Engine) writeOutput() error {
	d := e.toOutput
	if _, err := drain(d, e.output); err != nil {
		return &IOError{Op: "write", Role: RoleOutput, Err: err}
	}
	return nil
}

// writePeer flushes the input to peer buffer and issues a deferred half-close
// once the buffer drains after the input ended
func (e *Engine) writePeer() error {
	d := e.toPeer
	drained, err := drain(d, e.peer)
	if err != nil {
		return &IOError{Op: "write", Role: RolePeer, Err: err}
	}
	if drained && d.sourceEOF && !d.halfCloseSent {
		return e.closePeerWrite()
	}
	return nil
}

// closePeerWrite half-closes the peer
func (e *Engine) closePeerWrite() error {
	if err := e.peer.CloseWrite(); err != nil {
		return &IOError{Op: "shutdown", Role: RolePeer, Err: err}
	}
	e.toPeer.halfCloseSent = true
	e.logger.Debug("Peer write half closed",
		logging.String("direction", e.toPeer.name),
		logging.String("state", e.toPeer.outboundState().String()))
	return nil
}

// finished reports whether the peer's stream ended and was fully delivered to
// the output, and the peer was half-closed after the input ended
func (e *Engine) finished() bool {
	return e.toOutput.inboundState() == StateDone &&
		e.toPeer.outboundState() == StateHalfClosed
}

// fill reads from src into the free region of buf. It reports end of stream;
// a would-block result or an empty read leaves the buffer untouched.
func fill(buf *Buffer, src Source) (eof bool, err error) {
	free := buf.Free()
	n, err := src.TryRead(free)
	if n < 0 || n > len(free) {
		return false, fmt.Errorf("%w: read %d into %d", ErrInvalidCount, n, len(free))
	}
	buf.Produce(n)

	switch {
	case err == nil, errors.Is(err, ErrWouldBlock):
		return false, nil
	case errors.Is(err, io.EOF):
		return true, nil
	default:
		return false, err
	}
}

// drain writes the pending region of d's buffer to dst and reports whether the
// buffer became empty
func drain(d *direction, dst Sink) (drained bool, err error) {
	pending := d.buf.Pending()
	n, err := dst.TryWrite(pending)
	if n < 0 || n > len(pending) {
		return false, fmt.Errorf("%w: wrote %d of %d", ErrInvalidCount, n, len(pending))
	}
	if n > 0 {
		d.transferred += int64(n)
		drained = d.buf.Consume(n)
	}

	if err != nil && !errors.Is(err, ErrWouldBlock) {
		return false, err
	}
	return drained, nil
}

// Run is a convenience wrapper that relays once with default options
func Run(ctx context.Context, input Source, peer Peer, output Sink, poller Poller) error {
	engine, err := New(&Options{
		Input:  input,
		Peer:   peer,
		Output: output,
		Poller: poller,
	})
	if err != nil {
		return err
	}
	return engine.Run(ctx)
}
