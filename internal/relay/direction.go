package relay

// State is the progress of one direction of the relay
type State int

const (
	// StateActive means the source may still produce bytes
	StateActive State = iota
	// StateEOFPending means the input ended with bytes still buffered for the peer
	StateEOFPending
	// StateHalfClosed means the input ended, everything was flushed and the
	// peer's write half was shut down
	StateHalfClosed
	// StatePeerEOF marks the arrival of the peer's end of stream. It is
	// reported on the transition only; the settled state is StateDraining or
	// StateDone.
	StatePeerEOF
	// StateDraining means the peer ended its stream and bytes remain for the output
	StateDraining
	// StateDone means the peer ended its stream and the output received everything
	StateDone
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateEOFPending:
		return "EOF_PENDING"
	case StateHalfClosed:
		return "HALF_CLOSED"
	case StatePeerEOF:
		return "PEER_EOF"
	case StateDraining:
		return "DRAINING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// direction couples a buffer with the end-of-stream flags of one byte flow
type direction struct {
	name string
	buf  *Buffer

	sourceEOF     bool
	halfCloseSent bool

	// transferred counts bytes written out to the sink
	transferred int64
}

func newDirection(name string, capacity int) *direction {
	return &direction{
		name: name,
		buf:  NewBuffer(capacity),
	}
}

// wantsRead reports whether the source should be polled for reading
func (d *direction) wantsRead() bool {
	return !d.sourceEOF && d.buf.HasRoom()
}

// wantsWrite reports whether the sink should be polled for writing
func (d *direction) wantsWrite() bool {
	return !d.buf.Empty()
}

// outboundState reports the state of the input to peer direction
func (d *direction) outboundState() State {
	switch {
	case !d.sourceEOF:
		return StateActive
	case !d.halfCloseSent:
		return StateEOFPending
	default:
		return StateHalfClosed
	}
}

// inboundState reports the state of the peer to output direction
func (d *direction) inboundState() State {
	switch {
	case !d.sourceEOF:
		return StateActive
	case !d.buf.Empty():
		return StateDraining
	default:
		return StateDone
	}
}
