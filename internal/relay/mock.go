package relay

import (
	"context"
	"errors"
	"io"
)

// ErrWriteAfterClose is returned by MockPeer when written after CloseWrite
var ErrWriteAfterClose = errors.New("write after close")

// Step is one scripted result of a mock endpoint operation.
// For reads, Data is handed out (possibly across several calls when the
// caller's buffer is smaller). For writes, N caps the bytes accepted by the
// call (0 accepts everything). A step with Err returns that error; io.EOF is
// sticky and returned by every later read.
type Step struct {
	Data []byte
	N    int
	Err  error
}

// Chunk returns a read step yielding s
func Chunk(s string) Step {
	return Step{Data: []byte(s)}
}

// Accept returns a write step accepting at most n bytes
func Accept(n int) Step {
	return Step{N: n}
}

// WouldBlock returns a step reporting ErrWouldBlock
func WouldBlock() Step {
	return Step{Err: ErrWouldBlock}
}

// EOF returns a read step reporting end of stream
func EOF() Step {
	return Step{Err: io.EOF}
}

// Fail returns a step reporting err
func Fail(err error) Step {
	return Step{Err: err}
}

// MockSource is a scripted Source. Once the script is exhausted every read
// reports ErrWouldBlock.
type MockSource struct {
	steps []Step
	Calls int
}

// NewMockSource creates a MockSource playing steps in order
func NewMockSource(steps ...Step) *MockSource {
	return &MockSource{steps: steps}
}

// TryRead plays the next scripted step
func (s *MockSource) TryRead(p []byte) (int, error) {
	s.Calls++
	if len(s.steps) == 0 {
		return 0, ErrWouldBlock
	}

	step := &s.steps[0]
	if step.Err != nil {
		if step.Err != io.EOF {
			s.steps = s.steps[1:]
		}
		return 0, step.Err
	}

	n := copy(p, step.Data)
	step.Data = step.Data[n:]
	if len(step.Data) == 0 {
		s.steps = s.steps[1:]
	}
	return n, nil
}

// Exhausted reports whether every step was played, ignoring a trailing EOF
func (s *MockSource) Exhausted() bool {
	return len(s.steps) == 0 || (len(s.steps) == 1 && s.steps[0].Err == io.EOF)
}

// MockSink is a scripted Sink recording what it accepted. Once the script is
// exhausted every write is accepted in full.
type MockSink struct {
	steps   []Step
	Written []byte
	Calls   int
}

// NewMockSink creates a MockSink playing steps in order
func NewMockSink(steps ...Step) *MockSink {
	return &MockSink{steps: steps}
}

// TryWrite plays the next scripted step
func (s *MockSink) TryWrite(p []byte) (int, error) {
	s.Calls++
	n := len(p)
	if len(s.steps) > 0 {
		step := s.steps[0]
		s.steps = s.steps[1:]
		if step.Err != nil {
			return 0, step.Err
		}
		if step.N > 0 && step.N < n {
			n = step.N
		}
	}
	s.Written = append(s.Written, p[:n]...)
	return n, nil
}

// MockPeer is a scripted Peer. In echo mode every byte written becomes
// readable again and end of stream follows CloseWrite, like an echo server.
type MockPeer struct {
	Reads  *MockSource
	Writes *MockSink

	// MaxRead caps the bytes returned by one echo read (0 means no cap)
	MaxRead int
	// CloseWriteErr is returned by CloseWrite when set
	CloseWriteErr error

	// HalfClosed records that CloseWrite succeeded
	HalfClosed bool
	// HalfClosedAfter is the number of bytes written before CloseWrite
	HalfClosedAfter int
	// CloseWriteCalls counts CloseWrite invocations
	CloseWriteCalls int

	echo   bool
	echoed int
}

// NewMockPeer creates a MockPeer with scripted reads and writes
func NewMockPeer(reads *MockSource, writes *MockSink) *MockPeer {
	if reads == nil {
		reads = NewMockSource()
	}
	if writes == nil {
		writes = NewMockSink()
	}
	return &MockPeer{Reads: reads, Writes: writes}
}

// NewEchoPeer creates a MockPeer that echoes what it receives
func NewEchoPeer(writes *MockSink) *MockPeer {
	p := NewMockPeer(nil, writes)
	p.echo = true
	return p
}

// TryRead returns scripted or echoed bytes
func (p *MockPeer) TryRead(b []byte) (int, error) {
	if !p.echo {
		return p.Reads.TryRead(b)
	}
	p.Reads.Calls++

	avail := p.Writes.Written[p.echoed:]
	if len(avail) == 0 {
		if p.HalfClosed {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}
	if p.MaxRead > 0 && len(b) > p.MaxRead {
		b = b[:p.MaxRead]
	}
	n := copy(b, avail)
	p.echoed += n
	return n, nil
}

// TryWrite records written bytes through the scripted sink
func (p *MockPeer) TryWrite(b []byte) (int, error) {
	if p.HalfClosed {
		return 0, ErrWriteAfterClose
	}
	return p.Writes.TryWrite(b)
}

// CloseWrite records the half-close
func (p *MockPeer) CloseWrite() error {
	p.CloseWriteCalls++
	if p.CloseWriteErr != nil {
		return p.CloseWriteErr
	}
	p.HalfClosed = true
	p.HalfClosedAfter = len(p.Writes.Written)
	return nil
}

// MockPoller is a Poller that reports interests ready without blocking
type MockPoller struct {
	// Ready filters which interests are reported (nil reports all)
	Ready func(Interest) bool
	// BeforeWait is called with the interests of every wait
	BeforeWait func([]Interest)
	// Err, when set, is returned by the next wait and then cleared
	Err error
	// MaxWaits fails the wait with ErrTooManyWaits after that many calls (0 means no limit)
	MaxWaits int

	Calls   int
	History [][]Interest
}

// ErrTooManyWaits is returned by MockPoller once MaxWaits is exceeded
var ErrTooManyWaits = errors.New("mock poller: too many waits")

// Wait reports the interests accepted by Ready
func (m *MockPoller) Wait(ctx context.Context, interests []Interest) ([]Interest, error) {
	m.Calls++
	m.History = append(m.History, append([]Interest(nil), interests...))

	if m.BeforeWait != nil {
		m.BeforeWait(interests)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		err := m.Err
		m.Err = nil
		return nil, err
	}
	if m.MaxWaits > 0 && m.Calls > m.MaxWaits {
		return nil, ErrTooManyWaits
	}

	if m.Ready == nil {
		return interests, nil
	}
	ready := make([]Interest, 0, len(interests))
	for _, in := range interests {
		if m.Ready(in) {
			ready = append(ready, in)
		}
	}
	return ready, nil
}

var (
	_ Source = (*MockSource)(nil)
	_ Sink   = (*MockSink)(nil)
	_ Peer   = (*MockPeer)(nil)
	_ Poller = (*MockPoller)(nil)
)
