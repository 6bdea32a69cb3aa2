package poll

import (
	"context"
	"io"
	"sync"

	"github.com/julienstroheker/relaycat/internal/relay"
)

// DefaultChunkSize is the largest read or write a Stream performs at once
const DefaultChunkSize = 32 * 1024

// AsyncPoller waits for readiness of Stream endpoints. Streams signal a shared
// channel whenever their state changes and the poller re-evaluates the
// requested interests.
type AsyncPoller struct {
	chunkSize int
	wake      chan struct{}
	ready     []relay.Interest
}

// NewAsyncPoller creates an async poller whose streams move at most chunkSize
// bytes per operation (0 uses DefaultChunkSize)
func NewAsyncPoller(chunkSize int) *AsyncPoller {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &AsyncPoller{
		chunkSize: chunkSize,
		wake:      make(chan struct{}, 1),
	}
}

// NewStream adapts a bidirectional connection. closeWrite half-closes the
// connection; it runs on the writer goroutine after every queued chunk.
func (p *AsyncPoller) NewStream(rw io.ReadWriter, closeWrite func() error) *Stream {
	return p.newStream(rw, rw, closeWrite)
}

// NewReader adapts a read-only endpoint such as standard input
func (p *AsyncPoller) NewReader(r io.Reader) *Stream {
	return p.newStream(r, nil, nil)
}

// NewWriter adapts a write-only endpoint such as standard output
func (p *AsyncPoller) NewWriter(w io.Writer) *Stream {
	return p.newStream(nil, w, nil)
}

func (p *AsyncPoller) newStream(r io.Reader, w io.Writer, closeWrite func() error) *Stream {
	s := &Stream{
		poller:     p,
		reader:     r,
		writer:     w,
		closeWrite: closeWrite,
		consumed:   make(chan struct{}, 1),
		writes:     make(chan []byte, 2),
		progress:   make(chan struct{}, 1),
		writerIdle: make(chan struct{}),
		done:       make(chan struct{}),
	}
	if r != nil {
		go s.readLoop(make([]byte, p.chunkSize))
	}
	if w != nil {
		s.wbuf = make([]byte, p.chunkSize)
		go s.writeLoop()
	} else {
		close(s.writerIdle)
	}
	return s
}

// Wait blocks until at least one interest is ready or ctx is done
func (p *AsyncPoller) Wait(ctx context.Context, interests []relay.Interest) ([]relay.Interest, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p.ready = p.ready[:0]
		for _, in := range interests {
			s, ok := in.Endpoint.(*Stream)
			if !ok || s.poller != p {
				return nil, ErrForeignEndpoint
			}
			if s.isReady(in.Kind) {
				p.ready = append(p.ready, in)
			}
		}
		if len(p.ready) > 0 {
			return p.ready, nil
		}

		select {
		case <-p.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *AsyncPoller) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stream is a non-blocking relay endpoint over a blocking reader and writer.
// One goroutine prefetches a single chunk; another writes a single chunk.
type Stream struct {
	poller     *AsyncPoller
	reader     io.Reader
	writer     io.Writer
	closeWrite func() error

	mu sync.Mutex

	staged   []byte
	readErr  error
	consumed chan struct{}

	wbuf          []byte
	writes        chan []byte
	inFlight      bool
	halfClosed    bool
	writeErr      error
	closeWriteErr error
	closeWritten  bool
	progress      chan struct{}
	writerIdle    chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func (s *Stream) readLoop(buf []byte) {
	for {
		n, err := s.reader.Read(buf)
		if n == 0 && err == nil {
			continue
		}

		s.mu.Lock()
		s.staged = buf[:n]
		s.readErr = err
		s.mu.Unlock()
		s.poller.notify()

		if err != nil {
			return
		}
		select {
		case <-s.consumed:
		case <-s.done:
			return
		}
	}
}

func (s *Stream) writeLoop() {
	defer close(s.writerIdle)

	for {
		var chunk []byte
		select {
		case chunk = <-s.writes:
		case <-s.done:
			return
		}

		if chunk == nil {
			err := s.closeWrite()
			s.mu.Lock()
			s.closeWriteErr = err
			s.closeWritten = true
			s.mu.Unlock()
			s.poller.notify()
			return
		}

		_, err := s.writer.Write(chunk)
		s.mu.Lock()
		s.inFlight = false
		s.writeErr = err
		s.mu.Unlock()
		s.poller.notify()
		select {
		case s.progress <- struct{}{}:
		default:
		}

		if err != nil {
			return
		}
	}
}

// TryRead returns staged bytes, the reader's terminal error once everything
// staged was consumed, or relay.ErrWouldBlock
func (s *Stream) TryRead(p []byte) (int, error) {
	if s.reader == nil {
		return 0, io.ErrClosedPipe
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.staged) > 0 {
		n := copy(p, s.staged)
		s.staged = s.staged[n:]
		if len(s.staged) == 0 && s.readErr == nil {
			select {
			case s.consumed <- struct{}{}:
			default:
			}
		}
		return n, nil
	}
	if s.readErr != nil {
		return 0, s.readErr
	}
	return 0, relay.ErrWouldBlock
}

// TryWrite hands up to one chunk of p to the writer goroutine. It returns
// relay.ErrWouldBlock while the previous chunk is in flight.
func (s *Stream) TryWrite(p []byte) (int, error) {
	if s.writer == nil {
		return 0, io.ErrClosedPipe
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.writeErr != nil:
		return 0, s.writeErr
	case s.halfClosed:
		return 0, ErrWriteClosed
	case s.inFlight:
		return 0, relay.ErrWouldBlock
	}

	n := copy(s.wbuf, p)
	s.inFlight = true
	s.writes <- s.wbuf[:n]
	return n, nil
}

// CloseWrite queues a half-close behind the chunk in flight. Its result is
// reported by Flush and Close.
func (s *Stream) CloseWrite() error {
	if s.closeWrite == nil {
		return ErrWriteClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	if s.halfClosed {
		return nil
	}
	s.halfClosed = true
	s.writes <- nil
	return nil
}

func (s *Stream) isReady(kind relay.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case relay.Readable:
		return s.reader != nil && (len(s.staged) > 0 || s.readErr != nil)
	case relay.Writable:
		return s.writer != nil && (!s.inFlight || s.writeErr != nil)
	default:
		return false
	}
}

// Flush waits until the chunk in flight and a queued half-close completed,
// the writer failed, or ctx is done. It returns the first write error.
func (s *Stream) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		pending := s.inFlight || (s.halfClosed && !s.closeWritten)
		s.mu.Unlock()

		if !pending {
			return s.err()
		}
		select {
		case <-s.progress:
		case <-s.writerIdle:
			return s.err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the goroutines once the underlying connection unblocks them and
// returns the first write error. It does not close the connection.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return s.err()
}

func (s *Stream) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	return s.closeWriteErr
}

var (
	_ relay.Peer   = (*Stream)(nil)
	_ relay.Poller = (*AsyncPoller)(nil)
)
