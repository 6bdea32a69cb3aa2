//go:build linux || darwin || freebsd || netbsd || openbsd

package poll

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/julienstroheker/relaycat/internal/relay"
)

func newTestFDPoller(t *testing.T) *FDPoller {
	t.Helper()

	p, err := NewFDPoller()
	if err != nil {
		t.Fatalf("NewFDPoller() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestFDPoller_ReportsRequestedSubset(t *testing.T) {
	p := newTestFDPoller(t)
	f, remote := newSocketPair(t, "unix")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// An idle socket is writable but not readable
	ready, err := p.Wait(ctx, []relay.Interest{
		{Endpoint: f, Kind: relay.Readable},
		{Endpoint: f, Kind: relay.Writable},
	})
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if len(ready) != 1 || ready[0].Kind != relay.Writable {
		t.Errorf("Expected only the writable interest, got: %v", ready)
	}

	if _, err := remote.Write([]byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ready, err = p.Wait(ctx, []relay.Interest{{Endpoint: f, Kind: relay.Readable}})
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if len(ready) != 1 || ready[0].Kind != relay.Readable {
		t.Errorf("Expected the readable interest, got: %v", ready)
	}
}

func TestFDPoller_HangupIsReadable(t *testing.T) {
	p := newTestFDPoller(t)
	f, remote := newSocketPair(t, "unix")

	remote.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ready, err := p.Wait(ctx, []relay.Interest{{Endpoint: f, Kind: relay.Readable}})
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if len(ready) != 1 {
		t.Fatalf("Expected the closed socket to be readable, got: %v", ready)
	}
	if _, err := f.TryRead(make([]byte, 1)); err != io.EOF {
		t.Errorf("Expected io.EOF, got: %v", err)
	}
}

func TestFDPoller_Cancellation(t *testing.T) {
	p := newTestFDPoller(t)
	f, _ := newSocketPair(t, "unix")
	interests := []relay.Interest{{Endpoint: f, Kind: relay.Readable}}

	t.Run("cancel interrupts a blocked wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		if _, err := p.Wait(ctx, interests); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got: %v", err)
		}
	})

	t.Run("deadline bounds the wait", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		if _, err := p.Wait(ctx, interests); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected context.DeadlineExceeded, got: %v", err)
		}
	})

	t.Run("poller is reusable after cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		ready, err := p.Wait(ctx, []relay.Interest{{Endpoint: f, Kind: relay.Writable}})
		if err != nil || len(ready) != 1 {
			t.Errorf("Expected the writable interest, got %v (err %v)", ready, err)
		}
	})
}

func TestFDPoller_RejectsForeignEndpoints(t *testing.T) {
	p := newTestFDPoller(t)

	_, err := p.Wait(context.Background(), []relay.Interest{
		{Endpoint: relay.NewMockSource(), Kind: relay.Readable},
	})
	if !errors.Is(err, ErrNoDescriptor) {
		t.Errorf("Expected ErrNoDescriptor, got: %v", err)
	}
}

// echo copies everything back to the sender and half-closes after the sender does
func echo(conn net.Conn) {
	_, _ = io.Copy(conn, conn)
	if hc, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = hc.CloseWrite()
	}
}

func TestFDPoller_RelaysOverSockets(t *testing.T) {
	data := make([]byte, 256*1024)
	rand.New(rand.NewSource(7)).Read(data)

	input, inputRemote := newSocketPair(t, "unix")
	peer, peerRemote := newSocketPair(t, "unix")
	output, outputRemote := newSocketPair(t, "unix")

	go func() {
		_, _ = inputRemote.Write(data)
		inputRemote.Close()
	}()
	go echo(peerRemote)

	received := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(outputRemote)
		received <- b
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	engine, err := relay.New(&relay.Options{
		Input:      input,
		Peer:       peer,
		Output:     output,
		Poller:     newTestFDPoller(t),
		BufferSize: 1024,
	})
	if err != nil {
		t.Fatalf("relay.New() error = %v", err)
	}
	if err := engine.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Half-close the output socket so the reader sees end of stream
	if err := output.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite failed: %v", err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, data) {
			t.Errorf("Expected %d bytes in order, got %d", len(data), len(got))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the output")
	}

	stats := engine.Stats()
	if stats.Sent != int64(len(data)) || stats.Received != int64(len(data)) {
		t.Errorf("Expected %d bytes each way, got sent=%d received=%d", len(data), stats.Sent, stats.Received)
	}
}
