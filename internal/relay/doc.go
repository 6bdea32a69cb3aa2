// Package relay implements the full-duplex byte relay at the heart of relaycat.
//
// The relay copies bytes from a local input to a remote peer and from the peer
// to a local output, concurrently, on a single goroutine. It never blocks on an
// individual read or write: every endpoint is driven in non-blocking mode and
// the only suspension point is a readiness wait supplied by a Poller.
//
// # Endpoints
//
// Source, Sink and Peer describe the capabilities the engine needs from its
// collaborators. A TryRead or TryWrite that cannot make progress returns
// ErrWouldBlock; a TryRead at end of stream returns io.EOF. The Peer also
// supports CloseWrite, which shuts down its write half while leaving the read
// half open.
//
// # Directions
//
// Each of the two byte flows (input to peer, peer to output) owns a fixed
// capacity Buffer. Reads append to the free region, writes consume the pending
// region, and the buffer rewinds to the start whenever it drains. When the input
// reaches end of stream the engine half-closes the peer, immediately if nothing
// is buffered or after the buffered bytes are flushed otherwise.
//
// # Outcomes
//
// Engine.Run returns nil when the peer reached end of stream after the input
// did and every byte has been delivered. A peer that closes first yields
// ErrProtocolViolation; endpoint failures are reported as *IOError and poller
// failures as *MultiplexError. Classify maps any of these to an Outcome.
//
// # Usage Example
//
//	engine, err := relay.New(&relay.Options{
//	    Input:  stdin,
//	    Peer:   conn,
//	    Output: stdout,
//	    Poller: poller,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = engine.Run(ctx)
//	os.Exit(relay.Classify(err).ExitCode())
package relay
