// Package poll provides the readiness-wait backends used by the relay engine.
//
// Two backends are available:
//
//   - The descriptor backend (FDPoller with File endpoints) waits with poll(2)
//     on non-blocking operating system descriptors. It is available on Linux,
//     macOS and the BSDs, and only for endpoints that expose a descriptor:
//     standard streams, TCP sockets and UDP sockets.
//
//   - The async backend (AsyncPoller with Stream endpoints) adapts blocking
//     connections by running one reader and one writer goroutine per endpoint.
//     It works for every transport, including websocket, QUIC, yamux and
//     Azure Relay connections that have no descriptor.
//
// Both satisfy relay.Poller and report only the interests that were asked for.
// Readiness is advisory: an endpoint reported ready may still return
// relay.ErrWouldBlock.
//
// # Usage Example
//
//	poller := poll.NewAsyncPoller(0)
//	input := poller.NewReader(os.Stdin)
//	output := poller.NewWriter(os.Stdout)
//	peer := poller.NewStream(conn, conn.CloseWrite)
//	defer peer.Close()
//
//	err := relay.Run(ctx, input, peer, output, poller)
package poll
