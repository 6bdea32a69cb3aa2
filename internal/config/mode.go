package config

import (
	"fmt"
	"strings"
)

// Mode selects the transport used to reach the peer
type Mode string

const (
	// ModeTCP is a reliable stream over TCP
	ModeTCP Mode = "tcp"

	// ModeUDP is an unreliable datagram exchange over UDP
	ModeUDP Mode = "udp"

	// ModeWebSocket carries the stream as websocket binary messages
	ModeWebSocket Mode = "ws"

	// ModeQUIC carries the stream on one QUIC bidirectional stream
	ModeQUIC Mode = "quic"

	// ModeMux carries the stream on one yamux stream over TCP
	ModeMux Mode = "mux"

	// ModeHybrid goes through an Azure Relay Hybrid Connection
	ModeHybrid Mode = "hc"
)

// Modes lists every supported mode
func Modes() []Mode {
	return []Mode{ModeTCP, ModeUDP, ModeWebSocket, ModeQUIC, ModeMux, ModeHybrid}
}

// ParseMode converts a string to a Mode
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("unknown mode %q (want one of %s)", s, joinModes())
	}
	return m, nil
}

// IsValid checks if the mode is valid
func (m Mode) IsValid() bool {
	for _, known := range Modes() {
		if m == known {
			return true
		}
	}
	return false
}

// Datagram reports whether the mode preserves message boundaries without
// delivery guarantees
func (m Mode) Datagram() bool {
	return m == ModeUDP
}

// String returns the string representation
func (m Mode) String() string {
	return string(m)
}

func joinModes() string {
	names := make([]string, 0, len(Modes()))
	for _, m := range Modes() {
		names = append(names, m.String())
	}
	return strings.Join(names, "|")
}

// Backend selects how the relay waits for readiness
type Backend string

const (
	// BackendAuto uses descriptors when every endpoint has one
	BackendAuto Backend = "auto"

	// BackendFD waits on descriptors with poll(2)
	BackendFD Backend = "fd"

	// BackendAsync adapts endpoints with goroutines
	BackendAsync Backend = "async"
)

// IsValid checks if the backend is valid
func (b Backend) IsValid() bool {
	return b == BackendAuto || b == BackendFD || b == BackendAsync
}

// String returns the string representation
func (b Backend) String() string {
	return string(b)
}
