package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	azrelay "github.com/julienstroheker/relaycat/internal/azure/relay"
	"github.com/julienstroheker/relaycat/internal/logging"
)

// HybridSender dials an Azure Relay Hybrid Connection. The relay pairs the
// websocket with a listener's rendezvous websocket.
type HybridSender struct {
	host   string
	name   string
	tokens azrelay.TokenProvider
	dialer *websocket.Dialer
	logger *logging.Logger
}

func validateHybridOptions(opts *HybridOptions) error {
	if opts == nil {
		return fmt.Errorf("hybrid connection options cannot be nil")
	}
	if opts.Namespace == "" {
		return fmt.Errorf("relay namespace is required")
	}
	if opts.Name == "" {
		return fmt.Errorf("hybrid connection name is required")
	}
	if opts.Tokens == nil {
		return fmt.Errorf("token provider is required")
	}
	return nil
}

func newRelayDialer() *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
}

// hybridURL returns wss://<host>/$hc/<name> with the given query
func hybridURL(host, name string, query url.Values) string {
	u := url.URL{
		Scheme:   "wss",
		Host:     host,
		Path:     "/$hc/" + name,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// NewHybridSender creates a sender for the hybrid connection in opts
func NewHybridSender(opts *HybridOptions, logger *logging.Logger) (*HybridSender, error) {
	if err := validateHybridOptions(opts); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &HybridSender{
		host:   azrelay.NamespaceHost(opts.Namespace),
		name:   opts.Name,
		tokens: opts.Tokens,
		dialer: newRelayDialer(),
		logger: logger,
	}, nil
}

// Dial connects to the listener of the hybrid connection. The address is
// ignored; the relay routes by hybrid connection name.
func (s *HybridSender) Dial(ctx context.Context, _ string) (Conn, error) {
	token, err := s.tokens.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get relay token: %w", err)
	}

	// SAS tokens go in the query string, Azure AD tokens in the
	// Authorization header
	query := url.Values{}
	query.Set("sb-hc-action", "connect")
	header := http.Header{}
	if azrelay.IsSAS(token) {
		query.Set("sb-hc-token", token)
	} else {
		header.Set("Authorization", "Bearer "+token)
	}
	target := hybridURL(s.host, s.name, query)

	s.logger.Debug("Connecting to hybrid connection",
		logging.String("relay_endpoint", s.host),
		logging.String("hybrid_connection_name", s.name))

	conn, resp, err := s.dialer.DialContext(ctx, target, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil && resp.StatusCode == http.StatusNotFound {
			closeBody(resp)
			return nil, fmt.Errorf("hybrid connection %s has no listener: %w", s.name, err)
		}
		return nil, handshakeError("relay", resp, err)
	}
	closeBody(resp)

	return newMessageConn(conn), nil
}
