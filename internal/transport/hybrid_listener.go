package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	azrelay "github.com/julienstroheker/relaycat/internal/azure/relay"
	"github.com/julienstroheker/relaycat/internal/logging"
)

// renewInterval is how often the control channel presents a fresh token
const renewInterval = 20 * time.Minute

// HybridListener listens on an Azure Relay Hybrid Connection. It keeps a
// control channel open to the relay and dials the rendezvous address of the
// first accept notification.
type HybridListener struct {
	host       string
	name       string
	tokens     azrelay.TokenProvider
	listenerID string
	dialer     *websocket.Dialer
	logger     *logging.Logger

	mu      sync.Mutex
	control *websocket.Conn

	conns     chan *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewHybridListener creates a listener for the hybrid connection in opts.
// Nothing is dialed until Accept.
func NewHybridListener(opts *HybridOptions, logger *logging.Logger) (*HybridListener, error) {
	if err := validateHybridOptions(opts); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}

	id := uuid.New().String()
	return &HybridListener{
		host:       azrelay.NamespaceHost(opts.Namespace),
		name:       opts.Name,
		tokens:     opts.Tokens,
		listenerID: id,
		dialer:     newRelayDialer(),
		logger:     logger.With(logging.String("listener_id", id)),
		conns:      make(chan *websocket.Conn, 1),
		done:       make(chan struct{}),
	}, nil
}

// acceptMessage is the control channel notification of a waiting sender
type acceptMessage struct {
	Accept *struct {
		Address        string            `json:"address"`
		ID             string            `json:"id"`
		ConnectHeaders map[string]string `json:"connectHeaders"`
	} `json:"accept"`
}

// renewTokenMessage replaces the token of the control channel
type renewTokenMessage struct {
	RenewToken struct {
		Token string `json:"token"`
	} `json:"renewToken"`
}

// connect establishes the control channel
func (l *HybridListener) connect(ctx context.Context) (*websocket.Conn, error) {
	token, err := l.tokens.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get relay token: %w", err)
	}

	query := url.Values{}
	query.Set("sb-hc-action", "listen")
	query.Set("sb-hc-id", l.listenerID)
	target := hybridURL(l.host, l.name, query)

	header := http.Header{}
	header.Set("ServiceBusAuthorization", token)

	l.logger.Debug("Connecting to relay control channel",
		logging.String("relay_endpoint", l.host),
		logging.String("hybrid_connection_name", l.name))

	conn, resp, err := l.dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, handshakeError("relay control channel", resp, err)
	}
	closeBody(resp)

	l.logger.Info("Control channel connected", logging.String("hybrid_connection_name", l.name))
	return conn, nil
}

// Accept connects the control channel on first use, then waits for a sender
func (l *HybridListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-l.done:
		return nil, ErrListenerClosed
	default:
	}

	l.mu.Lock()
	if l.control == nil {
		conn, err := l.connect(ctx)
		if err != nil {
			l.mu.Unlock()
			return nil, err
		}
		l.control = conn
		go l.handleControlChannel(conn)
		go l.renewTokens(conn)
	}
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrListenerClosed
	case conn := <-l.conns:
		return newMessageConn(conn), nil
	}
}

// handleControlChannel reads accept notifications until the channel fails
func (l *HybridListener) handleControlChannel(control *websocket.Conn) {
	for {
		messageType, data, err := control.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
			default:
				l.logger.Error("Control channel read error", logging.Error(err))
				_ = l.Close()
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg acceptMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Warn("Failed to parse control message", logging.Error(err))
			continue
		}
		if msg.Accept == nil || msg.Accept.Address == "" {
			continue
		}

		l.logger.Info("Received accept notification", logging.String("connection_id", msg.Accept.ID))
		go l.rendezvous(msg.Accept.Address, msg.Accept.ID)
	}
}

// rendezvous dials the address of an accept notification. The address
// carries its own authorization.
func (l *HybridListener) rendezvous(address, connectionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	conn, resp, err := l.dialer.DialContext(ctx, address, nil)
	if err != nil {
		l.logger.Error("Rendezvous connection failed",
			logging.String("connection_id", connectionID),
			logging.Error(handshakeError("rendezvous", resp, err)))
		return
	}
	closeBody(resp)

	select {
	case l.conns <- conn:
		l.logger.Debug("Rendezvous connection established", logging.String("connection_id", connectionID))
	default:
		l.logger.Warn("Rendezvous connection dropped, a sender is already accepted",
			logging.String("connection_id", connectionID))
		_ = newMessageConn(conn).Close()
	}
}

// renewTokens presents a fresh token on the control channel periodically
func (l *HybridListener) renewTokens(control *websocket.Conn) {
	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		token, err := l.tokens.GetToken(ctx)
		cancel()
		if err != nil {
			l.logger.Warn("Failed to renew relay token", logging.Error(err))
			continue
		}

		var msg renewTokenMessage
		msg.RenewToken.Token = token
		if err := control.WriteJSON(msg); err != nil {
			l.logger.Warn("Failed to send renewed token", logging.Error(err))
			return
		}
		l.logger.Debug("Relay token renewed")
	}
}

// Addr returns the hybrid connection URL
func (l *HybridListener) Addr() string {
	return hybridURL(l.host, l.name, nil)
}

// Close closes the control channel. A connection already returned by Accept
// stays open.
func (l *HybridListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)

		l.mu.Lock()
		control := l.control
		l.mu.Unlock()
		if control != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = control.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
			if err := control.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				l.closeErr = err
			}
		}

		select {
		case conn := <-l.conns:
			_ = conn.Close()
		default:
		}
	})
	return l.closeErr
}
