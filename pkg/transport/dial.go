package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// ConnectionError reports a failed attempt to open a connection.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

var ErrInvalidTicket = errors.New("invalid session ticket")

// EndpointURL builds <ws-scheme>://<host>/<apiVersion>/<roomKind>/<ticket>
// from an http(s) or ws(s) base address.
func EndpointURL(base, apiVersion, roomKind, ticket string) (string, error) {
	if strings.TrimSpace(ticket) == "" || strings.ContainsAny(ticket, "/?#") {
		return "", ErrInvalidTicket
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.Trim(apiVersion, "/") + "/" + strings.Trim(roomKind, "/") + "/" + url.PathEscape(ticket)
	return u.String(), nil
}

// Dial opens exactly one connection to endpoint and starts its pumps. It does
// not retry. The returned connection is unusable once closed.
func Dial(ctx context.Context, endpoint string, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) (*Connection, error) {
	wsConn, resp, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, &ConnectionError{URL: endpoint, Err: err}
	}

	// the connection outlives the dial context
	conn := NewConnection(context.WithoutCancel(ctx), nil, wsConn, config, onMessage, onClose, logger)
	conn.Run()
	return conn, nil
}

// CloseCode extracts the websocket close code from a close handler error.
// A nil error is a local normal closure.
func CloseCode(err error) websocket.StatusCode {
	if err == nil {
		return websocket.StatusNormalClosure
	}
	if code := websocket.CloseStatus(err); code != -1 {
		return code
	}
	return websocket.StatusAbnormalClosure
}
