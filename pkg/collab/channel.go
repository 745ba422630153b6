package collab

import (
	"context"
	"log/slog"

	"github.com/a-essam23/go-roomsync/pkg/transport"
	"github.com/google/uuid"
)

// Channel is the one open connection of a session.
type Channel interface {
	Send(msg []byte)
	IsOpen() bool
	Close(err error)
}

// Dialer opens a channel for ticket. onMessage is invoked sequentially in
// delivery order; onClose exactly once with nil for a local normal closure.
type Dialer func(ctx context.Context, ticket string, onMessage func(ctx context.Context, msg []byte), onClose func(err error)) (Channel, error)

// Endpoint locates the relay: <ws-scheme>://<host>/<apiVersion>/<roomKind>/<ticket>.
type Endpoint struct {
	BaseURL    string
	APIVersion string
	RoomKind   string
}

// WebsocketDialer dials endpoint over websocket.
func WebsocketDialer(endpoint Endpoint, config transport.ConnectionConfig, logger *slog.Logger) Dialer {
	return func(ctx context.Context, ticket string, onMessage func(context.Context, []byte), onClose func(error)) (Channel, error) {
		url, err := transport.EndpointURL(endpoint.BaseURL, endpoint.APIVersion, endpoint.RoomKind, ticket)
		if err != nil {
			return nil, &transport.ConnectionError{URL: endpoint.BaseURL, Err: err}
		}
		conn, err := transport.Dial(ctx, url, config,
			func(ctx context.Context, _ uuid.UUID, msg []byte) { onMessage(ctx, msg) },
			func(_ uuid.UUID, err error) { onClose(err) },
			logger,
		)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
