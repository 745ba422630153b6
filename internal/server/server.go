package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/a-essam23/go-roomsync/internal/engine"
	"github.com/a-essam23/go-roomsync/internal/router"
	"github.com/a-essam23/go-roomsync/internal/server/middleware"
	"github.com/a-essam23/go-roomsync/pkg/config"
	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/state"
	"github.com/a-essam23/go-roomsync/pkg/state/roomstore"
	"github.com/a-essam23/go-roomsync/pkg/state/statemanager"
	"github.com/a-essam23/go-roomsync/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const defaultShutdownTimeout = 10 * time.Second

// App is the relay: it admits participants into rooms and routes what they
// send to the rest of their room.
type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	eventRouter  *router.EventRouter
	palette      []message.Color
	wg           sync.WaitGroup
	mux          *http.ServeMux
	http         *http.Server
	config       *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) (*App, error) {
	registry := engine.New(logger)
	registry.RegisterCore()
	if err := config.CompilePipelines(cfg, registry.GetActionFunc, registry.GetModifierFunc, registry.CheckTemplates); err != nil {
		return nil, fmt.Errorf("compile event pipelines: %w", err)
	}
	palette, err := cfg.Palette()
	if err != nil {
		return nil, err
	}
	if len(palette) == 0 {
		palette = []message.Color{state.DefaultHighlightColor}
	}

	stateManager := statemanager.NewInMemoryManager(logger, func(roomID string) state.Store {
		return roomstore.New(nil, logger.With(slog.String("roomID", roomID)))
	}, statemanager.WithRoomCapacity(cfg.Server.RoomCapacity))
	app := &App{
		logger:       logger.With(slog.String("component", "server")),
		stateManager: stateManager,
		eventRouter:  router.NewEventRouter(logger, stateManager, registry, cfg.Pipelines),
		palette:      palette,
		config:       cfg,
		ctx:          rootCtx,
		mux:          http.NewServeMux(),
	}

	pattern := fmt.Sprintf("GET /%s/%s/{ticket}", cfg.Server.APIVersion, cfg.Server.RoomKind)
	app.mux.Handle(pattern,
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewTicketMiddleware(app.logger, cfg.Server.Auth.TicketSecret, middleware.PathTicket("ticket")),
			middleware.NewRoomCapacityLimiter(app.logger, stateManager.MemberCount, cfg.Server.RoomCapacity),
		),
	)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: app.mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}
	return app, nil
}

// Handler exposes the routes without a listener.
func (a *App) Handler() http.Handler {
	return a.mux
}

// Run serves until the root context is done, then shuts down gracefully.
func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
			return err
		}
	case <-a.ctx.Done():
	}
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("roomID", reqMeta.RoomID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	stateConn, err := a.stateManager.RegisterConnection(conn, reqMeta.IP)
	if err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}

	participant := &state.Participant{
		ID:     uuid.NewString(),
		Name:   reqMeta.Name,
		RoomID: reqMeta.RoomID,
	}
	if participant.Name == "" {
		participant.Name = "Anonymous"
	}

	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		a.leave(participant)
		if dErr := a.stateManager.DeregisterConnection(id); dErr != nil {
			connLogger.Error("Failed to deregister connection from state", slog.Any("error", dErr))
		}
	})

	if _, err := a.stateManager.Join(stateConn.ID, participant, a.welcome(participant)); err != nil {
		if errors.Is(err, statemanager.ErrRoomFull) {
			// lost a race with another join after the limiter let both through
			connLogger.Warn("Room filled up while joining")
			conn.CloseStatus(websocket.StatusTryAgainLater, "room is full")
			return
		}
		connLogger.Error("Failed to join participant", slog.Any("error", err))
		conn.Close(err)
		return
	}
	if !conn.IsOpen() {
		// closed while joining: the close handler may have run before Join
		a.leave(participant)
		return
	}

	connLogger.Info("Participant connection fully established", slog.String("userID", participant.ID))
	conn.Run()
	<-conn.Done()
}

// colorFor picks the first palette color none of others wears. A room larger
// than the palette wraps around.
func (a *App) colorFor(others []*state.Participant) message.Color {
	used := make(map[message.Color]int, len(others))
	for _, o := range others {
		used[o.Color]++
	}
	for round := 0; ; round++ {
		for _, c := range a.palette {
			if used[c] <= round {
				return c
			}
		}
	}
}

// welcome introduces p to its room and the room to p. It runs under the room
// lock, so p receives self_connected before any forwarded message.
func (a *App) welcome(p *state.Participant) func(room *state.Room, others []*state.Participant) {
	return func(room *state.Room, others []*state.Participant) {
		p.Color = a.colorFor(others)
		self := message.ConnectedUser{
			ID:         p.ID,
			Name:       p.Name,
			Color:      p.Color,
			Quaternion: message.IdentityQuat,
		}
		users := make([]message.ConnectedUser, 0, len(others))
		for _, other := range others {
			users = append(users, connectedUser(room.Mirror, other))
		}
		room.Mirror.ApplyUserConnected(self)

		if err := engine.Broadcast([]*state.Participant{p}, message.SelfConnected{
			Message: message.Message{Event: message.TagSelfConnected},
			Self:    message.SelfInfo{ID: p.ID, Name: p.Name, Color: p.Color},
			Users:   users,
		}); err != nil {
			a.logger.Error("Failed to send self_connected", slog.Any("error", err))
		}
		if err := engine.Broadcast([]*state.Participant{p}, message.InitialLandscape{
			Message:  message.Message{Event: message.TagInitialLandscape},
			Snapshot: room.Mirror.SerializeRoom(),
		}); err != nil {
			a.logger.Error("Failed to send initial_landscape", slog.Any("error", err))
		}
		if err := engine.Broadcast(others, message.UserConnected{
			Message:    message.Message{Event: message.TagUserConnected},
			ID:         self.ID,
			Name:       self.Name,
			Color:      self.Color,
			Position:   self.Position,
			Quaternion: self.Quaternion,
		}); err != nil {
			a.logger.Error("Failed to announce participant", slog.Any("error", err))
		}
	}
}

// connectedUser describes a participant with the pose and controllers the
// mirror last saw.
func connectedUser(mirror state.Store, p *state.Participant) message.ConnectedUser {
	u := message.ConnectedUser{ID: p.ID, Name: p.Name, Color: p.Color, Quaternion: message.IdentityQuat}
	remote, ok := mirror.User(p.ID)
	if !ok {
		return u
	}
	if remote.Camera != nil {
		u.Position = remote.Camera.Position
		u.Quaternion = remote.Camera.Quaternion
	}
	for _, c := range remote.Controllers {
		u.Controllers = append(u.Controllers, c.Controller)
	}
	return u
}

func (a *App) leave(p *state.Participant) {
	a.stateManager.Leave(p.ID, func(room *state.Room, remaining []*state.Participant) {
		room.Mirror.ApplyUserDisconnected(p.ID)
		if err := engine.Broadcast(remaining, message.UserDisconnected{
			Message: message.Message{Event: message.TagUserDisconnected},
			ID:      p.ID,
		}); err != nil {
			a.logger.Error("Failed to announce departure", slog.Any("error", err))
		}
	})
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.CloseConnections()
	a.logger.Info("Server shut down gracefully.")
	return nil
}

// CloseConnections closes every active websocket and waits for their
// cleanup to finish.
func (a *App) CloseConnections() {
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.stateManager.AllConnections() {
		conn.Transport.CloseStatus(websocket.StatusGoingAway, "server shutting down")
	}
	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
}
