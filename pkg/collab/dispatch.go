package collab

import (
	"context"
	"log/slog"

	"github.com/a-essam23/go-roomsync/pkg/correlator"
	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/state"
)

// dispatch validates one inbound payload and routes it by tag. Nothing that
// goes wrong here is returned: the offending message is logged and dropped.
func (s *Session) dispatch(ctx context.Context, raw []byte) {
	env, err := s.registry.Validate(raw)
	if err != nil {
		s.logger.Warn("Dropping invalid message", slog.Any("error", err))
		return
	}

	if env.Forwarded {
		s.dispatchForwarded(ctx, env)
		return
	}

	switch env.Tag {
	case message.TagSelfConnected:
		handleDirect(s, env, s.onSelfConnected)
	case message.TagUserConnected:
		handleDirect(s, env, func(msg message.UserConnected) {
			s.onUserConnected(connectedUser(msg))
		})
	case message.TagUserDisconnected:
		handleDirect(s, env, s.onUserDisconnected)
	case message.TagInitialLandscape:
		handleDirect(s, env, func(msg message.InitialLandscape) { s.onInitialLandscape(ctx, msg) })
	case message.TagMenuDetachedForward:
		handleDirect(s, env, s.onMenuDetached)
	case message.TagResponse:
		handleDirect(s, env, s.onResponse)
	default:
		s.logger.Warn("Unhandled event", slog.String("event", string(env.Tag)))
	}
}

func (s *Session) dispatchForwarded(ctx context.Context, env *message.Envelope) {
	if env.SenderID == s.store.LocalUser().ID {
		s.logger.Debug("Ignoring own forwarded message", slog.String("event", string(env.Tag)))
		return
	}

	switch env.Tag {
	case message.TagUserConnected:
		handleForwarded(s, env, func(_ string, msg message.UserConnected) {
			s.onUserConnected(connectedUser(msg))
		})
	case message.TagUserControllerConnect:
		handleForwarded(s, env, func(userID string, msg message.UserControllerConnect) {
			s.onUserControllerConnect(userID, msg.Controller)
		})
	case message.TagUserControllerDisconnect:
		handleForwarded(s, env, s.onUserControllerDisconnect)
	case message.TagUserPositions:
		handleForwarded(s, env, s.onUserPositions)
	case message.TagAppOpened:
		handleForwarded(s, env, func(userID string, msg message.AppOpened) { s.onAppOpened(ctx, userID, msg) })
	case message.TagAppClosed:
		handleForwarded(s, env, s.onAppClosed)
	case message.TagComponentUpdate:
		handleForwarded(s, env, s.onComponentUpdate)
	case message.TagHighlightingUpdate:
		handleForwarded(s, env, s.onHighlightingUpdate)
	case message.TagSpectatingUpdate:
		handleForwarded(s, env, s.onSpectatingUpdate)
	case message.TagPingUpdate:
		handleForwarded(s, env, s.onPingUpdate)
	case message.TagMousePingUpdate:
		handleForwarded(s, env, s.onMousePingUpdate)
	case message.TagTimestampUpdate:
		handleForwarded(s, env, func(userID string, msg message.TimestampUpdate) { s.onTimestampUpdate(ctx, userID, msg) })
	case message.TagObjectMoved:
		handleForwarded(s, env, s.onObjectMoved)
	case message.TagDetachedMenuClosed:
		handleForwarded(s, env, s.onDetachedMenuClosed)
	default:
		s.logger.Warn("Unhandled forwarded event", slog.String("event", string(env.Tag)))
	}
}

func handleDirect[T any](s *Session, env *message.Envelope, fn func(T)) {
	msg, err := message.Decode[T](env.Raw)
	if err != nil {
		s.logger.Warn("Dropping undecodable message", slog.String("event", string(env.Tag)), slog.Any("error", err))
		return
	}
	fn(msg)
}

// handleForwarded hands fn the relay-assigned sender, never an id found
// inside the original message.
func handleForwarded[T any](s *Session, env *message.Envelope, fn func(userID string, msg T)) {
	fwd, err := message.DecodeForwarded[T](env.Tag, env.Raw)
	if err != nil {
		s.logger.Warn("Dropping undecodable forwarded message", slog.String("event", string(env.Tag)), slog.Any("error", err))
		return
	}
	fn(fwd.UserID, fwd.OriginalMessage)
}

func connectedUser(msg message.UserConnected) message.ConnectedUser {
	return message.ConnectedUser{
		ID:         msg.ID,
		Name:       msg.Name,
		Color:      msg.Color,
		Position:   msg.Position,
		Quaternion: msg.Quaternion,
	}
}

// onSelfConnected populates the room through the same handlers live events
// use, so joining and steady state share one code path.
func (s *Session) onSelfConnected(msg message.SelfConnected) {
	s.mu.Lock()
	if s.status != StatusConnecting {
		s.mu.Unlock()
		s.logger.Warn("Ignoring self_connected outside of connecting", slog.String("status", s.Status().String()))
		return
	}
	s.status = StatusConnected
	s.mu.Unlock()

	s.store.SetLocalUser(msg.Self)
	s.logger.Info("Joined room", slog.String("userID", msg.Self.ID), slog.Int("users", len(msg.Users)))
	s.currentListener().OnSelfConnected(msg.Self)

	for _, u := range msg.Users {
		controllers := u.Controllers
		u.Controllers = nil
		s.onUserConnected(u)
		for _, c := range controllers {
			s.onUserControllerConnect(u.ID, c)
		}
	}
}

func (s *Session) onUserConnected(u message.ConnectedUser) {
	user, ok := s.store.ApplyUserConnected(u)
	if !ok {
		return
	}
	s.currentListener().OnUserConnected(user)
}

func (s *Session) onUserDisconnected(msg message.UserDisconnected) {
	user, ok := s.store.ApplyUserDisconnected(msg.ID)
	if !ok {
		return
	}
	s.currentListener().OnUserDisconnected(user)
}

func (s *Session) onInitialLandscape(ctx context.Context, msg message.InitialLandscape) {
	if err := s.store.RestoreRoom(ctx, msg.Snapshot, state.DefaultRestoreOptions); err != nil {
		s.logger.Warn("Failed to restore initial landscape", slog.Any("error", err))
		return
	}
	s.currentListener().OnInitialLandscape(msg.Snapshot)
}

func (s *Session) onUserControllerConnect(userID string, c message.Controller) {
	if !s.store.ApplyControllerConnect(userID, c) {
		return
	}
	s.currentListener().OnUserControllerConnect(userID, c)
}

func (s *Session) onUserControllerDisconnect(userID string, msg message.UserControllerDisconnect) {
	if !s.store.ApplyControllerDisconnect(userID, msg.ControllerID) {
		return
	}
	s.currentListener().OnUserControllerDisconnect(userID, msg.ControllerID)
}

func (s *Session) onUserPositions(userID string, msg message.UserPositions) {
	if !s.store.ApplyUserPositions(userID, msg) {
		return
	}
	s.currentListener().OnUserPositions(userID, msg)
}

func (s *Session) onAppOpened(ctx context.Context, userID string, msg message.AppOpened) {
	if !s.store.ApplyAppOpened(ctx, msg.ID, msg.Transform) {
		return
	}
	s.currentListener().OnAppOpened(userID, msg)
}

func (s *Session) onAppClosed(userID string, msg message.AppClosed) {
	if !s.store.ApplyAppClosed(msg.AppID) {
		return
	}
	s.currentListener().OnAppClosed(userID, msg)
}

func (s *Session) onComponentUpdate(userID string, msg message.ComponentUpdate) {
	if !s.store.ApplyComponentUpdate(msg) {
		s.logger.Debug("Dropping component_update", slog.String("appID", msg.AppID), slog.String("componentID", msg.ComponentID))
		return
	}
	s.currentListener().OnComponentUpdate(userID, msg)
}

func (s *Session) onHighlightingUpdate(userID string, msg message.HighlightingUpdate) {
	if !s.store.ApplyHighlight(userID, msg) {
		return
	}
	s.currentListener().OnHighlightingUpdate(userID, msg)
}

func (s *Session) onSpectatingUpdate(userID string, msg message.SpectatingUpdate) {
	s.spectate.HandleSpectatingUpdate(userID, msg)
	s.currentListener().OnSpectatingUpdate(userID, msg)
}

func (s *Session) onPingUpdate(userID string, msg message.PingUpdate) {
	if !s.store.ApplyPing(userID, msg.ControllerID, msg.IsPinging) {
		return
	}
	s.currentListener().OnPingUpdate(userID, msg)
}

func (s *Session) onMousePingUpdate(userID string, msg message.MousePingUpdate) {
	if _, ok := s.store.User(userID); !ok {
		return
	}
	if msg.IsApplication {
		if _, ok := s.store.Application(msg.ModelID); !ok {
			return
		}
	}
	s.currentListener().OnMousePingUpdate(userID, msg)
}

// onTimestampUpdate loads the new landscape data while keeping the open
// applications and menus of the current view.
func (s *Session) onTimestampUpdate(ctx context.Context, userID string, msg message.TimestampUpdate) {
	err := s.store.PreserveRoom(ctx, func(ctx context.Context) error {
		return s.store.UpdateTimestamp(ctx, msg.Timestamp)
	}, state.RestoreOptions{RestoreLandscapeData: false})
	if err != nil {
		s.logger.Warn("Failed to apply timestamp update", slog.Int64("timestamp", msg.Timestamp), slog.Any("error", err))
		return
	}
	s.currentListener().OnTimestampUpdate(userID, msg)
}

func (s *Session) onObjectMoved(userID string, msg message.ObjectMoved) {
	if !s.store.ApplyObjectMoved(msg.ObjectID, msg.Transform) {
		return
	}
	s.currentListener().OnObjectMoved(userID, msg)
}

func (s *Session) onMenuDetached(msg message.MenuDetachedForward) {
	if !s.store.ApplyMenuDetached(state.DetachedMenu{
		ObjectID:   msg.ObjectID,
		EntityType: msg.EntityType,
		EntityID:   msg.EntityID,
		Transform:  msg.Transform,
	}) {
		return
	}
	s.currentListener().OnMenuDetached(msg)
}

func (s *Session) onDetachedMenuClosed(userID string, msg message.DetachedMenuClosed) {
	if !s.store.ApplyMenuClosed(msg.MenuID) {
		return
	}
	s.currentListener().OnDetachedMenuClosed(userID, msg)
}

func (s *Session) onResponse(msg message.Response) {
	if !s.correlator.Deliver(correlator.Nonce(msg.Nonce), msg.Response) {
		s.logger.Debug("Response not delivered", slog.String("nonce", msg.Nonce))
	}
}
