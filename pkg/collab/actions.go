package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-roomsync/pkg/correlator"
	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/state"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var (
	ErrUnknownApplication = errors.New("application cannot be opened")
	ErrUnknownObject      = errors.New("object is not in the room")
)

// Local actions apply to the room store first and are then replicated. They
// work offline too; sends are silently dropped while the channel is closed.

func (s *Session) OpenApplication(ctx context.Context, appID string, t message.Transform) error {
	if !s.store.ApplyAppOpened(ctx, appID, t) {
		return fmt.Errorf("%w: %q", ErrUnknownApplication, appID)
	}
	s.sender.SendAppOpened(appID, t)
	return nil
}

// CloseApplication asks the relay to close appID and closes it locally once
// the relay agreed, or immediately when offline. done, if set, receives
// whether the application was closed.
func (s *Session) CloseApplication(appID string, done func(closed bool)) error {
	if _, ok := s.store.Application(appID); !ok {
		return fmt.Errorf("%w: %q", state.ErrApplicationNotOpen, appID)
	}
	nonce := correlator.NewNonce()
	_, onResponse := correlator.Typed[message.SuccessResponse](nil, func(res message.SuccessResponse) {
		notify(done, res.Success && s.store.ApplyAppClosed(appID))
	})
	s.correlator.AwaitResponse(correlator.Request{
		Nonce:      nonce,
		Guard:      isSuccessResponse,
		OnResponse: onResponse,
		OnOnline:   func() { s.sender.SendAppClosed(appID, nonce) },
		OnOffline:  func() { notify(done, s.store.ApplyAppClosed(appID)) },
	})
	return nil
}

func (s *Session) ToggleComponent(appID, componentID string, open bool) error {
	return s.updateComponent(message.ComponentUpdate{AppID: appID, ComponentID: componentID, IsOpened: open})
}

// CloseAllComponents collapses an application to its foundation.
func (s *Session) CloseAllComponents(appID string) error {
	return s.updateComponent(message.ComponentUpdate{AppID: appID, IsFoundation: true})
}

func (s *Session) updateComponent(update message.ComponentUpdate) error {
	if _, ok := s.store.Application(update.AppID); !ok {
		return fmt.Errorf("%w: %q", state.ErrApplicationNotOpen, update.AppID)
	}
	if !s.store.ApplyComponentUpdate(update) {
		return fmt.Errorf("%w: component %q", ErrUnknownObject, update.ComponentID)
	}
	s.sender.SendComponentUpdate(update.AppID, update.ComponentID, update.IsOpened, update.IsFoundation)
	return nil
}

// Highlight sets or clears the local user's highlight in appID.
func (s *Session) Highlight(appID, entityType, entityID string, highlighted bool) error {
	if _, ok := s.store.Application(appID); !ok {
		return fmt.Errorf("%w: %q", state.ErrApplicationNotOpen, appID)
	}
	update := message.HighlightingUpdate{AppID: appID, EntityType: entityType, EntityID: entityID, IsHighlighted: highlighted}
	if !s.store.ApplyHighlight(s.store.LocalUser().ID, update) {
		return fmt.Errorf("%w: %s %q", ErrUnknownObject, entityType, entityID)
	}
	s.sender.SendHighlightingUpdate(appID, entityType, entityID, highlighted)
	return nil
}

func (s *Session) MoveObject(objectID string, t message.Transform) error {
	if !s.store.ApplyObjectMoved(objectID, t) {
		return fmt.Errorf("%w: %q", ErrUnknownObject, objectID)
	}
	s.sender.SendObjectMoved(objectID, t)
	return nil
}

// DetachMenu anchors a menu for an entity in free space. Online, the relay
// assigns the object id; offline a local id is used. done, if set, receives
// the object id, or "" when the menu could not be detached.
func (s *Session) DetachMenu(entityType, entityID string, t message.Transform, done func(objectID string)) {
	nonce := correlator.NewNonce()
	detach := func(objectID string) {
		ok := s.store.ApplyMenuDetached(state.DetachedMenu{
			ObjectID:   objectID,
			EntityType: entityType,
			EntityID:   entityID,
			Transform:  t,
		})
		if !ok {
			objectID = ""
		}
		if done != nil {
			done(objectID)
		}
	}
	guard, onResponse := correlator.Typed(
		func(res message.ObjectIDResponse) bool { return res.ObjectID != "" },
		func(res message.ObjectIDResponse) { detach(res.ObjectID) },
	)
	s.correlator.AwaitResponse(correlator.Request{
		Nonce:      nonce,
		Guard:      guard,
		OnResponse: onResponse,
		OnOnline:   func() { s.sender.SendMenuDetached(nonce, entityType, entityID, t) },
		OnOffline:  func() { detach(uuid.NewString()) },
	})
}

// CloseDetachedMenu closes menuID once the relay agreed, or immediately when
// offline.
func (s *Session) CloseDetachedMenu(menuID string, done func(closed bool)) error {
	if _, ok := s.store.Menu(menuID); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownObject, menuID)
	}
	nonce := correlator.NewNonce()
	_, onResponse := correlator.Typed[message.SuccessResponse](nil, func(res message.SuccessResponse) {
		notify(done, res.Success && s.store.ApplyMenuClosed(menuID))
	})
	s.correlator.AwaitResponse(correlator.Request{
		Nonce:      nonce,
		Guard:      isSuccessResponse,
		OnResponse: onResponse,
		OnOnline:   func() { s.sender.SendDetachedMenuClosed(menuID, nonce) },
		OnOffline:  func() { notify(done, s.store.ApplyMenuClosed(menuID)) },
	})
	return nil
}

// SetTimestamp moves the shared timeline for everyone, keeping the current
// view.
func (s *Session) SetTimestamp(ctx context.Context, timestamp int64) error {
	err := s.store.PreserveRoom(ctx, func(ctx context.Context) error {
		return s.store.UpdateTimestamp(ctx, timestamp)
	}, state.RestoreOptions{RestoreLandscapeData: false})
	if err != nil {
		return fmt.Errorf("set timestamp: %w", err)
	}
	s.sender.SendTimestampUpdate(timestamp)
	return nil
}

func (s *Session) ConnectController(c message.Controller) {
	s.sender.SendControllerConnect(c)
}

func (s *Session) DisconnectController(controllerID int) {
	s.sender.SendControllerDisconnect(controllerID)
}

func (s *Session) Ping(controllerID int, pinging bool) {
	s.sender.SendPingUpdate(controllerID, pinging)
}

func (s *Session) MousePing(modelID string, isApplication bool, position message.Vec3) {
	s.sender.SendMousePingUpdate(modelID, isApplication, position)
}

// SpectateUser starts following userID and tells the room.
func (s *Session) SpectateUser(userID string) error {
	if s.Status() != StatusConnected {
		return ErrNotConnected
	}
	if err := s.spectate.Activate(userID, true); err != nil {
		s.logger.Debug("Cannot spectate", slog.String("userID", userID), slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Session) StopSpectating() {
	s.spectate.Deactivate(true)
}

// isSuccessResponse requires an explicit boolean success field.
func isSuccessResponse(raw json.RawMessage) bool {
	return gjson.GetBytes(raw, "success").IsBool()
}

func notify(done func(bool), closed bool) {
	if done != nil {
		done(closed)
	}
}
