package collab

import (
	"encoding/json"
	"log/slog"

	"github.com/a-essam23/go-roomsync/pkg/correlator"
	"github.com/a-essam23/go-roomsync/pkg/message"
)

// Sender encodes outbound messages onto the session's current channel. Every
// method is a silent no-op while the channel is closed.
type Sender struct {
	channel func() Channel
	logger  *slog.Logger
}

func newSender(channel func() Channel, logger *slog.Logger) *Sender {
	return &Sender{channel: channel, logger: logger.With(slog.String("component", "sender"))}
}

func (s *Sender) send(msg any) {
	ch := s.channel()
	if ch == nil || !ch.IsOpen() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to encode outbound message", slog.Any("error", err))
		return
	}
	ch.Send(data)
}

func (s *Sender) SendPoseUpdate(camera *message.Pose, controller1, controller2 *message.ControllerPose) {
	s.send(message.UserPositions{
		Message:     message.Message{Event: message.TagUserPositions},
		Camera:      camera,
		Controller1: controller1,
		Controller2: controller2,
	})
}

func (s *Sender) SendControllerConnect(controller message.Controller) {
	s.send(message.UserControllerConnect{
		Message:    message.Message{Event: message.TagUserControllerConnect},
		Controller: controller,
	})
}

func (s *Sender) SendControllerDisconnect(controllerID int) {
	s.send(message.UserControllerDisconnect{
		Message:      message.Message{Event: message.TagUserControllerDisconnect},
		ControllerID: controllerID,
	})
}

func (s *Sender) SendAppOpened(appID string, t message.Transform) {
	s.send(message.AppOpened{
		Message:   message.Message{Event: message.TagAppOpened},
		ID:        appID,
		Transform: t,
	})
}

func (s *Sender) SendAppClosed(appID string, nonce correlator.Nonce) {
	s.send(message.AppClosed{
		Message: message.Message{Event: message.TagAppClosed},
		AppID:   appID,
		Nonce:   string(nonce),
	})
}

func (s *Sender) SendComponentUpdate(appID, componentID string, isOpened, isFoundation bool) {
	s.send(message.ComponentUpdate{
		Message:      message.Message{Event: message.TagComponentUpdate},
		AppID:        appID,
		ComponentID:  componentID,
		IsOpened:     isOpened,
		IsFoundation: isFoundation,
	})
}

func (s *Sender) SendHighlightingUpdate(appID, entityType, entityID string, isHighlighted bool) {
	s.send(message.HighlightingUpdate{
		Message:       message.Message{Event: message.TagHighlightingUpdate},
		AppID:         appID,
		EntityType:    entityType,
		EntityID:      entityID,
		IsHighlighted: isHighlighted,
	})
}

func (s *Sender) SendSpectatingUpdate(isSpectating bool, spectatedUserID string, spectatingUserIDs []string, configuration []message.DeviceConfig) {
	if spectatingUserIDs == nil {
		spectatingUserIDs = []string{}
	}
	s.send(message.SpectatingUpdate{
		Message:           message.Message{Event: message.TagSpectatingUpdate},
		IsSpectating:      isSpectating,
		SpectatedUserID:   spectatedUserID,
		SpectatingUserIDs: spectatingUserIDs,
		Configuration:     configuration,
	})
}

func (s *Sender) SendPingUpdate(controllerID int, isPinging bool) {
	s.send(message.PingUpdate{
		Message:      message.Message{Event: message.TagPingUpdate},
		ControllerID: controllerID,
		IsPinging:    isPinging,
	})
}

func (s *Sender) SendMousePingUpdate(modelID string, isApplication bool, position message.Vec3) {
	s.send(message.MousePingUpdate{
		Message:       message.Message{Event: message.TagMousePingUpdate},
		ModelID:       modelID,
		IsApplication: isApplication,
		Position:      position,
	})
}

func (s *Sender) SendTimestampUpdate(timestamp int64) {
	s.send(message.TimestampUpdate{
		Message:   message.Message{Event: message.TagTimestampUpdate},
		Timestamp: timestamp,
	})
}

func (s *Sender) SendObjectMoved(objectID string, t message.Transform) {
	s.send(message.ObjectMoved{
		Message:   message.Message{Event: message.TagObjectMoved},
		ObjectID:  objectID,
		Transform: t,
	})
}

func (s *Sender) SendMenuDetached(nonce correlator.Nonce, entityType, entityID string, t message.Transform) {
	s.send(message.MenuDetached{
		Message:    message.Message{Event: message.TagMenuDetached},
		Nonce:      string(nonce),
		EntityType: entityType,
		EntityID:   entityID,
		Transform:  t,
	})
}

func (s *Sender) SendDetachedMenuClosed(menuID string, nonce correlator.Nonce) {
	s.send(message.DetachedMenuClosed{
		Message: message.Message{Event: message.TagDetachedMenuClosed},
		MenuID:  menuID,
		Nonce:   string(nonce),
	})
}
