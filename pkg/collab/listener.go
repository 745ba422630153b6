package collab

import (
	"log/slog"
	"sync/atomic"

	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/state"
)

// Listener receives one callback per applied event, synchronously during
// dispatch. userID is the relay-assigned sender of a forwarded event.
type Listener interface {
	OnSelfConnected(self message.SelfInfo)
	OnSelfDisconnected(code int, hint string)
	OnUserConnected(user *state.RemoteUser)
	OnUserDisconnected(user *state.RemoteUser)
	OnInitialLandscape(snapshot message.Snapshot)
	OnUserControllerConnect(userID string, controller message.Controller)
	OnUserControllerDisconnect(userID string, controllerID int)
	OnUserPositions(userID string, msg message.UserPositions)
	OnAppOpened(userID string, msg message.AppOpened)
	OnAppClosed(userID string, msg message.AppClosed)
	OnComponentUpdate(userID string, msg message.ComponentUpdate)
	OnHighlightingUpdate(userID string, msg message.HighlightingUpdate)
	OnSpectatingUpdate(userID string, msg message.SpectatingUpdate)
	OnPingUpdate(userID string, msg message.PingUpdate)
	OnMousePingUpdate(userID string, msg message.MousePingUpdate)
	OnTimestampUpdate(userID string, msg message.TimestampUpdate)
	OnObjectMoved(userID string, msg message.ObjectMoved)
	OnMenuDetached(msg message.MenuDetachedForward)
	OnDetachedMenuClosed(userID string, msg message.DetachedMenuClosed)
}

// NopListener ignores every event. Embed it to implement a subset.
type NopListener struct{}

var _ Listener = NopListener{}

func (NopListener) OnSelfConnected(message.SelfInfo) {}
func (NopListener) OnSelfDisconnected(int, string) {}
func (NopListener) OnUserConnected(*state.RemoteUser) {}
func (NopListener) OnUserDisconnected(*state.RemoteUser) {}
func (NopListener) OnInitialLandscape(message.Snapshot) {}
func (NopListener) OnUserControllerConnect(string, message.Controller) {}
func (NopListener) OnUserControllerDisconnect(string, int) {}
func (NopListener) OnUserPositions(string, message.UserPositions) {}
func (NopListener) OnAppOpened(string, message.AppOpened) {}
func (NopListener) OnAppClosed(string, message.AppClosed) {}
func (NopListener) OnComponentUpdate(string, message.ComponentUpdate) {}
func (NopListener) OnHighlightingUpdate(string, message.HighlightingUpdate) {}
func (NopListener) OnSpectatingUpdate(string, message.SpectatingUpdate) {}
func (NopListener) OnPingUpdate(string, message.PingUpdate) {}
func (NopListener) OnMousePingUpdate(string, message.MousePingUpdate) {}
func (NopListener) OnTimestampUpdate(string, message.TimestampUpdate) {}
func (NopListener) OnObjectMoved(string, message.ObjectMoved) {}
func (NopListener) OnMenuDetached(message.MenuDetachedForward) {}
func (NopListener) OnDetachedMenuClosed(string, message.DetachedMenuClosed) {}

// Event is one dispatched callback as published by ChannelListener.
type Event struct {
	Tag    message.Tag
	UserID string
	// Payload is the callback argument: a message struct, *state.RemoteUser,
	// message.SelfInfo, message.Snapshot or Disconnect.
	Payload any
}

type Disconnect struct {
	Code int
	Hint string
}

// TagSelfDisconnected marks the Event published when the session closes.
const TagSelfDisconnected message.Tag = "self_disconnected"

// ChannelListener publishes every callback as an Event. Publishing never
// blocks dispatch: when the buffer is full the event is dropped and counted.
type ChannelListener struct {
	events  chan Event
	dropped atomic.Int64
	logger  *slog.Logger
}

var _ Listener = (*ChannelListener)(nil)

func NewChannelListener(buffer int, logger *slog.Logger) *ChannelListener {
	return &ChannelListener{
		events: make(chan Event, buffer),
		logger: logger.With(slog.String("component", "channel_listener")),
	}
}

func (l *ChannelListener) Events() <-chan Event {
	return l.events
}

// Dropped returns how many events did not fit the buffer.
func (l *ChannelListener) Dropped() int64 {
	return l.dropped.Load()
}

func (l *ChannelListener) publish(tag message.Tag, userID string, payload any) {
	select {
	case l.events <- Event{Tag: tag, UserID: userID, Payload: payload}:
	default:
		l.dropped.Add(1)
		l.logger.Warn("Listener buffer full, dropping event", slog.String("event", string(tag)))
	}
}

func (l *ChannelListener) OnSelfConnected(self message.SelfInfo) {
	l.publish(message.TagSelfConnected, self.ID, self)
}

func (l *ChannelListener) OnSelfDisconnected(code int, hint string) {
	l.publish(TagSelfDisconnected, "", Disconnect{Code: code, Hint: hint})
}

func (l *ChannelListener) OnUserConnected(user *state.RemoteUser) {
	l.publish(message.TagUserConnected, user.ID, user)
}

func (l *ChannelListener) OnUserDisconnected(user *state.RemoteUser) {
	l.publish(message.TagUserDisconnected, user.ID, user)
}

func (l *ChannelListener) OnInitialLandscape(snapshot message.Snapshot) {
	l.publish(message.TagInitialLandscape, "", snapshot)
}

func (l *ChannelListener) OnUserControllerConnect(userID string, controller message.Controller) {
	l.publish(message.TagUserControllerConnect, userID, controller)
}

func (l *ChannelListener) OnUserControllerDisconnect(userID string, controllerID int) {
	l.publish(message.TagUserControllerDisconnect, userID, controllerID)
}

func (l *ChannelListener) OnUserPositions(userID string, msg message.UserPositions) {
	l.publish(message.TagUserPositions, userID, msg)
}

func (l *ChannelListener) OnAppOpened(userID string, msg message.AppOpened) {
	l.publish(message.TagAppOpened, userID, msg)
}

func (l *ChannelListener) OnAppClosed(userID string, msg message.AppClosed) {
	l.publish(message.TagAppClosed, userID, msg)
}

func (l *ChannelListener) OnComponentUpdate(userID string, msg message.ComponentUpdate) {
	l.publish(message.TagComponentUpdate, userID, msg)
}

func (l *ChannelListener) OnHighlightingUpdate(userID string, msg message.HighlightingUpdate) {
	l.publish(message.TagHighlightingUpdate, userID, msg)
}

func (l *ChannelListener) OnSpectatingUpdate(userID string, msg message.SpectatingUpdate) {
	l.publish(message.TagSpectatingUpdate, userID, msg)
}

func (l *ChannelListener) OnPingUpdate(userID string, msg message.PingUpdate) {
	l.publish(message.TagPingUpdate, userID, msg)
}

func (l *ChannelListener) OnMousePingUpdate(userID string, msg message.MousePingUpdate) {
	l.publish(message.TagMousePingUpdate, userID, msg)
}

func (l *ChannelListener) OnTimestampUpdate(userID string, msg message.TimestampUpdate) {
	l.publish(message.TagTimestampUpdate, userID, msg)
}

func (l *ChannelListener) OnObjectMoved(userID string, msg message.ObjectMoved) {
	l.publish(message.TagObjectMoved, userID, msg)
}

func (l *ChannelListener) OnMenuDetached(msg message.MenuDetachedForward) {
	l.publish(message.TagMenuDetachedForward, msg.UserID, msg)
}

func (l *ChannelListener) OnDetachedMenuClosed(userID string, msg message.DetachedMenuClosed) {
	l.publish(message.TagDetachedMenuClosed, userID, msg)
}
