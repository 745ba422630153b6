// Package collab runs one participant's collaboration session: it joins a
// room over a channel, dispatches inbound events to the room store and the
// spectate coordinator, and exposes local actions that are replicated to
// the other participants.
package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-roomsync/pkg/correlator"
	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/spectate"
	"github.com/a-essam23/go-roomsync/pkg/state"
	"github.com/a-essam23/go-roomsync/pkg/transport"
	"github.com/coder/websocket"
)

var (
	ErrAlreadyJoined = errors.New("session already joined")
	ErrNotConnected  = errors.New("session is not connected")
	// ErrClosedWhileConnecting is returned by Join when the channel closed
	// before Join returned.
	ErrClosedWhileConnecting = errors.New("channel closed while connecting")
)

type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	DefaultKeepAliveInterval = time.Second
	DefaultTickInterval      = 50 * time.Millisecond
)

type Options struct {
	// KeepAliveInterval bounds how often Tick publishes the local pose.
	KeepAliveInterval time.Duration
	// DeviceID selects this device's entry of a camera configuration.
	DeviceID string
	// HighlightColor recolours highlights once their owners are gone.
	HighlightColor message.Color
}

// attempt is one Join; its close handler only tears down its own channel.
type attempt struct {
	closed bool
}

type Session struct {
	mu       sync.Mutex
	status   Status
	channel  Channel
	attempt  *attempt
	lastPose time.Time

	dial       Dialer
	store      state.Store
	rig        spectate.Rig
	registry   *message.Registry
	correlator *correlator.Correlator
	spectate   *spectate.Coordinator
	sender     *Sender
	opts       Options

	listenerMu sync.RWMutex
	listener   Listener

	logger *slog.Logger
}

// NewSession wires a session around store and rig. Nothing is dialed until
// Join.
func NewSession(store state.Store, rig spectate.Rig, dial Dialer, opts Options, logger *slog.Logger) *Session {
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = DefaultKeepAliveInterval
	}
	s := &Session{
		dial:     dial,
		store:    store,
		rig:      rig,
		registry: message.NewClientRegistry(),
		opts:     opts,
		listener: NopListener{},
		logger:   logger.With(slog.String("component", "collab_session")),
	}
	s.sender = newSender(s.currentChannel, logger)
	s.correlator = correlator.New(logger, s.IsOnline)
	s.spectate = spectate.New(store, rig, s.sender, opts.DeviceID, logger)
	store.SetUserRemovedHandler(s.spectate.HandleUserDisconnected)
	return s
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsOnline reports whether the channel is open.
func (s *Session) IsOnline() bool {
	ch := s.currentChannel()
	return ch != nil && ch.IsOpen()
}

func (s *Session) currentChannel() Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

func (s *Session) Store() state.Store { return s.store }
func (s *Session) Spectate() *spectate.Coordinator { return s.spectate }
func (s *Session) Sender() *Sender { return s.sender }
func (s *Session) Correlator() *correlator.Correlator { return s.correlator }

// SetListener makes l the only listener of the session.
func (s *Session) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listener = l
}

// RemoveListener drops l if it is still the active listener.
func (s *Session) RemoveListener(l Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == l {
		s.listener = NopListener{}
	}
}

func (s *Session) currentListener() Listener {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	return s.listener
}

// Join opens one channel with ticket. The session reports connected only
// after the relay acknowledged with self_connected. Join never retries.
func (s *Session) Join(ctx context.Context, ticket string) error {
	s.mu.Lock()
	if s.status != StatusDisconnected {
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	att := &attempt{}
	s.status = StatusConnecting
	s.attempt = att
	s.mu.Unlock()

	s.logger.Info("Joining room")
	ch, err := s.dial(ctx, ticket, s.dispatch, func(err error) { s.handleClose(att, err) })
	if err != nil {
		s.mu.Lock()
		if s.attempt == att {
			s.status = StatusDisconnected
			s.attempt = nil
		}
		s.mu.Unlock()
		s.logger.Warn("Failed to join room", slog.Any("error", err))
		return fmt.Errorf("join: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if att.closed {
		return ErrClosedWhileConnecting
	}
	s.channel = ch
	return nil
}

// Leave closes the channel. Cleanup runs in the close handler.
func (s *Session) Leave() {
	if ch := s.currentChannel(); ch != nil {
		ch.Close(nil)
	}
}

func (s *Session) handleClose(att *attempt, err error) {
	s.mu.Lock()
	if att.closed || s.attempt != att {
		s.mu.Unlock()
		return
	}
	att.closed = true
	previous := s.status
	s.status = StatusDisconnected
	s.channel = nil
	s.attempt = nil
	s.mu.Unlock()

	code := transport.CloseCode(err)
	hint := closeHint(previous, code)
	s.logger.Info("Disconnected from room", slog.Int("code", int(code)), slog.String("hint", hint))

	s.store.RemoveAllUsers()
	s.store.ResetHighlightColors(s.highlightColor())
	s.spectate.Reset()
	if n := s.correlator.Reset(); n > 0 {
		s.logger.Debug("Abandoned pending requests", slog.Int("count", n))
	}
	s.currentListener().OnSelfDisconnected(int(code), hint)
}

func (s *Session) highlightColor() message.Color {
	if s.opts.HighlightColor == (message.Color{}) {
		return state.DefaultHighlightColor
	}
	return s.opts.HighlightColor
}

func closeHint(previous Status, code websocket.StatusCode) string {
	if previous == StatusConnecting {
		return "Collaboration backend service not responding"
	}
	switch code {
	case websocket.StatusNormalClosure:
		return "Successfully disconnected"
	case websocket.StatusAbnormalClosure:
		return "Collaboration backend service closed abnormally"
	default:
		return fmt.Sprintf("Unexpected disconnect (code %d)", int(code))
	}
}

// Tick advances spectating and, at most once per keep-alive interval,
// publishes the local pose so idle participants stay visible.
func (s *Session) Tick(now time.Time) {
	s.spectate.Tick()

	s.mu.Lock()
	due := s.status == StatusConnected && now.Sub(s.lastPose) >= s.opts.KeepAliveInterval
	if due {
		s.lastPose = now
	}
	s.mu.Unlock()
	if !due {
		return
	}
	camera := s.rig.CameraPose()
	c1, c2 := s.rig.ControllerPoses()
	s.sender.SendPoseUpdate(&camera, c1, c2)
}

// Run ticks every interval until ctx is done.
func (s *Session) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}
