// Package spectate coordinates who spectates whom in a room. The local
// session follows at most one target and may itself be watched by many.
package spectate

import (
	"errors"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/state"
)

var (
	ErrSelfSpectate = errors.New("cannot spectate yourself")
	ErrUnknownUser  = errors.New("user is not in the room")
)

// Rig is the local user's camera and controllers.
type Rig interface {
	CameraPose() message.Pose
	SetCameraPose(pose message.Pose)
	ControllerPoses() (controller1, controller2 *message.ControllerPose)
	SetCameraControlEnabled(enabled bool)
	SetSpectatingAppearance(spectating bool)
	SetProjectionMatrix(matrix []float64)
}

// Sender publishes spectate state to the room.
type Sender interface {
	SendSpectatingUpdate(isSpectating bool, spectatedUserID string, spectatingUserIDs []string, configuration []message.DeviceConfig)
	SendPoseUpdate(camera *message.Pose, controller1, controller2 *message.ControllerPose)
}

type poseFrame struct {
	Camera      message.Pose
	Controller1 *message.ControllerPose
	Controller2 *message.ControllerPose
}

type Coordinator struct {
	mu       sync.Mutex
	store    state.Store
	rig      Rig
	sender   Sender
	deviceID string

	target   string
	watchers map[string]struct{}
	lastPose *poseFrame

	logger *slog.Logger
}

// New wires a coordinator to the room store. deviceID selects the entry of a
// received camera configuration that applies to this device.
func New(store state.Store, rig Rig, sender Sender, deviceID string, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		rig:      rig,
		sender:   sender,
		deviceID: deviceID,
		watchers: make(map[string]struct{}),
		logger:   logger.With(slog.String("component", "spectate")),
	}
}

// Target returns the spectated user id, or "" when not spectating.
func (c *Coordinator) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *Coordinator) IsActive() bool {
	return c.Target() != ""
}

// Watchers returns the ids of users spectating the local session, sorted.
func (c *Coordinator) Watchers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.watchers))
	for id := range c.watchers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Activate starts spectating userID. An active target is released first,
// and told so when sendUpdate is set.
func (c *Coordinator) Activate(userID string, sendUpdate bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activateLocked(userID, sendUpdate)
}

func (c *Coordinator) activateLocked(userID string, sendUpdate bool) error {
	if userID == c.store.LocalUser().ID {
		return ErrSelfSpectate
	}
	if _, ok := c.store.User(userID); !ok {
		return ErrUnknownUser
	}
	if previous := c.target; previous != "" && previous != userID {
		c.releaseTargetLocked()
		if sendUpdate {
			c.sender.SendSpectatingUpdate(false, previous, []string{c.store.LocalUser().ID}, nil)
		}
	}

	c.target = userID
	c.rig.SetSpectatingAppearance(true)
	c.rig.SetCameraControlEnabled(false)
	c.store.SetUserHMDVisible(userID, false)
	c.logger.Info("Spectating user", slog.String("userID", userID))

	if sendUpdate {
		c.sender.SendSpectatingUpdate(true, userID, []string{c.store.LocalUser().ID}, nil)
	}
	return nil
}

// Deactivate stops spectating and gives camera control back to the user.
func (c *Coordinator) Deactivate(sendUpdate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deactivateLocked(sendUpdate)
}

func (c *Coordinator) deactivateLocked(sendUpdate bool) {
	c.rig.SetCameraControlEnabled(true)
	if c.target == "" {
		return
	}
	target := c.target
	c.releaseTargetLocked()
	c.logger.Info("Stopped spectating", slog.String("userID", target))

	if sendUpdate {
		c.sender.SendSpectatingUpdate(false, target, []string{c.store.LocalUser().ID}, nil)
	}
}

func (c *Coordinator) releaseTargetLocked() {
	c.rig.SetSpectatingAppearance(false)
	c.store.SetUserHMDVisible(c.target, true)
	c.target = ""
}

// ActivateConfiguration asks userIDs to spectate the local session, each
// device applying its entry of configuration.
func (c *Coordinator) ActivateConfiguration(userIDs []string, configuration []message.DeviceConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		c.watchers[id] = struct{}{}
	}
	c.sender.SendSpectatingUpdate(true, c.store.LocalUser().ID, userIDs, configuration)
}

// DeactivateConfiguration releases userIDs from spectating the local session.
func (c *Coordinator) DeactivateConfiguration(userIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		delete(c.watchers, id)
	}
	c.sender.SendSpectatingUpdate(false, c.store.LocalUser().ID, userIDs, nil)
}

// Tick mirrors the target's camera onto the local rig and, while watched,
// publishes the local pose whenever it changed since the last tick.
func (c *Coordinator) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.target != "" {
		if user, ok := c.store.User(c.target); ok && user.Camera != nil {
			c.rig.SetCameraPose(*user.Camera)
		}
	}
	if len(c.watchers) == 0 {
		return
	}

	c1, c2 := c.rig.ControllerPoses()
	frame := poseFrame{Camera: c.rig.CameraPose(), Controller1: c1, Controller2: c2}
	if c.lastPose != nil && reflect.DeepEqual(*c.lastPose, frame) {
		return
	}
	c.sender.SendPoseUpdate(&frame.Camera, frame.Controller1, frame.Controller2)
	c.lastPose = &frame
}

// HandleSpectatingUpdate applies a spectating_update relayed on behalf of
// senderID. Updates whose sender is neither the spectated user nor one of the
// spectators are dropped.
func (c *Coordinator) HandleSpectatingUpdate(senderID string, msg message.SpectatingUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if senderID != msg.SpectatedUserID && !slices.Contains(msg.SpectatingUserIDs, senderID) {
		c.logger.Warn("Dropping spectating_update not sent by a participant of it",
			slog.String("senderID", senderID),
			slog.String("spectatedUserID", msg.SpectatedUserID),
		)
		return
	}

	localID := c.store.LocalUser().ID
	spectatedIsLocal := msg.SpectatedUserID == localID
	if !spectatedIsLocal {
		if _, ok := c.store.User(msg.SpectatedUserID); !ok {
			c.deactivateLocked(false)
			return
		}
	}

	// being watched is passive
	if spectatedIsLocal {
		for _, id := range msg.SpectatingUserIDs {
			if msg.IsSpectating {
				c.watchers[id] = struct{}{}
			} else {
				delete(c.watchers, id)
			}
		}
		return
	}

	localIsSpectator := slices.Contains(msg.SpectatingUserIDs, localID)
	switch {
	case localIsSpectator && msg.IsSpectating:
		if err := c.activateLocked(msg.SpectatedUserID, false); err != nil {
			c.logger.Warn("Could not follow spectate request", slog.Any("error", err))
			return
		}
		c.applyConfigurationLocked(msg.Configuration)
	case localIsSpectator:
		if c.target == msg.SpectatedUserID {
			c.deactivateLocked(false)
		}
	}

	for _, id := range msg.SpectatingUserIDs {
		if id == localID {
			continue
		}
		c.store.SetUserSpectating(id, msg.IsSpectating)
	}
}

func (c *Coordinator) applyConfigurationLocked(configuration []message.DeviceConfig) {
	if c.deviceID == "" {
		return
	}
	for _, cfg := range configuration {
		if cfg.DeviceID == c.deviceID {
			c.rig.SetProjectionMatrix(cfg.ProjectionMatrix)
			return
		}
	}
}

// HandleUserDisconnected tears down any relationship with userID.
func (c *Coordinator) HandleUserDisconnected(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watchers, userID)
	if c.target == userID {
		c.rig.SetCameraControlEnabled(true)
		c.rig.SetSpectatingAppearance(false)
		c.target = ""
		c.logger.Info("Spectated user left", slog.String("userID", userID))
	}
}

// Reset forgets all spectate state after the local session disconnected.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target != "" {
		c.rig.SetCameraControlEnabled(true)
		c.rig.SetSpectatingAppearance(false)
	}
	c.target = ""
	clear(c.watchers)
	c.lastPose = nil
}
