package state

import (
	"context"

	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/transport"
	"github.com/google/uuid"
)

// Manager tracks connections, participants and rooms on the relay.
type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(conn *transport.Connection, ipAddr string) (*Connection, error)
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)

	// --- Room & Membership Management ---
	// admits a participant on a registered connection, creating the room if
	// it doesn't exist. onJoined runs while the room is locked, so nothing can
	// be broadcast to the newcomer before it returns.
	Join(connID uuid.UUID, p *Participant, onJoined func(room *Room, others []*Participant)) (*Room, error)
	// removes the participant and drops the room once it is empty. onLeft runs
	// while the room is locked.
	Leave(participantID string, onLeft func(room *Room, remaining []*Participant)) (*Participant, bool)
	AllConnections() []*Connection
	FindParticipant(participantID string) (*Participant, bool)
	GetRoomMembers(roomID string) ([]*Participant, error)
	FindRoom(roomID string) (*Room, bool)
	RoomCount() int
	MemberCount(roomID string) int

	// --- Modifier store Management ---
	GetModifierState(modifierName, userID, eventName string) (state *ModifierState, found bool)

	// SetModifierState sets or updates the state data. This will often involve
	// cancelling a previous cleanup timer and starting a new one.
	SetModifierState(modifierName, userID, eventName string, state *ModifierState)

	// DeleteModifierState removes a state entry. This is typically called by
	// the background cleanup goroutine.
	DeleteModifierState(modifierName, userID, eventName string)
}

// Store holds the replicated state of one room as seen by one participant.
// Every Apply method silently ignores updates that reference ids the store or
// the scene cannot resolve, and reports whether anything changed.
type Store interface {
	// --- Users ---
	SetLocalUser(self message.SelfInfo)
	LocalUser() message.SelfInfo
	ApplyUserConnected(u message.ConnectedUser) (*RemoteUser, bool)
	ApplyUserDisconnected(userID string) (*RemoteUser, bool)
	ApplyControllerConnect(userID string, c message.Controller) bool
	ApplyControllerDisconnect(userID string, controllerID int) bool
	ApplyUserPositions(userID string, msg message.UserPositions) bool
	ApplyPing(userID string, controllerID int, pinging bool) bool
	SetUserSpectating(userID string, spectating bool) bool
	SetUserHMDVisible(userID string, visible bool) bool
	User(userID string) (*RemoteUser, bool)
	Users() []*RemoteUser
	RemoveAllUsers() []string
	// SetUserRemovedHandler installs the single hook run after a user_disconnected
	// removed someone.
	SetUserRemovedHandler(fn func(userID string))

	// --- Applications & menus ---
	ApplyAppOpened(ctx context.Context, appID string, t message.Transform) bool
	ApplyAppClosed(appID string) bool
	ApplyComponentUpdate(msg message.ComponentUpdate) bool
	ApplyHighlight(userID string, msg message.HighlightingUpdate) bool
	ResetHighlightColors(color message.Color)
	ApplyObjectMoved(objectID string, t message.Transform) bool
	ApplyMenuDetached(menu DetachedMenu) bool
	ApplyMenuClosed(menuID string) bool
	Application(appID string) (*OpenApplication, bool)
	Applications() []*OpenApplication
	Menu(objectID string) (*DetachedMenu, bool)
	Menus() []*DetachedMenu

	// --- Landscape & snapshots ---
	Landscape() Landscape
	SetLandscapeTransform(t message.Transform)
	UpdateTimestamp(ctx context.Context, timestamp int64) error
	SerializeRoom() message.Snapshot
	RestoreRoom(ctx context.Context, snap message.Snapshot, opts RestoreOptions) error
	PreserveRoom(ctx context.Context, action func(ctx context.Context) error, opts RestoreOptions) error
}
