package state

import (
	"sync"
	"time"

	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/transport"
	"github.com/google/uuid"
)

// representation of a single transport-layer connection on the relay.
type Connection struct {
	ID          uuid.UUID
	IPAddress   string
	Transport   *transport.Connection // The actual connection for sending messages
	Participant *Participant          // nil until the ticket has been accepted
	CreatedAt   time.Time
}

// a user admitted to a room through one connection.
type Participant struct {
	ID         string
	Name       string
	Color      message.Color
	RoomID     string
	Connection *Connection
	JoinedAt   time.Time
}

// canonical representation of a collaboration room on the relay.
type Room struct {
	ID      string
	Members map[string]*Participant // keyed by participant id
	// Mirror replays every relayed change so late joiners get a snapshot.
	Mirror Store
}

// per-user, per-event bookkeeping owned by a pipeline modifier.
type ModifierState struct {
	mu    sync.Mutex
	Value any
	Timer *time.Timer
}

// Lock serializes access to Value across concurrent pipelines.
func (s *ModifierState) Lock()   { s.mu.Lock() }
func (s *ModifierState) Unlock() { s.mu.Unlock() }
