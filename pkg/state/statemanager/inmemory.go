package statemanager

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/a-essam23/go-roomsync/pkg/state"
	"github.com/a-essam23/go-roomsync/pkg/transport"
	"github.com/google/uuid"
)

var (
	ErrUnknownConnection = errors.New("connection is not registered")
	ErrAlreadyJoined     = errors.New("connection already carries a participant")
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
)

// MirrorFactory builds the replicated store of a newly created room.
type MirrorFactory func(roomID string) state.Store

type InMemoryManager struct {
	conns        map[uuid.UUID]*state.Connection
	participants map[string]*state.Participant
	rooms        map[string]*state.Room
	modifiers    map[string]*state.ModifierState

	connMu sync.RWMutex
	roomMu sync.RWMutex
	modMu  sync.Mutex

	newMirror MirrorFactory
	capacity  int
	logger    *slog.Logger
}

type Option func(*InMemoryManager)

// WithRoomCapacity caps the participants per room. Zero or less is unlimited.
func WithRoomCapacity(n int) Option {
	return func(m *InMemoryManager) {
		m.capacity = n
	}
}

func NewInMemoryManager(logger *slog.Logger, newMirror MirrorFactory, opts ...Option) *InMemoryManager {
	m := &InMemoryManager{
		conns:        make(map[uuid.UUID]*state.Connection),
		participants: make(map[string]*state.Participant),
		rooms:        make(map[string]*state.Room),
		modifiers:    make(map[string]*state.ModifierState),
		newMirror:    newMirror,
		logger:       logger.With(slog.String("component", "state_manager_inmemory")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(conn *transport.Connection, ipAddr string) (*state.Connection, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	newConn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: conn,
		CreatedAt: time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.Any("connID", connID.String()))
	return newConn, nil
}

// DeregisterConnection forgets the connection. The participant it carried,
// if any, must be removed with Leave.
func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if _, ok := m.conns[connID]; !ok {
		// connection is already deregistered
		return nil
	}
	delete(m.conns, connID)
	m.logger.Debug("Connection deregistered", "connID", connID.String())
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) AllConnections() []*state.Connection {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

// --- Room & Membership Management ---

func (m *InMemoryManager) Join(connID uuid.UUID, p *state.Participant, onJoined func(room *state.Room, others []*state.Participant)) (*state.Room, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, ErrUnknownConnection
	}
	if conn.Participant != nil {
		return nil, ErrAlreadyJoined
	}
	if _, exists := m.participants[p.ID]; exists {
		return nil, errors.New("participant id already in use")
	}

	room, exists := m.rooms[p.RoomID]
	if exists && m.capacity > 0 && len(room.Members) >= m.capacity {
		return nil, ErrRoomFull
	}
	if !exists {
		room = &state.Room{
			ID:      p.RoomID,
			Members: make(map[string]*state.Participant),
		}
		if m.newMirror != nil {
			room.Mirror = m.newMirror(p.RoomID)
		}
		m.rooms[p.RoomID] = room
		m.logger.Debug("Created room", slog.String("roomID", p.RoomID))
	}
	others := sortedMembers(room)

	p.Connection = conn
	p.JoinedAt = time.Now()
	conn.Participant = p
	room.Members[p.ID] = p
	m.participants[p.ID] = p

	if onJoined != nil {
		onJoined(room, others)
	}
	m.logger.Debug("Participant joined room", slog.String("participantID", p.ID), slog.String("roomID", room.ID))
	return room, nil
}

func (m *InMemoryManager) Leave(participantID string, onLeft func(room *state.Room, remaining []*state.Participant)) (*state.Participant, bool) {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	p, ok := m.participants[participantID]
	if !ok {
		return nil, false
	}
	delete(m.participants, participantID)

	room, ok := m.rooms[p.RoomID]
	if !ok {
		m.logger.Warn("Participant left a room that doesn't exist",
			slog.String("participantID", participantID),
			slog.String("roomID", p.RoomID),
		)
		return p, true
	}
	delete(room.Members, participantID)

	if onLeft != nil {
		onLeft(room, sortedMembers(room))
	}

	// For memory hygiene, remove the room if it's now empty.
	if len(room.Members) == 0 {
		delete(m.rooms, room.ID)
		m.logger.Debug("Removed empty room", "roomID", room.ID)
	}
	m.logger.Debug("Participant left room", "participantID", participantID, "roomID", room.ID)
	return p, true
}

func (m *InMemoryManager) FindParticipant(participantID string) (*state.Participant, bool) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	p, ok := m.participants[participantID]
	return p, ok
}

func (m *InMemoryManager) GetRoomMembers(roomID string) ([]*state.Participant, error) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return sortedMembers(room), nil
}

func (m *InMemoryManager) FindRoom(roomID string) (*state.Room, bool) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

func (m *InMemoryManager) RoomCount() int {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	return len(m.rooms)
}

func (m *InMemoryManager) MemberCount(roomID string) int {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	if room, ok := m.rooms[roomID]; ok {
		return len(room.Members)
	}
	return 0
}

// sortedMembers orders by join time. Callers hold roomMu.
func sortedMembers(room *state.Room) []*state.Participant {
	members := make([]*state.Participant, 0, len(room.Members))
	for _, p := range room.Members {
		members = append(members, p)
	}
	slices.SortFunc(members, func(a, b *state.Participant) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return members
}

// --- Modifier store Management ---

func modifierKey(modifierName, userID, eventName string) string {
	return modifierName + "|" + userID + "|" + eventName
}

func (m *InMemoryManager) GetModifierState(modifierName, userID, eventName string) (*state.ModifierState, bool) {
	m.modMu.Lock()
	defer m.modMu.Unlock()
	s, ok := m.modifiers[modifierKey(modifierName, userID, eventName)]
	return s, ok
}

func (m *InMemoryManager) SetModifierState(modifierName, userID, eventName string, s *state.ModifierState) {
	m.modMu.Lock()
	defer m.modMu.Unlock()
	key := modifierKey(modifierName, userID, eventName)
	if old, ok := m.modifiers[key]; ok && old != s && old.Timer != nil {
		old.Timer.Stop()
	}
	m.modifiers[key] = s
}

func (m *InMemoryManager) DeleteModifierState(modifierName, userID, eventName string) {
	m.modMu.Lock()
	defer m.modMu.Unlock()
	key := modifierKey(modifierName, userID, eventName)
	if old, ok := m.modifiers[key]; ok {
		if old.Timer != nil {
			old.Timer.Stop()
		}
		delete(m.modifiers, key)
	}
}
