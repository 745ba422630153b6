package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/a-essam23/go-roomsync/internal/engine"
	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/pipeline"
	"github.com/a-essam23/go-roomsync/pkg/state"
	"github.com/a-essam23/go-roomsync/pkg/state/roomstore"
	"github.com/a-essam23/go-roomsync/pkg/state/statemanager"
	"github.com/a-essam23/go-roomsync/pkg/transport"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newRegistry() *engine.Registry {
	r := engine.New(newTestLogger())
	r.RegisterCore()
	return r
}

// newCargo joins one participant into a fresh room and returns a cargo for
// a message it sent.
func newCargo(t *testing.T, tag message.Tag, payload string) *pipeline.Cargo {
	t.Helper()
	logger := newTestLogger()
	m := statemanager.NewInMemoryManager(logger, func(string) state.Store { return roomstore.New(nil, logger) })
	var wg sync.WaitGroup
	conn, err := m.RegisterConnection(transport.NewConnection(context.Background(), &wg, nil, transport.ConnectionConfig{}, nil, nil, logger), "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	p := &state.Participant{ID: "u1", Name: "alice", RoomID: "room-1"}
	room, err := m.Join(conn.ID, p, func(room *state.Room, _ []*state.Participant) {
		room.Mirror.ApplyUserConnected(message.ConnectedUser{ID: p.ID, Name: p.Name})
	})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	return &pipeline.Cargo{
		Logger:       logger,
		Ctx:          context.Background(),
		Connection:   conn,
		Participant:  p,
		Room:         room,
		StateManager: m,
		Event:        tag,
		Payload:      []byte(payload),
	}
}

func TestResolveParams(t *testing.T) {
	r := newRegistry()
	cargo := newCargo(t, message.TagAppOpened, `{"event":"app_opened","id":"app-1"}`)

	got, err := r.ResolveParams(cargo, []string{
		"plain",
		"{$user.name} opened {.payload.id} in {$room.id}",
		"{.payload.missing}",
		"{$event}",
	})
	if err != nil {
		t.Fatalf("ResolveParams failed: %v", err)
	}
	want := []string{"plain", "alice opened app-1 in room-1", "", "app_opened"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("param %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	if _, err := r.ResolveParams(cargo, []string{"{$nope}"}); err == nil {
		t.Error("Expected an unknown variable to fail")
	}
}

func TestCheckTemplates(t *testing.T) {
	r := newRegistry()
	if err := r.CheckTemplates([]string{"{$user.id} at {.payload.x}", "10/s", "{$event}"}); err != nil {
		t.Errorf("Expected registered variables to pass, got %v", err)
	}
	if err := r.CheckTemplates([]string{"{$user.id}", "{$target.id}"}); err == nil {
		t.Error("Expected an unregistered variable to be reported")
	}
}

func TestRecordAction(t *testing.T) {
	r := newRegistry()
	record, ok := r.GetActionFunc("_record")
	if !ok {
		t.Fatal("_record not registered")
	}

	open := newCargo(t, message.TagAppOpened, `{"event":"app_opened","id":"app-1","position":[0,0,0],"quaternion":[0,0,0,1],"scale":[1,1,1]}`)
	if err := record(open); err != nil {
		t.Fatalf("_record failed: %v", err)
	}
	if !open.Recorded {
		t.Error("Expected app_opened to be recorded")
	}
	if _, ok := open.Room.Mirror.Application("app-1"); !ok {
		t.Fatal("Expected the mirror to hold app-1")
	}

	closeMissing := newCargo(t, message.TagAppClosed, `{"event":"app_closed","appId":"ghost","nonce":"n1"}`)
	if err := record(closeMissing); err != nil {
		t.Fatalf("_record failed: %v", err)
	}
	if closeMissing.Recorded {
		t.Error("Expected closing an unknown app not to be recorded")
	}

	mouse := newCargo(t, message.TagMousePingUpdate, `{"event":"mouse_ping_update","modelId":"m","isApplication":false,"position":[0,0,0]}`)
	if err := record(mouse); err != nil || mouse.Recorded {
		t.Errorf("Expected mouse pings to be transient, got recorded=%v err=%v", mouse.Recorded, err)
	}

	if err := record(open, "extra"); err == nil {
		t.Error("Expected _record to reject parameters")
	}
}

func TestForwardRequiresParticipant(t *testing.T) {
	r := newRegistry()
	forward, _ := r.GetActionFunc("_forward")
	cargo := newCargo(t, message.TagPingUpdate, `{"event":"ping_update","controllerId":0,"isPinging":true}`)
	cargo.Participant = nil
	if err := forward(cargo); err == nil {
		t.Error("Expected _forward without a participant to fail")
	}
	cargo = newCargo(t, message.TagPingUpdate, `{"event":"ping_update","controllerId":0,"isPinging":true}`)
	if err := forward(cargo, "sometimes"); err == nil {
		t.Error("Expected an unknown _forward parameter to fail")
	}
}

func TestRateLimitModifier(t *testing.T) {
	r := newRegistry()
	limit, ok := r.GetModifierFunc("rate_limit")
	if !ok {
		t.Fatal("rate_limit not registered")
	}
	cargo := newCargo(t, message.TagPingUpdate, `{}`)

	for i := 0; i < 3; i++ {
		if err := limit(cargo, "3/m"); err != nil {
			t.Fatalf("request %d: expected to pass, got %v", i+1, err)
		}
	}
	err := limit(cargo, "3/m")
	if !errors.Is(err, pipeline.ErrReject) {
		t.Fatalf("Expected the 4th request to be rejected, got %v", err)
	}

	other := *cargo
	other.Event = message.TagMousePingUpdate
	if err := limit(&other, "3/m"); err != nil {
		t.Errorf("Expected limits to be per event, got %v", err)
	}

	for _, bad := range []string{"3", "x/m", "3/d", "0/s"} {
		if err := limit(cargo, bad); err == nil || errors.Is(err, pipeline.ErrReject) {
			t.Errorf("Expected %q to be a configuration error, got %v", bad, err)
		}
	}
}
