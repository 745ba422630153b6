package collab_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/a-essam23/go-roomsync/pkg/collab"
	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/spectate"
	"github.com/a-essam23/go-roomsync/pkg/state"
	"github.com/a-essam23/go-roomsync/pkg/state/roomstore"
	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeChannel struct {
	mu      sync.Mutex
	open    bool
	sent    [][]byte
	onClose func(error)
	once    sync.Once
}

func (c *fakeChannel) Send(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		c.sent = append(c.sent, msg)
	}
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeChannel) Close(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.open = false
		c.mu.Unlock()
		c.onClose(err)
	})
}

// sentEvents returns the event tags sent so far.
func (c *fakeChannel) sentEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var tags []string
	for _, m := range c.sent {
		tags = append(tags, gjson.GetBytes(m, "event").String())
	}
	return tags
}

func (c *fakeChannel) last() gjson.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return gjson.Result{}
	}
	return gjson.ParseBytes(c.sent[len(c.sent)-1])
}

type harness struct {
	session   *collab.Session
	store     *roomstore.InMemoryStore
	rig       *spectate.MemoryRig
	channel   *fakeChannel
	onMessage func(context.Context, []byte)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: roomstore.New(nil, newTestLogger()),
		rig:   spectate.NewMemoryRig(),
	}
	dial := func(_ context.Context, ticket string, onMessage func(context.Context, []byte), onClose func(error)) (collab.Channel, error) {
		if ticket == "bad" {
			return nil, errors.New("endpoint unreachable")
		}
		h.channel = &fakeChannel{open: true, onClose: onClose}
		h.onMessage = onMessage
		return h.channel, nil
	}
	h.session = collab.NewSession(h.store, h.rig, dial, collab.Options{KeepAliveInterval: time.Second}, newTestLogger())
	return h
}

func (h *harness) deliver(raw string) {
	h.onMessage(context.Background(), []byte(raw))
}

func (h *harness) forward(userID, original string) {
	raw, err := message.Forward(userID, []byte(original))
	if err != nil {
		panic(err)
	}
	h.onMessage(context.Background(), raw)
}

const origin = `"position":[0,0,0],"quaternion":[0,0,0,1]`

func userJSON(id string) string {
	return fmt.Sprintf(`{"id":%q,"name":%q,"color":[0,1,0],%s}`, id, id, origin)
}

// join connects as U1 into a room already holding users.
func (h *harness) join(t *testing.T, users ...string) {
	t.Helper()
	if err := h.session.Join(context.Background(), "ticket"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if got := h.session.Status(); got != collab.StatusConnecting {
		t.Fatalf("status = %v before self_connected, want connecting", got)
	}
	list := "["
	for i, u := range users {
		if i > 0 {
			list += ","
		}
		list += u
	}
	list += "]"
	h.deliver(fmt.Sprintf(`{"event":"self_connected","self":{"id":"U1","name":"one","color":[0,0,1]},"users":%s}`, list))
	if got := h.session.Status(); got != collab.StatusConnected {
		t.Fatalf("status = %v after self_connected, want connected", got)
	}
}

func TestSelfConnectedReplayMatchesLiveEvents(t *testing.T) {
	withController := fmt.Sprintf(`{"id":"U2","name":"U2","color":[0,1,0],%s,"controllers":[{"controllerId":0,"assetUrl":"left.glb",%s}]}`, origin, origin)

	replayed := newHarness(t)
	replayed.join(t, withController, userJSON("U3"))

	live := newHarness(t)
	live.join(t)
	live.deliver(`{"event":"user_connected",` + userJSON("U2")[1:])
	live.forward("U2", fmt.Sprintf(`{"event":"user_controller_connect","controller":{"controllerId":0,"assetUrl":"left.glb",%s}}`, origin))
	live.forward("U3", `{"event":"user_connected",`+userJSON("U3")[1:])

	if got, want := replayed.store.Users(), live.store.Users(); !reflect.DeepEqual(got, want) {
		t.Errorf("replayed users differ from live users\n got: %+v\nwant: %+v", got, want)
	}
	if len(replayed.store.Users()) != 2 {
		t.Errorf("expected two remote users, got %d", len(replayed.store.Users()))
	}
}

func TestEmptyRoomJoin(t *testing.T) {
	h := newHarness(t)
	h.join(t)
	if len(h.store.Users()) != 0 {
		t.Error("joining an empty room must not create users")
	}
	if h.store.LocalUser().ID != "U1" {
		t.Errorf("local user = %q, want U1", h.store.LocalUser().ID)
	}
}

func TestForwardedDispatchUsesOuterSender(t *testing.T) {
	h := newHarness(t)
	h.join(t, userJSON("U2"), userJSON("U3"))
	h.forward("U2", `{"event":"app_opened","id":"app-1",`+origin+`,"scale":[1,1,1]}`)

	// the inner message claims nothing about its sender; the outer id decides
	h.forward("U3", `{"event":"highlighting_update","appId":"app-1","entityType":"component","entityId":"c-1","isHighlighted":true,"userId":"U2"}`)

	app, ok := h.store.Application("app-1")
	if !ok {
		t.Fatal("expected app-1 to be open")
	}
	if len(app.Highlights) != 1 || app.Highlights[0].UserID != "U3" {
		t.Errorf("highlights = %+v, want one owned by U3", app.Highlights)
	}
}

func TestInvalidMessagesAreDropped(t *testing.T) {
	h := newHarness(t)
	h.join(t, userJSON("U2"))

	for _, raw := range []string{
		`not json`,
		`{"event":"no_such_event"}`,
		`{"event":"app_opened","id":"app-1"}`,
		`{"event":"forwarded","userId":"U2","originalMessage":{"event":"self_connected","self":{"id":"U9","name":"","color":[0,0,0]},"users":[]}}`,
		`{"event":"forwarded","originalMessage":{"event":"app_opened","id":"app-1",` + origin + `,"scale":[1,1,1]}}`,
	} {
		h.deliver(raw)
	}

	if len(h.store.Applications()) != 0 {
		t.Error("invalid messages must not change the room")
	}
	if h.store.LocalUser().ID != "U1" {
		t.Error("a forwarded self_connected must not replace the local user")
	}
	if h.session.Status() != collab.StatusConnected {
		t.Error("invalid messages must not end the session")
	}
}

func TestComponentUpdateForClosedAppIsDropped(t *testing.T) {
	h := newHarness(t)
	h.join(t, userJSON("U2"))
	listener := collab.NewChannelListener(16, newTestLogger())
	h.session.SetListener(listener)

	h.forward("U2", `{"event":"component_update","appId":"app-1","componentId":"c-1","isOpened":true,"isFoundation":false}`)
	select {
	case ev := <-listener.Events():
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestDisconnectCleansRoom(t *testing.T) {
	h := newHarness(t)
	listener := collab.NewChannelListener(64, newTestLogger())
	h.session.SetListener(listener)
	h.join(t, userJSON("U2"))
	h.forward("U2", `{"event":"app_opened","id":"app-1",`+origin+`,"scale":[1,1,1]}`)
	h.forward("U2", `{"event":"highlighting_update","appId":"app-1","entityType":"app","entityId":"app-1","isHighlighted":true}`)
	if err := h.session.SpectateUser("U2"); err != nil {
		t.Fatalf("SpectateUser failed: %v", err)
	}
	h.session.CloseApplication("app-1", nil)

	h.channel.Close(websocket.CloseError{Code: websocket.StatusAbnormalClosure})

	if h.session.Status() != collab.StatusDisconnected {
		t.Errorf("status = %v, want disconnected", h.session.Status())
	}
	if len(h.store.Users()) != 0 {
		t.Error("remote users must be cleared")
	}
	if h.session.Spectate().IsActive() || !h.rig.CameraControlEnabled() {
		t.Error("spectating must be torn down with camera control restored")
	}
	if h.session.Correlator().Pending() != 0 {
		t.Error("pending requests must be abandoned")
	}
	app, _ := h.store.Application("app-1")
	for _, hl := range app.Highlights {
		if hl.Color != state.DefaultHighlightColor {
			t.Errorf("highlight colour not reset: %+v", hl)
		}
	}

	var disconnect *collab.Disconnect
	for len(listener.Events()) > 0 {
		ev := <-listener.Events()
		if d, ok := ev.Payload.(collab.Disconnect); ok {
			disconnect = &d
		}
	}
	if disconnect == nil || disconnect.Code != int(websocket.StatusAbnormalClosure) {
		t.Fatalf("expected abnormal disconnect event, got %+v", disconnect)
	}

	// sends after close are silent no-ops
	h.session.Ping(0, true)
	if h.session.IsOnline() {
		t.Error("session must be offline")
	}
}

func TestCloseWhileConnectingHint(t *testing.T) {
	h := newHarness(t)
	listener := collab.NewChannelListener(4, newTestLogger())
	h.session.SetListener(listener)
	if err := h.session.Join(context.Background(), "ticket"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	h.channel.Close(errors.New("eof"))

	ev := <-listener.Events()
	d, ok := ev.Payload.(collab.Disconnect)
	if !ok || d.Hint != "Collaboration backend service not responding" {
		t.Errorf("unexpected disconnect event %+v", ev)
	}

	// the session can join again after a close
	if err := h.session.Join(context.Background(), "ticket"); err != nil {
		t.Errorf("rejoin failed: %v", err)
	}
}

func TestJoinFailure(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Join(context.Background(), "bad"); err == nil {
		t.Fatal("expected Join to fail")
	}
	if h.session.Status() != collab.StatusDisconnected {
		t.Error("failed join must leave the session disconnected")
	}
	h.join(t)
	if err := h.session.Join(context.Background(), "ticket"); !errors.Is(err, collab.ErrAlreadyJoined) {
		t.Errorf("expected ErrAlreadyJoined, got %v", err)
	}
}

func TestCloseApplicationWaitsForResponse(t *testing.T) {
	h := newHarness(t)
	h.join(t)
	if err := h.session.OpenApplication(context.Background(), "app-1", message.NewTransform(message.Vec3{})); err != nil {
		t.Fatalf("OpenApplication failed: %v", err)
	}

	var closed []bool
	if err := h.session.CloseApplication("app-1", func(ok bool) { closed = append(closed, ok) }); err != nil {
		t.Fatalf("CloseApplication failed: %v", err)
	}
	req := h.channel.last()
	if req.Get("event").String() != "app_closed" || req.Get("nonce").String() == "" {
		t.Fatalf("expected app_closed request with nonce, got %s", req.Raw)
	}
	if _, ok := h.store.Application("app-1"); !ok {
		t.Fatal("application must stay open until the relay answers")
	}

	nonce := req.Get("nonce").String()
	h.deliver(fmt.Sprintf(`{"event":"response","nonce":%q,"response":{"objectId":5}}`, nonce))
	if len(closed) != 0 {
		t.Fatal("a response failing the guard must not be delivered")
	}
	h.deliver(fmt.Sprintf(`{"event":"response","nonce":%q,"response":{"success":true}}`, nonce))
	h.deliver(fmt.Sprintf(`{"event":"response","nonce":%q,"response":{"success":true}}`, nonce))

	if !reflect.DeepEqual(closed, []bool{true}) {
		t.Errorf("done calls = %v, want [true]", closed)
	}
	if _, ok := h.store.Application("app-1"); ok {
		t.Error("application must be closed after the relay agreed")
	}

	if err := h.session.CloseApplication("app-1", nil); !errors.Is(err, state.ErrApplicationNotOpen) {
		t.Errorf("expected ErrApplicationNotOpen, got %v", err)
	}
}

func TestOfflineActionsApplyLocally(t *testing.T) {
	h := newHarness(t)
	h.session.OpenApplication(context.Background(), "app-1", message.NewTransform(message.Vec3{}))

	var closed bool
	h.session.CloseApplication("app-1", func(ok bool) { closed = ok })
	if !closed || h.session.Correlator().Pending() != 0 {
		t.Error("offline close must apply immediately without registering a request")
	}

	var objectID string
	h.session.DetachMenu("app", "app-1", message.NewTransform(message.Vec3{}), func(id string) { objectID = id })
	if objectID == "" {
		t.Fatal("offline detach must assign a local object id")
	}
	if _, ok := h.store.Menu(objectID); !ok {
		t.Error("detached menu missing from the store")
	}
}

func TestDetachMenuUsesRelayObjectID(t *testing.T) {
	h := newHarness(t)
	h.join(t)

	var objectID string
	h.session.DetachMenu("app", "app-1", message.NewTransform(message.Vec3{}), func(id string) { objectID = id })
	req := h.channel.last()
	if req.Get("event").String() != "menu_detached" {
		t.Fatalf("expected menu_detached request, got %s", req.Raw)
	}
	h.deliver(fmt.Sprintf(`{"event":"response","nonce":%q,"response":{"objectId":"menu-7"}}`, req.Get("nonce").String()))

	if objectID != "menu-7" {
		t.Errorf("object id = %q, want menu-7", objectID)
	}
	if _, ok := h.store.Menu("menu-7"); !ok {
		t.Error("menu-7 missing from the store")
	}
}

func TestTimestampUpdateKeepsView(t *testing.T) {
	h := newHarness(t)
	h.join(t, userJSON("U2"))
	h.forward("U2", `{"event":"app_opened","id":"app-1",`+origin+`,"scale":[1,1,1]}`)
	h.deliver(`{"event":"menu_detached_forward","objectId":"m-1","userId":"U2","entityType":"app","entityId":"app-1",` + origin + `,"scale":[1,1,1]}`)

	h.forward("U2", `{"event":"timestamp_update","timestamp":1700}`)

	if h.store.Landscape().Timestamp != 1700 {
		t.Errorf("timestamp = %d, want 1700", h.store.Landscape().Timestamp)
	}
	if _, ok := h.store.Application("app-1"); !ok {
		t.Error("open application must survive a timestamp update")
	}
	if _, ok := h.store.Menu("m-1"); !ok {
		t.Error("detached menu must survive a timestamp update")
	}
}

func TestInitialLandscapeRestoresRoom(t *testing.T) {
	h := newHarness(t)
	h.join(t)
	h.deliver(`{"event":"initial_landscape","landscape":{"landscapeToken":"tok","timestamp":3,` + origin + `,"scale":[1,1,1]},` +
		`"openApps":[{"id":"app-1",` + origin + `,"scale":[1,1,1],"openComponents":["c-1"],"highlightedComponents":[]}],` +
		`"detachedMenus":[{"objectId":"m-1","entityType":"component","entityId":"c-1",` + origin + `,"scale":[1,1,1]}]}`)

	app, ok := h.store.Application("app-1")
	if !ok || !reflect.DeepEqual(app.ComponentIDs(), []string{"c-1"}) {
		t.Errorf("app-1 not restored: %+v", app)
	}
	if h.store.Landscape().Token != "tok" {
		t.Errorf("landscape token = %q", h.store.Landscape().Token)
	}
	if len(h.store.Menus()) != 1 {
		t.Error("menu not restored")
	}
}

func TestTickKeepAlive(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.session.Tick(now)
	h.join(t)

	h.session.Tick(now)
	h.session.Tick(now.Add(100 * time.Millisecond))
	h.session.Tick(now.Add(time.Second))

	var positions int
	for _, tag := range h.channel.sentEvents() {
		if tag == "user_positions" {
			positions++
		}
	}
	if positions != 2 {
		t.Errorf("sent %d keep-alives, want 2", positions)
	}
}

func TestUserDisconnectStopsSpectating(t *testing.T) {
	h := newHarness(t)
	h.join(t, userJSON("U2"))
	if err := h.session.SpectateUser("U2"); err != nil {
		t.Fatalf("SpectateUser failed: %v", err)
	}
	if err := h.session.SpectateUser("U1"); !errors.Is(err, spectate.ErrSelfSpectate) {
		t.Errorf("expected ErrSelfSpectate, got %v", err)
	}

	h.deliver(`{"event":"user_disconnected","id":"U2"}`)
	if h.session.Spectate().IsActive() {
		t.Error("spectating must end when the target leaves")
	}
	if !h.rig.CameraControlEnabled() {
		t.Error("camera control must be re-enabled")
	}
}
