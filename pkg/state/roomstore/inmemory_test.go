package roomstore_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"testing"

	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/state"
	"github.com/a-essam23/go-roomsync/pkg/state/roomstore"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// fakeScene knows a fixed set of applications, each with a fixed set of
// components. Entities are "app:<id>" or "component:<id>".
type fakeScene struct {
	mu          sync.Mutex
	apps        map[string][]string
	failing     map[string]bool
	created     []string
	removed     []string
	landscapes  []int64
	landscapeFn func() error
}

func newFakeScene() *fakeScene {
	return &fakeScene{
		apps: map[string][]string{
			"app-1": {"c-1", "c-2"},
			"app-2": {"c-3"},
		},
		failing: map[string]bool{},
	}
}

func (f *fakeScene) HasApplication(appID string) bool {
	_, ok := f.apps[appID]
	return ok
}

func (f *fakeScene) HasComponent(appID, componentID string) bool {
	for _, c := range f.apps[appID] {
		if c == componentID {
			return true
		}
	}
	return false
}

func (f *fakeScene) HasEntity(entityType, entityID string) bool {
	switch entityType {
	case "app":
		return f.HasApplication(entityID)
	case "component":
		for app := range f.apps {
			if f.HasComponent(app, entityID) {
				return true
			}
		}
	}
	return false
}

func (f *fakeScene) InstantiateApplication(_ context.Context, app *state.OpenApplication) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[app.ID] {
		return errors.New("mesh generation failed")
	}
	f.created = append(f.created, app.ID)
	return nil
}

func (f *fakeScene) RemoveApplication(appID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, appID)
}

func (f *fakeScene) LoadLandscape(_ context.Context, _ string, ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.landscapeFn != nil {
		if err := f.landscapeFn(); err != nil {
			return err
		}
	}
	f.landscapes = append(f.landscapes, ts)
	return nil
}

func newTestStore(scene state.Scene) *roomstore.InMemoryStore {
	s := roomstore.New(scene, newTestLogger())
	s.SetLocalUser(message.SelfInfo{ID: "me", Name: "Me", Color: message.Color{0, 0, 1}})
	return s
}

func bob() message.ConnectedUser {
	return message.ConnectedUser{
		ID:    "bob",
		Name:  "Bob",
		Color: message.Color{0, 1, 0},
		Controllers: []message.Controller{
			{ControllerID: message.Controller1ID, AssetURL: "left.glb"},
		},
	}
}

func TestUserConnectedIsIdempotent(t *testing.T) {
	s := newTestStore(newFakeScene())

	s.ApplyUserConnected(bob())
	s.ApplyUserConnected(bob())
	if users := s.Users(); len(users) != 1 {
		t.Fatalf("expected exactly one remote user, got %d", len(users))
	}

	if _, ok := s.ApplyUserConnected(message.ConnectedUser{ID: "me"}); ok {
		t.Error("the local user must never become a remote user")
	}
}

func TestUserDisconnectedRunsHookAndDropsHighlights(t *testing.T) {
	scene := newFakeScene()
	s := newTestStore(scene)
	s.ApplyUserConnected(bob())
	s.ApplyAppOpened(context.Background(), "app-1", message.NewTransform(message.Vec3{}))
	s.ApplyHighlight("bob", message.HighlightingUpdate{AppID: "app-1", EntityType: "component", EntityID: "c-1", IsHighlighted: true})

	var removed []string
	s.SetUserRemovedHandler(func(id string) { removed = append(removed, id) })

	if _, ok := s.ApplyUserDisconnected("bob"); !ok {
		t.Fatal("expected bob to be removed")
	}
	if _, ok := s.ApplyUserDisconnected("bob"); ok {
		t.Error("second disconnect must be a no-op")
	}
	if !reflect.DeepEqual(removed, []string{"bob"}) {
		t.Errorf("hook calls = %v, want [bob]", removed)
	}
	app, _ := s.Application("app-1")
	if len(app.Highlights) != 0 {
		t.Errorf("expected bob's highlight to be gone, got %v", app.Highlights)
	}
}

func TestControllersAndPositions(t *testing.T) {
	s := newTestStore(newFakeScene())
	s.ApplyUserConnected(bob())

	camera := &message.Pose{Position: message.Vec3{1, 2, 3}, Quaternion: message.IdentityQuat}
	ctrl := &message.ControllerPose{Pose: message.Pose{Position: message.Vec3{4, 5, 6}}}
	if !s.ApplyUserPositions("bob", message.UserPositions{Camera: camera, Controller1: ctrl, Controller2: ctrl}) {
		t.Fatal("positions for a known user must apply")
	}
	u, _ := s.User("bob")
	if u.Camera.Position != camera.Position {
		t.Errorf("camera = %v, want %v", u.Camera.Position, camera.Position)
	}
	if u.Controllers[message.Controller1ID].Position != ctrl.Position {
		t.Error("controller 1 position not applied")
	}
	if _, ok := u.Controllers[message.Controller2ID]; ok {
		t.Error("positions must not create a controller that never connected")
	}

	if !s.ApplyPing("bob", message.Controller1ID, true) {
		t.Fatal("ping on connected controller must apply")
	}
	if s.ApplyPing("bob", message.Controller2ID, true) {
		t.Error("ping on unknown controller must be ignored")
	}
	if !s.ApplyControllerDisconnect("bob", message.Controller1ID) {
		t.Fatal("controller disconnect must apply")
	}
	if s.ApplyUserPositions("ghost", message.UserPositions{Camera: camera}) {
		t.Error("positions for unknown user must be ignored")
	}
}

func TestComponentUpdate(t *testing.T) {
	s := newTestStore(newFakeScene())

	update := message.ComponentUpdate{AppID: "app-1", ComponentID: "c-1", IsOpened: true}
	if s.ApplyComponentUpdate(update) {
		t.Error("component update for an application that is not open must be dropped")
	}

	s.ApplyAppOpened(context.Background(), "app-1", message.NewTransform(message.Vec3{}))
	s.ApplyComponentUpdate(update)
	s.ApplyComponentUpdate(message.ComponentUpdate{AppID: "app-1", ComponentID: "c-2", IsOpened: true})
	if s.ApplyComponentUpdate(message.ComponentUpdate{AppID: "app-1", ComponentID: "stale", IsOpened: true}) {
		t.Error("unknown component must be dropped")
	}
	app, _ := s.Application("app-1")
	if got := app.ComponentIDs(); !reflect.DeepEqual(got, []string{"c-1", "c-2"}) {
		t.Errorf("open components = %v", got)
	}

	s.ApplyComponentUpdate(message.ComponentUpdate{AppID: "app-1", IsFoundation: true})
	app, _ = s.Application("app-1")
	if len(app.OpenComponents) != 0 {
		t.Errorf("foundation toggle must close everything, got %v", app.ComponentIDs())
	}
}

func TestHighlightOnePerUser(t *testing.T) {
	s := newTestStore(newFakeScene())
	s.ApplyUserConnected(bob())
	s.ApplyAppOpened(context.Background(), "app-1", message.NewTransform(message.Vec3{}))

	s.ApplyHighlight("bob", message.HighlightingUpdate{AppID: "app-1", EntityType: "component", EntityID: "c-1", IsHighlighted: true})
	s.ApplyHighlight("bob", message.HighlightingUpdate{AppID: "app-1", EntityType: "component", EntityID: "c-2", IsHighlighted: true})
	s.ApplyHighlight("me", message.HighlightingUpdate{AppID: "app-1", EntityType: "app", EntityID: "app-1", IsHighlighted: true})

	app, _ := s.Application("app-1")
	if len(app.Highlights) != 2 {
		t.Fatalf("expected one highlight per user, got %v", app.Highlights)
	}
	for _, h := range app.Highlights {
		if h.UserID == "bob" && (h.EntityID != "c-2" || h.Color != bob().Color) {
			t.Errorf("unexpected bob highlight %+v", h)
		}
	}

	if s.ApplyHighlight("ghost", message.HighlightingUpdate{AppID: "app-1", EntityType: "app", EntityID: "app-1", IsHighlighted: true}) {
		t.Error("highlight from unknown user must be ignored")
	}

	s.ResetHighlightColors(message.Color{1, 1, 1})
	app, _ = s.Application("app-1")
	for _, h := range app.Highlights {
		if h.Color != (message.Color{1, 1, 1}) {
			t.Errorf("highlight colour not reset: %+v", h)
		}
	}
}

func TestObjectMovedPrefersMenus(t *testing.T) {
	s := newTestStore(newFakeScene())
	s.ApplyAppOpened(context.Background(), "app-1", message.NewTransform(message.Vec3{}))
	s.ApplyMenuDetached(state.DetachedMenu{ObjectID: "menu-1", EntityType: "component", EntityID: "c-1"})

	moved := message.NewTransform(message.Vec3{9, 9, 9})
	if !s.ApplyObjectMoved("menu-1", moved) {
		t.Fatal("moving a menu must apply")
	}
	menu, _ := s.Menu("menu-1")
	if menu.Transform != moved {
		t.Errorf("menu transform = %v", menu.Transform)
	}
	if !s.ApplyObjectMoved("app-1", moved) {
		t.Fatal("moving an application must apply")
	}
	if s.ApplyObjectMoved("nothing", moved) {
		t.Error("moving an unknown object must be ignored")
	}

	// closing the application leaves its menus alone
	s.ApplyAppClosed("app-1")
	if _, ok := s.Menu("menu-1"); !ok {
		t.Error("menu must survive application close")
	}
	if !s.ApplyMenuClosed("menu-1") || s.ApplyMenuClosed("menu-1") {
		t.Error("menu close must apply exactly once")
	}
}

func TestFailedInstantiationIsDropped(t *testing.T) {
	scene := newFakeScene()
	scene.failing["app-2"] = true
	s := newTestStore(scene)

	if s.ApplyAppOpened(context.Background(), "app-2", message.NewTransform(message.Vec3{})) {
		t.Error("expected failed instantiation to report false")
	}
	if _, ok := s.Application("app-2"); ok {
		t.Error("application that failed to instantiate must not stay open")
	}
	if s.ApplyAppOpened(context.Background(), "unknown", message.NewTransform(message.Vec3{})) {
		t.Error("unknown application must be ignored")
	}
}

func populatedStore(t *testing.T, scene *fakeScene) *roomstore.InMemoryStore {
	t.Helper()
	s := newTestStore(scene)
	ctx := context.Background()
	s.ApplyUserConnected(bob())
	s.SetLandscapeTransform(message.NewTransform(message.Vec3{0, 1, 0}))
	s.ApplyAppOpened(ctx, "app-1", message.NewTransform(message.Vec3{1, 0, 0}))
	s.ApplyAppOpened(ctx, "app-2", message.NewTransform(message.Vec3{2, 0, 0}))
	s.ApplyComponentUpdate(message.ComponentUpdate{AppID: "app-1", ComponentID: "c-2", IsOpened: true})
	s.ApplyHighlight("bob", message.HighlightingUpdate{AppID: "app-1", EntityType: "component", EntityID: "c-2", IsHighlighted: true})
	s.ApplyMenuDetached(state.DetachedMenu{ObjectID: "menu-1", EntityType: "app", EntityID: "app-2", Transform: message.NewTransform(message.Vec3{3, 0, 0})})
	return s
}

func TestSerializeRestoreRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T) *roomstore.InMemoryStore
		apps  int
		menus int
	}{
		{
			name: "empty room",
			build: func(t *testing.T) *roomstore.InMemoryStore {
				s := newTestStore(newFakeScene())
				s.ApplyUserConnected(bob())
				return s
			},
		},
		{
			name: "one app and one menu",
			build: func(t *testing.T) *roomstore.InMemoryStore {
				s := newTestStore(newFakeScene())
				s.ApplyUserConnected(bob())
				s.ApplyAppOpened(context.Background(), "app-1", message.NewTransform(message.Vec3{1, 0, 0}))
				s.ApplyComponentUpdate(message.ComponentUpdate{AppID: "app-1", ComponentID: "c-1", IsOpened: true})
				s.ApplyMenuDetached(state.DetachedMenu{ObjectID: "menu-1", EntityType: "component", EntityID: "c-1", Transform: message.NewTransform(message.Vec3{0, 2, 0})})
				return s
			},
			apps:  1,
			menus: 1,
		},
		{
			name: "many apps and menus",
			build: func(t *testing.T) *roomstore.InMemoryStore {
				s := populatedStore(t, newFakeScene())
				s.ApplyMenuDetached(state.DetachedMenu{ObjectID: "menu-2", EntityType: "component", EntityID: "c-2", Transform: message.NewTransform(message.Vec3{4, 0, 0})})
				return s
			},
			apps:  2,
			menus: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := tt.build(t).SerializeRoom()
			if len(snap.OpenApps) != tt.apps || len(snap.DetachedMenus) != tt.menus {
				t.Fatalf("snapshot has %d apps and %d menus, want %d and %d", len(snap.OpenApps), len(snap.DetachedMenus), tt.apps, tt.menus)
			}

			fresh := newTestStore(newFakeScene())
			fresh.ApplyUserConnected(bob())
			if err := fresh.RestoreRoom(context.Background(), snap, state.DefaultRestoreOptions); err != nil {
				t.Fatalf("RestoreRoom failed: %v", err)
			}
			if got := fresh.SerializeRoom(); !reflect.DeepEqual(got, snap) {
				t.Errorf("restored snapshot differs\n got: %+v\nwant: %+v", got, snap)
			}
		})
	}
}

func TestRestoreDropsStaleIDs(t *testing.T) {
	s := newTestStore(newFakeScene())
	snap := message.Snapshot{
		Landscape: message.SerializedLandscape{LandscapeToken: "tok", Timestamp: 7, Transform: message.NewTransform(message.Vec3{})},
		OpenApps: []message.SerializedApp{
			{ID: "app-1", Transform: message.NewTransform(message.Vec3{}), OpenComponents: []string{"c-1", "gone"}},
			{ID: "deleted-app", Transform: message.NewTransform(message.Vec3{})},
		},
		DetachedMenus: []message.SerializedDetachedMenu{
			{ObjectID: "m-1", EntityType: "component", EntityID: "c-1"},
			{ObjectID: "m-2", EntityType: "component", EntityID: "gone"},
		},
	}
	if err := s.RestoreRoom(context.Background(), snap, state.DefaultRestoreOptions); err != nil {
		t.Fatalf("RestoreRoom failed: %v", err)
	}
	apps := s.Applications()
	if len(apps) != 1 || apps[0].ID != "app-1" {
		t.Fatalf("expected only app-1 to be restored, got %v", apps)
	}
	if got := apps[0].ComponentIDs(); !reflect.DeepEqual(got, []string{"c-1"}) {
		t.Errorf("components = %v, want [c-1]", got)
	}
	if menus := s.Menus(); len(menus) != 1 || menus[0].ObjectID != "m-1" {
		t.Errorf("menus = %v, want [m-1]", menus)
	}
	if l := s.Landscape(); l.Token != "tok" || l.Timestamp != 7 {
		t.Errorf("landscape = %+v", l)
	}
}

func TestPreserveRoomIsTransparent(t *testing.T) {
	scene := newFakeScene()
	s := populatedStore(t, scene)
	before := s.SerializeRoom()
	loadsBefore := len(scene.landscapes)

	actionErr := errors.New("action failed")
	err := s.PreserveRoom(context.Background(), func(ctx context.Context) error {
		s.ApplyAppClosed("app-1")
		s.ApplyMenuClosed("menu-1")
		return actionErr
	}, state.RestoreOptions{RestoreLandscapeData: false})

	if !errors.Is(err, actionErr) {
		t.Errorf("expected the action error to be returned, got %v", err)
	}
	if after := s.SerializeRoom(); !reflect.DeepEqual(after, before) {
		t.Errorf("room changed across PreserveRoom\n got: %+v\nwant: %+v", after, before)
	}
	if len(scene.landscapes) != loadsBefore {
		t.Error("landscape data must not be reloaded when RestoreLandscapeData is false")
	}
}

func TestUpdateTimestamp(t *testing.T) {
	scene := newFakeScene()
	s := populatedStore(t, scene)

	if err := s.UpdateTimestamp(context.Background(), 42); err != nil {
		t.Fatalf("UpdateTimestamp failed: %v", err)
	}
	if s.Landscape().Timestamp != 42 {
		t.Errorf("timestamp = %d, want 42", s.Landscape().Timestamp)
	}
	if len(s.Applications()) != 0 || len(s.Menus()) != 0 {
		t.Error("timestamp change must discard applications and menus")
	}

	scene.landscapeFn = func() error { return errors.New("backend down") }
	if err := s.UpdateTimestamp(context.Background(), 43); err == nil {
		t.Error("expected load failure to be reported")
	}
	if s.Landscape().Timestamp != 42 {
		t.Error("timestamp must not change when loading fails")
	}
}
