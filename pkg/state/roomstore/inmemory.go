package roomstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/state"
	"golang.org/x/sync/errgroup"
)

// default number of applications instantiated concurrently during a restore.
const defaultRestoreConcurrency = 8

type InMemoryStore struct {
	mu    sync.RWMutex
	local message.SelfInfo
	users map[string]*state.RemoteUser
	apps  map[string]*state.OpenApplication
	menus map[string]*state.DetachedMenu
	land  state.Landscape

	onUserRemoved  func(userID string)
	highlightColor message.Color

	scene              state.Scene
	restoreConcurrency int
	logger             *slog.Logger
}

type Option func(*InMemoryStore)

func WithDefaultHighlightColor(c message.Color) Option {
	return func(s *InMemoryStore) { s.highlightColor = c }
}

// WithRestoreConcurrency bounds how many applications a restore instantiates
// at once.
func WithRestoreConcurrency(n int) Option {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.restoreConcurrency = n
		}
	}
}

func New(scene state.Scene, logger *slog.Logger, opts ...Option) *InMemoryStore {
	if scene == nil {
		scene = state.OpenScene{}
	}
	s := &InMemoryStore{
		users:              make(map[string]*state.RemoteUser),
		apps:               make(map[string]*state.OpenApplication),
		menus:              make(map[string]*state.DetachedMenu),
		land:               state.Landscape{Transform: message.NewTransform(message.Vec3{})},
		scene:              scene,
		highlightColor:     state.DefaultHighlightColor,
		restoreConcurrency: defaultRestoreConcurrency,
		logger:             logger.With(slog.String("component", "room_store_inmemory")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// compile-time check to ensure InMemoryStore implements Store.
var _ state.Store = (*InMemoryStore)(nil)

// --- Users ---

func (s *InMemoryStore) SetLocalUser(self message.SelfInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = self
	// the local user is never mirrored
	delete(s.users, self.ID)
}

func (s *InMemoryStore) LocalUser() message.SelfInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local
}

// ApplyUserConnected inserts or replaces a remote user. Applying the same
// announcement twice leaves one entry.
func (s *InMemoryStore) ApplyUserConnected(u message.ConnectedUser) (*state.RemoteUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" || u.ID == s.local.ID {
		return nil, false
	}
	user := &state.RemoteUser{
		ID:          u.ID,
		Name:        u.Name,
		Color:       u.Color,
		State:       state.UserOnline,
		Camera:      &message.Pose{Position: u.Position, Quaternion: u.Quaternion},
		Controllers: make(map[int]*state.ControllerState),
		Visible:     true,
		HMDVisible:  true,
	}
	for _, c := range u.Controllers {
		user.Controllers[c.ControllerID] = &state.ControllerState{Controller: c}
	}
	s.users[u.ID] = user
	s.logger.Debug("Remote user connected", slog.String("userID", u.ID), slog.String("name", u.Name))
	return user.Clone(), true
}

func (s *InMemoryStore) ApplyUserDisconnected(userID string) (*state.RemoteUser, bool) {
	s.mu.Lock()
	user, ok := s.users[userID]
	if ok {
		delete(s.users, userID)
		// highlights owned by a departed user disappear with them
		for _, app := range s.apps {
			app.Highlights = slices.DeleteFunc(app.Highlights, func(h state.Highlight) bool { return h.UserID == userID })
		}
	}
	hook := s.onUserRemoved
	s.mu.Unlock()

	if !ok {
		return nil, false
	}
	s.logger.Debug("Remote user disconnected", slog.String("userID", userID))
	if hook != nil {
		hook(userID)
	}
	return user, true
}

func (s *InMemoryStore) SetUserRemovedHandler(fn func(userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUserRemoved = fn
}

func (s *InMemoryStore) ApplyControllerConnect(userID string, c message.Controller) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return false
	}
	user.Controllers[c.ControllerID] = &state.ControllerState{Controller: c}
	return true
}

func (s *InMemoryStore) ApplyControllerDisconnect(userID string, controllerID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return false
	}
	if _, ok := user.Controllers[controllerID]; !ok {
		return false
	}
	delete(user.Controllers, controllerID)
	return true
}

func (s *InMemoryStore) ApplyUserPositions(userID string, msg message.UserPositions) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return false
	}
	if msg.Camera != nil {
		camera := *msg.Camera
		user.Camera = &camera
	}
	for id, pose := range map[int]*message.ControllerPose{message.Controller1ID: msg.Controller1, message.Controller2ID: msg.Controller2} {
		if pose == nil {
			continue
		}
		// positions for a controller that never connected are ignored
		if ctrl, ok := user.Controllers[id]; ok {
			ctrl.Position = pose.Position
			ctrl.Quaternion = pose.Quaternion
			ctrl.Intersection = pose.Intersection
		}
	}
	return true
}

func (s *InMemoryStore) ApplyPing(userID string, controllerID int, pinging bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return false
	}
	ctrl, ok := user.Controllers[controllerID]
	if !ok {
		return false
	}
	ctrl.Pinging = pinging
	return true
}

func (s *InMemoryStore) SetUserSpectating(userID string, spectating bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return false
	}
	if spectating {
		user.State = state.UserSpectating
	} else {
		user.State = state.UserOnline
	}
	user.Visible = !spectating
	return true
}

func (s *InMemoryStore) SetUserHMDVisible(userID string, visible bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return false
	}
	user.HMDVisible = visible
	return true
}

func (s *InMemoryStore) User(userID string) (*state.RemoteUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, false
	}
	return user.Clone(), true
}

// Users returns copies of all remote users ordered by id.
func (s *InMemoryStore) Users() []*state.RemoteUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]*state.RemoteUser, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u.Clone())
	}
	slices.SortFunc(users, func(a, b *state.RemoteUser) int { return cmp.Compare(a.ID, b.ID) })
	return users
}

// RemoveAllUsers forgets every remote user and returns their ids. The removal
// hook is not run.
func (s *InMemoryStore) RemoveAllUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	clear(s.users)
	slices.Sort(ids)
	return ids
}

// --- Applications & menus ---

// ApplyAppOpened opens an application, or moves it when it is already open.
func (s *InMemoryStore) ApplyAppOpened(ctx context.Context, appID string, t message.Transform) bool {
	if !s.scene.HasApplication(appID) {
		s.logger.Debug("Ignoring app_opened for unknown application", slog.String("appID", appID))
		return false
	}

	s.mu.Lock()
	if app, ok := s.apps[appID]; ok {
		app.Transform = t
		s.mu.Unlock()
		return true
	}
	app := &state.OpenApplication{ID: appID, Transform: t, OpenComponents: make(map[string]struct{})}
	s.apps[appID] = app
	snapshot := app.Clone()
	s.mu.Unlock()

	if err := s.scene.InstantiateApplication(ctx, snapshot); err != nil {
		s.logger.Warn("Failed to instantiate application", slog.String("appID", appID), slog.Any("error", err))
		s.removeApplication(appID)
		return false
	}
	return true
}

// ApplyAppClosed removes the application. Detached menus of its entities stay.
func (s *InMemoryStore) ApplyAppClosed(appID string) bool {
	return s.removeApplication(appID)
}

func (s *InMemoryStore) removeApplication(appID string) bool {
	s.mu.Lock()
	_, ok := s.apps[appID]
	delete(s.apps, appID)
	s.mu.Unlock()
	if ok {
		s.scene.RemoveApplication(appID)
	}
	return ok
}

func (s *InMemoryStore) ApplyComponentUpdate(msg message.ComponentUpdate) bool {
	if !msg.IsFoundation && !s.scene.HasComponent(msg.AppID, msg.ComponentID) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[msg.AppID]
	if !ok {
		return false
	}
	switch {
	case msg.IsFoundation:
		// toggling the foundation collapses the whole application
		clear(app.OpenComponents)
	case msg.IsOpened:
		app.OpenComponents[msg.ComponentID] = struct{}{}
	default:
		delete(app.OpenComponents, msg.ComponentID)
	}
	return true
}

// ApplyHighlight sets or clears the highlight owned by userID in one
// application. Each user holds at most one highlight per application.
func (s *InMemoryStore) ApplyHighlight(userID string, msg message.HighlightingUpdate) bool {
	if msg.IsHighlighted && !s.scene.HasEntity(msg.EntityType, msg.EntityID) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[msg.AppID]
	if !ok {
		return false
	}
	color, ok := s.userColor(userID)
	if !ok {
		return false
	}
	app.Highlights = slices.DeleteFunc(app.Highlights, func(h state.Highlight) bool { return h.UserID == userID })
	if msg.IsHighlighted {
		app.Highlights = append(app.Highlights, state.Highlight{
			EntityType: msg.EntityType,
			EntityID:   msg.EntityID,
			UserID:     userID,
			Color:      color,
		})
	}
	return true
}

// must be called with mu held.
func (s *InMemoryStore) userColor(userID string) (message.Color, bool) {
	if userID != "" && userID == s.local.ID {
		return s.local.Color, true
	}
	if user, ok := s.users[userID]; ok {
		return user.Color, true
	}
	return message.Color{}, false
}

// ResetHighlightColors recolours every highlight, used once the users that
// owned them are gone.
func (s *InMemoryStore) ResetHighlightColors(color message.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, app := range s.apps {
		for i := range app.Highlights {
			app.Highlights[i].Color = color
		}
	}
}

// ApplyObjectMoved moves a detached menu or an application, in that order.
func (s *InMemoryStore) ApplyObjectMoved(objectID string, t message.Transform) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if menu, ok := s.menus[objectID]; ok {
		menu.Transform = t
		return true
	}
	if app, ok := s.apps[objectID]; ok {
		app.Transform = t
		return true
	}
	return false
}

func (s *InMemoryStore) ApplyMenuDetached(menu state.DetachedMenu) bool {
	if menu.ObjectID == "" || !s.scene.HasEntity(menu.EntityType, menu.EntityID) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := menu
	s.menus[menu.ObjectID] = &m
	return true
}

func (s *InMemoryStore) ApplyMenuClosed(menuID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.menus[menuID]; !ok {
		return false
	}
	delete(s.menus, menuID)
	return true
}

func (s *InMemoryStore) Application(appID string) (*state.OpenApplication, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[appID]
	if !ok {
		return nil, false
	}
	return app.Clone(), true
}

func (s *InMemoryStore) Applications() []*state.OpenApplication {
	s.mu.RLock()
	defer s.mu.RUnlock()
	apps := make([]*state.OpenApplication, 0, len(s.apps))
	for _, a := range s.apps {
		apps = append(apps, a.Clone())
	}
	slices.SortFunc(apps, func(a, b *state.OpenApplication) int { return cmp.Compare(a.ID, b.ID) })
	return apps
}

func (s *InMemoryStore) Menu(objectID string) (*state.DetachedMenu, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	menu, ok := s.menus[objectID]
	if !ok {
		return nil, false
	}
	m := *menu
	return &m, true
}

func (s *InMemoryStore) Menus() []*state.DetachedMenu {
	s.mu.RLock()
	defer s.mu.RUnlock()
	menus := make([]*state.DetachedMenu, 0, len(s.menus))
	for _, menu := range s.menus {
		m := *menu
		menus = append(menus, &m)
	}
	slices.SortFunc(menus, func(a, b *state.DetachedMenu) int { return cmp.Compare(a.ObjectID, b.ObjectID) })
	return menus
}

// --- Landscape & snapshots ---

func (s *InMemoryStore) Landscape() state.Landscape {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.land
}

func (s *InMemoryStore) SetLandscapeTransform(t message.Transform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.land.Transform = t
}

// UpdateTimestamp loads new landscape data for the current token. Open
// applications and menus refer to the previous data and are discarded.
func (s *InMemoryStore) UpdateTimestamp(ctx context.Context, timestamp int64) error {
	token := s.Landscape().Token
	if err := s.scene.LoadLandscape(ctx, token, timestamp); err != nil {
		return fmt.Errorf("load landscape %q at %d: %w", token, timestamp, err)
	}
	s.clearApplicationsAndMenus()
	s.mu.Lock()
	s.land.Timestamp = timestamp
	s.mu.Unlock()
	return nil
}

// SerializeRoom captures the landscape, open applications and detached menus.
// Applications and menus are ordered by id.
func (s *InMemoryStore) SerializeRoom() message.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := message.Snapshot{
		Landscape: message.SerializedLandscape{
			LandscapeToken: s.land.Token,
			Timestamp:      s.land.Timestamp,
			Transform:      s.land.Transform,
		},
		OpenApps:      make([]message.SerializedApp, 0, len(s.apps)),
		DetachedMenus: make([]message.SerializedDetachedMenu, 0, len(s.menus)),
	}
	for _, app := range s.apps {
		sa := message.SerializedApp{
			ID:                    app.ID,
			Transform:             app.Transform,
			OpenComponents:        app.ComponentIDs(),
			HighlightedComponents: make([]message.HighlightedComponent, 0, len(app.Highlights)),
		}
		for _, h := range app.Highlights {
			sa.HighlightedComponents = append(sa.HighlightedComponents, message.HighlightedComponent{
				UserID:     h.UserID,
				AppID:      app.ID,
				EntityType: h.EntityType,
				EntityID:   h.EntityID,
			})
		}
		snap.OpenApps = append(snap.OpenApps, sa)
	}
	slices.SortFunc(snap.OpenApps, func(a, b message.SerializedApp) int { return cmp.Compare(a.ID, b.ID) })

	for _, menu := range s.menus {
		snap.DetachedMenus = append(snap.DetachedMenus, message.SerializedDetachedMenu{
			ObjectID:   menu.ObjectID,
			EntityType: menu.EntityType,
			EntityID:   menu.EntityID,
			Transform:  menu.Transform,
		})
	}
	slices.SortFunc(snap.DetachedMenus, func(a, b message.SerializedDetachedMenu) int { return cmp.Compare(a.ObjectID, b.ObjectID) })
	return snap
}

// RestoreRoom replaces applications and menus with the snapshot. Ids that no
// longer resolve are dropped. Menus are applied only after every application
// has finished instantiating.
func (s *InMemoryStore) RestoreRoom(ctx context.Context, snap message.Snapshot, opts state.RestoreOptions) error {
	s.clearApplicationsAndMenus()

	if opts.RestoreLandscapeData {
		token, ts := snap.Landscape.LandscapeToken, snap.Landscape.Timestamp
		if err := s.scene.LoadLandscape(ctx, token, ts); err != nil {
			return fmt.Errorf("load landscape %q at %d: %w", token, ts, err)
		}
		s.mu.Lock()
		s.land.Token = token
		s.land.Timestamp = ts
		s.mu.Unlock()
	}
	s.SetLandscapeTransform(snap.Landscape.Transform)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.restoreConcurrency)
	for _, sa := range snap.OpenApps {
		if !s.scene.HasApplication(sa.ID) {
			s.logger.Debug("Dropping unknown application from snapshot", slog.String("appID", sa.ID))
			continue
		}
		app := s.restoredApplication(sa)
		s.mu.Lock()
		s.apps[app.ID] = app
		snapshot := app.Clone()
		s.mu.Unlock()

		g.Go(func() error {
			if err := s.scene.InstantiateApplication(gctx, snapshot); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				s.logger.Warn("Failed to instantiate restored application", slog.String("appID", snapshot.ID), slog.Any("error", err))
				s.removeApplication(snapshot.ID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("restore applications: %w", err)
	}

	for _, m := range snap.DetachedMenus {
		s.ApplyMenuDetached(state.DetachedMenu{
			ObjectID:   m.ObjectID,
			EntityType: m.EntityType,
			EntityID:   m.EntityID,
			Transform:  m.Transform,
		})
	}
	return nil
}

func (s *InMemoryStore) restoredApplication(sa message.SerializedApp) *state.OpenApplication {
	app := &state.OpenApplication{
		ID:             sa.ID,
		Transform:      sa.Transform,
		OpenComponents: make(map[string]struct{}, len(sa.OpenComponents)),
	}
	for _, id := range sa.OpenComponents {
		if s.scene.HasComponent(sa.ID, id) {
			app.OpenComponents[id] = struct{}{}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, hc := range sa.HighlightedComponents {
		if !s.scene.HasEntity(hc.EntityType, hc.EntityID) {
			continue
		}
		color, ok := s.userColor(hc.UserID)
		if !ok {
			color = s.highlightColor
		}
		app.Highlights = slices.DeleteFunc(app.Highlights, func(h state.Highlight) bool { return h.UserID == hc.UserID })
		app.Highlights = append(app.Highlights, state.Highlight{
			EntityType: hc.EntityType,
			EntityID:   hc.EntityID,
			UserID:     hc.UserID,
			Color:      color,
		})
	}
	return app
}

// PreserveRoom runs action and then restores the room as it was before,
// without touching landscape data unless opts asks for it. The action's
// error is returned alongside any restore error.
func (s *InMemoryStore) PreserveRoom(ctx context.Context, action func(ctx context.Context) error, opts state.RestoreOptions) error {
	snap := s.SerializeRoom()
	actionErr := action(ctx)
	restoreErr := s.RestoreRoom(ctx, snap, opts)
	return errors.Join(actionErr, restoreErr)
}

func (s *InMemoryStore) clearApplicationsAndMenus() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.apps))
	for id := range s.apps {
		ids = append(ids, id)
	}
	clear(s.apps)
	clear(s.menus)
	s.mu.Unlock()

	for _, id := range ids {
		s.scene.RemoveApplication(id)
	}
}
