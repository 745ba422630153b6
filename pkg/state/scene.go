package state

import "context"

// Scene is the rendering and structural-data side of a room. The store asks
// it whether ids still resolve and tells it what to instantiate.
type Scene interface {
	HasApplication(appID string) bool
	HasComponent(appID, componentID string) bool
	HasEntity(entityType, entityID string) bool
	// InstantiateApplication may block until the application mesh exists.
	InstantiateApplication(ctx context.Context, app *OpenApplication) error
	RemoveApplication(appID string)
	LoadLandscape(ctx context.Context, token string, timestamp int64) error
}

// OpenScene resolves every id and renders nothing. The relay mirror and
// headless clients use it.
type OpenScene struct{}

var _ Scene = OpenScene{}

func (OpenScene) HasApplication(string) bool { return true }
func (OpenScene) HasComponent(string, string) bool { return true }
func (OpenScene) HasEntity(string, string) bool { return true }
func (OpenScene) InstantiateApplication(context.Context, *OpenApplication) error { return nil }
func (OpenScene) RemoveApplication(string) {}
func (OpenScene) LoadLandscape(context.Context, string, int64) error { return nil }
