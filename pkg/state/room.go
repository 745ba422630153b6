package state

import (
	"errors"
	"maps"
	"slices"

	"github.com/a-essam23/go-roomsync/pkg/message"
)

// ErrApplicationNotOpen is returned by local actions on an application that
// is not in the room.
var ErrApplicationNotOpen = errors.New("application is not open")

type UserState string

const (
	UserOnline     UserState = "online"
	UserSpectating UserState = "spectating"
)

type ControllerState struct {
	message.Controller
	Pinging bool
}

// RemoteUser mirrors another participant of the room.
type RemoteUser struct {
	ID          string
	Name        string
	Color       message.Color
	State       UserState
	Camera      *message.Pose
	Controllers map[int]*ControllerState
	// Visible is false while the user is spectating someone.
	Visible bool
	// HMDVisible is false while the local session spectates this user.
	HMDVisible bool
}

func (u *RemoteUser) Clone() *RemoteUser {
	c := *u
	if u.Camera != nil {
		camera := *u.Camera
		c.Camera = &camera
	}
	c.Controllers = make(map[int]*ControllerState, len(u.Controllers))
	for id, ctrl := range u.Controllers {
		cc := *ctrl
		c.Controllers[id] = &cc
	}
	return &c
}

// DefaultHighlightColor tints highlights whose owner is not in the room.
var DefaultHighlightColor = message.Color{1, 0, 0}

type Highlight struct {
	EntityType string
	EntityID   string
	UserID     string
	Color      message.Color
}

// OpenApplication is an application instantiated in the shared scene.
type OpenApplication struct {
	ID             string
	Transform      message.Transform
	OpenComponents map[string]struct{}
	Highlights     []Highlight
}

func (a *OpenApplication) Clone() *OpenApplication {
	c := *a
	c.OpenComponents = maps.Clone(a.OpenComponents)
	if c.OpenComponents == nil {
		c.OpenComponents = make(map[string]struct{})
	}
	c.Highlights = slices.Clone(a.Highlights)
	return &c
}

// ComponentIDs returns the open component ids in sorted order.
func (a *OpenApplication) ComponentIDs() []string {
	ids := slices.Collect(maps.Keys(a.OpenComponents))
	slices.Sort(ids)
	return ids
}

// DetachedMenu is an info panel anchored in free space.
type DetachedMenu struct {
	ObjectID   string
	EntityType string
	EntityID   string
	Transform  message.Transform
}

type Landscape struct {
	Token     string
	Timestamp int64
	Transform message.Transform
}

type RestoreOptions struct {
	RestoreLandscapeData bool
}

var DefaultRestoreOptions = RestoreOptions{RestoreLandscapeData: true}
