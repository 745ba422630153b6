package message

// Tag is the value of the `event` discriminant carried by every payload.
type Tag string

const (
	TagSelfConnected            Tag = "self_connected"
	TagUserConnected            Tag = "user_connected"
	TagUserDisconnected         Tag = "user_disconnected"
	TagInitialLandscape         Tag = "initial_landscape"
	TagUserControllerConnect    Tag = "user_controller_connect"
	TagUserControllerDisconnect Tag = "user_controller_disconnect"
	TagUserPositions            Tag = "user_positions"
	TagAppOpened                Tag = "app_opened"
	TagAppClosed                Tag = "app_closed"
	TagComponentUpdate          Tag = "component_update"
	TagHighlightingUpdate       Tag = "highlighting_update"
	TagSpectatingUpdate         Tag = "spectating_update"
	TagPingUpdate               Tag = "ping_update"
	TagMousePingUpdate          Tag = "mouse_ping_update"
	TagTimestampUpdate          Tag = "timestamp_update"
	TagObjectMoved              Tag = "object_moved"
	TagMenuDetached             Tag = "menu_detached"
	TagMenuDetachedForward      Tag = "menu_detached_forward"
	TagDetachedMenuClosed       Tag = "detached_menu_closed"
	TagResponse                 Tag = "response"
	TagForwarded                Tag = "forwarded"
)

// Controller slots used in user_positions.
const (
	Controller1ID = 0
	Controller2ID = 1
)

type Vec3 [3]float64

type Quat [4]float64

// Color is an RGB triple in [0,1].
type Color [3]float64

var (
	IdentityQuat = Quat{0, 0, 0, 1}
	UnitScale    = Vec3{1, 1, 1}
)

type Pose struct {
	Position   Vec3 `json:"position"`
	Quaternion Quat `json:"quaternion"`
}

type ControllerPose struct {
	Pose
	Intersection *Vec3 `json:"intersection,omitempty"`
}

type Transform struct {
	Position   Vec3 `json:"position"`
	Quaternion Quat `json:"quaternion"`
	Scale      Vec3 `json:"scale"`
}

// NewTransform returns an identity transform at the given position.
func NewTransform(position Vec3) Transform {
	return Transform{Position: position, Quaternion: IdentityQuat, Scale: UnitScale}
}

type Controller struct {
	ControllerID int    `json:"controllerId"`
	AssetURL     string `json:"assetUrl"`
	Position     Vec3   `json:"position"`
	Quaternion   Quat   `json:"quaternion"`
	Intersection *Vec3  `json:"intersection,omitempty"`
}

type DeviceConfig struct {
	DeviceID         string    `json:"deviceId"`
	ProjectionMatrix []float64 `json:"projectionMatrix"`
}

type HighlightedComponent struct {
	UserID     string `json:"userId"`
	AppID      string `json:"appId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

type SerializedLandscape struct {
	LandscapeToken string `json:"landscapeToken"`
	Timestamp      int64  `json:"timestamp"`
	Transform
}

type SerializedApp struct {
	ID string `json:"id"`
	Transform
	OpenComponents        []string               `json:"openComponents"`
	HighlightedComponents []HighlightedComponent `json:"highlightedComponents"`
}

type SerializedDetachedMenu struct {
	ObjectID   string `json:"objectId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Transform
}

// Snapshot is the serialized room: landscape, open applications and detached menus.
type Snapshot struct {
	Landscape     SerializedLandscape      `json:"landscape"`
	OpenApps      []SerializedApp          `json:"openApps"`
	DetachedMenus []SerializedDetachedMenu `json:"detachedMenus"`
}
