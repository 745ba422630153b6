package message

import "encoding/json"

// Message is embedded by every catalogue entry.
type Message struct {
	Event Tag `json:"event"`
}

type SelfInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color Color  `json:"color"`
}

type ConnectedUser struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Color       Color        `json:"color"`
	Position    Vec3         `json:"position"`
	Quaternion  Quat         `json:"quaternion"`
	Controllers []Controller `json:"controllers"`
}

type SelfConnected struct {
	Message
	Self  SelfInfo        `json:"self"`
	Users []ConnectedUser `json:"users"`
}

type UserConnected struct {
	Message
	ID         string `json:"id"`
	Name       string `json:"name"`
	Color      Color  `json:"color"`
	Position   Vec3   `json:"position"`
	Quaternion Quat   `json:"quaternion"`
}

type UserDisconnected struct {
	Message
	ID string `json:"id"`
}

type InitialLandscape struct {
	Message
	Snapshot
}

type UserControllerConnect struct {
	Message
	Controller Controller `json:"controller"`
}

type UserControllerDisconnect struct {
	Message
	ControllerID int `json:"controllerId"`
}

type UserPositions struct {
	Message
	Camera      *Pose           `json:"camera,omitempty"`
	Controller1 *ControllerPose `json:"controller1,omitempty"`
	Controller2 *ControllerPose `json:"controller2,omitempty"`
}

type AppOpened struct {
	Message
	ID string `json:"id"`
	Transform
}

type AppClosed struct {
	Message
	AppID string `json:"appId"`
	Nonce string `json:"nonce,omitempty"`
}

type ComponentUpdate struct {
	Message
	AppID        string `json:"appId"`
	ComponentID  string `json:"componentId"`
	IsOpened     bool   `json:"isOpened"`
	IsFoundation bool   `json:"isFoundation"`
}

type HighlightingUpdate struct {
	Message
	AppID         string `json:"appId"`
	EntityType    string `json:"entityType"`
	EntityID      string `json:"entityId"`
	IsHighlighted bool   `json:"isHighlighted"`
}

type SpectatingUpdate struct {
	Message
	IsSpectating      bool           `json:"isSpectating"`
	SpectatedUserID   string         `json:"spectatedUserId"`
	SpectatingUserIDs []string       `json:"spectatingUserIds"`
	Configuration     []DeviceConfig `json:"configuration,omitempty"`
}

type PingUpdate struct {
	Message
	ControllerID int  `json:"controllerId"`
	IsPinging    bool `json:"isPinging"`
}

type MousePingUpdate struct {
	Message
	ModelID       string `json:"modelId"`
	IsApplication bool   `json:"isApplication"`
	Position      Vec3   `json:"position"`
}

type TimestampUpdate struct {
	Message
	Timestamp int64 `json:"timestamp"`
}

type ObjectMoved struct {
	Message
	ObjectID string `json:"objectId"`
	Transform
}

// MenuDetached is the request a client sends when it pulls a menu out.
type MenuDetached struct {
	Message
	Nonce      string `json:"nonce"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Transform
}

// MenuDetachedForward is what the relay sends to everyone else, with the
// object id it assigned.
type MenuDetachedForward struct {
	Message
	ObjectID   string `json:"objectId"`
	UserID     string `json:"userId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Transform
}

type DetachedMenuClosed struct {
	Message
	MenuID string `json:"menuId"`
	Nonce  string `json:"nonce,omitempty"`
}

type Response struct {
	Message
	Nonce    string          `json:"nonce"`
	Response json.RawMessage `json:"response"`
}

type ObjectIDResponse struct {
	ObjectID string `json:"objectId"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// Forwarded wraps a message relayed on behalf of UserID. UserID is set by the
// relay and is the only sender identity dispatch may rely on.
type Forwarded[T any] struct {
	Message
	UserID          string `json:"userId"`
	OriginalMessage T      `json:"originalMessage"`
}
