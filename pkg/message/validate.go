package message

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Validator checks the structure of a payload already known to be valid JSON.
type Validator func(payload gjson.Result) error

func malformed(path, want string) error {
	return fmt.Errorf("%w: %q must be %s", ErrMalformed, path, want)
}

func shape(checks ...Validator) Validator {
	return func(p gjson.Result) error {
		for _, check := range checks {
			if err := check(p); err != nil {
				return err
			}
		}
		return nil
	}
}

func str(path string) Validator {
	return func(p gjson.Result) error {
		if p.Get(path).Type != gjson.String {
			return malformed(path, "a string")
		}
		return nil
	}
}

func nonEmptyStr(path string) Validator {
	return func(p gjson.Result) error {
		v := p.Get(path)
		if v.Type != gjson.String || v.Str == "" {
			return malformed(path, "a non-empty string")
		}
		return nil
	}
}

func num(path string) Validator {
	return func(p gjson.Result) error {
		if p.Get(path).Type != gjson.Number {
			return malformed(path, "a number")
		}
		return nil
	}
}

func boolean(path string) Validator {
	return func(p gjson.Result) error {
		t := p.Get(path).Type
		if t != gjson.True && t != gjson.False {
			return malformed(path, "a boolean")
		}
		return nil
	}
}

func exists(path string) Validator {
	return func(p gjson.Result) error {
		if !p.Get(path).Exists() {
			return malformed(path, "present")
		}
		return nil
	}
}

// vec checks for an array of exactly n numbers.
func vec(path string, n int) Validator {
	return func(p gjson.Result) error {
		v := p.Get(path)
		if !v.IsArray() {
			return malformed(path, fmt.Sprintf("an array of %d numbers", n))
		}
		items := v.Array()
		if len(items) != n {
			return malformed(path, fmt.Sprintf("an array of %d numbers", n))
		}
		for _, item := range items {
			if item.Type != gjson.Number {
				return malformed(path, fmt.Sprintf("an array of %d numbers", n))
			}
		}
		return nil
	}
}

func numbers(path string) Validator {
	return func(p gjson.Result) error {
		v := p.Get(path)
		if !v.IsArray() {
			return malformed(path, "an array of numbers")
		}
		for _, item := range v.Array() {
			if item.Type != gjson.Number {
				return malformed(path, "an array of numbers")
			}
		}
		return nil
	}
}

func strs(path string) Validator {
	return func(p gjson.Result) error {
		v := p.Get(path)
		if !v.IsArray() {
			return malformed(path, "an array of strings")
		}
		for _, item := range v.Array() {
			if item.Type != gjson.String {
				return malformed(path, "an array of strings")
			}
		}
		return nil
	}
}

func object(path string, inner Validator) Validator {
	return func(p gjson.Result) error {
		v := p.Get(path)
		if !v.IsObject() {
			return malformed(path, "an object")
		}
		if err := inner(v); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	}
}

// each validates every element of the array at path. A missing array is
// treated as empty.
func each(path string, inner Validator) Validator {
	return func(p gjson.Result) error {
		v := p.Get(path)
		if !v.Exists() || v.Type == gjson.Null {
			return nil
		}
		if !v.IsArray() {
			return malformed(path, "an array")
		}
		for i, item := range v.Array() {
			if err := inner(item); err != nil {
				return fmt.Errorf("%s[%d]: %w", path, i, err)
			}
		}
		return nil
	}
}

func optional(path string, inner Validator) Validator {
	return func(p gjson.Result) error {
		v := p.Get(path)
		if !v.Exists() || v.Type == gjson.Null {
			return nil
		}
		return inner(p)
	}
}

func pose(prefix string) Validator {
	return shape(vec(prefix+"position", 3), vec(prefix+"quaternion", 4))
}

func transform(prefix string) Validator {
	return shape(pose(prefix), vec(prefix+"scale", 3))
}

var controllerShape = shape(num("controllerId"), pose(""))

var connectedUserShape = shape(
	nonEmptyStr("id"),
	str("name"),
	vec("color", 3),
	vec("position", 3),
	vec("quaternion", 4),
	each("controllers", controllerShape),
)

var serializedAppShape = shape(
	nonEmptyStr("id"),
	transform(""),
	optional("openComponents", strs("openComponents")),
	each("highlightedComponents", shape(str("userId"), str("entityType"), str("entityId"))),
)

var serializedMenuShape = shape(
	nonEmptyStr("objectId"),
	str("entityType"),
	str("entityId"),
	transform(""),
)

// catalogue holds the one canonical shape per tag.
var catalogue = map[Tag]Validator{
	TagSelfConnected: shape(
		object("self", shape(nonEmptyStr("id"), str("name"), vec("color", 3))),
		each("users", connectedUserShape),
	),
	TagUserConnected: shape(
		nonEmptyStr("id"),
		str("name"),
		vec("color", 3),
		vec("position", 3),
		vec("quaternion", 4),
	),
	TagUserDisconnected: nonEmptyStr("id"),
	TagInitialLandscape: shape(
		object("landscape", shape(str("landscapeToken"), num("timestamp"), transform(""))),
		each("openApps", serializedAppShape),
		each("detachedMenus", serializedMenuShape),
	),
	TagUserControllerConnect:    object("controller", controllerShape),
	TagUserControllerDisconnect: num("controllerId"),
	TagUserPositions: shape(
		optional("camera", pose("camera.")),
		optional("controller1", pose("controller1.")),
		optional("controller2", pose("controller2.")),
	),
	TagAppOpened: shape(nonEmptyStr("id"), transform("")),
	TagAppClosed: nonEmptyStr("appId"),
	TagComponentUpdate: shape(
		nonEmptyStr("appId"),
		str("componentId"),
		boolean("isOpened"),
		boolean("isFoundation"),
	),
	TagHighlightingUpdate: shape(
		nonEmptyStr("appId"),
		str("entityType"),
		str("entityId"),
		boolean("isHighlighted"),
	),
	TagSpectatingUpdate: shape(
		boolean("isSpectating"),
		str("spectatedUserId"),
		strs("spectatingUserIds"),
		each("configuration", shape(str("deviceId"), numbers("projectionMatrix"))),
	),
	TagPingUpdate:      shape(num("controllerId"), boolean("isPinging")),
	TagMousePingUpdate: shape(str("modelId"), vec("position", 3)),
	TagTimestampUpdate: num("timestamp"),
	TagObjectMoved:     shape(nonEmptyStr("objectId"), transform("")),
	TagMenuDetached: shape(
		nonEmptyStr("nonce"),
		str("entityType"),
		str("entityId"),
		transform(""),
	),
	TagMenuDetachedForward: shape(
		nonEmptyStr("objectId"),
		str("entityType"),
		str("entityId"),
		transform(""),
	),
	TagDetachedMenuClosed: nonEmptyStr("menuId"),
	TagResponse:           shape(nonEmptyStr("nonce"), exists("response")),
}
