package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/a-essam23/go-roomsync/pkg/pipeline"
	"github.com/tidwall/gjson"
)

type ResolverFunc func(pctx *pipeline.Cargo) (string, error)

// matches "{$name}" variables and "{.payload}" / "{.payload.path}" lookups
var templatePattern = regexp.MustCompile(`\{(\$[A-Za-z0-9_.]+|\.payload(?:\.[^}]+)?)\}`)

// ResolveParams expands the templates embedded in each raw parameter.
// Payload paths that don't exist resolve to "".
func (e *Registry) ResolveParams(pctx *pipeline.Cargo, templates []string) ([]string, error) {
	resolved := make([]string, len(templates))
	for i, tpl := range templates {
		var resolveErr error
		resolved[i] = templatePattern.ReplaceAllStringFunc(tpl, func(match string) string {
			inner := match[1 : len(match)-1]
			if name, ok := strings.CutPrefix(inner, "$"); ok {
				resolver, ok := e.GetParamResolver(name)
				if !ok {
					resolveErr = errors.Join(resolveErr, fmt.Errorf("unknown param variable '%s'", name))
					return ""
				}
				v, err := resolver(pctx)
				resolveErr = errors.Join(resolveErr, err)
				return v
			}
			if inner == ".payload" {
				return string(pctx.Payload)
			}
			return gjson.GetBytes(pctx.Payload, strings.TrimPrefix(inner, ".payload.")).String()
		})
		if resolveErr != nil {
			return nil, resolveErr
		}
	}
	return resolved, nil
}

// func for param "{$user.id}"
func _userID(pctx *pipeline.Cargo) (string, error) {
	if pctx.Participant == nil {
		return "", errors.New("param variable 'user.id' is unavailable")
	}
	return pctx.Participant.ID, nil
}

// func for param "{$user.name}"
func _userName(pctx *pipeline.Cargo) (string, error) {
	if pctx.Participant == nil {
		return "", errors.New("param variable 'user.name' is unavailable")
	}
	return pctx.Participant.Name, nil
}

// func for param "{$room.id}"
func _roomID(pctx *pipeline.Cargo) (string, error) {
	if pctx.Room == nil {
		return "", errors.New("param variable 'room.id' is unavailable")
	}
	return pctx.Room.ID, nil
}

// func for param "{$conn.id}"
func _connID(pctx *pipeline.Cargo) (string, error) {
	if pctx.Connection == nil {
		return "", errors.New("param variable 'conn.id' is unavailable")
	}
	return pctx.Connection.ID.String(), nil
}

func _event(pctx *pipeline.Cargo) (string, error) {
	return string(pctx.Event), nil
}
