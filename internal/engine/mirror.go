package engine

import (
	"context"

	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/state"
)

// record applies a participant's message to the room mirror so that late
// joiners receive the current room. It reports whether the mirror changed.
// Tags without persistent effect are ignored.
func record(ctx context.Context, mirror state.Store, userID string, tag message.Tag, raw []byte) (bool, error) {
	switch tag {
	case message.TagUserControllerConnect:
		return apply(raw, func(msg message.UserControllerConnect) bool {
			return mirror.ApplyControllerConnect(userID, msg.Controller)
		})
	case message.TagUserControllerDisconnect:
		return apply(raw, func(msg message.UserControllerDisconnect) bool {
			return mirror.ApplyControllerDisconnect(userID, msg.ControllerID)
		})
	case message.TagUserPositions:
		return apply(raw, func(msg message.UserPositions) bool {
			return mirror.ApplyUserPositions(userID, msg)
		})
	case message.TagPingUpdate:
		return apply(raw, func(msg message.PingUpdate) bool {
			return mirror.ApplyPing(userID, msg.ControllerID, msg.IsPinging)
		})
	case message.TagSpectatingUpdate:
		return apply(raw, func(msg message.SpectatingUpdate) bool {
			changed := false
			for _, id := range msg.SpectatingUserIDs {
				changed = mirror.SetUserSpectating(id, msg.IsSpectating) || changed
			}
			return changed
		})
	case message.TagAppOpened:
		return apply(raw, func(msg message.AppOpened) bool {
			return mirror.ApplyAppOpened(ctx, msg.ID, msg.Transform)
		})
	case message.TagAppClosed:
		return apply(raw, func(msg message.AppClosed) bool {
			return mirror.ApplyAppClosed(msg.AppID)
		})
	case message.TagComponentUpdate:
		return apply(raw, mirror.ApplyComponentUpdate)
	case message.TagHighlightingUpdate:
		return apply(raw, func(msg message.HighlightingUpdate) bool {
			return mirror.ApplyHighlight(userID, msg)
		})
	case message.TagObjectMoved:
		return apply(raw, func(msg message.ObjectMoved) bool {
			return mirror.ApplyObjectMoved(msg.ObjectID, msg.Transform)
		})
	case message.TagDetachedMenuClosed:
		return apply(raw, func(msg message.DetachedMenuClosed) bool {
			return mirror.ApplyMenuClosed(msg.MenuID)
		})
	case message.TagTimestampUpdate:
		msg, err := message.Decode[message.TimestampUpdate](raw)
		if err != nil {
			return false, err
		}
		err = mirror.PreserveRoom(ctx, func(ctx context.Context) error {
			return mirror.UpdateTimestamp(ctx, msg.Timestamp)
		}, state.RestoreOptions{RestoreLandscapeData: false})
		return err == nil, err
	default:
		return false, nil
	}
}

func apply[T any](raw []byte, fn func(T) bool) (bool, error) {
	msg, err := message.Decode[T](raw)
	if err != nil {
		return false, err
	}
	return fn(msg), nil
}
