package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/pipeline"
	"github.com/a-essam23/go-roomsync/pkg/state"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

func actionLog(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 1 {
		return errors.New("_log requires exactly 1 parameter: [message]")
	}
	attrs := []any{slog.Any("component", "action_log"), slog.String("event", string(pctx.Event))}
	if pctx.Participant != nil {
		attrs = append(attrs, slog.String("userID", pctx.Participant.ID))
	}
	pctx.Logger.Info(params[0], attrs...)
	return nil
}

// actionRecord applies the message to the room mirror.
func actionRecord(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 0 {
		return errors.New("_record does not accept any parameters")
	}
	if err := requireParticipant(pctx); err != nil {
		return err
	}
	if pctx.Room.Mirror == nil {
		return nil
	}
	recorded, err := record(pctx.Ctx, pctx.Room.Mirror, pctx.Participant.ID, pctx.Event, pctx.Payload)
	if err != nil {
		return fmt.Errorf("failed to record '%s': %w", pctx.Event, err)
	}
	pctx.Recorded = recorded
	return nil
}

// actionForward wraps the message with the sender's id and sends it to the
// rest of the room. With the "recorded" parameter it only forwards messages
// that changed the mirror.
func actionForward(pctx *pipeline.Cargo, params ...string) error {
	if len(params) > 1 || (len(params) == 1 && params[0] != "recorded") {
		return errors.New("_forward accepts at most 1 parameter: [recorded]")
	}
	if err := requireParticipant(pctx); err != nil {
		return err
	}
	if len(params) == 1 && !pctx.Recorded {
		pctx.Logger.Debug("Not forwarding unrecorded message", slog.String("event", string(pctx.Event)))
		return nil
	}
	data, err := message.Forward(pctx.Participant.ID, pctx.Payload)
	if err != nil {
		return fmt.Errorf("failed to wrap forwarded message: %w", err)
	}
	sendToOthers(pctx, data)
	return nil
}

// actionRespond answers a nonce-carrying request with whether it was
// recorded. Messages without a nonce are left alone.
func actionRespond(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 0 {
		return errors.New("_respond does not accept any parameters")
	}
	nonce := gjson.GetBytes(pctx.Payload, "nonce").String()
	if nonce == "" {
		return nil
	}
	res, err := response(nonce, message.SuccessResponse{Success: pctx.Recorded})
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	return sendToOrigin(pctx, res)
}

// actionDetach assigns an object id to a detached menu, answers the
// requester with it and announces the menu to everyone else.
func actionDetach(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 0 {
		return errors.New("_detach does not accept any parameters")
	}
	if err := requireParticipant(pctx); err != nil {
		return err
	}
	req, err := message.Decode[message.MenuDetached](pctx.Payload)
	if err != nil {
		return err
	}

	objectID := uuid.NewString()
	if pctx.Room.Mirror != nil {
		pctx.Recorded = pctx.Room.Mirror.ApplyMenuDetached(state.DetachedMenu{
			ObjectID:   objectID,
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			Transform:  req.Transform,
		})
	}

	res, err := response(req.Nonce, message.ObjectIDResponse{ObjectID: objectID})
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	if err := sendToOrigin(pctx, res); err != nil {
		return err
	}

	data, err := json.Marshal(message.MenuDetachedForward{
		Message:    message.Message{Event: message.TagMenuDetachedForward},
		ObjectID:   objectID,
		UserID:     pctx.Participant.ID,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Transform:  req.Transform,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal detached menu: %w", err)
	}
	sendToOthers(pctx, data)
	return nil
}
