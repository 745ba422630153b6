package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/pipeline"
	"github.com/a-essam23/go-roomsync/pkg/state"
)

var errNoParticipant = errors.New("message did not come from a room participant")

func requireParticipant(pctx *pipeline.Cargo) error {
	if pctx.Participant == nil || pctx.Room == nil {
		return errNoParticipant
	}
	return nil
}

// sendToOrigin encodes msg and queues it on the sender's connection.
func sendToOrigin(pctx *pipeline.Cargo, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	pctx.Connection.Transport.Send(data)
	return nil
}

// sendToOthers fans data out to every room member except the sender.
func sendToOthers(pctx *pipeline.Cargo, data []byte) {
	members, err := pctx.StateManager.GetRoomMembers(pctx.Room.ID)
	if err != nil {
		// the room disappears when its last member leaves
		pctx.Logger.Debug("Could not resolve room members", slog.Any("roomID", pctx.Room.ID), slog.Any("error", err))
		return
	}
	sent := 0
	for _, member := range members {
		if member.ID == pctx.Participant.ID || member.Connection == nil {
			continue
		}
		member.Connection.Transport.Send(data)
		sent++
	}
	pctx.Logger.Debug("Notified room", slog.Any("roomID", pctx.Room.ID), slog.Any("connection_count", sent))
}

// Broadcast encodes msg once and sends it to every participant in members.
func Broadcast(members []*state.Participant, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}
	for _, member := range members {
		if member.Connection != nil {
			member.Connection.Transport.Send(data)
		}
	}
	return nil
}

func response(nonce string, body any) (message.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return message.Response{}, err
	}
	return message.Response{
		Message:  message.Message{Event: message.TagResponse},
		Nonce:    nonce,
		Response: raw,
	}, nil
}
