package router

import (
	"context"
	"log/slog"

	"github.com/a-essam23/go-roomsync/internal/engine"
	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/pipeline"
	"github.com/a-essam23/go-roomsync/pkg/state"
	"github.com/google/uuid"
)

// EventRouter validates what participants send and runs the pipeline
// configured for its tag.
type EventRouter struct {
	logger       *slog.Logger
	stateManager state.Manager
	registry     *message.Registry
	engine       *engine.Registry
	pipelines    map[message.Tag]pipeline.Pipeline
}

func NewEventRouter(logger *slog.Logger, stateManager state.Manager, eng *engine.Registry, pipelines map[message.Tag]pipeline.Pipeline) *EventRouter {
	return &EventRouter{
		logger:       logger.With(slog.String("component", "event_router")),
		stateManager: stateManager,
		registry:     message.NewRelayRegistry(),
		engine:       eng,
		pipelines:    pipelines,
	}
}

func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	env, err := r.registry.Validate(msg)
	if err != nil {
		r.logger.Warn("Dropping invalid client message", slog.Any("connID", connID), slog.Any("error", err))
		return
	}

	pipe, ok := r.pipelines[env.Tag]
	if !ok {
		r.logger.Debug("No pipeline for event", slog.String("event", string(env.Tag)), slog.Any("connID", connID))
		return
	}

	connProfile, ok := r.stateManager.GetConnection(connID)
	if !ok {
		r.logger.Error("could not find connection profile for active connection", slog.Any("connID", connID))
		return
	}
	participant := connProfile.Participant
	if participant == nil {
		r.logger.Warn("Message before the participant joined", slog.Any("connID", connID))
		return
	}
	room, ok := r.stateManager.FindRoom(participant.RoomID)
	if !ok {
		r.logger.Warn("Participant's room is gone", slog.String("roomID", participant.RoomID))
		return
	}

	cargo := &pipeline.Cargo{
		Logger:       r.logger.With(slog.String("userID", participant.ID), slog.String("roomID", room.ID)),
		Ctx:          ctx,
		Connection:   connProfile,
		Participant:  participant,
		Room:         room,
		StateManager: r.stateManager,
		Event:        env.Tag,
		Payload:      env.Raw,
	}
	r.logger.Debug("Executing event pipeline", slog.Any("event", env.Tag), slog.Any("connID", connID))
	r.run(cargo, pipe)
}
