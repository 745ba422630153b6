package router

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-roomsync/pkg/pipeline"
)

// run executes the modifiers, then the actions. The first failing step
// halts the pipeline.
func (r *EventRouter) run(cargo *pipeline.Cargo, pipe pipeline.Pipeline) {
	for _, step := range pipe.Modifiers {
		if err := r.executeStep(cargo, step); err != nil {
			if errors.Is(err, pipeline.ErrReject) {
				cargo.Logger.Debug("Message rejected", slog.String("modifier", step.Name), slog.Any("reason", err))
			} else {
				cargo.Logger.Error("Modifier failed, halting pipeline", slog.String("modifier", step.Name), slog.Any("error", err))
			}
			return
		}
	}
	for _, step := range pipe.Actions {
		if err := r.executeStep(cargo, step); err != nil {
			cargo.Logger.Error("Action failed, halting pipeline", slog.String("action", step.Name), slog.Any("error", err))
			return
		}
	}
}

func (r *EventRouter) executeStep(cargo *pipeline.Cargo, step pipeline.Step) error {
	params, err := r.engine.ResolveParams(cargo, step.Params)
	if err != nil {
		return fmt.Errorf("resolve params of '%s': %w", step.Name, err)
	}
	return step.Function(cargo, params...)
}
