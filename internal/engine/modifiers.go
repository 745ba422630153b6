package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/a-essam23/go-roomsync/pkg/pipeline"
	"github.com/a-essam23/go-roomsync/pkg/state"
)

type rateLimitState struct {
	Requests int
}

// parseRate reads "<count>/<s|m|h>".
func parseRate(spec string) (int, time.Duration, error) {
	parts := strings.Split(spec, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid rate_limit format: %s", spec)
	}

	limit, err := strconv.Atoi(parts[0])
	if err != nil || limit <= 0 {
		return 0, 0, fmt.Errorf("invalid rate_limit count: %s", parts[0])
	}

	var duration time.Duration
	switch strings.ToLower(parts[1]) {
	case "s":
		duration = time.Second
	case "m":
		duration = time.Minute
	case "h":
		duration = time.Hour
	default:
		return 0, 0, fmt.Errorf("invalid rate_limit duration unit: %s", parts[1])
	}
	return limit, duration, nil
}

// newRateLimitModifier allows at most count messages per participant and
// event within a fixed window that starts with the first message.
func newRateLimitModifier(logger *slog.Logger) pipeline.ModifierFunc {
	return func(pctx *pipeline.Cargo, params ...string) error {
		if len(params) != 1 {
			return errors.New("'rate_limit' modifier requires exactly one parameter (e.g., '10/s')")
		}
		limit, duration, err := parseRate(params[0])
		if err != nil {
			return err
		}
		if pctx.Participant == nil {
			return errNoParticipant
		}

		modifierName := "rate_limit"
		userID := pctx.Participant.ID
		eventName := string(pctx.Event)
		manager := pctx.StateManager

		existingState, found := manager.GetModifierState(modifierName, userID, eventName)
		if !found {
			// First request in the window. Create the state.
			newState := &state.ModifierState{Value: &rateLimitState{Requests: 1}}
			newState.Timer = time.AfterFunc(duration, func() {
				logger.Debug("Auto-cleaning expired rate_limit state", "user", userID, "event", eventName)
				manager.DeleteModifierState(modifierName, userID, eventName)
			})
			manager.SetModifierState(modifierName, userID, eventName, newState)
			return nil
		}

		existingState.Lock()
		defer existingState.Unlock()
		current := existingState.Value.(*rateLimitState)
		if current.Requests < limit {
			current.Requests++
			return nil
		}
		return fmt.Errorf("%w: rate limit for event '%s' exceeded", pipeline.ErrReject, eventName)
	}
}
