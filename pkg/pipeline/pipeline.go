package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/state"
)

/*
 * The purpose of this is to detach the implementation of actions and modifiers
 * from the router that runs them for every relayed message.
 */

// ErrReject is returned by a modifier to drop a message without treating it
// as a failure.
var ErrReject = errors.New("message rejected")

type Cargo struct {
	Logger       *slog.Logger
	Ctx          context.Context
	Connection   *state.Connection
	Participant  *state.Participant
	Room         *state.Room
	StateManager state.Manager
	Event        message.Tag
	// Payload is the validated original message as sent by the participant.
	Payload []byte
	// Recorded is set once the message changed the room mirror.
	Recorded bool
}

// simple, testable functions that receive a Cargo and resolved string parameters
type ActionFunc func(pctx *Cargo, params ...string) error

// ModifierFunc guards a pipeline. A non-nil error stops the message before
// any action runs.
type ModifierFunc func(pctx *Cargo, params ...string) error

// represents one step in an execution pipeline
type Step struct {
	Name     string
	Function ActionFunc
	Params   []string // Raw template strings from YAML
}

// Pipeline is the compiled handling of one event tag.
type Pipeline struct {
	Modifiers []Step
	Actions   []Step
}
