package config

import (
	"fmt"

	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/pipeline"
)

type ActionFuncProvider func(name string) (pipeline.ActionFunc, bool)
type ModifierFuncProvider func(name string) (pipeline.ModifierFunc, bool)

// ParamChecker rejects templates referencing unknown variables. May be nil.
type ParamChecker func(templates []string) error

// CompilePipelines resolves every configured event into executable steps.
// Only tags accepted by the relay registry may carry a pipeline.
func CompilePipelines(cfg *Config, actions ActionFuncProvider, modifiers ModifierFuncProvider, params ParamChecker) error {
	known := make(map[message.Tag]bool)
	for _, tag := range message.NewRelayRegistry().Tags() {
		known[tag] = true
	}

	cfg.Pipelines = make(map[message.Tag]pipeline.Pipeline)
	for eventName, eventCfg := range cfg.Events {
		tag := message.Tag(eventName)
		if !known[tag] {
			return fmt.Errorf("event '%s' is not accepted from participants", eventName)
		}
		var pipe pipeline.Pipeline
		for _, modCfg := range eventCfg.Modifiers {
			if err := checkParams(params, modCfg.Params); err != nil {
				return fmt.Errorf("modifier '%s' in event '%s': %w", modCfg.Name, eventName, err)
			}
			fn, ok := modifiers(modCfg.Name)
			if !ok {
				return fmt.Errorf("unknown modifier '%s' in event '%s'", modCfg.Name, eventName)
			}
			pipe.Modifiers = append(pipe.Modifiers, pipeline.Step{
				Name:     modCfg.Name,
				Function: pipeline.ActionFunc(fn),
				Params:   modCfg.Params,
			})
		}
		for _, actionCfg := range eventCfg.Actions {
			if err := checkParams(params, actionCfg.Params); err != nil {
				return fmt.Errorf("action '%s' in event '%s': %w", actionCfg.Name, eventName, err)
			}
			// look up the Go function for this action name.
			fn, ok := actions(actionCfg.Name)
			if !ok {
				return fmt.Errorf("unknown action '%s' in event '%s'", actionCfg.Name, eventName)
			}
			pipe.Actions = append(pipe.Actions, pipeline.Step{
				Name:     actionCfg.Name,
				Function: fn,
				Params:   actionCfg.Params,
			})
		}
		cfg.Pipelines[tag] = pipe
	}
	cfg.Events = nil
	return nil
}

func checkParams(check ParamChecker, templates []string) error {
	if check == nil || len(templates) == 0 {
		return nil
	}
	return check(templates)
}
