package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/antoniostano/gatewayd/internal/providers"
)

// RegisterBuiltins adds the tools every device gets regardless of
// per-device plugin configuration: the clock and the exit-intent handler.
func RegisterBuiltins(r *Registry, onExit func(session any, farewell string)) error {
	if err := r.Register(getTimeDescriptor()); err != nil {
		return err
	}
	return r.Register(exitIntentDescriptor(onExit))
}

var weekdayNames = map[time.Weekday]string{
	time.Sunday:    "Sunday",
	time.Monday:    "Monday",
	time.Tuesday:   "Tuesday",
	time.Wednesday: "Wednesday",
	time.Thursday:  "Thursday",
	time.Friday:    "Friday",
	time.Saturday:  "Saturday",
}

func getTimeDescriptor() Descriptor {
	return Descriptor{
		Type: TypeWait,
		Schema: providers.ToolSchema{
			Name:        "get_time",
			Description: "Get the current date and time.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
				"required":   []string{},
			},
		},
		Handler: func(_ context.Context, _ any, _ json.RawMessage) (Result, error) {
			now := time.Now()
			text := "Current date: " + now.Format("2006-01-02") +
				", current time: " + now.Format("15:04:05") +
				", " + weekdayNames[now.Weekday()]
			return Result{Action: ActionReqLLM, Result: text}, nil
		},
	}
}

type exitIntentArgs struct {
	SayGoodbye string `json:"say_goodbye"`
}

// exitIntentDescriptor ends the session after speaking a farewell. onExit
// is invoked with the caller-supplied session handle so the connection
// layer can set its own close_after_chat flag without this package
// importing internal/session.
func exitIntentDescriptor(onExit func(session any, farewell string)) Descriptor {
	return Descriptor{
		Type: TypeSystemCtl,
		Schema: providers.ToolSchema{
			Name:        "handle_exit_intent",
			Description: "Call this when the user wants to end the conversation or shut the system down.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"say_goodbye": map[string]any{
						"type":        "string",
						"description": "A friendly farewell to speak to the user before closing.",
					},
				},
				"required": []string{"say_goodbye"},
			},
		},
		Handler: func(_ context.Context, session any, raw json.RawMessage) (Result, error) {
			var args exitIntentArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return Result{Action: ActionError, Result: "failed to handle exit intent"}, nil
				}
			}
			farewell := args.SayGoodbye
			if farewell == "" {
				farewell = "Goodbye, take care!"
			}
			if onExit != nil {
				onExit(session, farewell)
			}
			return Result{Action: ActionResponse, Result: "exit intent handled", Response: farewell}, nil
		},
	}
}
