// Package panel drives the radio's front panel: push buttons that control
// the orchestrator and the relay that switches the amplifier.
package panel

import (
	"context"
	"fmt"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// Action is a named panel function a button is bound to.
type Action string

const (
	ActionSourceLocalQueue Action = "source_local_queue"
	ActionSourceStreamer   Action = "source_streamer"
	ActionSourceBluetooth  Action = "source_bluetooth"
	ActionPlayPause        Action = "play_pause"
	ActionStop             Action = "stop"
	ActionNext             Action = "next"
	ActionPrevious         Action = "previous"
	ActionVolumeUp         Action = "volume_up"
	ActionVolumeDown       Action = "volume_down"
	ActionPower            Action = "power"
)

var allActions = []Action{
	ActionSourceLocalQueue, ActionSourceStreamer, ActionSourceBluetooth,
	ActionPlayPause, ActionStop, ActionNext, ActionPrevious,
	ActionVolumeUp, ActionVolumeDown, ActionPower,
}

// ParseAction validates a configured action name.
func ParseAction(s string) (Action, error) {
	for _, a := range allActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("panel: unknown action %q", s)
}

// Repeats reports whether holding the button repeats the action.
func (a Action) Repeats() bool {
	return a == ActionVolumeUp || a == ActionVolumeDown
}

// Actions is what the panel controls; the orchestrator implements it.
type Actions interface {
	SetSource(ctx context.Context, b models.BackendType) error
	PlayPause(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	VolumeUp(ctx context.Context, step int) (int, error)
	VolumeDown(ctx context.Context, step int) (int, error)
	TogglePower(ctx context.Context) error
}

// Dispatch performs a. Volume actions use the configured step.
func Dispatch(ctx context.Context, act Actions, a Action) error {
	switch a {
	case ActionSourceLocalQueue:
		return act.SetSource(ctx, models.BackendLocalQueue)
	case ActionSourceStreamer:
		return act.SetSource(ctx, models.BackendStreamer)
	case ActionSourceBluetooth:
		return act.SetSource(ctx, models.BackendBluetooth)
	case ActionPlayPause:
		return act.PlayPause(ctx)
	case ActionStop:
		return act.Stop(ctx)
	case ActionNext:
		return act.Next(ctx)
	case ActionPrevious:
		return act.Previous(ctx)
	case ActionVolumeUp:
		_, err := act.VolumeUp(ctx, 0)
		return err
	case ActionVolumeDown:
		_, err := act.VolumeDown(ctx, 0)
		return err
	case ActionPower:
		return act.TogglePower(ctx)
	}
	return fmt.Errorf("panel: unknown action %q", a)
}
