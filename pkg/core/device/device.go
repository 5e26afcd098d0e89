// Package device declares the device-control tools offered to the model and
// simulates their effect. The host cannot toggle radios or change levels, so
// every action reports what it would have done.
package device

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

const (
	ToolToggleSystemFeature = "toggleSystemFeature"
	ToolSetSystemLevel      = "setSystemLevel"
)

// Tools returns the declarations offered for device_control turns.
func Tools() []types.FunctionDeclaration {
	return []types.FunctionDeclaration{
		{
			Name:        ToolToggleSystemFeature,
			Description: "Turns a system feature on or off.",
			Parameters: []types.Parameter{
				{Name: "feature", Type: types.ParamString, Enum: []string{"wifi", "bluetooth", "flashlight", "airplane_mode"}},
				{Name: "enabled", Type: types.ParamBoolean},
			},
			Required: []string{"feature", "enabled"},
		},
		{
			Name:        ToolSetSystemLevel,
			Description: "Sets volume or brightness.",
			Parameters: []types.Parameter{
				{Name: "feature", Type: types.ParamString, Enum: []string{"volume", "brightness"}},
				{Name: "level", Type: types.ParamNumber},
			},
			Required: []string{"feature", "level"},
		},
	}
}

// Result is the outcome of one action.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"result"`
}

// Executor carries out tool invocations requested by the model.
type Executor interface {
	Execute(ctx context.Context, call types.FunctionCall) Result
}

// Simulator is an Executor that only describes the requested action.
type Simulator struct{}

// Execute implements Executor.
func (Simulator) Execute(_ context.Context, call types.FunctionCall) Result {
	switch call.Name {
	case ToolToggleSystemFeature:
		state := "off"
		if enabled, _ := call.Args["enabled"].(bool); enabled {
			state = "on"
		}
		return Result{Success: true, Message: fmt.Sprintf("Simulated turning %v %s.", call.Args["feature"], state)}
	case ToolSetSystemLevel:
		return Result{Success: true, Message: fmt.Sprintf("Simulated setting %v to %s%%.", call.Args["feature"], formatLevel(call.Args["level"]))}
	case "navigate":
		return Result{Success: true, Message: fmt.Sprintf("Simulated navigating to %v.", call.Args["destination"])}
	case "typeText":
		return Result{Success: true, Message: fmt.Sprintf("Simulated typing the text: %q", fmt.Sprint(call.Args["text"]))}
	case "screenGesture":
		return Result{Success: true, Message: fmt.Sprintf("Simulated a %v gesture.", call.Args["gesture"])}
	default:
		return Result{Success: false, Message: fmt.Sprintf("Action '%s' is not recognized or cannot be performed.", call.Name)}
	}
}

func formatLevel(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case nil:
		return "?"
	default:
		return fmt.Sprint(n)
	}
}

// Invoke runs call through exec and records it as a ToolInvocation.
func Invoke(ctx context.Context, exec Executor, call types.FunctionCall) types.ToolInvocation {
	inv := types.ToolInvocation{ID: call.ID, Name: call.Name, Args: call.Args}
	if exec != nil {
		inv.Result = exec.Execute(ctx, call).Message
	}
	return inv
}
