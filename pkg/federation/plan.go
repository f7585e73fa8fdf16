package federation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mode selects how RouteToolCall handles a call.
type Mode string

const (
	// ModeExecute runs the call immediately.
	ModeExecute Mode = "execute"
	// ModePlan only describes the call; it never touches a backend.
	ModePlan Mode = "plan"
	// ModeHybrid returns the plan together with the execution result.
	ModeHybrid Mode = "hybrid"
)

// ParseMode accepts the mode names case-insensitively; "" means execute.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeExecute:
		return ModeExecute, nil
	case ModePlan:
		return ModePlan, nil
	case ModeHybrid:
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("federation: unknown execution mode %q", s)
	}
}

// ExecutionPlan describes a deferred tool call.
type ExecutionPlan struct {
	PlanID        string          `json:"planId"`
	ToolName      string          `json:"toolName"`
	Arguments     json.RawMessage `json:"arguments"`
	TargetServer  string          `json:"targetServer"`
	CreatedAt     time.Time       `json:"createdAt"`
	EstimatedCost *float64        `json:"estimatedCost"`
	Dependencies  []string        `json:"dependencies"`
	SpecRef       string          `json:"specRef,omitempty"`
}

// RouteResult is the outcome of RouteToolCall. Plan is set for plan and
// hybrid modes, Execution for execute and hybrid modes.
type RouteResult struct {
	Mode      Mode            `json:"mode"`
	Plan      *ExecutionPlan  `json:"plan,omitempty"`
	Execution json.RawMessage `json:"execution,omitempty"`
}

func specRef(toolName string) string {
	return "mcp://catalog/tools/" + toolName
}
