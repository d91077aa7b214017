// Package agent defines the boundary between the gateway and the agent
// runtime that produces a conversation turn.
//
// The runtime is opaque to the gateway: the gateway hands it one user
// message plus turn context and consumes a typed event sequence until a
// terminal event. How the runtime reasons, picks tools or builds prompts is
// not this package's concern.
package agent

import (
	"context"

	"github.com/synapsehq/synapse/pkg/models"
)

// EventKind discriminates the closed set of turn events.
type EventKind int

const (
	// EventContentDelta carries a partial chunk of assistant text.
	EventContentDelta EventKind = iota

	// EventToolStart signals that the runtime began executing a tool.
	EventToolStart

	// EventToolEnd signals tool completion and carries its output.
	EventToolEnd

	// EventTurnEnd ends the turn, optionally carrying usage metadata.
	EventTurnEnd

	// EventError ends the turn with a runtime failure.
	EventError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventContentDelta:
		return "content_delta"
	case EventToolStart:
		return "tool_start"
	case EventToolEnd:
		return "tool_end"
	case EventTurnEnd:
		return "turn_end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// TurnEvent is one event of a turn's stream. Exactly the fields for the
// event's kind are set; everything else is zero.
type TurnEvent struct {
	Kind EventKind

	// Content is the text delta for EventContentDelta.
	Content string

	// ToolName identifies the tool for EventToolStart and EventToolEnd.
	ToolName string

	// ToolOutput is the tool's stringified result for EventToolEnd.
	ToolOutput string

	// Usage carries token usage for EventTurnEnd when the runtime reports it.
	Usage *models.TokenUsage

	// Err is the failure for EventError. The stream closes after it.
	Err error
}

// TurnRequest is the full context for one turn.
type TurnRequest struct {
	ThreadID string
	UserID   string
	UserName string
	FileIDs  []string
	Message  string
}

// Runtime produces one turn as a lazy event sequence.
//
// The returned channel is closed after a terminal event (EventTurnEnd or
// EventError). A non-nil error from RunTurn means the turn never started.
// Implementations must respect ctx and stop producing when it is done.
type Runtime interface {
	RunTurn(ctx context.Context, req TurnRequest) (<-chan TurnEvent, error)
}
