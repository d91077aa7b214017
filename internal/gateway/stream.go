package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/synapsehq/synapse/internal/agent"
)

// toolOutputLimit caps the stringified tool output relayed to clients.
const toolOutputLimit = 200

// streamTurn runs exactly one chat turn: it invokes the agent runtime,
// translates the turn's event sequence into wire messages through emit, and
// enforces the cancellation and terminal-message contracts.
//
// The cancellation flag is checked before each upstream event is processed,
// so a cancel observed after an event was produced but before it was
// handled swallows that event. That matches the intent of "stop soon after
// cancel"; exact-event granularity is deliberately not promised.
//
// Every turn emits exactly one terminal message (end, cancelled or error)
// unless the emit callback itself fails, which means the connection is gone.
// The thread's last-active timestamp is touched exactly once per turn,
// whatever the outcome.
func (s *Server) streamTurn(ctx context.Context, sess *session, message string, showTools bool, emit func(any) error) {
	started := time.Now()
	outcome := "error"
	defer func() {
		if s.metrics != nil {
			s.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
			s.metrics.TurnDuration.Observe(time.Since(started).Seconds())
		}
		if err := s.directory.TouchLastActive(ctx, sess.threadID); err != nil {
			s.logger.Error("touch last active failed", "thread_id", sess.threadID, "error", err)
		}
	}()

	req := agent.TurnRequest{
		ThreadID: sess.threadID,
		UserID:   sess.user.ID,
		UserName: sess.user.Name,
		FileIDs:  sess.fileIDs,
		Message:  enhanceMessage(message, sess.fileIDs),
	}

	// The turn gets its own context so that abandoning the event stream
	// early (cancellation, write failure) releases the runtime's producer
	// instead of leaving it blocked until the connection closes.
	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()

	events, err := s.runtime.RunTurn(turnCtx, req)
	if err != nil {
		s.logger.Error("turn failed to start", "thread_id", sess.threadID, "error", err)
		_ = emit(wireError("Chat error: " + err.Error()))
		return
	}

	for event := range events {
		if s.cancels.IsCancelled(ctx, sess.threadID) {
			_ = s.cancels.Clear(ctx, sess.threadID)
			if emit(wireCancelled()) == nil {
				outcome = "cancelled"
			}
			return
		}

		switch event.Kind {
		case agent.EventContentDelta:
			if event.Content == "" {
				continue
			}
			if err := emit(wireContent(event.Content)); err != nil {
				return
			}
		case agent.EventToolStart:
			if !showTools {
				continue
			}
			if err := emit(wireToolStart(event.ToolName)); err != nil {
				return
			}
		case agent.EventToolEnd:
			if !showTools {
				continue
			}
			if err := emit(wireToolEnd(event.ToolName, truncate(event.ToolOutput, toolOutputLimit))); err != nil {
				return
			}
		case agent.EventTurnEnd:
			if emit(wireEnd(event.Usage)) == nil {
				outcome = "end"
			}
			return
		case agent.EventError:
			s.logger.Error("turn stream error", "thread_id", sess.threadID, "error", event.Err)
			_ = emit(wireError("Chat error: " + event.Err.Error()))
			return
		}
	}

	// The runtime closed the stream without a terminal event. The client
	// still gets its terminal message.
	s.logger.Warn("turn stream ended without terminal event", "thread_id", sess.threadID)
	_ = emit(wireError("Chat error: stream ended unexpectedly"))
}

// enhanceMessage appends a single "available files" block to the user's
// text when the thread has accumulated files.
func enhanceMessage(message string, fileIDs []string) string {
	if len(fileIDs) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n\nThe user has uploaded the following files for context:\n")
	for _, id := range fileIDs {
		b.WriteString("- ")
		b.WriteString(id)
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
