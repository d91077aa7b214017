package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/synapsehq/synapse/internal/agent"
	"github.com/synapsehq/synapse/internal/cancel"
	"github.com/synapsehq/synapse/internal/ingestion"
	"github.com/synapsehq/synapse/internal/threads"
	"github.com/synapsehq/synapse/pkg/models"
)

// scriptedRuntime replays a fixed event sequence. If gate is non-nil it
// waits on it before each event, letting tests interleave cancellation.
// If done is non-nil it is closed when the producer goroutine exits.
type scriptedRuntime struct {
	events   []agent.TurnEvent
	startErr error
	gate     chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	lastReq agent.TurnRequest
}

func (r *scriptedRuntime) RunTurn(ctx context.Context, req agent.TurnRequest) (<-chan agent.TurnEvent, error) {
	r.mu.Lock()
	r.lastReq = req
	r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}
	out := make(chan agent.TurnEvent)
	go func() {
		defer close(out)
		if r.done != nil {
			defer close(r.done)
		}
		for _, ev := range r.events {
			if r.gate != nil {
				select {
				case <-r.gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *scriptedRuntime) request() agent.TurnRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReq
}

type staticVerifier map[string]*models.User

func (v staticVerifier) Verify(token string) (*models.User, error) {
	user, ok := v[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return user, nil
}

type testEnv struct {
	server    *Server
	runtime   *scriptedRuntime
	directory *threads.Memory
	cancels   *cancel.MemoryStore
	jobs      *ingestion.MemoryStore
}

func newTestEnv(t *testing.T, runtime *scriptedRuntime) *testEnv {
	t.Helper()
	directory := threads.NewMemory()
	cancels := cancel.NewMemoryStore()
	jobs := ingestion.NewMemoryStore()

	server, err := NewServer(Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Verifier: staticVerifier{
			"valid-token": {ID: "u-1", Name: "Ada"},
		},
		Directory:    directory,
		Cancels:      cancels,
		Jobs:         jobs,
		Runtime:      runtime,
		PollInterval: 5 * time.Millisecond, // keeps watch tests fast
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testEnv{
		server:    server,
		runtime:   runtime,
		directory: directory,
		cancels:   cancels,
		jobs:      jobs,
	}
}

// collect gathers everything a turn emits.
type collector struct {
	messages []any
}

func (c *collector) emit(v any) error {
	c.messages = append(c.messages, v)
	return nil
}

func boundSession() *session {
	return &session{
		user:     &models.User{ID: "u-1", Name: "Ada"},
		threadID: "t-1",
	}
}

func TestStreamTurnHappyPath(t *testing.T) {
	runtime := &scriptedRuntime{events: []agent.TurnEvent{
		{Kind: agent.EventContentDelta, Content: "He"},
		{Kind: agent.EventContentDelta, Content: "llo"},
		{Kind: agent.EventTurnEnd, Usage: &models.TokenUsage{TotalTokens: 12}},
	}}
	env := newTestEnv(t, runtime)
	env.directory.AddThread("t-1", "u-1")

	out := &collector{}
	env.server.streamTurn(context.Background(), boundSession(), "hi", false, out.emit)

	if len(out.messages) != 3 {
		t.Fatalf("expected 3 messages, got %#v", out.messages)
	}
	if msg := out.messages[0].(contentMsg); msg.Content != "He" {
		t.Errorf("first content: %q", msg.Content)
	}
	if msg := out.messages[1].(contentMsg); msg.Content != "llo" {
		t.Errorf("second content: %q", msg.Content)
	}
	end := out.messages[2].(endMsg)
	usage, ok := end.Tokens.(*models.TokenUsage)
	if !ok || usage.TotalTokens != 12 {
		t.Errorf("expected usage with 12 total tokens, got %#v", end.Tokens)
	}

	if env.directory.TouchCount("t-1") != 1 {
		t.Errorf("expected exactly one touch, got %d", env.directory.TouchCount("t-1"))
	}
}

func TestStreamTurnEndWithoutUsage(t *testing.T) {
	runtime := &scriptedRuntime{events: []agent.TurnEvent{
		{Kind: agent.EventTurnEnd},
	}}
	env := newTestEnv(t, runtime)

	out := &collector{}
	env.server.streamTurn(context.Background(), boundSession(), "hi", false, out.emit)

	end := out.messages[len(out.messages)-1].(endMsg)
	if _, ok := end.Tokens.(map[string]any); !ok {
		t.Errorf("missing usage should serialize as empty object, got %#v", end.Tokens)
	}
}

func TestStreamTurnSkipsEmptyDeltas(t *testing.T) {
	runtime := &scriptedRuntime{events: []agent.TurnEvent{
		{Kind: agent.EventContentDelta, Content: ""},
		{Kind: agent.EventContentDelta, Content: "hi"},
		{Kind: agent.EventTurnEnd},
	}}
	env := newTestEnv(t, runtime)

	out := &collector{}
	env.server.streamTurn(context.Background(), boundSession(), "hi", false, out.emit)

	if len(out.messages) != 2 {
		t.Fatalf("empty delta should be skipped, got %#v", out.messages)
	}
}

func TestStreamTurnToolGating(t *testing.T) {
	events := []agent.TurnEvent{
		{Kind: agent.EventToolStart, ToolName: "search"},
		{Kind: agent.EventToolEnd, ToolName: "search", ToolOutput: strings.Repeat("x", 500)},
		{Kind: agent.EventTurnEnd},
	}

	// Hidden by default.
	env := newTestEnv(t, &scriptedRuntime{events: events})
	out := &collector{}
	env.server.streamTurn(context.Background(), boundSession(), "hi", false, out.emit)
	if len(out.messages) != 1 {
		t.Fatalf("tool events should be hidden, got %#v", out.messages)
	}

	// Visible and truncated when requested.
	env = newTestEnv(t, &scriptedRuntime{events: events})
	out = &collector{}
	env.server.streamTurn(context.Background(), boundSession(), "hi", true, out.emit)
	if len(out.messages) != 3 {
		t.Fatalf("expected tool_start, tool_end, end, got %#v", out.messages)
	}
	if msg := out.messages[0].(toolStartMsg); msg.ToolName != "search" {
		t.Errorf("tool_start name: %q", msg.ToolName)
	}
	toolEnd := out.messages[1].(toolEndMsg)
	if len(toolEnd.Output) != toolOutputLimit {
		t.Errorf("tool output should be truncated to %d chars, got %d", toolOutputLimit, len(toolEnd.Output))
	}
}

func TestStreamTurnCancellation(t *testing.T) {
	runtime := &scriptedRuntime{events: []agent.TurnEvent{
		{Kind: agent.EventContentDelta, Content: "partial"},
		{Kind: agent.EventContentDelta, Content: "never seen"},
		{Kind: agent.EventTurnEnd},
	}}
	env := newTestEnv(t, runtime)

	ctx := context.Background()
	cancelled := false
	out := &collector{}
	emit := func(v any) error {
		// Request cancellation after the first message reaches the client.
		if !cancelled {
			cancelled = true
			if err := env.cancels.Request(ctx, "t-1"); err != nil {
				t.Fatalf("request cancel: %v", err)
			}
		}
		return out.emit(v)
	}

	env.server.streamTurn(ctx, boundSession(), "hi", false, emit)

	last := out.messages[len(out.messages)-1]
	if _, ok := last.(cancelledMsg); !ok {
		t.Fatalf("expected cancelled terminal, got %#v", out.messages)
	}
	for _, msg := range out.messages {
		if _, ok := msg.(endMsg); ok {
			t.Error("cancelled turn must not emit end")
		}
	}
	if env.cancels.IsCancelled(ctx, "t-1") {
		t.Error("observed flag should be consumed")
	}
	if env.directory.TouchCount("t-1") != 1 {
		t.Errorf("expected exactly one touch, got %d", env.directory.TouchCount("t-1"))
	}
}

func TestStreamTurnCancellationReleasesRuntime(t *testing.T) {
	// Many pending events: the producer outlives the aggregator unless the
	// turn's context is cancelled when the stream is abandoned.
	events := make([]agent.TurnEvent, 100)
	for i := range events {
		events[i] = agent.TurnEvent{Kind: agent.EventContentDelta, Content: "x"}
	}
	runtime := &scriptedRuntime{events: events, done: make(chan struct{})}
	env := newTestEnv(t, runtime)

	ctx := context.Background()
	out := &collector{}
	emit := func(v any) error {
		if err := env.cancels.Request(ctx, "t-1"); err != nil {
			t.Fatalf("request cancel: %v", err)
		}
		return out.emit(v)
	}

	// The connection context stays live, as it does between turns.
	env.server.streamTurn(ctx, boundSession(), "hi", false, emit)

	if _, ok := out.messages[len(out.messages)-1].(cancelledMsg); !ok {
		t.Fatalf("expected cancelled terminal, got %#v", out.messages)
	}
	select {
	case <-runtime.done:
	case <-time.After(2 * time.Second):
		t.Fatal("runtime producer still blocked after the turn was abandoned")
	}
}

func TestStreamTurnRuntimeError(t *testing.T) {
	runtime := &scriptedRuntime{events: []agent.TurnEvent{
		{Kind: agent.EventContentDelta, Content: "some"},
		{Kind: agent.EventError, Err: errors.New("model overloaded")},
	}}
	env := newTestEnv(t, runtime)

	out := &collector{}
	env.server.streamTurn(context.Background(), boundSession(), "hi", false, out.emit)

	last := out.messages[len(out.messages)-1].(errorMsg)
	if !strings.Contains(last.Message, "model overloaded") {
		t.Errorf("expected error detail, got %q", last.Message)
	}

	terminals := 0
	for _, msg := range out.messages {
		switch msg.(type) {
		case endMsg, cancelledMsg, errorMsg:
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("expected exactly one terminal message, got %d", terminals)
	}
}

func TestStreamTurnStartFailure(t *testing.T) {
	runtime := &scriptedRuntime{startErr: errors.New("runtime down")}
	env := newTestEnv(t, runtime)

	out := &collector{}
	env.server.streamTurn(context.Background(), boundSession(), "hi", false, out.emit)

	if len(out.messages) != 1 {
		t.Fatalf("expected a single error message, got %#v", out.messages)
	}
	if msg := out.messages[0].(errorMsg); !strings.Contains(msg.Message, "runtime down") {
		t.Errorf("expected start failure detail, got %q", msg.Message)
	}
	if env.directory.TouchCount("t-1") != 1 {
		t.Error("failed turns still touch the thread exactly once")
	}
}

func TestStreamTurnStreamEndsWithoutTerminal(t *testing.T) {
	runtime := &scriptedRuntime{events: []agent.TurnEvent{
		{Kind: agent.EventContentDelta, Content: "half"},
	}}
	env := newTestEnv(t, runtime)

	out := &collector{}
	env.server.streamTurn(context.Background(), boundSession(), "hi", false, out.emit)

	last := out.messages[len(out.messages)-1]
	if _, ok := last.(errorMsg); !ok {
		t.Fatalf("truncated stream must still end with a terminal message, got %#v", last)
	}
}

func TestStreamTurnEnhancesMessageWithFiles(t *testing.T) {
	runtime := &scriptedRuntime{events: []agent.TurnEvent{{Kind: agent.EventTurnEnd}}}
	env := newTestEnv(t, runtime)

	sess := boundSession()
	sess.fileIDs = []string{"f-1", "f-2"}
	env.server.streamTurn(context.Background(), sess, "summarize", false, (&collector{}).emit)

	sent := runtime.request().Message
	if !strings.HasPrefix(sent, "summarize") {
		t.Errorf("raw text should lead the message, got %q", sent)
	}
	if n := strings.Count(sent, "uploaded the following files"); n != 1 {
		t.Errorf("expected exactly one file block, got %d in %q", n, sent)
	}
	if !strings.Contains(sent, "f-1") || !strings.Contains(sent, "f-2") {
		t.Errorf("file ids missing from %q", sent)
	}
}

func TestStreamTurnNoFilesNoBlock(t *testing.T) {
	runtime := &scriptedRuntime{events: []agent.TurnEvent{{Kind: agent.EventTurnEnd}}}
	env := newTestEnv(t, runtime)

	env.server.streamTurn(context.Background(), boundSession(), "plain", false, (&collector{}).emit)

	if sent := runtime.request().Message; sent != "plain" {
		t.Errorf("message should be unmodified without files, got %q", sent)
	}
}
