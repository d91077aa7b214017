package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

type fakeExecutor struct {
	calls []string
	err   error
}

func (e *fakeExecutor) Execute(ctx context.Context, name, arguments string) (string, error) {
	e.calls = append(e.calls, name+"("+arguments+")")
	if e.err != nil {
		return "", e.err
	}
	return "result of " + name, nil
}

func collectEmitted() (func(TurnEvent) bool, *[]TurnEvent) {
	var events []TurnEvent
	return func(ev TurnEvent) bool {
		events = append(events, ev)
		return true
	}, &events
}

func TestFlushToolCallsOrderAndEvents(t *testing.T) {
	executor := &fakeExecutor{}
	runtime := &OpenAIRuntime{executor: executor}

	calls := map[int]*pendingCall{
		1: {name: "read_file"},
		0: {name: "search"},
	}
	calls[0].args.WriteString(`{"q":"go"}`)
	calls[1].args.WriteString(`{"path":"a.txt"}`)

	emit, events := collectEmitted()
	if !runtime.flushToolCalls(context.Background(), calls, emit) {
		t.Fatal("flush aborted")
	}

	// Index order, start/end pairs.
	want := []struct {
		kind EventKind
		name string
	}{
		{EventToolStart, "search"},
		{EventToolEnd, "search"},
		{EventToolStart, "read_file"},
		{EventToolEnd, "read_file"},
	}
	if len(*events) != len(want) {
		t.Fatalf("expected %d events, got %#v", len(want), *events)
	}
	for i, w := range want {
		if (*events)[i].Kind != w.kind || (*events)[i].ToolName != w.name {
			t.Errorf("event %d: expected %v %s, got %v %s",
				i, w.kind, w.name, (*events)[i].Kind, (*events)[i].ToolName)
		}
	}
	if out := (*events)[1].ToolOutput; out != "result of search" {
		t.Errorf("tool output: %q", out)
	}
	if len(executor.calls) != 2 || !strings.HasPrefix(executor.calls[0], "search(") {
		t.Errorf("executor calls: %v", executor.calls)
	}
}

func TestFlushToolCallsExecutorErrorBecomesOutput(t *testing.T) {
	runtime := &OpenAIRuntime{executor: &fakeExecutor{err: errors.New("boom")}}
	calls := map[int]*pendingCall{0: {name: "search"}}

	emit, events := collectEmitted()
	runtime.flushToolCalls(context.Background(), calls, emit)

	if len(*events) != 2 {
		t.Fatalf("expected start and end, got %#v", *events)
	}
	if out := (*events)[1].ToolOutput; !strings.Contains(out, "boom") {
		t.Errorf("executor failure should surface in output, got %q", out)
	}
}

func TestFlushToolCallsSkipsNameless(t *testing.T) {
	runtime := &OpenAIRuntime{}
	calls := map[int]*pendingCall{0: {}}

	emit, events := collectEmitted()
	runtime.flushToolCalls(context.Background(), calls, emit)

	if len(*events) != 0 {
		t.Errorf("nameless accumulations must be dropped, got %#v", *events)
	}
}

func TestWithToolsConfiguresRequests(t *testing.T) {
	executor := &fakeExecutor{}
	tools := []openai.Tool{{
		Type:     openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{Name: "search"},
	}}
	runtime := NewOpenAIRuntime("test-key", "gpt-4o",
		WithTools(tools, executor),
		WithMaxTokens(256))

	chatReq := runtime.newChatRequest(TurnRequest{UserName: "Ada", Message: "hi"})
	if !chatReq.Stream || chatReq.StreamOptions == nil || !chatReq.StreamOptions.IncludeUsage {
		t.Error("turn requests must stream with usage reporting")
	}
	if chatReq.MaxTokens != 256 {
		t.Errorf("max tokens: %d", chatReq.MaxTokens)
	}
	if len(chatReq.Tools) != 1 || chatReq.Tools[0].Function.Name != "search" {
		t.Errorf("registered tools missing from request: %+v", chatReq.Tools)
	}
	if len(chatReq.Messages) != 2 || chatReq.Messages[1].Content != "hi" {
		t.Errorf("messages: %+v", chatReq.Messages)
	}
	if !strings.Contains(chatReq.Messages[0].Content, "Ada") {
		t.Errorf("system prompt should address the user, got %q", chatReq.Messages[0].Content)
	}

	// The registered executor serves the tool calls the stream produces.
	calls := map[int]*pendingCall{0: {name: "search"}}
	emit, events := collectEmitted()
	runtime.flushToolCalls(context.Background(), calls, emit)
	if len(executor.calls) != 1 || len(*events) != 2 {
		t.Errorf("executor not wired: calls %v, events %#v", executor.calls, *events)
	}
}

func TestEventKindString(t *testing.T) {
	cases := map[EventKind]string{
		EventContentDelta: "content_delta",
		EventToolStart:    "tool_start",
		EventToolEnd:      "tool_end",
		EventTurnEnd:      "turn_end",
		EventError:        "error",
		EventKind(42):     "unknown",
	}
	for kind, want := range cases {
		if kind.String() != want {
			t.Errorf("%d: expected %q, got %q", kind, want, kind.String())
		}
	}
}
