package agent

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/synapsehq/synapse/pkg/models"
)

// ToolExecutor runs a tool requested by the model and returns its
// stringified output. Implementations live outside this package.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, arguments string) (string, error)
}

// OpenAIRuntime streams turns from OpenAI chat completions.
//
// Safe for concurrent use; each RunTurn call creates an independent stream
// and goroutine.
type OpenAIRuntime struct {
	client     *openai.Client
	model      string
	maxTokens  int
	tools      []openai.Tool
	executor   ToolExecutor
	maxRetries int
	retryDelay time.Duration
}

// OpenAIOption configures the runtime.
type OpenAIOption func(*OpenAIRuntime)

// WithTools registers tool definitions and the executor that runs them.
func WithTools(tools []openai.Tool, executor ToolExecutor) OpenAIOption {
	return func(r *OpenAIRuntime) {
		r.tools = tools
		r.executor = executor
	}
}

// WithMaxTokens caps response length.
func WithMaxTokens(n int) OpenAIOption {
	return func(r *OpenAIRuntime) {
		r.maxTokens = n
	}
}

// NewOpenAIRuntime builds an OpenAI-backed runtime.
func NewOpenAIRuntime(apiKey, model string, opts ...OpenAIOption) *OpenAIRuntime {
	r := &OpenAIRuntime{
		client:     openai.NewClient(apiKey),
		model:      model,
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunTurn opens a completion stream for the request and translates it into
// turn events. The stream ends with EventTurnEnd carrying usage, or
// EventError.
func (r *OpenAIRuntime) RunTurn(ctx context.Context, req TurnRequest) (<-chan TurnEvent, error) {
	chatReq := r.newChatRequest(req)

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = r.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("open completion stream: %w", lastErr)
	}

	events := make(chan TurnEvent)
	go r.processStream(ctx, stream, events)
	return events, nil
}

// newChatRequest assembles the streaming completion request for one turn,
// applying the runtime's tool and token limit configuration.
func (r *OpenAIRuntime) newChatRequest(req TurnRequest) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.Message},
		},
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if r.maxTokens > 0 {
		chatReq.MaxTokens = r.maxTokens
	}
	if len(r.tools) > 0 {
		chatReq.Tools = r.tools
	}
	return chatReq
}

// pendingCall accumulates one tool call streamed across multiple chunks.
type pendingCall struct {
	name string
	args strings.Builder
}

// processStream consumes the OpenAI stream, accumulating tool call
// fragments by index and emitting turn events in upstream order.
func (r *OpenAIRuntime) processStream(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- TurnEvent) {
	defer close(events)
	defer stream.Close()

	calls := make(map[int]*pendingCall)
	var usage *models.TokenUsage

	emit := func(ev TurnEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				if !r.flushToolCalls(ctx, calls, emit) {
					return
				}
				emit(TurnEvent{Kind: EventTurnEnd, Usage: usage})
				return
			}
			emit(TurnEvent{Kind: EventError, Err: err})
			return
		}

		if response.Usage != nil {
			usage = &models.TokenUsage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
				TotalTokens:      response.Usage.TotalTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			if !emit(TurnEvent{Kind: EventContentDelta, Content: delta.Content}) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := calls[idx]
			if !ok {
				call = &pendingCall{}
				calls[idx] = call
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)
		}

		if response.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			if !r.flushToolCalls(ctx, calls, emit) {
				return
			}
			calls = make(map[int]*pendingCall)
		}
	}
}

// flushToolCalls executes accumulated tool calls in index order, emitting
// start/end events around each. Executor errors become the tool's output
// so a failing tool does not kill the turn.
func (r *OpenAIRuntime) flushToolCalls(ctx context.Context, calls map[int]*pendingCall, emit func(TurnEvent) bool) bool {
	for idx := 0; idx < len(calls); idx++ {
		call, ok := calls[idx]
		if !ok || call.name == "" {
			continue
		}
		if !emit(TurnEvent{Kind: EventToolStart, ToolName: call.name}) {
			return false
		}
		output := ""
		if r.executor != nil {
			out, err := r.executor.Execute(ctx, call.name, call.args.String())
			if err != nil {
				out = "tool error: " + err.Error()
			}
			output = out
		}
		if !emit(TurnEvent{Kind: EventToolEnd, ToolName: call.name, ToolOutput: output}) {
			return false
		}
	}
	return true
}

func systemPrompt(req TurnRequest) string {
	var b strings.Builder
	b.WriteString("You are Synapse, a helpful assistant for long-lived conversation threads.")
	if req.UserName != "" {
		b.WriteString(" You are talking to ")
		b.WriteString(req.UserName)
		b.WriteString(".")
	}
	return b.String()
}
