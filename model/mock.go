package model

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a lightweight in-memory Provider useful for tests and
// examples. Calls consume queued scripts (exact event sequence, optionally
// ending in an error) in FIFO order first, then canned prompt responses,
// then a generic echo. Requests are recorded for assertion.
type MockProvider struct {
	mu        sync.Mutex
	info      Info
	scripts   []scriptEntry
	responses map[string]string
	requests  []Request
}

// scriptEntry is one queued playback: events first, then the optional error.
type scriptEntry struct {
	events []StreamEvent
	err    error
}

// NewMockProvider constructs a MockProvider with tool support enabled.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		info:      Info{Provider: "mock", SupportsTools: true},
		responses: make(map[string]string),
	}
}

// WithInfo overrides the advertised provider metadata.
func (m *MockProvider) WithInfo(info Info) *MockProvider {
	m.info = info
	return m
}

// QueueScript appends an exact event sequence to play back on a future call.
// Scripts are consumed in FIFO order before canned responses.
func (m *MockProvider) QueueScript(events ...StreamEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, scriptEntry{events: events})
}

// QueueError makes a future call fail with err instead of emitting events.
func (m *MockProvider) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, scriptEntry{err: err})
}

// QueueScriptError makes a future call emit the given events and then fail
// with err, mimicking a stream that breaks mid-flight.
func (m *MockProvider) QueueScriptError(err error, events ...StreamEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, scriptEntry{events: events, err: err})
}

// AddResponse registers a deterministic canned completion for an input prompt
// (matched against the last message's content).
func (m *MockProvider) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Requests returns a copy of all recorded requests.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// CallCount returns how many times Generate was invoked.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent recorded request, or nil.
func (m *MockProvider) LastRequest() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	req := m.requests[len(m.requests)-1]
	return &req
}

// Generate implements Provider. Scripted tool_call events invoke the
// request's ToolHandler before being forwarded, mirroring how real providers
// execute tools inside their generation loop.
func (m *MockProvider) Generate(ctx context.Context, req Request) (<-chan StreamEvent, <-chan error) {
	out := make(chan StreamEvent, 32)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var entry *scriptEntry
	if len(m.scripts) > 0 {
		e := m.scripts[0]
		m.scripts = m.scripts[1:]
		entry = &e
	}
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)

		events := m.cannedScript(req)
		var failure error
		if entry != nil {
			events = entry.events
			failure = entry.err
		}

		for _, ev := range events {
			if ev.Type == EventToolCall && ev.Tool != nil && req.ToolHandler != nil {
				// Real providers feed results back into the conversation;
				// the mock only needs the side effects.
				_, _ = req.ToolHandler(ctx, *ev.Tool)
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- ev:
			}
		}

		if failure != nil {
			errCh <- failure
		}
	}()

	return out, errCh
}

// cannedScript builds the default playback for unscripted calls.
func (m *MockProvider) cannedScript(req Request) []StreamEvent {
	var input string
	if len(req.Messages) > 0 {
		input = req.Messages[len(req.Messages)-1].Content
	}

	m.mu.Lock()
	full := m.responses[input]
	m.mu.Unlock()
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", input)
	}

	return ScriptText(full)
}

// Info implements Provider.
func (m *MockProvider) Info() Info { return m.info }

// ScriptText builds a complete single-message script emitting the given
// chunks as content deltas followed by a terminal completion of their
// concatenation.
func ScriptText(chunks ...string) []StreamEvent {
	events := []StreamEvent{{Type: EventMessageStart}}
	var full string
	for _, c := range chunks {
		full += c
		events = append(events, StreamEvent{Type: EventContentDelta, Delta: c})
	}
	events = append(events, StreamEvent{
		Type: EventMessageEnd,
		Final: &Completion{
			Content:      full,
			ModelID:      "mock-model",
			Usage:        Usage{InputTokens: 10, OutputTokens: len(full)/4 + 1},
			FinishReason: "stop",
		},
	})
	return events
}

// ScriptCompletion builds a script that emits no deltas, only a terminal
// completion. Useful for non-streaming decision and extraction calls.
func ScriptCompletion(content string) []StreamEvent {
	return []StreamEvent{
		{Type: EventMessageStart},
		{Type: EventMessageEnd, Final: &Completion{
			Content:      content,
			ModelID:      "mock-model",
			Usage:        Usage{InputTokens: 10, OutputTokens: len(content)/4 + 1},
			FinishReason: "stop",
		}},
	}
}
