package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lumabot/lumabot/core"
)

// MockChatModel is a lightweight in-memory ChatModel useful for tests and
// examples. It replies deterministically: canned responses keyed by the last
// user text, an optional scripted sequence of outputs, or an echo fallback.
type MockChatModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	script    []ChatResponse
	calls     int
}

// NewMockChatModel constructs a MockChatModel with tool support enabled.
func NewMockChatModel(name string) *MockChatModel {
	return &MockChatModel{
		info:      Info{Name: name, Vendor: "mock", SupportsTools: true},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned completion for an input prompt.
func (m *MockChatModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Script queues responses returned in order, taking precedence over canned
// responses. Useful for driving multi-step tool-calling sequences.
func (m *MockChatModel) Script(responses ...ChatResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
}

// ToolCallResponse builds a scripted response requesting a single tool call.
func ToolCallResponse(callID, name, args string) ChatResponse {
	return ChatResponse{
		Content: core.Content{
			Role: core.RoleAssistant,
			Parts: []core.Part{core.FunctionCallPart{
				FunctionCall: core.FunctionCall{ID: callID, Name: name, Arguments: args},
			}},
		},
		FinishReason: "tool_calls",
	}
}

// TextResponse builds a scripted final text response.
func TextResponse(text string) ChatResponse {
	return ChatResponse{
		Content:      core.TextContent(core.RoleAssistant, text),
		FinishReason: "stop",
	}
}

// Calls returns how many chat calls the mock has served.
func (m *MockChatModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if len(m.script) > 0 {
		resp := m.script[0]
		m.script = m.script[1:]
		return &resp, nil
	}

	if len(req.Contents) == 0 {
		return nil, fmt.Errorf("no contents provided")
	}
	last := req.Contents[len(req.Contents)-1]
	input := last.Text()
	full, ok := m.responses[input]
	if !ok {
		full = fmt.Sprintf("Mock reply to: %s", input)
	}
	resp := TextResponse(full)
	return &resp, nil
}

// Info implements ChatModel.
func (m *MockChatModel) Info() Info { return m.info }

// KeywordSafety is a SafetyChecker flagging text containing any configured
// keyword. Matching is case-insensitive substring.
type KeywordSafety struct {
	Keywords []string
}

// Check implements SafetyChecker.
func (s *KeywordSafety) Check(_ context.Context, text string) (core.SafetyVerdict, error) {
	lower := strings.ToLower(text)
	for _, kw := range s.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return core.SafetyVerdict{Flagged: true, Reason: "keyword: " + kw}, nil
		}
	}
	return core.SafetyVerdict{}, nil
}

// StaticTranscriber returns a fixed transcript for any audio input.
type StaticTranscriber struct {
	Transcript string
}

// Transcribe implements Transcriber.
func (t *StaticTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return t.Transcript, nil
}

// StaticCaptioner returns a fixed caption for any image input.
type StaticCaptioner struct {
	Text string
}

// Caption implements Captioner.
func (c *StaticCaptioner) Caption(context.Context, []byte, string) (string, error) {
	return c.Text, nil
}

// SilentSynthesizer produces a fixed byte payload; handy for exercising the
// TTS stage without a real speech backend.
type SilentSynthesizer struct{}

// Synthesize implements Synthesizer.
func (SilentSynthesizer) Synthesize(_ context.Context, text string) ([]byte, string, error) {
	return []byte(text), "audio/wav", nil
}
