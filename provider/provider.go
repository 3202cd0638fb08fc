// Package provider defines the capability abstraction over external AI
// backends (chat, speech, captioning, web search, content safety) and the
// registry that resolves a capability to a concrete backend at call time.
// Concrete chat backends live in subpackages (openai, anthropic).
package provider

import (
	"context"

	"github.com/lumabot/lumabot/core"
)

// Capability is a category of AI function a provider can be bound to.
type Capability string

const (
	// CapabilityChat is LLM chat completion including tool calling.
	CapabilityChat Capability = "chat"
	// CapabilitySTT is speech-to-text transcription.
	CapabilitySTT Capability = "stt"
	// CapabilityTTS is text-to-speech synthesis.
	CapabilityTTS Capability = "tts"
	// CapabilityCaption is image captioning.
	CapabilityCaption Capability = "caption"
	// CapabilityWebSearch is web search retrieval.
	CapabilityWebSearch Capability = "websearch"
	// CapabilitySafety is content safety classification.
	CapabilitySafety Capability = "safety"
)

// ToolDefinition declaratively exposes a callable tool to the model.
// Parameters is a JSON Schema object (minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest captures the normalized chat input assembled by the agent core.
type ChatRequest struct {
	Instructions string           `json:"instructions"` // System prompt
	Contents     []core.Content   `json:"contents"`     // Conversation history + current input
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the final model output for one chat call. Content carries
// either text parts (final answer) or function call parts (tool requests).
type ChatResponse struct {
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", ...
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a provider implementation.
type Info struct {
	Name          string `json:"name"`
	Vendor        string `json:"vendor"` // "openai", "anthropic", "mock", ...
	SupportsTools bool   `json:"supports_tools"`
}

// ChatModel is the chat completion contract used by the agent core.
type ChatModel interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Info() Info
}

// Transcriber converts audio bytes into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Synthesizer converts text into speech audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio []byte, mimeType string, err error)
}

// Captioner describes an image in text.
type Captioner interface {
	Caption(ctx context.Context, image []byte, mimeType string) (string, error)
}

// SearchHit is one web search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearcher performs web search retrieval.
type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// SafetyChecker classifies content against a safety policy.
type SafetyChecker interface {
	Check(ctx context.Context, text string) (core.SafetyVerdict, error)
}
