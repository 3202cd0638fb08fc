// Package openai implements provider.ChatModel on the OpenAI Chat Completions
// API including function/tool calling. It adapts the pipeline's normalized
// ChatRequest/ChatResponse structures into the SDK's message format and back.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/provider"
)

// Options configure the OpenAI chat adapter. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal; extend via functional
// options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// ChatModel wraps the OpenAI Chat Completions API behind provider.ChatModel.
type ChatModel struct {
	client *openai.Client
	opts   Options
}

// New creates an OpenAI chat backend using the default client (reads
// OPENAI_API_KEY from the environment).
func New(optFns ...func(o *Options)) *ChatModel {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates an OpenAI chat backend from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *ChatModel {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ChatModel{client: client, opts: opts}
}

// Chat implements provider.ChatModel. Server-side failures (429/5xx) are
// wrapped as transient so the registry's retry policy applies; other API
// errors fail immediately.
func (m *ChatModel) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	params := m.buildParams(req)
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}
	choice := resp.Choices[0]

	parts := make([]core.Part, 0, len(choice.Message.ToolCalls)+1)
	if choice.Message.Content != "" {
		parts = append(parts, core.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}})
	}

	out := &provider.ChatResponse{
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: string(choice.FinishReason),
	}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &provider.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}
	}
	return out, nil
}

// Info implements provider.ChatModel.
func (m *ChatModel) Info() provider.Info {
	return provider.Info{Name: m.opts.Model, Vendor: "openai", SupportsTools: true}
}

func classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 429 || apierr.StatusCode >= 500 {
			return core.Transient(fmt.Errorf("openai api error: %w", err))
		}
		return fmt.Errorf("openai api error: %w", err)
	}
	// Connection-level failures have no status code; treat as transient.
	return core.Transient(fmt.Errorf("openai request failed: %w", err))
}

func (m *ChatModel) buildParams(req provider.ChatRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, td := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        td.Name,
				Description: openai.String(td.Description),
				Parameters:  td.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// buildMessages converts normalized contents into OpenAI chat messages. The
// system instructions lead; tool responses are attached immediately after the
// assistant message carrying the matching tool call.
func buildMessages(req provider.ChatRequest) []openai.ChatCompletionMessageParamUnion {
	toolResponses, order := collectToolResponses(req.Contents)

	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}
	for _, c := range req.Contents {
		if c.Role == core.RoleTool {
			continue // embedded after their call sites
		}
		text := c.Text()
		switch c.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(text))
		case core.RoleAssistant:
			toolCalls, callIDs := extractToolCalls(c)
			if len(toolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(text))
				continue
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
			for _, id := range callIDs {
				if resp, ok := toolResponses[id]; ok {
					messages = append(messages, openai.ToolMessage(resp, id))
					delete(toolResponses, id)
				}
			}
		default: // user and anything unrecognized
			if text != "" {
				messages = append(messages, openai.UserMessage(text))
			}
		}
	}
	// Orphaned tool responses (call dropped by trimming) still go out in order.
	for _, id := range order {
		if resp, ok := toolResponses[id]; ok {
			messages = append(messages, openai.ToolMessage(resp, id))
		}
	}
	return messages
}

// collectToolResponses indexes tool responses by call id preserving first-seen order.
func collectToolResponses(contents []core.Content) (map[string]string, []string) {
	responses := map[string]string{}
	var order []string
	for _, c := range contents {
		if c.Role != core.RoleTool {
			continue
		}
		for _, fr := range c.FunctionResponses() {
			if fr.ID == "" {
				continue
			}
			if _, exists := responses[fr.ID]; exists {
				continue
			}
			responses[fr.ID] = renderResult(fr)
			order = append(order, fr.ID)
		}
	}
	return responses, order
}

func renderResult(fr core.FunctionResponse) string {
	if fr.Error != "" {
		return "tool failed: " + fr.Error
	}
	if s, ok := fr.Response.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", fr.Response)
}

func extractToolCalls(c core.Content) ([]openai.ChatCompletionMessageToolCallParam, []string) {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	var callIDs []string
	for _, fc := range c.FunctionCalls() {
		args := fc.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   fc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      fc.Name,
				Arguments: args,
			},
		})
		callIDs = append(callIDs, fc.ID)
	}
	return toolCalls, callIDs
}
