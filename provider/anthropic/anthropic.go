// Package anthropic implements provider.ChatModel on the Anthropic Messages
// API including tool use. It adapts the pipeline's normalized
// ChatRequest/ChatResponse structures into the SDK's block format and back.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/provider"
)

// Options configure the Anthropic chat adapter (model id, temperature,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// ChatModel wraps the Anthropic Messages API behind provider.ChatModel.
type ChatModel struct {
	client *anthropic.Client
	opts   Options
}

// New creates an Anthropic chat backend using the official client.
func New(optFns ...func(o *Options)) *ChatModel {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &ChatModel{client: &client, opts: opts}
}

// NewFromClient creates an Anthropic chat backend from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *ChatModel {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ChatModel{client: client, opts: opts}
}

// Chat implements provider.ChatModel. Rate limit and server errors are
// wrapped as transient so the registry's retry policy applies.
func (m *ChatModel) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.Contents),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}
	if system := systemBlocks(req); len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var parts []core.Part
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if text := block.AsText().Text; text != "" {
				parts = append(parts, core.TextPart{Text: text})
			}
		case "tool_use":
			tu := block.AsToolUse()
			args := ""
			if tu.Input != nil {
				if raw, err := json.Marshal(tu.Input); err == nil {
					args = string(raw)
				}
			}
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: args,
			}})
		}
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}
	out := &provider.ChatResponse{
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: finishReason,
		Usage: &provider.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	return out, nil
}

// Info implements provider.ChatModel.
func (m *ChatModel) Info() provider.Info {
	return provider.Info{Name: string(m.opts.Model), Vendor: "anthropic", SupportsTools: true}
}

func classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 429 || apierr.StatusCode >= 500 {
			return core.Transient(fmt.Errorf("anthropic api error: %w", err))
		}
		return fmt.Errorf("anthropic api error: %w", err)
	}
	return core.Transient(fmt.Errorf("anthropic request failed: %w", err))
}

// systemBlocks merges the request instructions with any system-role contents.
func systemBlocks(req provider.ChatRequest) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if req.Instructions != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: req.Instructions})
	}
	for _, c := range req.Contents {
		if c.Role != core.RoleSystem {
			continue
		}
		if text := c.Text(); text != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: text})
		}
	}
	return blocks
}

// buildMessages converts normalized contents to Anthropic messages. Tool
// results are folded into user messages immediately after the assistant
// message carrying the matching tool_use block, per the Messages API contract.
func buildMessages(contents []core.Content) []anthropic.MessageParam {
	toolResponses := map[string]string{}
	for _, c := range contents {
		if c.Role != core.RoleTool {
			continue
		}
		for _, fr := range c.FunctionResponses() {
			if fr.ID != "" {
				toolResponses[fr.ID] = renderResult(fr)
			}
		}
	}

	var messages []anthropic.MessageParam
	for _, c := range contents {
		switch c.Role {
		case core.RoleSystem, core.RoleTool:
			continue // system handled separately, tool results embedded
		case core.RoleAssistant:
			blocks, callIDs := assistantBlocks(c)
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
			var results []anthropic.ContentBlockParamUnion
			for _, id := range callIDs {
				if resp, ok := toolResponses[id]; ok {
					results = append(results, anthropic.NewToolResultBlock(id, resp, false))
					delete(toolResponses, id)
				}
			}
			if len(results) > 0 {
				messages = append(messages, anthropic.NewUserMessage(results...))
			}
		default: // user and anything unrecognized
			if text := c.Text(); text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		}
	}
	return messages
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

func assistantBlocks(c core.Content) ([]anthropic.ContentBlockParamUnion, []string) {
	var blocks []anthropic.ContentBlockParamUnion
	var callIDs []string
	for _, p := range c.Parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case core.FunctionCallPart:
			var input any
			if part.FunctionCall.Arguments != "" {
				if err := json.Unmarshal([]byte(part.FunctionCall.Arguments), &input); err != nil {
					input = part.FunctionCall.Arguments
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, input, part.FunctionCall.Name))
			callIDs = append(callIDs, part.FunctionCall.ID)
		}
	}
	return blocks, callIDs
}

func buildTools(tools []provider.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, td := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if td.Parameters != nil {
			if properties, ok := td.Parameters["properties"]; ok {
				schema.Properties = properties
			}
			schema.Required = requiredFields(td.Parameters["required"])
		}
		out[i] = anthropic.ToolUnionParamOfTool(schema, td.Name)
	}
	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		var out []string
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
