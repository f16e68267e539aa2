// Package openai adapts OpenAI's chat completions API to the
// agent.ModelClient interface via github.com/sashabaranov/go-openai.
//
// Grounded on the teacher's internal/agent/providers/openai.go
// (OpenAIProvider.convertToOpenAIMessages/convertToOpenAITools),
// condensed from streaming to a single non-streaming
// CreateChatCompletion call.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wireloop/agentplane/internal/agent"
	"github.com/wireloop/agentplane/pkg/models"
)

var _ agent.ModelClient = (*Client)(nil)

// Config configures the OpenAI adapter.
type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API base, e.g. for Azure OpenAI-compatible
	// endpoints; empty uses OpenAI's default.
	BaseURL string
}

// Client implements agent.ModelClient against OpenAI's chat completions API.
type Client struct {
	client *openai.Client
	model  string
}

// New constructs an OpenAI-backed ModelClient.
func New(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	return &Client{client: openai.NewClientWithConfig(clientCfg), model: model}
}

// Generate implements agent.ModelClient.
func (c *Client) Generate(ctx context.Context, history []models.Turn, systemPrompt string, toolDescs []models.ToolDescriptor, maxOutputTokens int) (models.Turn, error) {
	messages := convertHistory(history, systemPrompt)

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}
	if maxOutputTokens > 0 {
		req.MaxTokens = maxOutputTokens
	}
	if len(toolDescs) > 0 {
		req.Tools = convertTools(toolDescs)
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return models.Turn{}, fmt.Errorf("openai: create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.Turn{Role: models.TurnAssistant}, nil
	}
	return convertChoice(resp.Choices[0].Message), nil
}

func convertHistory(history []models.Turn, systemPrompt string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == models.TurnAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		var text string
		var toolCalls []openai.ToolCall
		for _, m := range turn.Messages {
			switch m.Kind {
			case models.KindUserText, models.KindAssistantText:
				text += m.Text
			case models.KindToolCall:
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   m.ToolCallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      m.ToolName,
						Arguments: string(m.ToolInput),
					},
				})
			case models.KindToolResult:
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    m.OutputText,
					ToolCallID: m.ToolCallID,
				})
			}
		}
		if text == "" && len(toolCalls) == 0 {
			continue
		}
		result = append(result, openai.ChatCompletionMessage{
			Role:      role,
			Content:   text,
			ToolCalls: toolCalls,
		})
	}
	return result
}

func convertTools(descs []models.ToolDescriptor) []openai.Tool {
	result := make([]openai.Tool, len(descs))
	for i, d := range descs {
		var schema map[string]any
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func convertChoice(msg openai.ChatCompletionMessage) models.Turn {
	var out []models.Message
	if msg.Content != "" {
		out = append(out, models.NewAssistantText(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		out = append(out, models.NewToolCall(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}
	return models.Turn{Role: models.TurnAssistant, Messages: out}
}
