// Package anthropic adapts Anthropic's Messages API to the
// agent.ModelClient interface, translating the tagged-variant
// models.Turn/models.Message history to anthropic-sdk-go's
// MessageParam/ContentBlockParamUnion wire format and back.
//
// Grounded on the teacher's internal/agent/providers/anthropic.go
// (AnthropicProvider.convertMessages/convertTools), condensed from
// streaming + beta-computer-use support down to a single non-streaming
// Messages.New call — SPEC_FULL.md's ModelClient contract is
// request/response, not a chunked stream.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/wireloop/agentplane/internal/agent"
	"github.com/wireloop/agentplane/pkg/models"
)

var _ agent.ModelClient = (*Client)(nil)

// Config configures the Anthropic adapter.
type Config struct {
	APIKey       string
	Model        string
	MaxRetries   int
	BetaFeatures []string
}

// Client implements agent.ModelClient against Anthropic's Messages API.
type Client struct {
	client anthropic.Client
	model  string
}

// New constructs an Anthropic-backed ModelClient.
func New(cfg Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &Client{client: anthropic.NewClient(opts...), model: model}
}

// Generate implements agent.ModelClient.
func (c *Client) Generate(ctx context.Context, history []models.Turn, systemPrompt string, toolDescs []models.ToolDescriptor, maxOutputTokens int) (models.Turn, error) {
	messages, err := convertHistory(history)
	if err != nil {
		return models.Turn{}, fmt.Errorf("anthropic: convert history: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(maxOutputTokens)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(toolDescs) > 0 {
		tools, err := convertTools(toolDescs)
		if err != nil {
			return models.Turn{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return models.Turn{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	return convertResponse(resp)
}

func maxTokensOrDefault(requested int) int {
	if requested <= 0 {
		return 4096
	}
	return requested
}

func convertHistory(history []models.Turn) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(history))
	for _, turn := range history {
		var content []anthropic.ContentBlockParamUnion
		for _, m := range turn.Messages {
			switch m.Kind {
			case models.KindUserText, models.KindAssistantText:
				if m.Text != "" {
					content = append(content, anthropic.NewTextBlock(m.Text))
				}
			case models.KindToolCall:
				var input map[string]any
				if len(m.ToolInput) > 0 {
					if err := json.Unmarshal(m.ToolInput, &input); err != nil {
						return nil, fmt.Errorf("tool call %s: %w", m.ToolCallID, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(m.ToolCallID, input, m.ToolName))
			case models.KindToolResult:
				content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.OutputText, m.IsError))
			}
		}
		if len(content) == 0 {
			continue
		}
		if turn.Role == models.TurnAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(descs []models.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(descs))
	for _, d := range descs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", d.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(d.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

func convertResponse(resp *anthropic.Message) (models.Turn, error) {
	var texts []string
	var msgs []models.Message
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			texts = append(texts, block.Text)
		case "tool_use":
			msgs = append(msgs, models.NewToolCall(block.ID, block.Name, json.RawMessage(block.Input)))
		}
	}
	if joined := strings.Join(texts, ""); joined != "" {
		msgs = append([]models.Message{models.NewAssistantText(joined)}, msgs...)
	}
	return models.Turn{Role: models.TurnAssistant, Messages: msgs}, nil
}
