// Package gemini adapts Google's Gemini API to the agent.ModelClient
// interface via google.golang.org/genai.
//
// Grounded on the teacher's internal/agent/providers/google.go
// (GoogleProvider.convertMessages/buildConfig), condensed from a
// streaming GenerateContentStream call to a single non-streaming
// GenerateContent call.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/wireloop/agentplane/internal/agent"
	"github.com/wireloop/agentplane/pkg/models"
)

var _ agent.ModelClient = (*Client)(nil)

// Config configures the Gemini adapter.
type Config struct {
	APIKey string
	Model  string
}

// Client implements agent.ModelClient against the Gemini API.
type Client struct {
	client *genai.Client
	model  string
}

// New constructs a Gemini-backed ModelClient.
func New(ctx context.Context, cfg Config) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Client{client: client, model: model}, nil
}

// Generate implements agent.ModelClient.
func (c *Client) Generate(ctx context.Context, history []models.Turn, systemPrompt string, toolDescs []models.ToolDescriptor, maxOutputTokens int) (models.Turn, error) {
	contents := convertHistory(history)
	config := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	}
	if maxOutputTokens > 0 {
		config.MaxOutputTokens = int32(maxOutputTokens)
	}
	if len(toolDescs) > 0 {
		config.Tools = convertTools(toolDescs)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return models.Turn{}, fmt.Errorf("gemini: generate content: %w", err)
	}
	return convertResponse(resp), nil
}

// toolNameByCallID indexes every ToolCall message's name by its call ID
// so ToolResult messages — which the core only tags with a call ID — can
// be translated into Gemini's name-keyed FunctionResponse.
func toolNameByCallID(history []models.Turn) map[string]string {
	names := make(map[string]string)
	for _, turn := range history {
		for _, m := range turn.Messages {
			if m.Kind == models.KindToolCall {
				names[m.ToolCallID] = m.ToolName
			}
		}
	}
	return names
}

func convertHistory(history []models.Turn) []*genai.Content {
	names := toolNameByCallID(history)
	result := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		content := &genai.Content{}
		if turn.Role == models.TurnAssistant {
			content.Role = genai.RoleModel
		} else {
			content.Role = genai.RoleUser
		}
		for _, m := range turn.Messages {
			switch m.Kind {
			case models.KindUserText, models.KindAssistantText:
				if m.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: m.Text})
				}
			case models.KindToolCall:
				var args map[string]any
				if len(m.ToolInput) > 0 {
					_ = json.Unmarshal(m.ToolInput, &args)
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: m.ToolName, Args: args},
				})
			case models.KindToolResult:
				name := names[m.ToolCallID]
				if name == "" {
					name = m.ToolCallID
				}
				response := map[string]any{"result": m.OutputText, "error": m.IsError}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{Name: name, Response: response},
				})
			}
		}
		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func convertTools(descs []models.ToolDescriptor) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(descs))
	for _, d := range descs {
		var schema *genai.Schema
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			schema = &genai.Schema{Type: genai.TypeObject}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertResponse(resp *genai.GenerateContentResponse) models.Turn {
	var out []models.Message
	if len(resp.Candidates) == 0 {
		return models.Turn{Role: models.TurnAssistant}
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			out = append(out, models.NewAssistantText(part.Text))
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			// Gemini function calls carry no call ID of their own; the core
			// needs one to correlate the eventual ToolResult, so mint one.
			out = append(out, models.NewToolCall(uuid.NewString(), part.FunctionCall.Name, args))
		}
	}
	return models.Turn{Role: models.TurnAssistant, Messages: out}
}
