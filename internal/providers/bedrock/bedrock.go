// Package bedrock adapts AWS Bedrock's Converse API to the
// agent.ModelClient interface.
//
// Grounded on the teacher's internal/agent/providers/bedrock.go
// (BedrockProvider.convertMessages), condensed from ConverseStream to a
// single non-streaming Converse call.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/wireloop/agentplane/internal/agent"
	"github.com/wireloop/agentplane/pkg/models"
)

var _ agent.ModelClient = (*Client)(nil)

// Config configures the Bedrock adapter.
type Config struct {
	Region string
	Model  string
}

// Client implements agent.ModelClient against AWS Bedrock's Converse API.
type Client struct {
	client *bedrockruntime.Client
	model  string
}

// New constructs a Bedrock-backed ModelClient using the default AWS
// credential chain.
func New(ctx context.Context, cfg Config) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	return &Client{client: bedrockruntime.NewFromConfig(awsCfg), model: model}, nil
}

// Generate implements agent.ModelClient.
func (c *Client) Generate(ctx context.Context, history []models.Turn, systemPrompt string, toolDescs []models.ToolDescriptor, maxOutputTokens int) (models.Turn, error) {
	messages := convertHistory(history)

	req := &bedrockruntime.ConverseInput{
		ModelId:  awssdk.String(c.model),
		Messages: messages,
	}
	if systemPrompt != "" {
		req.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: systemPrompt}}
	}
	if maxOutputTokens > 0 {
		tokens := maxOutputTokens
		if tokens > math.MaxInt32 {
			tokens = math.MaxInt32
		}
		req.InferenceConfig = &types.InferenceConfiguration{MaxTokens: awssdk.Int32(int32(tokens))}
	}
	if len(toolDescs) > 0 {
		req.ToolConfig = convertTools(toolDescs)
	}

	resp, err := c.client.Converse(ctx, req)
	if err != nil {
		return models.Turn{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	return convertOutput(resp)
}

func convertHistory(history []models.Turn) []types.Message {
	result := make([]types.Message, 0, len(history))
	for _, turn := range history {
		var content []types.ContentBlock
		for _, m := range turn.Messages {
			switch m.Kind {
			case models.KindUserText, models.KindAssistantText:
				if m.Text != "" {
					content = append(content, &types.ContentBlockMemberText{Value: m.Text})
				}
			case models.KindToolResult:
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: awssdk.String(m.ToolCallID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.OutputText}},
					},
				})
			case models.KindToolCall:
				var input any
				if len(m.ToolInput) > 0 {
					if err := json.Unmarshal(m.ToolInput, &input); err != nil {
						input = map[string]any{}
					}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: awssdk.String(m.ToolCallID),
						Name:      awssdk.String(m.ToolName),
						Input:     document.NewLazyDocument(input),
					},
				})
			}
		}
		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if turn.Role == models.TurnAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	return result
}

func convertTools(descs []models.ToolDescriptor) *types.ToolConfiguration {
	tools := make([]types.Tool, 0, len(descs))
	for _, d := range descs {
		var schemaDoc any
		if err := json.Unmarshal(d.InputSchema, &schemaDoc); err != nil {
			schemaDoc = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpec{
				Name:        awssdk.String(d.Name),
				Description: awssdk.String(d.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: tools}
}

func convertOutput(resp *bedrockruntime.ConverseOutput) (models.Turn, error) {
	if resp == nil {
		return models.Turn{Role: models.TurnAssistant}, nil
	}
	msgOutput, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return models.Turn{Role: models.TurnAssistant}, nil
	}
	var out []models.Message
	for _, block := range msgOutput.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			out = append(out, models.NewAssistantText(v.Value))
		case *types.ContentBlockMemberToolUse:
			var raw map[string]any
			if err := v.Value.Input.UnmarshalSmithyDocument(&raw); err != nil {
				return models.Turn{}, fmt.Errorf("bedrock: unmarshal tool input: %w", err)
			}
			input, err := json.Marshal(raw)
			if err != nil {
				return models.Turn{}, fmt.Errorf("bedrock: marshal tool input: %w", err)
			}
			out = append(out, models.NewToolCall(awssdk.ToString(v.Value.ToolUseId), awssdk.ToString(v.Value.Name), input))
		}
	}
	return models.Turn{Role: models.TurnAssistant, Messages: out}, nil
}
