package openai

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wireloop/agentplane/pkg/models"
)

func TestConvertHistory_IncludesSystemPrompt(t *testing.T) {
	msgs := convertHistory(nil, "be helpful")
	if len(msgs) != 1 || msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "be helpful" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestConvertHistory_UserAndAssistantText(t *testing.T) {
	history := []models.Turn{
		{Role: models.TurnUser, Messages: []models.Message{models.NewUserText("hi", nil)}},
		{Role: models.TurnAssistant, Messages: []models.Message{models.NewAssistantText("hello")}},
	}
	msgs := convertHistory(history, "")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleUser || msgs[0].Content != "hi" {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != openai.ChatMessageRoleAssistant || msgs[1].Content != "hello" {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}
}

func TestConvertHistory_ToolCallAndResult(t *testing.T) {
	history := []models.Turn{
		{Role: models.TurnAssistant, Messages: []models.Message{
			models.NewToolCall("call-1", "echo", json.RawMessage(`{"x":1}`)),
		}},
		{Role: models.TurnUser, Messages: []models.Message{
			models.NewToolResultText("call-1", "echoed", false),
		}},
	}
	msgs := convertHistory(history, "")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0].Function.Name != "echo" {
		t.Fatalf("expected tool call echo, got %+v", msgs[0])
	}
	if msgs[1].Role != openai.ChatMessageRoleTool || msgs[1].ToolCallID != "call-1" || msgs[1].Content != "echoed" {
		t.Fatalf("unexpected tool result message: %+v", msgs[1])
	}
}

func TestConvertTools_ProducesFunctionDefinitions(t *testing.T) {
	descs := []models.ToolDescriptor{
		{Name: "echo", Description: "echoes input", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}
	tools := convertTools(descs)
	if len(tools) != 1 || tools[0].Function.Name != "echo" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestConvertChoice_TextAndToolCalls(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		Content: "done",
		ToolCalls: []openai.ToolCall{
			{ID: "call-2", Function: openai.FunctionCall{Name: "noop", Arguments: "{}"}},
		},
	}
	turn := convertChoice(msg)
	if len(turn.Messages) != 2 {
		t.Fatalf("expected text + tool call, got %d messages", len(turn.Messages))
	}
	if turn.Messages[0].Kind != models.KindAssistantText || turn.Messages[0].Text != "done" {
		t.Fatalf("unexpected text message: %+v", turn.Messages[0])
	}
	if turn.Messages[1].Kind != models.KindToolCall || turn.Messages[1].ToolCallID != "call-2" {
		t.Fatalf("unexpected tool call message: %+v", turn.Messages[1])
	}
}
