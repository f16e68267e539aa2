package main

import (
	"fmt"
	"io"

	"github.com/wireloop/agentplane/pkg/models"
)

// renderEvent prints one stream event to out in a terse, human-readable
// form, the CLI's equivalent of the gateway's outbound WebSocket frame.
func renderEvent(out io.Writer, e models.Event) {
	switch e.Type {
	case models.EventAgentThinking:
		fmt.Fprint(out, "…")
	case models.EventAgentResponse:
		if text, ok := e.Content["text"].(string); ok {
			fmt.Fprintf(out, "\n%s\n", text)
		}
	case models.EventToolCall:
		fmt.Fprintf(out, "\n[tool] %v\n", e.Content)
	case models.EventToolResult:
		fmt.Fprintf(out, "[tool result] %v\n", e.Content)
	case models.EventAgentResponseInterrupted:
		fmt.Fprintln(out, "\n[interrupted]")
	case models.EventError:
		fmt.Fprintf(out, "\n[error] %v\n", e.Content["error"])
	case models.EventSubscriberLag:
		fmt.Fprintln(out, "[warning: event dropped, the renderer fell behind]")
	}
}
