package agent

import (
	"github.com/magpie-ai/magpie/internal/transport"
)

// sentinelThoughtSignature is injected on the first function call of an
// assistant turn when the model omitted one; the provider rejects
// function-call history in an active loop without it.
const sentinelThoughtSignature = "context_engineering_is_the_way_to_go"

// toContents converts history to wire contents. Progress messages are
// dropped; they never reach the model.
func toContents(history []Message) []transport.Content {
	var contents []transport.Content
	for _, msg := range history {
		switch m := msg.(type) {
		case *UserMessage:
			contents = append(contents, userContent(m))
		case *AssistantMessage:
			contents = append(contents, assistantContent(m))
		case *ProgressMessage:
			// filtered
		}
	}
	return contents
}

func userContent(m *UserMessage) transport.Content {
	content := transport.Content{Role: "user"}
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			content.Parts = append(content.Parts, transport.Part{Text: b.Text})
		case BlockImage:
			content.Parts = append(content.Parts, transport.Part{
				InlineData: &transport.Blob{MimeType: b.Image.MimeType, Data: b.Image.Data},
			})
		case BlockToolResult:
			response := map[string]any{"output": b.ToolResult.Content}
			if b.ToolResult.IsError {
				response = map[string]any{"error": b.ToolResult.Content}
			}
			content.Parts = append(content.Parts, transport.Part{
				FunctionResponse: &transport.FunctionResponse{
					ID:       b.ToolResult.ToolUseID,
					Name:     b.ToolResult.Name,
					Response: response,
				},
			})
		}
	}
	return content
}

func assistantContent(m *AssistantMessage) transport.Content {
	content := transport.Content{Role: "model"}
	firstCall := true
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			content.Parts = append(content.Parts, transport.Part{Text: b.Text})
		case BlockImage:
			content.Parts = append(content.Parts, transport.Part{
				InlineData: &transport.Blob{MimeType: b.Image.MimeType, Data: b.Image.Data},
			})
		case BlockToolUse:
			signature := b.ToolUse.ThoughtSignature
			if firstCall && signature == "" {
				signature = sentinelThoughtSignature
			}
			firstCall = false
			content.Parts = append(content.Parts, transport.Part{
				FunctionCall: &transport.FunctionCall{
					ID:   b.ToolUse.ID,
					Name: b.ToolUse.Name,
					Args: b.ToolUse.Input,
				},
				ThoughtSignature: signature,
			})
		}
	}
	return content
}
