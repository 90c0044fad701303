// Package agent composes the model transport, stream aggregator, concurrency
// planner, tool dispatcher, and permission engine into the recursive query
// loop.
package agent

import (
	"time"

	"github.com/magpie-ai/magpie/internal/tools"
	"github.com/magpie-ai/magpie/internal/transport"
)

// BlockType tags the variant of a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ToolUse is a model-proposed tool invocation.
type ToolUse struct {
	ID               string
	Name             string
	Input            map[string]any
	ThoughtSignature string
}

// ToolResult is the reply to one tool_use, sent back to the model.
type ToolResult struct {
	ToolUseID string
	Name      string
	Content   string
	IsError   bool

	// Data is a structured side-channel for the caller; never sent to the model.
	Data any

	// SkillTools restricts the tool set for following turns when non-nil.
	// A single "*" entry means no restriction.
	SkillTools []string
}

// ImageData is inline base64 image content.
type ImageData struct {
	MimeType string
	Data     string
}

// Block is one content block; exactly one variant field is set per Type.
type Block struct {
	Type       BlockType
	Text       string
	Image      *ImageData
	ToolUse    *ToolUse
	ToolResult *ToolResult
}

// TextBlock builds a text block.
func TextBlock(text string) Block { return Block{Type: BlockText, Text: text} }

// ToolUseBlock builds a tool_use block.
func ToolUseBlock(use ToolUse) Block { return Block{Type: BlockToolUse, ToolUse: &use} }

// ToolResultBlock builds a tool_result block.
func ToolResultBlock(res ToolResult) Block {
	return Block{Type: BlockToolResult, ToolResult: &res}
}

// Message is the sum of user, assistant, and progress messages.
type Message interface{ message() }

// UserMessage carries user text, images, and tool_results.
type UserMessage struct {
	Blocks []Block
}

func (*UserMessage) message() {}

// UserText builds a plain-text user message.
func UserText(text string) *UserMessage {
	return &UserMessage{Blocks: []Block{TextBlock(text)}}
}

// FirstToolResult returns the message's first tool_result block, if any.
func (m *UserMessage) FirstToolResult() *ToolResult {
	for _, b := range m.Blocks {
		if b.Type == BlockToolResult {
			return b.ToolResult
		}
	}
	return nil
}

// leadsWithToolResult reports whether the first block is a tool_result; such
// messages must never receive injected reminders because the provider
// requires function responses adjacent to their function calls.
func (m *UserMessage) leadsWithToolResult() bool {
	return len(m.Blocks) > 0 && m.Blocks[0].Type == BlockToolResult
}

// AssistantMessage is one aggregated model turn.
type AssistantMessage struct {
	Blocks     []Block
	Usage      *transport.UsageMetadata
	TraceID    string
	Duration   time.Duration
	StopReason string
}

func (*AssistantMessage) message() {}

// ToolUses returns the message's tool_use blocks in order.
func (m *AssistantMessage) ToolUses() []ToolUse {
	var uses []ToolUse
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, *b.ToolUse)
		}
	}
	return uses
}

// Text returns the concatenation of the message's text blocks.
func (m *AssistantMessage) Text() string {
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ProgressMessage is an opaque progress snapshot for one tool_use, tagged
// with its sibling tool_use ids. Progress never reaches the model.
type ProgressMessage struct {
	ToolUseID  string
	SiblingIDs []string
	Progress   tools.Progress
}

func (*ProgressMessage) message() {}

// NoContentSentinel is emitted when an aggregated turn has no visible content.
const NoContentSentinel = "(No content)"

// InterruptText is the synthetic assistant text yielded when a request is
// cancelled mid-turn.
const InterruptText = "Request interrupted by user."
