package agent

import (
	"strings"
	"time"

	"github.com/magpie-ai/magpie/internal/state"
	"github.com/magpie-ai/magpie/internal/transport"
)

// Aggregator folds a sequence of response chunks into a single assistant
// message: snapshot-style text is deduplicated, function-call fragments are
// merged by id or anonymous adjacency, and thought parts are diverted to the
// session state instead of the content.
type Aggregator struct {
	// ThoughtSink receives the latest parsed thought. Nil discards thoughts.
	ThoughtSink func(state.Thought)

	blocks  []Block
	textBuf strings.Builder

	// byID and lastAnon index into blocks; the slice may reallocate on
	// append, so pointers are never held across adds.
	byID     map[string]int
	lastAnon int

	usage   *transport.UsageMetadata
	traceID string
	finish  string
}

// Add folds one chunk, in part order.
func (a *Aggregator) Add(chunk *transport.Chunk) {
	if chunk == nil {
		return
	}
	if chunk.UsageMetadata != nil {
		a.usage = chunk.UsageMetadata
	}
	if a.traceID == "" && chunk.TraceID != "" {
		a.traceID = chunk.TraceID
	}
	if reason := chunk.FinishReason(); reason != "" {
		a.finish = reason
	}
	for _, part := range chunk.Parts() {
		a.addPart(part)
	}
}

func (a *Aggregator) addPart(part transport.Part) {
	switch {
	case part.Thought:
		// Thoughts never enter the content and do not reset the anonymous
		// merge pointer.
		if a.ThoughtSink != nil {
			a.ThoughtSink(parseThought(part.Text))
		}
	case part.FunctionCall != nil:
		a.addFunctionCall(part)
	case part.Text != "":
		a.addText(part.Text)
		a.lastAnon = -1
	case part.InlineData != nil:
		a.blocks = append(a.blocks, Block{
			Type:  BlockImage,
			Image: &ImageData{MimeType: part.InlineData.MimeType, Data: part.InlineData.Data},
		})
		a.lastAnon = -1
	}
}

// addText appends text with snapshot-stream dedup: when the incoming text
// restates everything accumulated so far, only the suffix is kept; a stale
// snapshot that is itself a prefix of the buffer adds nothing.
func (a *Aggregator) addText(text string) {
	seen := a.textBuf.String()
	if seen != "" {
		if strings.HasPrefix(text, seen) {
			text = text[len(seen):]
		} else if strings.HasPrefix(seen, text) {
			return
		}
	}
	if text == "" {
		return
	}
	a.textBuf.WriteString(text)

	if n := len(a.blocks); n > 0 && a.blocks[n-1].Type == BlockText {
		a.blocks[n-1].Text += text
		return
	}
	a.blocks = append(a.blocks, TextBlock(text))
}

func (a *Aggregator) addFunctionCall(part transport.Part) {
	call := part.FunctionCall
	if a.byID == nil {
		a.byID = make(map[string]int)
		a.lastAnon = -1
	}

	if call.ID != "" {
		if idx, ok := a.byID[call.ID]; ok {
			mergeCall(a.blocks[idx].ToolUse, call, part.ThoughtSignature)
			return
		}
	} else if a.lastAnon >= 0 {
		prev := a.blocks[a.lastAnon].ToolUse
		if prev.ID == "" && prev.Name == call.Name {
			mergeCall(prev, call, part.ThoughtSignature)
			return
		}
	}

	use := &ToolUse{
		ID:               call.ID,
		Name:             call.Name,
		Input:            deepCopyArgs(call.Args),
		ThoughtSignature: part.ThoughtSignature,
	}
	a.blocks = append(a.blocks, Block{Type: BlockToolUse, ToolUse: use})
	idx := len(a.blocks) - 1
	if call.ID != "" {
		a.byID[call.ID] = idx
		a.lastAnon = -1
	} else {
		a.lastAnon = idx
	}
}

// mergeCall deep-merges args into an existing call. The name is only
// overwritten when the previous one was empty; an existing thought signature
// is preserved.
func mergeCall(use *ToolUse, call *transport.FunctionCall, signature string) {
	if use.Name == "" {
		use.Name = call.Name
	}
	use.Input = deepMerge(use.Input, call.Args)
	if use.ThoughtSignature == "" {
		use.ThoughtSignature = signature
	}
}

func deepCopyArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	return deepMerge(make(map[string]any, len(args)), args)
}

func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				dst[k] = deepMerge(dstMap, srcMap)
				continue
			}
			dst[k] = deepMerge(nil, srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}

// parseThought extracts {subject, description} from a thought text: the
// first **…** delimited span is the subject, the remainder the description.
func parseThought(text string) state.Thought {
	start := strings.Index(text, "**")
	if start >= 0 {
		rest := text[start+2:]
		if end := strings.Index(rest, "**"); end >= 0 {
			subject := strings.TrimSpace(rest[:end])
			description := strings.TrimSpace(text[:start] + rest[end+2:])
			return state.Thought{Subject: subject, Description: description}
		}
	}
	return state.Thought{Description: strings.TrimSpace(text)}
}

// Finalize produces the aggregated assistant message. An empty content list
// collapses to the "(No content)" sentinel.
func (a *Aggregator) Finalize(duration time.Duration) *AssistantMessage {
	blocks := a.blocks
	if len(blocks) == 0 {
		blocks = []Block{TextBlock(NoContentSentinel)}
	}
	stopReason := "stop_sequence"
	for _, b := range blocks {
		if b.Type == BlockToolUse {
			stopReason = "tool_use"
			break
		}
	}
	return &AssistantMessage{
		Blocks:     blocks,
		Usage:      a.usage,
		TraceID:    a.traceID,
		Duration:   duration,
		StopReason: stopReason,
	}
}
