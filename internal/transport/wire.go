// Package transport implements the HTTP and SSE model client: request
// shaping, stream framing, schema sanitisation, and the error taxonomy.
package transport

import "encoding/json"

// Content is one conversation entry on the wire.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// Part is one element of a content entry. Exactly one of Text, FunctionCall,
// FunctionResponse, or InlineData is set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *Blob             `json:"inlineData,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
}

// FunctionCall is a model-proposed tool invocation fragment.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries a tool result back to the model.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Response map[string]any `json:"response,omitempty"`
}

// Blob is inline binary data (base64) with a mime type.
type Blob struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// FunctionDeclaration describes one callable tool to the model. Parameters
// must already be sanitised (see SanitizeSchema).
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolDecl groups function declarations in the request body.
type ToolDecl struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// ToolConfig forces the function-calling mode.
type ToolConfig struct {
	FunctionCallingConfig FunctionCallingConfig `json:"functionCallingConfig"`
}

// FunctionCallingConfig carries the calling mode; the core always uses AUTO.
type FunctionCallingConfig struct {
	Mode string `json:"mode"`
}

// ThinkingConfig tunes model-family thinking behaviour.
type ThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts,omitempty"`
	ThinkingBudget  *int `json:"thinkingBudget,omitempty"`
}

// GenerationConfig carries sampling parameters.
type GenerationConfig struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

// Request is one model call. Model must be a normalised name.
type Request struct {
	Model             string            `json:"-"`
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []ToolDecl        `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// UsageMetadata is the token accounting reported by the model.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// Candidate is one model reply variant; the core only reads the first.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// Chunk is one element of the model stream; a complete assistant message is
// the fold of a finite sequence of chunks.
type Chunk struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	TraceID       string         `json:"traceId,omitempty"`
	ResponseID    string         `json:"responseId,omitempty"`
}

// Parts returns the first candidate's parts, or nil.
func (c *Chunk) Parts() []Part {
	if c == nil || len(c.Candidates) == 0 {
		return nil
	}
	return c.Candidates[0].Content.Parts
}

// FinishReason returns the first candidate's finish reason, or "".
func (c *Chunk) FinishReason() string {
	if c == nil || len(c.Candidates) == 0 {
		return ""
	}
	return c.Candidates[0].FinishReason
}

// codeAssistEnvelope wraps a request for the code-assist endpoint.
type codeAssistEnvelope struct {
	Model        string   `json:"model"`
	Project      string   `json:"project,omitempty"`
	UserPromptID string   `json:"user_prompt_id,omitempty"`
	Request      *Request `json:"request"`
}

// codeAssistReply is the possibly-wrapped code-assist response body.
type codeAssistReply struct {
	Response json.RawMessage `json:"response,omitempty"`
	TraceID  string          `json:"traceId,omitempty"`
}

// unwrapChunk parses a raw stream payload into a Chunk, unwrapping the
// code-assist {response, traceId} envelope when present.
func unwrapChunk(raw []byte) (*Chunk, error) {
	var reply codeAssistReply
	if err := json.Unmarshal(raw, &reply); err == nil && len(reply.Response) > 0 {
		var chunk Chunk
		if err := json.Unmarshal(reply.Response, &chunk); err != nil {
			return nil, err
		}
		if chunk.TraceID == "" {
			chunk.TraceID = reply.TraceID
		}
		return &chunk, nil
	}
	var chunk Chunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}
