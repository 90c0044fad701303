package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/magpie-ai/magpie/internal/backoff"
	"github.com/magpie-ai/magpie/internal/config"
	"github.com/magpie-ai/magpie/internal/journal"
	"github.com/magpie-ai/magpie/internal/observability"
	"github.com/magpie-ai/magpie/internal/state"
	"github.com/magpie-ai/magpie/internal/tools"
	"github.com/magpie-ai/magpie/internal/transport"
)

// emptyRetryLimit caps the automatic retries when the model replies without
// visible content.
const emptyRetryLimit = 2

// emptyContentHint nudges the model after a content-free reply.
const emptyContentHint = "Your previous reply contained no visible content. Reply with text or a tool call."

// ModelClient is the slice of the transport the loop needs. *transport.Client
// satisfies it.
type ModelClient interface {
	Stream(ctx context.Context, req *transport.Request) (<-chan transport.StreamEvent, error)
}

// Transcript persists messages per request log name. Progress messages are
// never recorded.
type Transcript interface {
	Record(ctx context.Context, logName string, msg Message) error
}

// QueryConfig wires the collaborators of one query loop.
type QueryConfig struct {
	Client   ModelClient
	Model    string
	Registry *tools.Registry

	// Permissions is consulted per tool call; nil grants everything.
	Permissions PermissionChecker

	// Compactor may shrink the history before each turn; nil keeps it as is.
	Compactor Compactor

	// SystemPrompt is the base prompt; tool snippets and the skill banner are
	// appended per turn.
	SystemPrompt []string

	// Reminders are injected into the latest text-bearing user message on the
	// wire, without mutating the durable history.
	Reminders []string

	// Transcript persists the conversation under the context's MessageLogName.
	Transcript Transcript

	Settings config.Settings
	State    *state.Service
	Journal  *journal.Journal
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Query runs the recursive agent loop and streams every produced message to
// the returned channel. The channel is closed when the loop terminates:
// no more tool_use blocks, cancellation, or an exhausted transport error.
func Query(ctx context.Context, cfg QueryConfig, history []Message, tctx *tools.Context) <-chan Message {
	out := make(chan Message, 16)
	q := &querier{
		cfg:  cfg,
		tctx: tctx,
		out:  out,
		dispatcher: &Dispatcher{
			Registry:    cfg.Registry,
			Permissions: cfg.Permissions,
			Logger:      cfg.Logger,
			Metrics:     cfg.Metrics,
		},
	}
	go func() {
		defer close(out)
		q.run(ctx, history)
	}()
	return out
}

type querier struct {
	cfg        QueryConfig
	tctx       *tools.Context
	out        chan<- Message
	dispatcher *Dispatcher
}

func (q *querier) run(ctx context.Context, history []Message) {
	for {
		if q.cfg.Compactor != nil {
			compacted, err := q.cfg.Compactor.Compact(ctx, history)
			if err != nil {
				q.logWarn(ctx, "history compaction failed", err)
			} else {
				history = compacted
			}
		}

		enabled := q.effectiveTools(history)
		assistant, err := q.callWithRetries(ctx, history, enabled)
		if err != nil {
			if ctx.Err() != nil {
				q.interrupt(ctx)
				return
			}
			q.countTurn("error")
			q.journalEvent(ctx, "transport_error", err.Error(), nil)
			q.emit(ctx, &AssistantMessage{
				Blocks:     []Block{TextBlock(fmt.Sprintf("Request failed: %s", err))},
				StopReason: "error",
			})
			return
		}
		if ctx.Err() != nil {
			q.interrupt(ctx)
			return
		}

		assistant.Blocks = SerialGate(assistant.Blocks, q.safetyLookup(enabled))
		assignToolUseIDs(assistant.Blocks)
		q.recordUsage(assistant)
		q.emit(ctx, assistant)

		uses := assistant.ToolUses()
		if len(uses) == 0 {
			q.countTurn("final")
			return
		}
		q.countTurn("tool_use")

		results := q.executeUses(ctx, uses, enabled)
		if ctx.Err() != nil {
			q.interrupt(ctx)
			return
		}

		// Results follow the model's tool_use order regardless of completion
		// order, packed into a single user message.
		ordered := make([]Block, 0, len(uses))
		for _, use := range uses {
			if res, ok := results[use.ID]; ok {
				ordered = append(ordered, ToolResultBlock(*res))
			}
		}
		resultMsg := &UserMessage{Blocks: ordered}
		q.record(ctx, resultMsg)
		history = append(history, assistant, resultMsg)
	}
}

// executeUses dispatches the planned groups and returns results keyed by
// tool_use id. Progress and raw result messages are streamed to the caller as
// they arrive.
func (q *querier) executeUses(ctx context.Context, uses []ToolUse, enabled []string) map[string]*ToolResult {
	siblings := make([]string, 0, len(uses))
	for _, use := range uses {
		siblings = append(siblings, use.ID)
	}

	var mu sync.Mutex
	results := make(map[string]*ToolResult)
	collect := func(msg Message) {
		mu.Lock()
		defer mu.Unlock()
		if um, ok := msg.(*UserMessage); ok {
			if res := um.FirstToolResult(); res != nil {
				results[res.ToolUseID] = res
			}
		}
		q.emit(ctx, msg)
	}

	for _, group := range PlanGroups(uses, q.safetyLookup(enabled)) {
		if !group.Parallel {
			q.dispatcher.Dispatch(ctx, group.Uses[0], siblings, q.tctx, collect)
			continue
		}
		var g errgroup.Group
		g.SetLimit(q.concurrencyCap())
		for _, use := range group.Uses {
			g.Go(func() error {
				q.dispatcher.Dispatch(ctx, use, siblings, q.tctx, collect)
				return nil
			})
		}
		g.Wait()
	}
	return results
}

// callWithRetries drives one model turn: transport retries on retryable
// errors, then empty-content retries with a hint message.
func (q *querier) callWithRetries(ctx context.Context, history []Message, enabled []string) (*AssistantMessage, error) {
	req := q.buildRequest(history, enabled)

	var hinted []transport.Content
	for empty := 0; ; empty++ {
		assistant, err := q.streamWithBackoff(ctx, req)
		if err != nil {
			return nil, err
		}
		if !isEmptyReply(assistant) || empty >= emptyRetryLimit || ctx.Err() != nil {
			return assistant, nil
		}
		if hinted == nil {
			hinted = append(slices.Clone(req.Contents), transport.Content{
				Role:  "user",
				Parts: []transport.Part{{Text: emptyContentHint}},
			})
			req = cloneRequestWithContents(req, hinted)
		}
		q.setStatus("model returned no content, retrying")
		q.journalEvent(ctx, "empty_reply_retry", "", map[string]any{"attempt": empty + 1})
	}
}

func (q *querier) streamWithBackoff(ctx context.Context, req *transport.Request) (*AssistantMessage, error) {
	policy := backoff.DefaultPolicy()
	policy.Base = q.cfg.Settings.BackoffBase
	policy.JitterCap = q.cfg.Settings.BackoffJitterCap
	maxAttempts := q.cfg.Settings.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = config.DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		assistant, err := q.streamOnce(ctx, req)
		if err == nil {
			q.setStatus("")
			return assistant, nil
		}
		lastErr = err
		if !transport.IsRetryable(err) || attempt == maxAttempts {
			break
		}
		q.countRetry(err)
		q.setStatus(fmt.Sprintf("network hiccup, retrying %d/%d", attempt, maxAttempts-1))
		if err := backoff.SleepWithBackoff(ctx, policy, attempt); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (q *querier) streamOnce(ctx context.Context, req *transport.Request) (*AssistantMessage, error) {
	start := time.Now()
	events, err := q.cfg.Client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	agg := &Aggregator{ThoughtSink: q.thoughtSink()}
	for event := range events {
		if event.Err != nil {
			return nil, event.Err
		}
		agg.Add(event.Chunk)
	}
	return agg.Finalize(time.Since(start)), nil
}

// buildRequest assembles the wire request: system prompt with tool snippets
// and skill banner, declarations for enabled tools, and reminders injected
// into the latest text-bearing user message.
func (q *querier) buildRequest(history []Message, enabled []string) *transport.Request {
	req := &transport.Request{
		Model:    q.cfg.Model,
		Contents: toContents(injectReminders(history, q.cfg.Reminders)),
		ToolConfig: &transport.ToolConfig{
			FunctionCallingConfig: transport.FunctionCallingConfig{Mode: "AUTO"},
		},
	}

	prompt := slices.Clone(q.cfg.SystemPrompt)
	var decls []transport.FunctionDeclaration
	for _, name := range enabled {
		tool, ok := q.cfg.Registry.Get(name)
		if !ok {
			continue
		}
		if snippet := tool.Prompt(); snippet != "" {
			prompt = append(prompt, snippet)
		}
		decls = append(decls, transport.FunctionDeclaration{
			Name:        name,
			Description: q.cfg.Registry.CachedDescription(name),
			Parameters:  transport.SanitizeSchema(tool.Schema()),
		})
	}
	if banner := skillBanner(history); banner != "" {
		prompt = append(prompt, banner)
	}

	if len(prompt) > 0 {
		req.SystemInstruction = &transport.Content{
			Parts: []transport.Part{{Text: strings.Join(prompt, "\n\n")}},
		}
	}
	if len(decls) > 0 {
		req.Tools = []transport.ToolDecl{{FunctionDeclarations: decls}}
	}
	return req
}

// effectiveTools intersects the configured tool list with the most recent
// skill constraint found in the history. A "*" constraint means unrestricted.
func (q *querier) effectiveTools(history []Message) []string {
	base := q.tctx.Tools
	if len(base) == 0 {
		base = q.cfg.Registry.Names()
	}
	constraint := latestSkillConstraint(history)
	if constraint == nil {
		return base
	}
	var out []string
	for _, name := range base {
		if slices.Contains(constraint, name) {
			out = append(out, name)
		}
	}
	return out
}

// latestSkillConstraint returns the newest skill allow-list recorded in a
// tool_result, or nil when unconstrained.
func latestSkillConstraint(history []Message) []string {
	for i := len(history) - 1; i >= 0; i-- {
		um, ok := history[i].(*UserMessage)
		if !ok {
			continue
		}
		for _, b := range um.Blocks {
			if b.Type != BlockToolResult || b.ToolResult.SkillTools == nil {
				continue
			}
			if slices.Contains(b.ToolResult.SkillTools, "*") {
				return nil
			}
			return b.ToolResult.SkillTools
		}
	}
	return nil
}

func skillBanner(history []Message) string {
	constraint := latestSkillConstraint(history)
	if constraint == nil {
		return ""
	}
	return "An active skill restricts you to these tools: " + strings.Join(constraint, ", ") + "."
}

// injectReminders appends reminder text to the latest user message that
// carries text and does not lead with a tool_result. The history itself is
// left untouched.
func injectReminders(history []Message, reminders []string) []Message {
	if len(reminders) == 0 {
		return history
	}
	for i := len(history) - 1; i >= 0; i-- {
		um, ok := history[i].(*UserMessage)
		if !ok || um.leadsWithToolResult() {
			continue
		}
		hasText := false
		for _, b := range um.Blocks {
			if b.Type == BlockText {
				hasText = true
				break
			}
		}
		if !hasText {
			continue
		}
		clone := &UserMessage{Blocks: slices.Clone(um.Blocks)}
		clone.Blocks = append(clone.Blocks, TextBlock(strings.Join(reminders, "\n")))
		out := slices.Clone(history)
		out[i] = clone
		return out
	}
	return history
}

// assignToolUseIDs fills in ids the model omitted so results can be matched.
func assignToolUseIDs(blocks []Block) {
	for _, b := range blocks {
		if b.Type == BlockToolUse && b.ToolUse.ID == "" {
			b.ToolUse.ID = uuid.NewString()
		}
	}
}

func isEmptyReply(m *AssistantMessage) bool {
	return len(m.ToolUses()) == 0 && m.Text() == NoContentSentinel
}

func (q *querier) safetyLookup(enabled []string) SafetyLookup {
	return func(name string) bool {
		if !slices.Contains(enabled, name) {
			return false
		}
		tool, ok := q.cfg.Registry.Get(name)
		return ok && tool.IsConcurrencySafe()
	}
}

func (q *querier) concurrencyCap() int {
	limit := q.cfg.Settings.Concurrency
	if limit < 1 {
		limit = config.DefaultConcurrency
	}
	if limit > config.MaxConcurrency {
		limit = config.MaxConcurrency
	}
	return limit
}

func (q *querier) interrupt(ctx context.Context) {
	q.countTurn("interrupted")
	q.journalEvent(ctx, "interrupted", "", nil)
	q.emit(ctx, &AssistantMessage{
		Blocks:     []Block{TextBlock(InterruptText)},
		StopReason: "interrupted",
	})
}

// emit sends a message downstream and records it. Concurrent dispatchers
// reach this through the collect mutex, so sends are serialised.
func (q *querier) emit(ctx context.Context, msg Message) {
	q.record(ctx, msg)
	q.out <- msg
}

func (q *querier) record(ctx context.Context, msg Message) {
	if q.cfg.Transcript == nil || q.tctx.MessageLogName == "" {
		return
	}
	if _, ok := msg.(*ProgressMessage); ok {
		return
	}
	if err := q.cfg.Transcript.Record(ctx, q.tctx.MessageLogName, msg); err != nil {
		q.logWarn(ctx, "transcript write failed", err)
	}
}

func (q *querier) recordUsage(m *AssistantMessage) {
	if m.Usage == nil || q.cfg.Metrics == nil {
		return
	}
	model := strings.TrimPrefix(q.cfg.Model, "models/")
	q.cfg.Metrics.TokensUsed.WithLabelValues(model, "prompt").Add(float64(m.Usage.PromptTokenCount))
	q.cfg.Metrics.TokensUsed.WithLabelValues(model, "completion").Add(float64(m.Usage.CandidatesTokenCount))
}

func (q *querier) thoughtSink() func(state.Thought) {
	if q.cfg.State == nil {
		return nil
	}
	return q.cfg.State.SetThought
}

func (q *querier) setStatus(status string) {
	if q.cfg.State != nil {
		q.cfg.State.SetStatus(status)
	}
}

func (q *querier) countTurn(outcome string) {
	if q.cfg.Metrics != nil {
		q.cfg.Metrics.TurnCounter.WithLabelValues(outcome).Inc()
	}
}

func (q *querier) countRetry(err error) {
	if q.cfg.Metrics == nil {
		return
	}
	q.cfg.Metrics.ModelRetryCounter.WithLabelValues(retryReason(err)).Inc()
}

func retryReason(err error) string {
	var timeout *transport.TimeoutError
	if errors.As(err, &timeout) {
		return timeout.Reason
	}
	var status *transport.HTTPStatusError
	if errors.As(err, &status) {
		return "http_status"
	}
	return "io"
}

func (q *querier) journalEvent(ctx context.Context, kind, message string, fields map[string]any) {
	if q.cfg.Journal == nil {
		return
	}
	q.cfg.Journal.Append(kind, message, fields)
}

func (q *querier) logWarn(ctx context.Context, msg string, err error) {
	if q.cfg.Logger != nil {
		q.cfg.Logger.Warn(ctx, msg, "error", err.Error())
	}
}

func cloneRequestWithContents(req *transport.Request, contents []transport.Content) *transport.Request {
	clone := *req
	clone.Contents = contents
	return &clone
}
