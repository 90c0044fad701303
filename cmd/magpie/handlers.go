// handlers.go contains the command handlers: configuration resolution,
// collaborator wiring, and output rendering.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/magpie-ai/magpie/internal/agent"
	"github.com/magpie-ai/magpie/internal/config"
	"github.com/magpie-ai/magpie/internal/journal"
	"github.com/magpie-ai/magpie/internal/observability"
	"github.com/magpie-ai/magpie/internal/permission"
	"github.com/magpie-ai/magpie/internal/sessions"
	"github.com/magpie-ai/magpie/internal/state"
	"github.com/magpie-ai/magpie/internal/tools"
	"github.com/magpie-ai/magpie/internal/transport"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

const defaultModel = "gemini-2.5-pro"

// basePrompt is the first system prompt part; tool snippets follow it.
const basePrompt = `You are Magpie, an agentic command-line assistant. Use the
available tools to inspect and modify the user's working directory. Prefer
reading before writing, keep shell commands minimal, and report what you did.`

func runAsk(ctx context.Context, opts askOptions, args []string) error {
	settings, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.mode != "" {
		settings.PermissionMode = config.NormalizeMode(opts.mode)
	}
	if opts.safe {
		settings.SafeMode = true
	}
	if opts.verbose {
		settings.Verbose = true
	}

	level := "info"
	if opts.debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "magpie",
		ServiceVersion: version,
		Endpoint:       os.Getenv("MAGPIE_OTLP_ENDPOINT"),
	})
	defer shutdownTracer(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = observability.AddRequestID(ctx, uuid.NewString())
	ctx, span := tracer.Start(ctx, "ask")
	defer span.End()

	model := opts.model
	if model == "" {
		model = os.Getenv("MAGPIE_MODEL")
	}
	if model == "" {
		model = defaultModel
	}
	baseURL := os.Getenv("MAGPIE_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := transport.NewClient(transport.Config{
		BaseURL:           baseURL,
		Token:             os.Getenv("MAGPIE_API_KEY"),
		Project:           os.Getenv("MAGPIE_PROJECT"),
		RequestTimeout:    settings.RequestTimeout,
		StreamIdleTimeout: settings.StreamIdleTimeout,
		Logger:            logger,
		Metrics:           metrics,
	})

	registry := tools.NewRegistry()
	if err := registry.Register(ctx,
		tools.LSTool{}, tools.ReadTool{}, tools.WriteTool{}, tools.BashTool{}); err != nil {
		return err
	}

	allowlist, err := permission.OpenAllowlist(settings.AllowlistPath, logger)
	if err != nil {
		return fmt.Errorf("open allowlist: %w", err)
	}
	defer allowlist.Close()

	engine := &permission.Engine{
		Project:  allowlist,
		Session:  permission.NewSessionGrants(),
		Describe: registry.CachedDescription,
		Logger:   logger,
		Metrics:  metrics,
	}
	if isTerminal(os.Stdin) {
		requests := make(chan permission.ConfirmRequest)
		engine.Requests = requests
		go runConfirmer(ctx, requests)
	}

	stateSvc := state.NewService(settings.StatePath, logger)
	defer stateSvc.Flush()
	jrnl := journal.New(settings.JournalPath, logger)

	var transcript agent.Transcript
	if settings.TranscriptPath != "" {
		store, err := sessions.Open(settings.TranscriptPath)
		if err != nil {
			return fmt.Errorf("open transcript store: %w", err)
		}
		defer store.Close()
		transcript = store
	}

	session := opts.session
	if session == "" {
		session = uuid.NewString()
	}
	cwd, _ := os.Getwd()
	tctx := &tools.Context{
		PermissionMode: settings.PermissionMode,
		SafeMode:       settings.SafeMode,
		Tools:          settings.Tools,
		Verbose:        settings.Verbose,
		MessageLogName: session,
		CWD:            cwd,
	}

	prompt := strings.Join(args, " ")
	jrnl.Append("ask", prompt, map[string]any{"session": session, "model": model})

	compactor := &agent.SummaryCompactor{
		Client:      client,
		Model:       model,
		MaxAttempts: settings.MaxAttempts,
		Logger:      logger,
	}

	cfg := agent.QueryConfig{
		Client:       client,
		Model:        model,
		Registry:     registry,
		Permissions:  engine,
		Compactor:    compactor,
		SystemPrompt: []string{basePrompt},
		Transcript:   transcript,
		Settings:     *settings,
		State:        stateSvc,
		Journal:      jrnl,
		Logger:       logger,
		Metrics:      metrics,
	}

	history := []agent.Message{agent.UserText(prompt)}
	return renderMessages(registry, settings.Verbose,
		agent.Query(ctx, cfg, history, tctx))
}

// renderMessages prints the query stream in arrival order.
func renderMessages(registry *tools.Registry, verbose bool, ch <-chan agent.Message) error {
	for msg := range ch {
		switch m := msg.(type) {
		case *agent.AssistantMessage:
			for _, b := range m.Blocks {
				switch b.Type {
				case agent.BlockText:
					fmt.Println(strings.TrimRight(b.Text, "\n"))
				case agent.BlockToolUse:
					rendered := ""
					if tool, ok := registry.Get(b.ToolUse.Name); ok {
						rendered = tool.RenderToolUseMessage(b.ToolUse.Input, verbose)
					}
					fmt.Printf("* %s(%s)\n", b.ToolUse.Name, rendered)
				}
			}
		case *agent.UserMessage:
			for _, b := range m.Blocks {
				if b.Type != agent.BlockToolResult {
					continue
				}
				if b.ToolResult.IsError {
					fmt.Printf("  ! %s\n", firstLine(b.ToolResult.Content))
				} else if verbose {
					fmt.Printf("  > %s\n", firstLine(b.ToolResult.Content))
				}
			}
		case *agent.ProgressMessage:
			if verbose && m.Progress.Text != "" {
				fmt.Printf("  … %s\n", firstLine(m.Progress.Text))
			}
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func runSessionsList(ctx context.Context, configPath string) error {
	store, settings, err := openTranscripts(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	names, err := store.LogNames(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Printf("No transcripts in %s\n", settings.TranscriptPath)
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runSessionsShow(ctx context.Context, configPath, name string) error {
	store, _, err := openTranscripts(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	msgs, err := store.Messages(ctx, name)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("no transcript named %q", name)
	}
	for _, msg := range msgs {
		switch m := msg.(type) {
		case *agent.UserMessage:
			for _, b := range m.Blocks {
				switch b.Type {
				case agent.BlockText:
					fmt.Printf("user: %s\n", b.Text)
				case agent.BlockToolResult:
					fmt.Printf("tool_result[%s]: %s\n", b.ToolResult.ToolUseID, firstLine(b.ToolResult.Content))
				}
			}
		case *agent.AssistantMessage:
			for _, b := range m.Blocks {
				switch b.Type {
				case agent.BlockText:
					fmt.Printf("assistant: %s\n", b.Text)
				case agent.BlockToolUse:
					fmt.Printf("tool_use[%s]: %s\n", b.ToolUse.ID, b.ToolUse.Name)
				}
			}
		}
	}
	return nil
}

func openTranscripts(configPath string) (*sessions.Store, *config.Settings, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if settings.TranscriptPath == "" {
		return nil, nil, fmt.Errorf("transcript_path is not configured")
	}
	store, err := sessions.Open(settings.TranscriptPath)
	if err != nil {
		return nil, nil, err
	}
	return store, settings, nil
}

func runPermissionsList(configPath string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	allowlist, err := permission.OpenAllowlist(settings.AllowlistPath, observability.Nop())
	if err != nil {
		return err
	}
	defer allowlist.Close()

	keys := allowlist.Keys()
	if len(keys) == 0 {
		fmt.Printf("No grants in %s\n", settings.AllowlistPath)
		return nil
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

func runPermissionsGrant(configPath, key string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	allowlist, err := permission.OpenAllowlist(settings.AllowlistPath, observability.Nop())
	if err != nil {
		return err
	}
	defer allowlist.Close()

	if err := allowlist.Add(key); err != nil {
		return err
	}
	fmt.Printf("Granted %s\n", key)
	return nil
}
