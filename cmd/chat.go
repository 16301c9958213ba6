package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/checkpoint"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/config"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/engine"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/llm"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/logging"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/mcp"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/store"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/tools"
)

var (
	chatChannel     string
	chatAutoExec    []string
	chatCheckpoints bool
)

func init() {
	chatCmd.Flags().StringVar(&chatChannel, "channel", "", "Channel to use (default from config)")
	chatCmd.Flags().StringSliceVar(&chatAutoExec, "auto", nil, "Extra tool names or patterns to auto-execute")
	chatCmd.Flags().BoolVar(&chatCheckpoints, "checkpoints", true, "Snapshot the workspace around tool batches")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Start an agentic chat session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logging.Setup(os.Stderr, debugFlag || cfg.Debug)

		channel, err := cfg.ChannelFor(chatChannel)
		if err != nil {
			return err
		}

		provider, err := newChannelProvider(cfg, channel)
		if err != nil {
			return err
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		workDir, err := os.Getwd()
		if err != nil {
			return err
		}

		registry := tools.NewRegistry()
		registry.Register(&tools.ReadFileTool{Root: workDir})
		registry.Register(&tools.WriteFileTool{Root: workDir})
		registry.Register(&tools.GlobTool{Root: workDir})
		registry.Register(&tools.ShellTool{
			Dir:     workDir,
			Timeout: time.Duration(cfg.Tools.ShellTimeoutSecs) * time.Second,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		manager := mcp.NewManager(registry, log)
		manager.StartAll(ctx, cfg.MCP)
		defer manager.StopAll()

		approvals, err := tools.LoadProjectApprovals(workDir)
		if err != nil {
			log.Warn("failed to load project approvals", "error", err)
			approvals = &tools.ProjectApprovals{}
		}
		autoExec := append([]string{}, cfg.Tools.AutoExecute...)
		autoExec = append(autoExec, approvals.AutoExecute...)
		autoExec = append(autoExec, chatAutoExec...)

		var checkpoints checkpoint.Manager = checkpoint.Disabled{}
		if chatCheckpoints {
			ws, err := checkpoint.NewWorkspace(workDir, "")
			if err != nil {
				log.Warn("checkpointing disabled", "error", err)
			} else {
				checkpoints = ws
			}
		}

		eng := engine.New(provider, st, registry, chat.NewGate(autoExec), checkpoints,
			llm.TokenCounterFor(provider),
			engine.Config{
				Model:             channel.Model,
				SystemPrompt:      systemPrompt(channel, workDir),
				MaxToolIterations: channel.MaxToolIterations,
				Window:            channel.Window(),
				API: store.APIOptions{
					Multimodal: provider.Capabilities().Multimodal,
				},
			}, log)

		conversationID := uuid.NewString()
		if err := st.Create(conversationID); err != nil {
			return err
		}

		if len(args) == 1 {
			return runTurn(ctx, eng, approvals, conversationID, args[0])
		}
		return runREPL(ctx, eng, approvals, conversationID)
	},
}

func newChannelProvider(cfg *config.Config, channel config.ChannelConfig) (llm.Provider, error) {
	opts := llm.ProviderOptions{Model: channel.Model}
	switch channel.Provider {
	case "anthropic":
		opts.APIKey = cfg.Provider.Anthropic.APIKey
	case "gemini":
		opts.APIKey = cfg.Provider.Gemini.APIKey
	case "openai", "openai-compat":
		opts.APIKey = cfg.Provider.OpenAI.APIKey
		opts.BaseURL = cfg.Provider.OpenAI.BaseURL
	}
	return llm.NewProvider(channel.Provider, opts)
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Session.Store == "memory" {
		return store.NewMemory(), nil
	}
	path := cfg.Session.Path
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.NewSQLite(path)
}

func systemPrompt(channel config.ChannelConfig, workDir string) func(ctx context.Context) string {
	if channel.SystemPrompt != "" {
		prompt := channel.SystemPrompt
		return func(context.Context) string { return prompt }
	}
	return func(context.Context) string {
		return fmt.Sprintf(`You are limcode, an agentic coding assistant running in a terminal.

Working directory: %s
Current time: %s

Use the available tools to inspect and modify files and run commands.
Prefer small, verifiable steps. Report what you changed.`,
			workDir, time.Now().Format(time.RFC1123))
	}
}

func runREPL(ctx context.Context, eng *engine.Engine, approvals *tools.ProjectApprovals, conversationID string) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := runTurn(ctx, eng, approvals, conversationID, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

// runTurn drives one user turn to a terminal event, resuming through
// confirmation pauses as the user answers.
func runTurn(ctx context.Context, eng *engine.Engine, approvals *tools.ProjectApprovals, conversationID, message string) error {
	events, err := eng.Send(ctx, conversationID, chat.UserText(message))
	if err != nil {
		return err
	}

	for {
		pending, done, err := consumeEvents(events)
		if err != nil || done {
			return err
		}

		decision := promptConfirmation(pending, approvals)
		events, err = eng.Resume(ctx, conversationID, decision)
		if err != nil {
			return err
		}
	}
}

// consumeEvents drains one event channel. pending is non-nil when the loop
// paused for confirmation.
func consumeEvents(events <-chan engine.Event) (pending []chat.FunctionCall, done bool, err error) {
	for ev := range events {
		switch ev := ev.(type) {
		case engine.ChunkEvent:
			for _, part := range ev.Delta.Parts {
				if part.IsText() && !part.Thought {
					fmt.Print(part.Text)
				}
			}
		case engine.ToolsExecutingEvent:
			for _, call := range ev.Calls {
				fmt.Fprintf(os.Stderr, "\n[tool] %s\n", call.Name)
			}
		case engine.ToolIterationEvent:
			// Results feed back to the model; nothing to show.
		case engine.AwaitingConfirmationEvent:
			return ev.Calls, false, nil
		case engine.CompleteEvent:
			fmt.Println()
			return nil, true, nil
		case engine.CancelledEvent:
			fmt.Fprintln(os.Stderr, "\ncancelled")
			return nil, true, nil
		case engine.MaxIterationsEvent:
			fmt.Fprintf(os.Stderr, "\nstopped after %d tool iterations; send a message to continue\n", ev.Iterations)
			return nil, true, nil
		case engine.ErrorEvent:
			return nil, true, ev.Err
		}
	}
	return nil, true, nil
}

func promptConfirmation(calls []chat.FunctionCall, approvals *tools.ProjectApprovals) engine.Decision {
	decision := engine.Decision{Approved: make(map[string]bool, len(calls))}
	reader := bufio.NewReader(os.Stdin)
	for _, call := range calls {
		fmt.Fprintf(os.Stderr, "\nallow %s? args=%v [y]es/[n]o/[a]lways: ", call.Name, call.Args)
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			decision.Approved[call.ID] = true
		case "a", "always":
			decision.Approved[call.ID] = true
			if err := approvals.Approve(call.Name); err != nil {
				fmt.Fprintf(os.Stderr, "failed to save approval: %v\n", err)
			}
		}
	}
	return decision
}
