package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"AgentEngine/cmd/ui"
	"AgentEngine/pkg/engine/convo"
	"AgentEngine/pkg/engine/orchestrator"
	"AgentEngine/pkg/engine/provider"
	"AgentEngine/pkg/engine/shellsvc"
	"AgentEngine/pkg/engine/store"
	"AgentEngine/pkg/engine/tools"
	"AgentEngine/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	converseModeFlag   string
	converseResumeFlag bool
)

var converseCmd = &cobra.Command{
	Use:   "converse",
	Short: "Drive the Conversation Orchestrator directly in the terminal",
	Long: `converse starts a session against the Conversation Orchestrator — the
streaming request/tool/review loop this engine is built around. Write and
shell tool calls pause for your approval unless the repo's .north/ policy
files already auto-accept them. The transcript is saved to
.north/conversation.json on exit; --resume restores it.`,
	Run: runConverse,
}

func init() {
	converseCmd.Flags().StringVar(&converseModeFlag, "mode", "", "ask | agent — controls which tools the model may call")
	converseCmd.Flags().BoolVar(&converseResumeFlag, "resume", false, "restore the previous conversation from .north/conversation.json")
	rootCmd.AddCommand(converseCmd)
}

func runConverse(cmd *cobra.Command, args []string) {
	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		ui.Errorf("Error: %v", err)
		return
	}
	repoCfg := store.LoadRepoConfig(workspaceRoot)

	eng, cleanup, err := buildOrchestratorEngine(workspaceRoot, repoCfg)
	if err != nil {
		ui.Errorf("Error initializing orchestrator: %v", err)
		return
	}
	defer cleanup()

	convStore, err := store.NewFileConversationStore(workspaceRoot)
	if err != nil {
		ui.Errorf("Error: %v", err)
		return
	}
	if converseResumeFlag {
		if saved, _ := convStore.Load(context.Background()); saved != nil {
			if err := eng.RestoreConversation(saved.Transcript, saved.RollingSummary); err != nil {
				ui.Errorf("could not resume: %v", err)
			} else {
				ui.Dim(fmt.Sprintf("resumed %d entries from .north/conversation.json", len(saved.Transcript)))
			}
		}
	}

	// The spinner and the transcript share one terminal; whichever prints
	// next stops the spinner first.
	var spinMu sync.Mutex
	var stopSpin func()
	startSpin := func() {
		spinMu.Lock()
		if stopSpin == nil {
			stopSpin = ui.StartThinking("thinking")
		}
		spinMu.Unlock()
	}
	haltSpin := func() {
		spinMu.Lock()
		if stopSpin != nil {
			stopSpin()
			stopSpin = nil
		}
		spinMu.Unlock()
	}

	var renderMu sync.Mutex
	printed := len(eng.State().Transcript) // resumed entries are not re-rendered
	unsubscribe := eng.Subscribe(func(state convo.State) {
		renderMu.Lock()
		defer renderMu.Unlock()
		if len(state.Transcript) > printed {
			haltSpin()
		}
		printed = renderNewEntries(state.Transcript, printed)
	})
	defer unsubscribe()

	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)
	mode := convo.Mode(converseModeFlag)
	if converseModeFlag == "" && repoCfg.Mode != "" {
		mode = convo.Mode(repoCfg.Mode)
	}
	if mode != convo.ModeAsk {
		mode = convo.ModeAgent
	}

	ui.Banner("Conversation Orchestrator — type /exit to quit.")
	for {
		fmt.Print("\n> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			saveConversation(eng, convStore)
			return
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		// SendMessage parks inside any pending gate, so it must run off the
		// input goroutine; this loop keeps answering gates until the turn
		// settles.
		errCh := make(chan error, 1)
		startSpin()
		go func() { errCh <- eng.SendMessage(ctx, text, mode) }()
	turn:
		for {
			select {
			case err := <-errCh:
				haltSpin()
				if err != nil {
					ui.Errorf("error: %v", err)
				}
				break turn
			case <-time.After(30 * time.Millisecond):
				if eng.State().PendingReviewID != "" {
					haltSpin()
					resolvePendingReview(eng)
				}
			}
		}

		if eng.ExitRequested() {
			saveConversation(eng, convStore)
			ui.Dim("conversation saved. Goodbye.")
			return
		}
	}
}

func saveConversation(eng *orchestrator.Engine, convStore *store.FileConversationStore) {
	state := eng.State()
	err := convStore.Save(context.Background(), &store.Conversation{
		Transcript:     state.Transcript,
		RollingSummary: state.RollingSummary,
		Model:          state.CurrentModel,
	})
	if err != nil {
		logger.Warn("converse", "failed to save conversation", map[string]interface{}{"error": err.Error()})
	}
}

// renderNewEntries prints every transcript entry appended since the last
// snapshot the caller rendered, and returns the new high-water mark.
func renderNewEntries(transcript []convo.Entry, from int) int {
	for i := from; i < len(transcript); i++ {
		e := transcript[i]
		switch e.Kind {
		case convo.EntryAssistant:
			if !e.IsStreaming && e.Content != "" {
				ui.Assistant(e.Content)
			}
		case convo.EntryTool:
			switch {
			case e.ToolResult == nil:
				ui.ToolLine(e.ToolName, "...")
			case e.ToolResult.OK:
				ui.ToolLine(e.ToolName, "ok")
			default:
				ui.ToolLine(e.ToolName, "error: "+e.ToolResult.Error)
			}
		case convo.EntryCommandExecuted:
			ui.Dim(fmt.Sprintf("/%s: %s", e.CommandName, e.Content))
		}
	}
	if len(transcript) > from {
		return len(transcript)
	}
	return from
}

// resolvePendingReview prompts for exactly one pending gate, if any, and
// resolves it. A batch of tool calls may open several gates in a row, so
// the caller keeps polling until the turn settles.
func resolvePendingReview(eng *orchestrator.Engine) {
	state := eng.State()
	if state.PendingReviewID == "" {
		return
	}
	var pending *convo.Entry
	for i := range state.Transcript {
		if state.Transcript[i].ID == state.PendingReviewID {
			pending = &state.Transcript[i]
			break
		}
	}
	if pending == nil {
		return
	}

	switch pending.Kind {
	case convo.EntryDiffReview:
		ui.ReviewHeader(fmt.Sprintf("Write to %d file(s)", pending.FilesChanged))
		for _, d := range pending.Diffs {
			ui.Dim(fmt.Sprintf("%s (+%d/-%d)", d.Path, d.LinesAdded, d.LinesRemoved))
			ui.Diff(d.Diff)
		}
		id, ok := ui.Select([]ui.Option{
			{ID: "accept", Label: "accept", Key: "a"},
			{ID: "always", Label: "always accept edits in this repo", Key: "w"},
			{ID: "reject", Label: "reject", Key: "r"},
		})
		if !ok {
			id = "reject"
		}
		if err := eng.ResolveWriteReview(pending.ID, orchestrator.WriteDecision(id)); err != nil {
			logger.Warn("converse", "failed to resolve write review", map[string]interface{}{"error": err.Error()})
		}

	case convo.EntryShellReview:
		ui.ReviewHeader("Shell command: " + pending.Command)
		id, ok := ui.Select([]ui.Option{
			{ID: "run", Label: "run once", Key: "r"},
			{ID: "always", Label: "always allow this exact command", Key: "w"},
			{ID: "auto", Label: "auto-approve all shell commands in this repo", Key: "t"},
			{ID: "deny", Label: "deny", Key: "d"},
		})
		if !ok {
			id = "deny"
		}
		if err := eng.ResolveShellReview(pending.ID, orchestrator.ShellDecision(id)); err != nil {
			logger.Warn("converse", "failed to resolve shell review", map[string]interface{}{"error": err.Error()})
		}

	case convo.EntryCommandReview:
		ui.ReviewHeader(pending.Prompt)
		options := make([]ui.Option, 0, len(pending.Options))
		for _, opt := range pending.Options {
			options = append(options, ui.Option{ID: opt.ID, Label: opt.Label})
		}
		id, ok := ui.Select(options)
		if !ok {
			id = ""
		}
		if err := eng.ResolveCommandReview(pending.ID, id); err != nil {
			logger.Warn("converse", "failed to resolve command review", map[string]interface{}{"error": err.Error()})
		}
	}
}

// converseSystemPrompt describes the orchestrator's tool surface —
// workspace context up front, then per-tool usage notes.
func converseSystemPrompt(workspaceRoot string) string {
	return fmt.Sprintf(`You are a coding assistant with tools to read, search, edit, and run
commands in a single working directory: %s. All paths you pass to tools
are relative to this directory.

## Tool usage
- Read files with read_file, list directories with ls, search with grep/glob.
- Propose file changes with edit_replace_exact, edit_insert_line, or create_file.
  These do not take effect immediately — the change is staged for the
  user's approval and you will see the outcome as a tool result once they
  decide.
- Run shell commands with shell_run. Destructive or unapproved commands
  pause for the user's approval the same way file edits do.
- Prefer the smallest edit that satisfies the request. Re-read a file
  before editing it if you are not certain of its current contents.
`, workspaceRoot)
}

// buildOrchestratorEngine assembles one orchestrator.Engine against
// workspaceRoot, wiring the persistent Shell Service, the two-phase write
// tools, and the real Anthropic provider when an API key is configured
// (falling back to a scripted mock so `converse` still runs offline).
func buildOrchestratorEngine(workspaceRoot string, repoCfg store.RepoConfig) (*orchestrator.Engine, func(), error) {
	shellRegistry := shellsvc.NewRegistry()
	shellSvc, err := shellRegistry.Get(workspaceRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("start shell service: %w", err)
	}

	reg := tools.DefaultOrchestratorRegistry(workspaceRoot, shellSvc)

	allowlist, err := store.NewFileAllowlistStore(workspaceRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("open allowlist store: %w", err)
	}
	autoAccept, err := store.NewFileAutoAcceptStore(workspaceRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("open auto-accept store: %w", err)
	}
	modelStore, err := store.NewFileModelStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open model store: %w", err)
	}

	model := modelFlag
	if model == "" {
		model = repoCfg.Model
	}
	if model == "" {
		if saved, err := modelStore.GetSavedModel(context.Background()); err == nil && saved != "" {
			model = saved
		}
	}

	var p provider.Provider
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		if model == "" {
			model = "claude-sonnet-4-20250514"
		}
		anthropic, err := provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      os.Getenv("ANTHROPIC_BASE_URL"),
			DefaultModel: model,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init anthropic provider: %w", err)
		}
		p = anthropic
	} else {
		if model == "" {
			model = "mock"
		}
		p = provider.NewMockProvider(provider.MockTurn{
			Text:       "No ANTHROPIC_API_KEY set in the environment — replaying a scripted response instead of calling a model.",
			StopReason: provider.StopEndTurn,
		})
	}

	eng := orchestrator.NewEngine(orchestrator.Config{
		RepoRoot:            workspaceRoot,
		Provider:            p,
		Tools:               reg,
		ShellSvc:            shellRunnerAdapter{svc: shellSvc},
		Allowlist:           allowlist,
		AutoAccept:          autoAccept,
		ModelStore:          modelStore,
		Model:               model,
		ModelLimit:          200_000,
		SystemPrompt:        converseSystemPrompt(workspaceRoot),
		ShellTimeoutDefault: time.Duration(repoCfg.ShellTimeoutMs) * time.Millisecond,
	})

	cleanup := func() { shellRegistry.DisposeAll() }
	return eng, cleanup, nil
}

// shellRunnerAdapter satisfies orchestrator.ShellRunner by translating
// shellsvc.Result into the orchestrator's own ShellResult shape — the
// orchestrator package deliberately does not import shellsvc directly (see
// ShellRunner's doc comment), so this small conversion lives at the wiring
// site instead.
type shellRunnerAdapter struct{ svc *shellsvc.Service }

func (a shellRunnerAdapter) Run(ctx context.Context, command string, timeout time.Duration) (orchestrator.ShellResult, error) {
	res, err := a.svc.Run(ctx, command, timeout)
	if err != nil {
		return orchestrator.ShellResult{}, err
	}
	return orchestrator.ShellResult{
		Stdout:     res.Stdout,
		ExitCode:   res.ExitCode,
		DurationMs: res.DurationMs,
	}, nil
}
