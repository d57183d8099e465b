package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"AgentEngine/pkg/engine/orchestrator"
	"AgentEngine/pkg/engine/provider"
	"AgentEngine/pkg/engine/shellsvc"
	"AgentEngine/pkg/engine/store"
	"AgentEngine/pkg/engine/tools"
	"AgentEngine/pkg/engine/webhost"
	"AgentEngine/pkg/logger"

	"github.com/spf13/cobra"
)

var serveAddrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the Conversation Orchestrator over the JSON-over-WebSocket Web protocol",
	Long: `serve starts an HTTP listener that upgrades to WebSocket and speaks the
orchestrator's remote protocol: hello/session.create/chat.send/
review.resolve/session.cancel/session.stop from the client, and ready/
session.created/state/error back. Each session.create spins up its own
*orchestrator.Engine rooted at the requested path (or the current
directory's workspace root if none is given).`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddrFlag, "addr", "127.0.0.1:8710", "address to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	shellRegistry := shellsvc.NewRegistry()
	defer shellRegistry.DisposeAll()

	factory := func(repoRoot string) (*orchestrator.Engine, error) {
		if repoRoot == "" {
			root, err := resolveWorkspaceRoot()
			if err != nil {
				return nil, err
			}
			repoRoot = root
		}

		repoCfg := store.LoadRepoConfig(repoRoot)
		shellSvc, err := shellRegistry.Get(repoRoot)
		if err != nil {
			return nil, fmt.Errorf("start shell service: %w", err)
		}
		reg := tools.DefaultOrchestratorRegistry(repoRoot, shellSvc)

		allowlist, err := store.NewFileAllowlistStore(repoRoot)
		if err != nil {
			return nil, fmt.Errorf("open allowlist store: %w", err)
		}
		autoAccept, err := store.NewFileAutoAcceptStore(repoRoot)
		if err != nil {
			return nil, fmt.Errorf("open auto-accept store: %w", err)
		}
		modelStore, err := store.NewFileModelStore()
		if err != nil {
			return nil, fmt.Errorf("open model store: %w", err)
		}

		model := modelFlag
		if model == "" {
			model = repoCfg.Model
		}
		if model == "" {
			if saved, err := modelStore.GetSavedModel(cmd.Context()); err == nil && saved != "" {
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
				return nil, fmt.Errorf("init anthropic provider: %w", err)
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

		return orchestrator.NewEngine(orchestrator.Config{
			RepoRoot:            repoRoot,
			Provider:            p,
			Tools:               reg,
			ShellSvc:            shellRunnerAdapter{svc: shellSvc},
			Allowlist:           allowlist,
			AutoAccept:          autoAccept,
			ModelStore:          modelStore,
			Model:               model,
			ModelLimit:          200_000,
			SystemPrompt:        converseSystemPrompt(repoRoot),
			ShellTimeoutDefault: time.Duration(repoCfg.ShellTimeoutMs) * time.Millisecond,
		}), nil
	}

	srv, err := webhost.New(webhost.Config{EngineFactory: factory})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Conversation Orchestrator listening on ws://%s (token required in hello frame)\n", serveAddrFlag)
	fmt.Printf("auth token: %s\n", srv.AuthToken())

	if err := http.ListenAndServe(serveAddrFlag, srv.Handler()); err != nil {
		logger.Warn("serve", "listener exited", map[string]interface{}{"error": err.Error()})
	}
}
