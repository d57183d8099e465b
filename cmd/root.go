package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"AgentEngine/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Global flags
var modelFlag string

var rootCmd = &cobra.Command{
	Use:   "north",
	Short: "Conversation Orchestrator — an LLM coding assistant with human-in-the-loop approval",
	Long: `north drives an LLM against the current repository, executing the tool
calls the model requests — read files, search, prepare edits, run shell
commands — with write and shell actions gated behind your approval.

Subcommands:
  converse   interactive terminal session
  serve      host sessions over the JSON-over-WebSocket protocol`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "model id to use (defaults to the saved or repo-configured model)")
}

// Execute runs the CLI.
func Execute() {
	loadDotEnv()

	logPath := filepath.Join(".north", "logs", time.Now().Format("20060102")+".log")
	if err := logger.Init(logPath, logger.ParseLevel(os.Getenv("LOG_LEVEL"))); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspaceRoot finds the repository root: the nearest ancestor of
// the working directory containing a .git entry, or the working directory
// itself when none is found.
func resolveWorkspaceRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	if real, err := filepath.EvalSymlinks(wd); err == nil {
		wd = real
	}
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return wd, nil
		}
		dir = parent
	}
}

// loadDotEnv reads a .env file next to the working directory. Load never
// overrides variables already present in the shell environment.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return // Ignore if file doesn't exist
	}
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}
}
