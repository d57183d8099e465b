// Package command holds the in-chat slash commands as a registered-command
// table the orchestrator owns, rather than an ad hoc switch in a CLI
// entrypoint, so both the terminal and Web protocol front ends share one
// parser and one set of effects.
package command

import (
	"context"
	"fmt"
	"strings"

	"AgentEngine/pkg/engine/convo"
)

// Context is the surface a Command's Run function uses to mutate
// orchestrator state; the orchestrator is the only implementer.
type Context interface {
	SetModel(modelID string)
	GetModel() string
	ResetChat()
	SetRollingSummary(s *convo.RollingSummary)
	GenerateSummary(ctx context.Context) (*convo.RollingSummary, error)
	TrimTranscript(keepLast int)
	RequestExit()
	ShowPicker(ctx context.Context, name, prompt string, options []convo.PickerOption) (string, error)
	GetTranscript() []convo.Entry
}

// Command is one registered slash command.
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, cc Context, args []string) (string, error)
}

// Registry holds the set of known slash commands, keyed by name without
// the leading slash.
type Registry struct {
	commands map[string]Command
}

// NewRegistry returns a registry pre-populated with the built-in commands.
func NewRegistry() *Registry {
	r := &Registry{commands: make(map[string]Command)}
	r.Register(Command{Name: "model", Description: "switch the active model", Run: cmdModel})
	r.Register(Command{Name: "reset", Description: "clear the conversation", Run: cmdReset})
	r.Register(Command{Name: "compress", Description: "summarize and trim the conversation", Run: cmdCompress})
	r.Register(Command{Name: "exit", Description: "end the session", Run: cmdExit})
	r.Register(Command{Name: "quit", Description: "end the session", Run: cmdExit})
	return r
}

// Register adds or replaces a command.
func (r *Registry) Register(c Command) {
	r.commands[c.Name] = c
}

// Get looks up a command by name.
func (r *Registry) Get(name string) (Command, bool) {
	c, ok := r.commands[strings.ToLower(name)]
	return c, ok
}

// ParsedInvocation is one leading "/name args..." found in user input.
type ParsedInvocation struct {
	Name string
	Args []string
}

// ExtractLeading parses any leading slash-command lines from content and
// returns them along with the residual text (the part, if any, still bound
// for the LLM). Only lines that start with "/" at the very beginning of
// the (trimmed) input are treated as commands, matching the
// leading-commands-only rule in the run loop.
func ExtractLeading(content string) ([]ParsedInvocation, string) {
	var invocations []ParsedInvocation
	lines := strings.Split(content, "\n")
	i := 0
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, "/") {
			break
		}
		fields := strings.Fields(strings.TrimPrefix(trimmed, "/"))
		if len(fields) == 0 {
			break
		}
		invocations = append(invocations, ParsedInvocation{Name: fields[0], Args: fields[1:]})
	}
	residual := strings.TrimSpace(strings.Join(lines[i:], "\n"))
	return invocations, residual
}

func cmdModel(ctx context.Context, cc Context, args []string) (string, error) {
	if len(args) == 0 {
		return fmt.Sprintf("current model: %s", cc.GetModel()), nil
	}
	cc.SetModel(args[0])
	return fmt.Sprintf("model set to %s", args[0]), nil
}

func cmdReset(ctx context.Context, cc Context, args []string) (string, error) {
	cc.ResetChat()
	return "conversation reset", nil
}

func cmdCompress(ctx context.Context, cc Context, args []string) (string, error) {
	summary, err := cc.GenerateSummary(ctx)
	if err != nil {
		return "", fmt.Errorf("compress: %w", err)
	}
	cc.SetRollingSummary(summary)
	cc.TrimTranscript(0)
	return "conversation summarized and trimmed", nil
}

func cmdExit(ctx context.Context, cc Context, args []string) (string, error) {
	cc.RequestExit()
	return "ending session", nil
}
