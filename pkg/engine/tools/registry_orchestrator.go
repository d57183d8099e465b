package tools

import "AgentEngine/pkg/engine/shellsvc"

// DefaultOrchestratorRegistry wires the tool set the Conversation
// Orchestrator advertises: the side-effect-free read-only tools, the
// two-phase write tools, and the persistent-shell-backed shell_run tool.
// The package has no direct-execute write or one-shot shell tool; every
// mutation goes through a review gate.
func DefaultOrchestratorRegistry(workspaceRoot string, shellSvc *shellsvc.Service) *Registry {
	r := NewRegistry()

	r.MustRegister(NewLsTool(workspaceRoot))
	r.MustRegister(NewReadFileTool(workspaceRoot))
	r.MustRegister(NewGlobTool(workspaceRoot))
	r.MustRegister(NewGrepTool(workspaceRoot))
	r.MustRegister(NewLSPDiagnosticsTool(workspaceRoot))

	r.MustRegister(NewEditReplaceExactTool(workspaceRoot))
	r.MustRegister(NewEditInsertLineTool(workspaceRoot))
	r.MustRegister(NewCreateFileTool(workspaceRoot))

	r.MustRegister(NewShellRunTool(shellSvc))

	return r
}
