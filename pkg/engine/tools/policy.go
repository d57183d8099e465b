package tools

// ApprovalPolicy classifies a tool into one of the three buckets the run
// loop dispatches on. It is a static, per-tool classification — the
// orchestrator needs a tool's policy before ever calling it, to decide
// whether to even advertise it in "ask" mode.
type ApprovalPolicy string

const (
	PolicyRead  ApprovalPolicy = "read"
	PolicyWrite ApprovalPolicy = "write"
	PolicyShell ApprovalPolicy = "shell"
)

// PolicyAware is implemented by tools whose approval policy is not the
// PolicyRead default.
type PolicyAware interface {
	ApprovalPolicy() ApprovalPolicy
}

// GetApprovalPolicy returns the tool's ApprovalPolicy, defaulting to
// PolicyRead for tools that don't implement PolicyAware — every read-only
// tool in this package (ls, read_file, glob, grep, lsp_diagnostics) is
// exactly that: side-effect-free and safe to run without a gate.
func (r *Registry) GetApprovalPolicy(name string) ApprovalPolicy {
	t, ok := r.Get(name)
	if !ok {
		return PolicyRead
	}
	if pa, ok := t.(PolicyAware); ok {
		return pa.ApprovalPolicy()
	}
	return PolicyRead
}

// FilterForMode returns the subset of tools visible to the LLM under
// mode: "ask" strips every tool whose policy is write or shell; "agent"
// exposes everything.
func (r *Registry) FilterForMode(mode string) []Tool {
	all := r.All()
	if mode != "ask" {
		return all
	}
	out := make([]Tool, 0, len(all))
	for _, t := range all {
		if r.GetApprovalPolicy(t.Name()) == PolicyRead {
			out = append(out, t)
		}
	}
	return out
}
