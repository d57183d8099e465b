package store

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RepoConfig is the human-edited per-repo configuration at
// .north/config.yaml. Every field is optional; zero values mean "use the
// engine default".
type RepoConfig struct {
	// Model overrides the default model id for this repo.
	Model string `yaml:"model"`
	// Mode is the default interaction mode: "ask" or "agent".
	Mode string `yaml:"mode"`
	// ShellTimeoutMs overrides the default per-command shell timeout.
	ShellTimeoutMs int `yaml:"shellTimeoutMs"`
}

// LoadRepoConfig reads <repoRoot>/.north/config.yaml. A missing or
// unparsable file returns the zero config — the same treat-as-absent rule
// every other .north/ file follows.
func LoadRepoConfig(repoRoot string) RepoConfig {
	var cfg RepoConfig
	data, err := os.ReadFile(filepath.Join(repoRoot, ".north", "config.yaml"))
	if err != nil {
		return cfg
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RepoConfig{}
	}
	return cfg
}
