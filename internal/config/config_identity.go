package config

// WorkspaceConfig configures the on-disk workspace a Controller's tools
// operate against, see internal/tools/files and internal/sandbox.
type WorkspaceConfig struct {
	Root       string `yaml:"root"`
	MaxChars   int    `yaml:"max_chars"`
	AgentsFile string `yaml:"agents_file"`
	UserFile   string `yaml:"user_file"`
}

// IdentityConfig names the agent persona injected into the system prompt.
type IdentityConfig struct {
	Name  string `yaml:"name"`
	Vibe  string `yaml:"vibe"`
	Emoji string `yaml:"emoji"`
}

// UserConfig carries operator-supplied facts injected into the system
// prompt alongside IdentityConfig.
type UserConfig struct {
	Name             string `yaml:"name"`
	PreferredAddress string `yaml:"preferred_address"`
	Timezone         string `yaml:"timezone"`
	Notes            string `yaml:"notes"`
}
