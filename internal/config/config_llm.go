package config

// LLMConfig selects and configures the model provider a Controller talks to,
// see internal/providers/{anthropic,openai,gemini,bedrock}.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
	Bedrock         BedrockConfig                `yaml:"bedrock"`
}

// LLMProviderConfig covers the union of fields the anthropic/openai/gemini
// provider Configs need; unused fields are left zero for a given provider.
type LLMProviderConfig struct {
	APIKey       string   `yaml:"api_key"`
	DefaultModel string   `yaml:"default_model"`
	BaseURL      string   `yaml:"base_url"`
	MaxRetries   int      `yaml:"max_retries"`
	BetaFeatures []string `yaml:"beta_features"`
}

// BedrockConfig matches internal/providers/bedrock.Config.
type BedrockConfig struct {
	Region string `yaml:"region"`
	Model  string `yaml:"model"`
}
