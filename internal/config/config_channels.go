package config

// ChannelsConfig configures the secondary transports wired in
// internal/channels, see telegram.NewAdapter/telegram.Bridge.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// ChannelPolicyConfig controls who may reach an agent through a channel.
type ChannelPolicyConfig struct {
	// Policy controls access: "open", "allowlist", or "disabled".
	Policy string `yaml:"policy"`
	// AllowFrom is the list of sender identifiers allowed for this policy.
	AllowFrom []string `yaml:"allow_from"`
}

// TelegramConfig configures internal/channels/telegram.Adapter.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`

	DM    ChannelPolicyConfig `yaml:"dm"`
	Group ChannelPolicyConfig `yaml:"group"`
}
