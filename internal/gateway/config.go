package gateway

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/fpt/klein-dm/internal/infra"
)

// DefaultTokenEnv is read when the config carries no Discord token
const DefaultTokenEnv = "DISCORD_BOT_TOKEN"

// Config is the gateway configuration.
type Config struct {
	// ServerAddr is a base URL such as http://localhost:50051. When set,
	// sessions are routed to that klein-dm RPC server
	// instead of running orchestrators in process.
	ServerAddr     string        `json:"server_addr,omitempty"`
	SessionTimeout string        `json:"session_timeout"` // Go duration; idle sessions are dropped after it
	CommandPrefix  string        `json:"command_prefix"`
	Discord        DiscordConfig `json:"discord"`
}

// DiscordConfig holds Discord bot configuration.
type DiscordConfig struct {
	Token             string   `json:"token,omitempty"`
	TokenEnv          string   `json:"token_env,omitempty"`
	AllowedGuildIDs   []string `json:"allowed_guild_ids"`
	AllowedChannelIDs []string `json:"allowed_channel_ids"`
	AllowedUserIDs    []string `json:"allowed_user_ids"`
	MentionOnly       bool     `json:"mention_only"` // In guilds, only respond when @mentioned
}

// ResolveToken returns the configured token or the one in TokenEnv
func (c DiscordConfig) ResolveToken() string {
	if c.Token != "" {
		return c.Token
	}
	name := c.TokenEnv
	if name == "" {
		name = DefaultTokenEnv
	}
	return os.Getenv(name)
}

// LoadConfig loads configuration from a JSON file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read gateway config %s", path)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse gateway config")
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SessionTimeout: "6h",
		CommandPrefix:  "!",
		Discord:        DiscordConfig{TokenEnv: DefaultTokenEnv, MentionOnly: true},
	}
}

// IdleTimeout parses SessionTimeout; zero disables eviction
func (c *Config) IdleTimeout() (time.Duration, error) {
	if c.SessionTimeout == "" || c.SessionTimeout == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.SessionTimeout)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid session_timeout %q", c.SessionTimeout)
	}
	return d, nil
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, infra.SettingsDirName, "gateway.json")
}
