package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"

	"github.com/fpt/klein-dm/internal/infra"
	"github.com/fpt/klein-dm/internal/repository"
	"github.com/fpt/klein-dm/pkg/agent/contextbuild"
	"github.com/fpt/klein-dm/pkg/agent/orchestrator"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "KLEIN_DM_"

// Flow controller kinds
const (
	FlowLLM      = "llm"
	FlowScripted = "scripted"
)

// Settings represents the main application settings
type Settings struct {
	LLM          LLMSettings          `json:"llm"`
	Orchestrator OrchestratorSettings `json:"orchestrator"`
	Agent        AgentSettings        `json:"agent"`
	Server       ServerSettings       `json:"server"`

	// Repository for persistence (nil for in-memory only)
	settingsRepository repository.SettingsRepository `json:"-"`
}

// LLMSettings contains LLM client configuration
type LLMSettings struct {
	Backend   string `json:"backend" env:"BACKEND"`                  // "ollama", "anthropic", "openai", or "gemini"
	Model     string `json:"model" env:"MODEL"`                      // model name
	BaseURL   string `json:"base_url,omitempty" env:"BASE_URL"`      // for ollama or openai-compatible servers
	Thinking  bool   `json:"thinking,omitempty" env:"THINKING"`      // enable thinking mode where supported
	MaxTokens int    `json:"max_tokens,omitempty" env:"MAX_TOKENS"` // 0 = per-prompt or model default
}

// OrchestratorSettings tune the step-completion loop
type OrchestratorSettings struct {
	MaxLoopIterations int    `json:"max_loop_iterations" env:"MAX_LOOP"`
	AgentRetries      int    `json:"agent_retries" env:"AGENT_RETRIES"`
	HistoryTurns      int    `json:"history_turns" env:"HISTORY_TURNS"`
	OpeningObjective  string `json:"opening_objective,omitempty" env:"OPENING_OBJECTIVE"`
	// Flow selects the flow-controller: "llm" or "scripted"
	Flow       string `json:"flow" env:"FLOW"`
	ScriptPath string `json:"script_path,omitempty" env:"SCRIPT"`
	PartyPath  string `json:"party_path,omitempty" env:"PARTY"`
}

// AgentSettings contains agent behavior configuration
type AgentSettings struct {
	LogLevel string `json:"log_level" env:"LOG_LEVEL"`
}

// ServerSettings configure the Connect RPC server
type ServerSettings struct {
	Addr string `json:"addr" env:"ADDR"`
}

// NewSettings creates new settings with in-memory repository
func NewSettings() *Settings {
	return NewSettingsWithRepository(infra.NewInMemorySettingsRepository())
}

// NewSettingsWithRepository creates new settings with injected repository
func NewSettingsWithRepository(settingsRepository repository.SettingsRepository) *Settings {
	settings := GetDefaultSettings()
	settings.settingsRepository = settingsRepository
	return settings
}

// NewSettingsWithPath creates new settings with file-based repository
func NewSettingsWithPath(configPath string) *Settings {
	return NewSettingsWithRepository(infra.NewFileSettingsRepository(configPath))
}

// Load loads settings from the repository
func (s *Settings) Load() error {
	if s.settingsRepository == nil {
		return errors.New("no settings repository configured")
	}

	data, err := s.settingsRepository.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load settings")
	}
	if err := json.Unmarshal(data, s); err != nil {
		return errors.Wrap(err, "failed to parse settings")
	}

	applyDefaults(s)
	return nil
}

// Save saves settings to the repository
func (s *Settings) Save() error {
	if s.settingsRepository == nil {
		return errors.New("no settings repository configured")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal settings")
	}
	return s.settingsRepository.Save(data)
}

// ApplyEnv overlays KLEIN_DM_* environment variables onto s. Unset
// variables leave the loaded values alone.
func (s *Settings) ApplyEnv() error {
	if err := env.ParseWithOptions(s, env.Options{Prefix: EnvPrefix}); err != nil {
		return errors.Wrap(err, "failed to read environment overrides")
	}
	applyDefaults(s)
	return nil
}

// LoadSettings loads settings from configPath, or from the first settings
// file found when configPath is empty, then applies environment overrides.
// A missing file is created with defaults.
func LoadSettings(configPath string) (*Settings, error) {
	settings, err := loadOrCreate(configPath)
	if err != nil {
		return nil, err
	}
	if err := settings.ApplyEnv(); err != nil {
		return nil, err
	}
	return settings, nil
}

func loadOrCreate(configPath string) (*Settings, error) {
	settings := NewSettingsWithPath(configPath)

	if configPath == "" {
		foundPath, _ := settings.settingsRepository.FindSettingsFile()
		if foundPath == "" {
			return createDefaultSettingsFile()
		}
	}

	if err := settings.Load(); err != nil {
		if configPath != "" {
			if _, statErr := os.Stat(configPath); statErr == nil {
				// the file exists but is broken; do not overwrite it
				return nil, err
			}
			return createSettingsFileAtPath(configPath)
		}
		return GetDefaultSettings(), nil
	}
	return settings, nil
}

// GetDefaultSettings returns default application settings
func GetDefaultSettings() *Settings {
	return &Settings{
		LLM: GetDefaultLLMSettingsForBackend("ollama"),
		Orchestrator: OrchestratorSettings{
			MaxLoopIterations: orchestrator.DefaultMaxIterations,
			AgentRetries:      orchestrator.DefaultAgentRetries,
			HistoryTurns:      contextbuild.DefaultHistoryTurns,
			Flow:              FlowLLM,
		},
		Agent: AgentSettings{
			LogLevel: "info",
		},
		Server: ServerSettings{
			Addr: "localhost:50051",
		},
	}
}

// GetDefaultLLMSettingsForBackend returns default LLM settings for a specific backend
func GetDefaultLLMSettingsForBackend(backend string) LLMSettings {
	switch backend {
	case "anthropic", "claude":
		return LLMSettings{Backend: "anthropic", Model: "claude-sonnet-4-5-20250929"}
	case "openai":
		return LLMSettings{Backend: "openai", Model: "gpt-5-mini"}
	case "gemini":
		return LLMSettings{Backend: "gemini", Model: "gemini-2.5-flash"}
	default:
		return LLMSettings{
			Backend: "ollama",
			Model:   "gpt-oss:latest",
			BaseURL: "http://localhost:11434",
		}
	}
}

// applyDefaults fills in missing fields with default values
func applyDefaults(settings *Settings) {
	if settings.LLM.Backend == "" {
		settings.LLM.Backend = "ollama"
	}
	if settings.LLM.Model == "" {
		settings.LLM.Model = GetDefaultLLMSettingsForBackend(settings.LLM.Backend).Model
	}
	if settings.LLM.BaseURL == "" && settings.LLM.Backend == "ollama" {
		settings.LLM.BaseURL = GetDefaultLLMSettingsForBackend("ollama").BaseURL
	}

	o := &settings.Orchestrator
	if o.MaxLoopIterations == 0 {
		o.MaxLoopIterations = orchestrator.DefaultMaxIterations
	}
	if o.HistoryTurns == 0 {
		o.HistoryTurns = contextbuild.DefaultHistoryTurns
	}
	if o.Flow == "" {
		o.Flow = FlowLLM
	}

	if settings.Agent.LogLevel == "" {
		settings.Agent.LogLevel = "info"
	}
	if settings.Server.Addr == "" {
		settings.Server.Addr = "localhost:50051"
	}
}

// ValidateSettings validates the settings configuration
func ValidateSettings(settings *Settings) error {
	switch settings.LLM.Backend {
	case "ollama":
	case "anthropic":
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			return errors.New("Anthropic API key is required (set ANTHROPIC_API_KEY environment variable)")
		}
	case "openai":
		if os.Getenv("OPENAI_API_KEY") == "" {
			return errors.New("OpenAI API key is required (set OPENAI_API_KEY environment variable)")
		}
	case "gemini":
		if os.Getenv("GEMINI_API_KEY") == "" {
			return errors.New("Gemini API key is required (set GEMINI_API_KEY environment variable)")
		}
	default:
		return errors.Errorf("unsupported LLM backend: %s (must be 'ollama', 'anthropic', 'openai', or 'gemini')", settings.LLM.Backend)
	}

	if settings.LLM.Model == "" {
		return errors.New("LLM model is required")
	}
	if settings.LLM.MaxTokens < 0 {
		return errors.New("max_tokens must not be negative")
	}

	o := settings.Orchestrator
	if o.MaxLoopIterations <= 0 {
		return errors.New("max_loop_iterations must be positive")
	}
	if o.AgentRetries < 0 {
		return errors.New("agent_retries must not be negative")
	}
	if o.HistoryTurns < 0 {
		return errors.New("history_turns must not be negative")
	}
	if o.Flow != FlowLLM && o.Flow != FlowScripted {
		return errors.Errorf("unsupported flow: %s (must be '%s' or '%s')", o.Flow, FlowLLM, FlowScripted)
	}
	return nil
}

// createDefaultSettingsFile creates a default settings.json file in ~/.klein-dm/
func createDefaultSettingsFile() (*Settings, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return GetDefaultSettings(), nil
	}
	return createSettingsFileAtPath(filepath.Join(homeDir, infra.SettingsDirName, infra.SettingsFileName))
}

// createSettingsFileAtPath creates a default settings file at the specified path
func createSettingsFileAtPath(settingsPath string) (*Settings, error) {
	settings := NewSettingsWithPath(settingsPath)
	if err := settings.Save(); err != nil {
		return GetDefaultSettings(), nil
	}

	logger := pkgLogger.NewComponentLogger("settings")
	logger.InfoWithIntention(pkgLogger.IntentionConfig, "Created default settings file", "path", settingsPath)
	logger.InfoWithIntention(pkgLogger.IntentionStatus, fmt.Sprintf("Edit %s to customize your configuration", settingsPath))
	return settings, nil
}
