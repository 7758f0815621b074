package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fpt/klein-dm/internal/infra"
)

func TestCreateDefaultSettingsFile(t *testing.T) {
	settingsPath := filepath.Join(t.TempDir(), ".klein-dm", "settings.json")
	settings, err := createSettingsFileAtPath(settingsPath)
	if err != nil {
		t.Fatalf("createSettingsFileAtPath failed: %v", err)
	}
	if settings.LLM.Backend != "ollama" {
		t.Errorf("Expected backend 'ollama', got '%s'", settings.LLM.Backend)
	}
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		t.Fatal("Settings file was not created")
	}

	loaded, err := LoadSettings(settingsPath)
	if err != nil {
		t.Fatalf("Failed to load created settings file: %v", err)
	}
	if loaded.Orchestrator.MaxLoopIterations != 12 || loaded.Orchestrator.AgentRetries != 2 {
		t.Errorf("unexpected orchestrator defaults: %+v", loaded.Orchestrator)
	}
}

func TestLoadSettingsCreatesFileWhenNoneExists(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	settings, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if settings == nil {
		t.Fatal("Expected non-nil settings")
	}
	if _, err := os.Stat(filepath.Join(home, ".klein-dm", "settings.json")); os.IsNotExist(err) {
		t.Fatal("Settings file was not created in home directory")
	}
}

func TestLoadSettingsFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	partial := `{"llm":{"backend":"anthropic"},"orchestrator":{"agent_retries":0,"flow":"scripted"}}`
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.LLM.Model != "claude-sonnet-4-5-20250929" {
		t.Errorf("backend default model not applied: %q", s.LLM.Model)
	}
	if s.LLM.BaseURL != "" {
		t.Errorf("ollama base url leaked into anthropic settings: %q", s.LLM.BaseURL)
	}
	if s.Orchestrator.MaxLoopIterations != 12 || s.Orchestrator.HistoryTurns != 3 {
		t.Errorf("loop defaults not applied: %+v", s.Orchestrator)
	}
	if s.Orchestrator.AgentRetries != 0 || s.Orchestrator.Flow != FlowScripted {
		t.Errorf("explicit values overwritten: %+v", s.Orchestrator)
	}
}

func TestLoadSettingsRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	os.WriteFile(path, []byte("{not json"), 0644)

	if _, err := LoadSettings(path); err == nil {
		t.Fatal("expected parse error")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Error("broken settings file was overwritten")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("KLEIN_DM_BACKEND", "gemini")
	t.Setenv("KLEIN_DM_MODEL", "gemini-2.5-pro")
	t.Setenv("KLEIN_DM_MAX_LOOP", "20")
	t.Setenv("KLEIN_DM_FLOW", "scripted")
	t.Setenv("KLEIN_DM_ADDR", ":9000")

	s := NewSettings()
	s.Orchestrator.HistoryTurns = 5
	if err := s.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	if s.LLM.Backend != "gemini" || s.LLM.Model != "gemini-2.5-pro" {
		t.Errorf("llm overrides not applied: %+v", s.LLM)
	}
	if s.Orchestrator.MaxLoopIterations != 20 || s.Orchestrator.Flow != FlowScripted {
		t.Errorf("orchestrator overrides not applied: %+v", s.Orchestrator)
	}
	if s.Orchestrator.HistoryTurns != 5 {
		t.Errorf("unset variable changed a value: %d", s.Orchestrator.HistoryTurns)
	}
	if s.Server.Addr != ":9000" {
		t.Errorf("server override not applied: %q", s.Server.Addr)
	}

	t.Setenv("KLEIN_DM_MAX_LOOP", "many")
	if err := NewSettings().ApplyEnv(); err == nil {
		t.Error("expected error for a non-numeric override")
	}
}

func TestValidateSettings(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"defaults", func(s *Settings) {}, ""},
		{"unknown backend", func(s *Settings) { s.LLM.Backend = "llamafile" }, "unsupported LLM backend"},
		{"missing key", func(s *Settings) { s.LLM.Backend = "anthropic" }, "ANTHROPIC_API_KEY"},
		{"empty model", func(s *Settings) { s.LLM.Model = "" }, "model is required"},
		{"zero loop", func(s *Settings) { s.Orchestrator.MaxLoopIterations = 0 }, "max_loop_iterations"},
		{"negative retries", func(s *Settings) { s.Orchestrator.AgentRetries = -1 }, "agent_retries"},
		{"unknown flow", func(s *Settings) { s.Orchestrator.Flow = "dice" }, "unsupported flow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := GetDefaultSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSettingsRoundTripThroughRepository(t *testing.T) {
	repo := infra.NewInMemorySettingsRepository()
	s := NewSettingsWithRepository(repo)
	s.Orchestrator.OpeningObjective = "The party wakes in a cell."
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	loaded := NewSettingsWithRepository(repo)
	if err := loaded.Load(); err != nil {
		t.Fatal(err)
	}
	if loaded.Orchestrator.OpeningObjective != "The party wakes in a cell." {
		t.Errorf("opening objective lost: %q", loaded.Orchestrator.OpeningObjective)
	}
}

func TestUserConfig(t *testing.T) {
	uc, err := NewUserConfig(filepath.Join(t.TempDir(), ".klein-dm"))
	if err != nil {
		t.Fatal(err)
	}
	history, err := uc.GetProjectHistoryFile("/tmp/my campaign")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(filepath.Dir(history)) != "-tmp-my_campaign" {
		t.Errorf("unexpected project dir: %s", history)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(history), "project_info.txt")); err != nil {
		t.Errorf("project info not written: %v", err)
	}
}
