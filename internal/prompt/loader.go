package prompt

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed prompts/*.md
var embeddedPrompts embed.FS

// Set maps prompt name (lowercase) to *Prompt
type Set map[string]*Prompt

// Get returns the named prompt or an error naming what is missing
func (s Set) Get(name string) (*Prompt, error) {
	p, ok := s[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("prompt %q not found", name)
	}
	return p, nil
}

// LoadPrompts loads every prompt with first-comer-wins priority ordering:
//
//	CWD/.klein-dm/prompts/ (priority 2) -> ~/.klein-dm/prompts/ (priority 1) -> embedded (priority 0)
//
// A file on disk replaces the built-in prompt of the same name.
func LoadPrompts(workingDir string) (Set, error) {
	result, err := LoadBuiltinPrompts()
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in prompts: %w", err)
	}

	absWorkDir := workingDir
	if !filepath.IsAbs(absWorkDir) {
		if abs, err := filepath.Abs(absWorkDir); err == nil {
			absWorkDir = abs
		}
	}
	home, _ := os.UserHomeDir()

	dirs := []struct {
		path     string
		priority int
	}{
		{filepath.Join(home, ".klein-dm", "prompts"), 1},
		{filepath.Join(absWorkDir, ".klein-dm", "prompts"), 2},
	}
	for _, d := range dirs {
		if info, err := os.Stat(d.path); err != nil || !info.IsDir() {
			continue
		}
		prompts, err := LoadPromptsFromDir(d.path, d.priority)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompts from %s: %w", d.path, err)
		}
		for name, p := range prompts {
			if existing, ok := result[name]; !ok || p.Priority > existing.Priority {
				result[name] = p
			}
		}
	}
	return result, nil
}

// LoadPromptsFromDir loads every *.md file of dir
func LoadPromptsFromDir(dir string, priority int) (Set, error) {
	result := make(Set)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt %s: %w", path, err)
		}
		p, err := ParsePromptMD(data, path, priority)
		if err != nil {
			return nil, fmt.Errorf("failed to parse prompt %s: %w", path, err)
		}
		result[strings.ToLower(p.Name)] = p
	}
	return result, nil
}

// LoadBuiltinPrompts loads the prompts bundled with the binary
func LoadBuiltinPrompts() (Set, error) {
	result := make(Set)

	err := fs.WalkDir(embeddedPrompts, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}
		data, err := embeddedPrompts.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded prompt %s: %w", path, err)
		}
		p, err := ParsePromptMD(data, "embedded:"+path, 0)
		if err != nil {
			return fmt.Errorf("failed to parse embedded prompt %s: %w", path, err)
		}
		result[strings.ToLower(p.Name)] = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
