package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadBuiltinPrompts(t *testing.T) {
	prompts, err := LoadBuiltinPrompts()
	if err != nil {
		t.Fatalf("failed to load built-in prompts: %v", err)
	}
	for _, name := range []string{Narrator, FlowController, Condenser, StateExtractor} {
		p, err := prompts.Get(name)
		if err != nil {
			t.Errorf("missing built-in prompt: %v", err)
			continue
		}
		if p.Content == "" || p.Description == "" {
			t.Errorf("prompt %s has empty content or description", name)
		}
		if p.MaxTokens <= 0 {
			t.Errorf("prompt %s should set max-tokens", name)
		}
		if !strings.HasPrefix(p.SourcePath, "embedded:") {
			t.Errorf("prompt %s source = %q", name, p.SourcePath)
		}
	}
}

func TestLoadPromptsFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "narrator.md"), []byte("---\nmax-tokens: 50\n---\nShort replies only.\n"), 0644)
	os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("ignored"), 0644)
	os.MkdirAll(filepath.Join(tmpDir, "sub"), 0755)

	prompts, err := LoadPromptsFromDir(tmpDir, 1)
	if err != nil {
		t.Fatalf("failed to load prompts from dir: %v", err)
	}
	if len(prompts) != 1 {
		t.Fatalf("expected 1 prompt, got %d", len(prompts))
	}
	p := prompts[Narrator]
	if p == nil || p.MaxTokens != 50 || p.Priority != 1 {
		t.Errorf("unexpected prompt: %+v", p)
	}
}

func TestLoadPromptsProjectOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workDir := t.TempDir()
	dir := filepath.Join(workDir, ".klein-dm", "prompts")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "condenser.md"), []byte("Project condenser.\n"), 0644)

	prompts, err := LoadPrompts(workDir)
	if err != nil {
		t.Fatalf("LoadPrompts: %v", err)
	}
	c, _ := prompts.Get(Condenser)
	if c == nil || c.Content != "Project condenser.\n" || c.Priority != 2 {
		t.Errorf("project prompt should override the built-in: %+v", c)
	}
	if n, _ := prompts.Get(Narrator); n == nil || n.Priority != 0 {
		t.Errorf("narrator should stay built-in: %+v", n)
	}
}

func TestSetGetMissing(t *testing.T) {
	if _, err := (Set{}).Get("nope"); err == nil {
		t.Error("expected error for missing prompt")
	}
}
