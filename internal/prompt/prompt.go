package prompt

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Names of the prompts the collaborators look up
const (
	Narrator       = "narrator"
	FlowController = "flow_controller"
	Condenser      = "condenser"
	StateExtractor = "state_extractor"
)

// Prompt is one system prompt, parsed from a markdown file with optional
// YAML frontmatter.
type Prompt struct {
	Name        string
	Description string
	// MaxTokens caps the reply length for calls using this prompt (0 = client default)
	MaxTokens  int
	Content    string
	SourcePath string // filesystem path or "embedded:<path>"
	Priority   int    // 0=embedded, 1=personal, 2=project
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	MaxTokens   int    `yaml:"max-tokens"`
}

// ParsePromptMD parses a prompt file. Format: optional YAML frontmatter
// between "---" delimiters, then the markdown body. The name defaults to
// the file name without extension.
func ParsePromptMD(data []byte, sourcePath string, priority int) (*Prompt, error) {
	content := string(data)
	p := &Prompt{SourcePath: sourcePath, Priority: priority}

	trimmed := strings.TrimLeft(content, " \t\n\r")
	if !strings.HasPrefix(trimmed, "---") {
		p.Content = content
	} else {
		afterFirst := trimmed[3:]
		idx := strings.Index(afterFirst, "\n")
		if idx < 0 {
			p.Content = ""
			return withDefaults(p), nil
		}
		afterFirst = afterFirst[idx+1:]

		closingIdx := strings.Index(afterFirst, "\n---")
		if closingIdx < 0 {
			// no closing delimiter: the whole file is the body
			p.Content = content
		} else {
			yamlBlock := afterFirst[:closingIdx]
			rest := afterFirst[closingIdx+4:]
			if nl := strings.Index(rest, "\n"); nl >= 0 {
				p.Content = rest[nl+1:]
			}

			var fm frontmatter
			if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
				return nil, fmt.Errorf("failed to parse prompt frontmatter: %w", err)
			}
			if fm.MaxTokens < 0 {
				return nil, fmt.Errorf("prompt %s: max-tokens must not be negative", sourcePath)
			}
			p.Name = fm.Name
			p.Description = fm.Description
			p.MaxTokens = fm.MaxTokens
		}
	}
	return withDefaults(p), nil
}

func withDefaults(p *Prompt) *Prompt {
	if p.Name == "" {
		base := filepath.Base(p.SourcePath)
		p.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if p.Description == "" && p.Content != "" {
		first := strings.SplitN(strings.TrimSpace(p.Content), "\n\n", 2)
		p.Description = strings.TrimSpace(first[0])
	}
	return p
}

// Render substitutes {{key}} placeholders in the body
func (p *Prompt) Render(vars map[string]string) string {
	out := p.Content
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = strings.ReplaceAll(out, "{{"+k+"}}", vars[k])
	}
	return strings.TrimSpace(out)
}
