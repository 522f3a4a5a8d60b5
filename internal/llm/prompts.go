package llm

import (
	"embed"
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

//go:embed prompts/*.xml
var builtin embed.FS

// Built-in prompt names.
const (
	PromptWebsite = "website"
	PromptEmail   = "email"
)

// PromptConfig represents a prompt loaded from an XML file.
// It contains the system prompt and the user prompt template.
type PromptConfig struct {
	XMLName xml.Name `xml:"prompt"`
	System  string   `xml:"system"`
	User    string   `xml:"user"`
}

// LoadPrompt reads and parses a prompt configuration from an XML file.
func LoadPrompt(filepath string) (*PromptConfig, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	return parsePrompt(data)
}

// Builtin returns one of the prompts shipped with the binary.
func Builtin(name string) (*PromptConfig, error) {
	data, err := builtin.ReadFile("prompts/" + name + ".xml")
	if err != nil {
		return nil, fmt.Errorf("unknown prompt %q: %w", name, err)
	}
	return parsePrompt(data)
}

func parsePrompt(data []byte) (*PromptConfig, error) {
	var config PromptConfig
	if err := xml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse prompt xml: %w", err)
	}
	config.System = strings.TrimSpace(config.System)
	config.User = strings.TrimSpace(config.User)
	return &config, nil
}

// BuildUserPrompt replaces {{KEY}} markers in the user template. Markers
// without a value are left as is.
func (p *PromptConfig) BuildUserPrompt(vars map[string]string) string {
	if len(vars) == 0 {
		return p.User
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(p.User)
}
