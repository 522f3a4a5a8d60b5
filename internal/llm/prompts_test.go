package llm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPrompt(t *testing.T) {
	tmpDir := t.TempDir()

	validXML := `
<prompt>
    <system>You are a helpful assistant.</system>
    <user>Find the site of {{COMPANY}}</user>
</prompt>`
	validFile := filepath.Join(tmpDir, "valid.xml")
	require.NoError(t, os.WriteFile(validFile, []byte(validXML), 0o644))

	invalidFile := filepath.Join(tmpDir, "invalid.xml")
	require.NoError(t, os.WriteFile(invalidFile, []byte(`<prompt><system>Unclosed tag`), 0o644))

	tests := []struct {
		name      string
		filepath  string
		wantError bool
		wantSys   string
		wantUser  string
	}{
		{name: "Valid XML", filepath: validFile, wantSys: "You are a helpful assistant.", wantUser: "Find the site of {{COMPANY}}"},
		{name: "Invalid XML", filepath: invalidFile, wantError: true},
		{name: "Non-existent File", filepath: filepath.Join(tmpDir, "nonexistent.xml"), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt, err := LoadPrompt(tt.filepath)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSys, prompt.System)
			assert.Equal(t, tt.wantUser, prompt.User)
		})
	}
}

func TestBuiltinPrompts(t *testing.T) {
	for _, name := range []string{PromptWebsite, PromptEmail} {
		p, err := Builtin(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, p.System, name)
		assert.Contains(t, p.User, "{{COMPANY}}", name)
	}

	_, err := Builtin("missing")
	assert.Error(t, err)
}

func TestBuildUserPrompt(t *testing.T) {
	p := &PromptConfig{User: "Site of {{COMPANY}} in {{CITY}} ({{OTHER}})"}

	got := p.BuildUserPrompt(map[string]string{"COMPANY": "ACME", "CITY": "Lyon"})
	assert.Equal(t, "Site of ACME in Lyon ({{OTHER}})", got)
	assert.Equal(t, p.User, p.BuildUserPrompt(nil))
}

func TestBuiltinEmailPromptMentionsJSONShape(t *testing.T) {
	p, err := Builtin(PromptEmail)
	require.NoError(t, err)

	user := p.BuildUserPrompt(map[string]string{"COMPANY": "ACME", "WEBSITE": "https://acme.fr"})
	assert.Contains(t, user, "https://acme.fr")
	assert.Contains(t, user, `"priority"`)
	assert.NotContains(t, user, "{{")
}
