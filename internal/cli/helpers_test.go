package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolateEnv blanks every credential and CREW_ override the tests could
// inherit from the developer's shell.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "NEXT_PUBLIC_OPENAI_API_KEY",
		"ANTHROPIC_API_KEY",
		"TAVILY_API_KEY", "NEXT_PUBLIC_TAVILY_API_KEY",
		"CREW_RUNTIME_MODE", "CREW_TEAM_FILE", "CREW_STORE_KIND",
	} {
		t.Setenv(key, "")
	}
}

// writeConfig writes a config that keeps everything inside a temp dir and
// returns its path and the data directory.
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "crew.yaml")
	content := "data_dir: " + dir + "\n" +
		"logging:\n  console: false\n" +
		extra
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path, dir
}

func writeTeam(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "team.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := GetRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

const testTeam = `
name: acme
inputs:
  companyName: Acme
agents:
  - name: Analyst
    role: Research
    tools: [web_search]
  - name: Writer
    role: Write
tasks:
  - id: facts
    description: Find facts about {companyName}.
    agent: Analyst
  - id: report
    description: Write up {facts}.
    agent: Writer
    compiler: true
`

const cyclicTeam = `
name: loop
agents:
  - name: A
    role: Research
tasks:
  - id: x
    description: Use {y}.
    agent: A
  - id: y
    description: Use {x}.
    agent: A
`
