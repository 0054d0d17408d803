package cli

import (
	"testing"

	"github.com/harun/crew/pkg/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamCommands(t *testing.T) {
	isolateEnv(t)
	cfgPath, _ := writeConfig(t, "")

	t.Run("list", func(t *testing.T) {
		out, _, err := execute(t, "team", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "company-research")
	})

	t.Run("show builtin", func(t *testing.T) {
		out, _, err := execute(t, "team", "show", "--config", cfgPath, "--builtin", "company-research", "-i", "companyName=Acme")
		require.NoError(t, err)

		assert.Contains(t, out, "Team: company-research (sequential mode)")
		assert.Contains(t, out, "companyName = Acme")
		assert.Contains(t, out, "Required credentials: OPENAI_API_KEY, TAVILY_API_KEY")
		assert.Contains(t, out, "Report Compiler")
		assert.Contains(t, out, "report (compiler)")
	})

	t.Run("show dag dependencies", func(t *testing.T) {
		out, _, err := execute(t, "team", "show", "--config", cfgPath, "--team", writeTeam(t, testTeam), "--mode", "dag")
		require.NoError(t, err)

		assert.Contains(t, out, "Team: acme (dag mode)")
		assert.Regexp(t, `report \(compiler\)\s+Writer\s+facts`, out)
	})

	t.Run("show rejects invalid teams", func(t *testing.T) {
		_, _, err := execute(t, "team", "show", "--config", cfgPath, "--team", writeTeam(t, cyclicTeam), "--mode", "dag")
		assert.Error(t, err)
	})

	t.Run("export round trips", func(t *testing.T) {
		out, _, err := execute(t, "team", "export", "--config", cfgPath, "--builtin", "company-research", "-i", "companyName=Acme")
		require.NoError(t, err)

		team, err := orchestrator.LoadTeamYAML([]byte(out))
		require.NoError(t, err)
		assert.Equal(t, "company-research", team.Name)
		assert.Equal(t, "Acme", team.Inputs["companyName"])
		assert.Len(t, team.Agents, 7)
		assert.Len(t, team.Tasks, 7)
	})
}
