package orchestrator

import (
	"errors"
	"testing"

	"github.com/harun/crew/pkg/agent"
	"github.com/harun/crew/pkg/runerr"
	"github.com/harun/crew/pkg/taskgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnv_Validate(t *testing.T) {
	tests := []struct {
		name    string
		env     Env
		wantErr string
	}{
		{
			name: "should accept present credentials",
			env: Env{
				Values:   map[string]string{"OPENAI_API_KEY": "sk-1", "TAVILY_API_KEY": "tvly-1"},
				Required: []string{"OPENAI_API_KEY", "TAVILY_API_KEY"},
			},
		},
		{
			name: "should accept an empty env without requirements",
			env:  Env{},
		},
		{
			name:    "should list every missing key sorted",
			env:     Env{Required: []string{"TAVILY_API_KEY", "OPENAI_API_KEY"}},
			wantErr: "missing credential: OPENAI_API_KEY, TAVILY_API_KEY",
		},
		{
			name: "should reject blank values",
			env: Env{
				Values:   map[string]string{"OPENAI_API_KEY": "  "},
				Required: []string{"OPENAI_API_KEY"},
			},
			wantErr: "missing credential: OPENAI_API_KEY",
		},
		{
			name:    "should reject a present but empty optional key",
			env:     Env{Values: map[string]string{"ANTHROPIC_API_KEY": ""}},
			wantErr: "missing credential: ANTHROPIC_API_KEY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, runerr.ErrMissingCredential))
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestTeam_Validate(t *testing.T) {
	t.Run("should reject duplicate agent names", func(t *testing.T) {
		team := acmeTeam()
		team.Agents = append(team.Agents, agent.Agent{Name: "Funding Specialist", Role: "Again"})
		err := team.Validate(nil)
		assert.True(t, errors.Is(err, runerr.ErrInvalidGraph))
		assert.Contains(t, err.Error(), "duplicate agent")
	})

	t.Run("should reject agents without a role", func(t *testing.T) {
		team := acmeTeam()
		team.Agents[0].Role = ""
		assert.True(t, errors.Is(team.Validate(nil), runerr.ErrInvalidGraph))
	})

	t.Run("should reject a team without agents", func(t *testing.T) {
		assert.True(t, errors.Is(Team{Name: "empty"}.Validate(nil), runerr.ErrInvalidGraph))
	})

	t.Run("should name the task with an unknown agent", func(t *testing.T) {
		team := acmeTeam()
		team.Tasks[1].Agent = "Ghost"
		err := team.Validate(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "task-2")
		assert.Contains(t, err.Error(), `"Ghost"`)
	})

	t.Run("should check tools against the catalog", func(t *testing.T) {
		team := acmeTeam()
		team.Agents[0].Tools = []string{"web_search"}
		assert.Error(t, team.Validate(toolSet{}))
		assert.NoError(t, team.Validate(toolSet{"web_search": true}))
	})
}

func TestTeam_WithInputs(t *testing.T) {
	team := acmeTeam()
	updated := team.WithInputs(map[string]string{"companyName": "Globex", "region": "EU"})

	assert.Equal(t, "Globex", updated.Inputs["companyName"])
	assert.Equal(t, "https://acme.test", updated.Inputs["companyWebsite"])
	assert.Equal(t, "EU", updated.Inputs["region"])
	assert.Equal(t, "Acme", team.Inputs["companyName"])
}

func TestTeam_Graph(t *testing.T) {
	team := acmeTeam()
	team.Tasks[0].Description = "Use {funding} before it exists."

	_, err := team.Graph(taskgraph.Sequential, nil)
	assert.True(t, errors.Is(err, runerr.ErrInvalidGraph))

	_, err = team.Graph(taskgraph.DAG, nil)
	assert.NoError(t, err)
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.TaskTimeout = 0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.TimeoutRetries = -1
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.OnFail = "explode"
	assert.Error(t, p.Validate())

	mode, err := ParseOnFail("drain")
	require.NoError(t, err)
	assert.Equal(t, OnFailDrain, mode)
}
