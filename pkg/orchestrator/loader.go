package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/crew/pkg/agent"
	"github.com/harun/crew/pkg/taskgraph"
	"gopkg.in/yaml.v3"
)

// TeamFile is the on-disk shape of a team definition. Credentials are never
// part of it; RequiredEnv only names them.
type TeamFile struct {
	Name        string            `json:"name" yaml:"name"`
	Inputs      map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	RequiredEnv []string          `json:"required_env,omitempty" yaml:"required_env,omitempty"`
	Agents      []agent.Agent     `json:"agents" yaml:"agents"`
	Tasks       []taskgraph.Task  `json:"tasks" yaml:"tasks"`
}

// Team converts the file into a Team with an empty credential set.
func (f TeamFile) Team() Team {
	return Team{
		Name:   f.Name,
		Agents: f.Agents,
		Tasks:  f.Tasks,
		Inputs: f.Inputs,
		Env:    Env{Required: append([]string(nil), f.RequiredEnv...)},
	}
}

// LoadTeam loads a team definition from a JSON or YAML file
func LoadTeam(path string) (Team, error) {
	if path == "" {
		return Team{}, fmt.Errorf("team file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Team{}, fmt.Errorf("team file not found: %s", path)
		}
		return Team{}, fmt.Errorf("failed to read team file: %w", err)
	}

	// Determine file format by extension
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return LoadTeamJSON(data)
	case ".yaml", ".yml":
		return LoadTeamYAML(data)
	default:
		return Team{}, fmt.Errorf("unsupported team file format: %s (supported: .json, .yaml, .yml)", ext)
	}
}

// LoadTeamJSON parses a JSON team definition
func LoadTeamJSON(data []byte) (Team, error) {
	var f TeamFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Team{}, fmt.Errorf("failed to parse JSON team: %w", err)
	}
	return f.validated()
}

// LoadTeamYAML parses a YAML team definition
func LoadTeamYAML(data []byte) (Team, error) {
	var f TeamFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Team{}, fmt.Errorf("failed to parse YAML team: %w", err)
	}
	return f.validated()
}

func (f TeamFile) validated() (Team, error) {
	if strings.TrimSpace(f.Name) == "" {
		return Team{}, fmt.Errorf("team name is required")
	}
	team := f.Team()
	if err := team.Validate(nil); err != nil {
		return Team{}, fmt.Errorf("team %q: %w", f.Name, err)
	}
	return team, nil
}

// MarshalTeamYAML renders a team back into its file form.
func MarshalTeamYAML(team Team) ([]byte, error) {
	f := TeamFile{
		Name:        team.Name,
		Inputs:      team.Inputs,
		RequiredEnv: team.Env.Required,
		Agents:      team.Agents,
		Tasks:       team.Tasks,
	}
	return yaml.Marshal(f)
}
