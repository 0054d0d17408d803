package orchestrator

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
)

//go:embed teams/*.yaml
var builtinTeams embed.FS

// BuiltinNames lists the teams shipped with the binary.
func BuiltinNames() []string {
	entries, err := builtinTeams.ReadDir("teams")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, strings.TrimSuffix(entry.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// BuiltinTeam loads a shipped team by name, e.g. "company-research".
func BuiltinTeam(name string) (Team, error) {
	data, err := builtinTeams.ReadFile(path.Join("teams", name+".yaml"))
	if err != nil {
		return Team{}, fmt.Errorf("unknown builtin team %q (available: %s)", name, strings.Join(BuiltinNames(), ", "))
	}
	return LoadTeamYAML(data)
}
