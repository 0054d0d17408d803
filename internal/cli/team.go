package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/harun/crew/pkg/orchestrator"
	"github.com/harun/crew/pkg/taskgraph"
	"github.com/spf13/cobra"
)

func newTeamCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Inspect team definitions",
	}
	cmd.AddCommand(
		newTeamListCmd(),
		newTeamShowCmd(root),
		newTeamExportCmd(root),
	)
	return cmd
}

func newTeamListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in teams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range orchestrator.BuiltinNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newTeamShowCmd(root *rootOptions) *cobra.Command {
	var (
		o    teamOptions
		mode string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a team's agents, inputs and resolved task order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root)
			if err != nil {
				return err
			}
			defer a.Close()

			if mode == "" {
				mode = a.cfg.Runtime.Mode
			}
			m, err := taskgraph.ParseMode(mode)
			if err != nil {
				return err
			}

			team, _, err := o.load(a.cfg)
			if err != nil {
				return err
			}
			graph, err := team.Graph(m, staticCatalog())
			if err != nil {
				return err
			}
			return printTeam(cmd.OutOrStdout(), team, graph)
		},
	}

	addTeamFlags(cmd, &o)
	cmd.Flags().StringVar(&mode, "mode", "", "resolve order for this mode (sequential, dag)")
	return cmd
}

func newTeamExportCmd(root *rootOptions) *cobra.Command {
	var o teamOptions

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print a team as YAML, e.g. to customize a built-in team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root)
			if err != nil {
				return err
			}
			defer a.Close()

			team, _, err := o.load(a.cfg)
			if err != nil {
				return err
			}
			data, err := orchestrator.MarshalTeamYAML(team)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	addTeamFlags(cmd, &o)
	return cmd
}

func printTeam(out io.Writer, team orchestrator.Team, graph *taskgraph.Graph) error {
	fmt.Fprintf(out, "Team: %s (%s mode)\n", team.Name, graph.Mode())

	if len(team.Inputs) > 0 {
		fmt.Fprintln(out, "\nInputs:")
		keys := make([]string, 0, len(team.Inputs))
		for k := range team.Inputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s = %s\n", k, team.Inputs[k])
		}
	}
	if len(team.Env.Required) > 0 {
		fmt.Fprintf(out, "\nRequired credentials: %s\n", strings.Join(team.Env.Required, ", "))
	}

	fmt.Fprintln(out, "\nAgents:")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tROLE\tTOOLS")
	for _, ag := range team.Agents {
		tools := strings.Join(ag.Tools, ",")
		if tools == "" {
			tools = "-"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", ag.Name, ag.Role, tools)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nTasks:")
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  #\tID\tAGENT\tDEPENDS ON")
	for i, id := range graph.Order() {
		task, _ := graph.Task(id)
		deps := strings.Join(graph.Dependencies(id), ",")
		if deps == "" {
			deps = "-"
		}
		marker := ""
		if task.Compiler {
			marker = " (compiler)"
		}
		fmt.Fprintf(tw, "  %d\t%s%s\t%s\t%s\n", i+1, id, marker, task.Agent, deps)
	}
	return tw.Flush()
}
