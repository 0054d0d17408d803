package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harun/crew/internal/config"
	"github.com/harun/crew/pkg/orchestrator"
	"github.com/harun/crew/pkg/runerr"
	"github.com/harun/crew/pkg/taskgraph"
	"github.com/harun/crew/pkg/watcher"
	"github.com/spf13/cobra"
)

type validateOptions struct {
	team  teamOptions
	mode  string
	watch bool
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	o := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a team definition without calling any model or tool",
		Long: `Validate a team definition: agents, tool capabilities, placeholders and
task dependencies are checked for the selected mode. Nothing external is
called. Missing credentials are reported as warnings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, root, o)
		},
	}

	addTeamFlags(cmd, &o.team)
	cmd.Flags().StringVar(&o.mode, "mode", "", "validate for this mode (sequential, dag)")
	cmd.Flags().BoolVarP(&o.watch, "watch", "w", false, "re-validate whenever the team file changes")

	return cmd
}

func runValidate(cmd *cobra.Command, root *rootOptions, o *validateOptions) error {
	a, err := newApp(cmd, root)
	if err != nil {
		return err
	}
	defer a.Close()

	mode, err := taskgraph.ParseMode(a.cfg.Runtime.Mode)
	if err != nil {
		return err
	}
	if o.mode != "" {
		if mode, err = taskgraph.ParseMode(o.mode); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	check := func() error {
		team, source, err := o.team.load(a.cfg)
		if err != nil {
			fmt.Fprintf(out, "✗ %s: %v\n", source, err)
			return err
		}
		return reportValidation(out, source, team, mode, a.cfg)
	}

	if !o.watch {
		return check()
	}

	path := o.team.file
	if path == "" && o.team.builtin == "" {
		path = a.cfg.TeamFile
	}
	if path == "" {
		return errors.New("--watch needs a team file (--team or team_file in the config)")
	}

	_ = check()

	w, err := watcher.New(watcher.Config{
		Files:  []string{path},
		Logger: a.logger("watcher"),
		OnChange: func(changed string, removed bool) {
			if removed {
				fmt.Fprintf(out, "✗ %s: removed\n", changed)
				return
			}
			_ = check()
		},
	})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", path)
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	return nil
}

// reportValidation prints the outcome of static validation and returns the
// graph error, if any. Credential problems only produce a warning.
func reportValidation(out io.Writer, source string, team orchestrator.Team, mode taskgraph.Mode, cfg *config.Config) error {
	graph, err := team.Graph(mode, staticCatalog())
	if err != nil {
		fmt.Fprintf(out, "✗ %s: %s: %v\n", source, runerr.Kind(err), err)
		return err
	}

	fmt.Fprintf(out, "✓ %s: team %q is valid for %s mode (%d agents, %d tasks)\n",
		source, team.Name, mode, len(team.Agents), graph.Len())
	fmt.Fprintf(out, "  order: %s\n", strings.Join(graph.Order(), " → "))

	creds, err := config.LoadCredentials()
	if err != nil {
		return err
	}
	env := creds.Env(requiredEnv(team, creds, cfg.Models))
	if err := env.Validate(); err != nil {
		fmt.Fprintf(out, "! %v\n", err)
	}
	return nil
}
