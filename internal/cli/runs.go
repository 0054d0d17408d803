package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harun/crew/pkg/orchestrator"
	"github.com/spf13/cobra"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored runs",
	}
	cmd.AddCommand(
		newRunsListCmd(root),
		newRunsShowCmd(root),
		newRunsDeleteCmd(root),
	)
	return cmd
}

// withStore opens the configured run store for the duration of fn.
func withStore(cmd *cobra.Command, root *rootOptions, fn func(orchestrator.RunStore) error) error {
	a, err := newApp(cmd, root)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.openStore()
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("run store is disabled (store.kind is none)")
	}
	defer store.Close()

	return fn(store)
}

func newRunsListCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, root, func(store orchestrator.RunStore) error {
				runs, err := store.List()
				if err != nil {
					return err
				}
				if limit > 0 && len(runs) > limit {
					runs = runs[:limit]
				}
				return printRuns(cmd.OutOrStdout(), runs)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show (0 = all)")
	return cmd
}

func newRunsShowCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a stored run with its task results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, root, func(store orchestrator.RunStore) error {
				run, err := store.Get(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(run)
				}
				return printRun(cmd.OutOrStdout(), run)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw run record")
	return cmd
}

func newRunsDeleteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete RUN_ID...",
		Short: "Delete stored runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, root, func(store orchestrator.RunStore) error {
				for _, id := range args {
					if err := store.Delete(id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}
}

func printRuns(out io.Writer, runs []*orchestrator.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTEAM\tMODE\tSTATE\tSTARTED\tDURATION\tTASKS\tFAILURE")
	for _, run := range runs {
		failure := "-"
		if run.Failure != nil {
			failure = run.Failure.Kind
			if run.Failure.TaskID != "" {
				failure += " @ " + run.Failure.TaskID
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			run.ID,
			run.Team,
			run.Mode,
			run.State,
			run.StartedAt.Local().Format(time.DateTime),
			formatDuration(run.Duration()),
			len(run.Results),
			failure,
		)
	}
	return tw.Flush()
}

func printRun(out io.Writer, run *orchestrator.Run) error {
	fmt.Fprintf(out, "Run:      %s\n", run.ID)
	fmt.Fprintf(out, "Team:     %s (%s)\n", run.Team, run.Mode)
	fmt.Fprintf(out, "State:    %s\n", run.State)
	fmt.Fprintf(out, "Started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if d := run.Duration(); d > 0 {
		fmt.Fprintf(out, "Duration: %s\n", formatDuration(d))
	}
	if run.Failure != nil {
		fmt.Fprintf(out, "Failure:  %s\n", describeFailure("", run.Failure))
	}

	for i, res := range run.Results {
		fmt.Fprintf(out, "\n## %d. %s (%s, %d attempt(s), %s)\n\n%s\n",
			i+1, res.TaskID, res.Agent, res.Attempts,
			formatDuration(res.FinishedAt.Sub(res.StartedAt)),
			strings.TrimSpace(res.Output))
	}

	if run.Output != "" {
		fmt.Fprintf(out, "\n# Report\n\n%s\n", run.Output)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
