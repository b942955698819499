// Command cyclectl is the admin client for a running scheduler: it
// translates reset/insert/kill/purge/hold/status commands into calls
// against the scheduler's /v1/mutate and /v1/status HTTP endpoints.
//
// Grounded on the example pack's cobra-driven CLI shape (e.g.
// cklxx-elephant.ai's cmd/cobra_cli.go root command + subcommand tree),
// trimmed to this tool's much narrower admin-verb surface and wired
// against this repository's own wire protocol instead of a chat agent.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	addrFlag    string
	timeoutFlag time.Duration
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(exitFromError(err))
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cyclectl",
		Short:         "Admin client for the cycling workflow scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addrFlag, "addr", "http://localhost:8080", "scheduler HTTP address")
	root.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		newStatusCommand(),
		newInsertCommand(),
		newKillCommand(),
		newKillCycleCommand(),
		newResetCommand(),
		newPurgeCommand(),
		newSpawnAndDieCommand(),
		newSpawnAndDieCycleCommand(),
		newHoldCommand(),
		newReleaseCommand(),
		newWillPauseAtCommand(),
		newSetOutputsCommand(),
		newPauseCommand(),
		newResumeCommand(),
		newStopCommand(),
	)
	return root
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeoutFlag)
}

// exitFromError maps a command failure to a process exit code. Cobra's
// own flag/arg validation failures never go through runMutate, so
// anything that isn't a *cliError is a usage error by elimination.
func exitFromError(err error) int {
	if ce, ok := err.(*cliError); ok {
		return ce.code
	}
	return exitUsageError
}

// cliError carries an explicit exit code alongside the message cobra
// prints to stderr.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }

// rejected is any engine rejection other than "no matching task" —
// bad state, duplicate, config error. notFound is specifically
// TaskNotFound. transportErr covers anything that kept the request from
// ever reaching (or being understood by) the scheduler at --addr — spec's
// "no running workflow".
func rejected(err error) error  { return &cliError{code: exitCommandFailure, err: err} }
func notFound(err error) error  { return &cliError{code: exitNoMatchingTask, err: err} }
func transportErr(err error) error { return &cliError{code: exitNoRunningWorkflow, err: err} }

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print a summary of every known task instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			resp, err := newClient(addrFlag).status(ctx)
			if err != nil {
				return transportErr(err)
			}
			printStatus(cmd, resp)
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, resp statusResponse) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tSTATE\tOUTPUTS\tSPAWNED\tMESSAGE\n")
	for _, t := range resp.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%v\t%s\n",
			t.ID, t.State, t.NCompletedOutputs, t.NTotalOutputs, t.Spawned, t.LatestMessage)
	}
	_ = w.Flush()
	if resp.WorkflowDirty {
		fmt.Fprintln(cmd.OutOrStdout(), "(workflow state changed since last status call)")
	}
}

// runMutate sends req and maps the outcome to spec.md §6's exit codes: a
// TaskNotFound rejection (HTTP 404) exits 4, any other engine rejection
// exits 1, and a failure to reach or understand the scheduler at --addr
// at all exits 3.
func runMutate(cmd *cobra.Command, req mutateRequest) error {
	ctx, cancel := withTimeout()
	defer cancel()
	resp, status, err := newClient(addrFlag).mutate(ctx, req)
	if err != nil {
		return transportErr(err)
	}
	if !resp.OK {
		if status == http.StatusNotFound {
			return notFound(fmt.Errorf("%s", resp.Error))
		}
		return rejected(fmt.Errorf("%s", resp.Error))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (request %s)\n", resp.Action, resp.RequestID)
	return nil
}

func newInsertCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "insert <task-name> <cycle-point>",
		Short: "Insert a new instance of a task at a cycle point",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, mutateRequest{Action: "insert", Name: args[0], Point: args[1]})
		},
	}
}

func newKillCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <task-id>...",
		Short: "Remove one or more task instances without spawning a successor",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, mutateRequest{Action: "kill", IDs: args})
		},
	}
}

func newKillCycleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kill-cycle <cycle-point>",
		Short: "Remove every task instance at a cycle point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, mutateRequest{Action: "kill_cycle", Point: args[0]})
		},
	}
}

func newResetCommand() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "reset <task-id>",
		Short: "Force a task instance to waiting, ready, or finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, mutateRequest{Action: "reset", ID: args[0], ResetKind: state})
		},
	}
	cmd.Flags().StringVar(&state, "state", "waiting", "target state: waiting, ready, or finished")
	return cmd
}

func newPurgeCommand() *cobra.Command {
	var stop string
	cmd := &cobra.Command{
		Use:   "purge <task-id>",
		Short: "Remove a task instance and every instance that depended on it, up to --stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, mutateRequest{Action: "purge", ID: args[0], Stop: stop})
		},
	}
	cmd.Flags().StringVar(&stop, "stop", "", "cycle point to stop the purge walk at (required)")
	_ = cmd.MarkFlagRequired("stop")
	return cmd
}

func newSpawnAndDieCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "spawn-and-die <task-id>",
		Short: "Spawn a task instance's successor and remove it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, mutateRequest{Action: "spawn_and_die", ID: args[0]})
		},
	}
}

func newSpawnAndDieCycleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "spawn-and-die-cycle <cycle-point>",
		Short: "Spawn successors and remove every task instance at a cycle point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, mutateRequest{Action: "spawn_and_die_cycle", Point: args[0]})
		},
	}
}

func newHoldCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hold",
		Short: "Suspend dispatch of every task instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, mutateRequest{Action: "hold"})
		},
	}
}

func newReleaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release",
		Short: "Resume dispatch after hold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, mutateRequest{Action: "unhold"})
		},
	}
}

func newWillPauseAtCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hold-cycle <cycle-point>",
		Short: "Suspend dispatch for every task instance at or past a cycle point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, mutateRequest{Action: "will_pause_at", Point: args[0]})
		},
	}
}

func newSetOutputsCommand() *cobra.Command {
	var outputs []string
	var flow int
	cmd := &cobra.Command{
		Use:   "set-outputs <task-id>...",
		Short: "Mark named outputs complete for one or more task instances",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := mutateRequest{Action: "set_outputs", IDs: args, Outputs: outputs}
			if cmd.Flags().Changed("flow") {
				req.Flow = &flow
			}
			return runMutate(cmd, req)
		},
	}
	cmd.Flags().StringArrayVar(&outputs, "output", nil, "output name to mark complete, e.g. started, completed, finished; repeatable (default: finished)")
	cmd.Flags().IntVar(&flow, "flow", 0, "flow number to attribute the instance (and any successor it spawns) to")
	return cmd
}

func newPauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Suspend the entire scheduling tick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, mutateRequest{Action: "pause"})
		},
	}
}

func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused scheduling tick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, mutateRequest{Action: "resume"})
		},
	}
}

func newStopCommand() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Request the scheduler wind down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, mutateRequest{Action: "stop", Mode: mode})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "clean", "clean (let in-flight work finish) or now (halt immediately)")
	return cmd
}
