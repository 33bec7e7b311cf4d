package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/client"
)

var (
	approveAll   bool
	rejectAll    bool
	historyLimit int
)

func init() {
	rootCmd.AddCommand(pendingCmd, approveCmd, rejectCmd, historyCmd)
	approveCmd.Flags().BoolVar(&approveAll, "all", false, "Approve every pending request")
	rejectCmd.Flags().BoolVar(&rejectAll, "all", false, "Reject every pending request")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of requests to show")
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending approval requests",
	Long:  "Shows the requests waiting on the approval server at --listen, oldest first.",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

var approveCmd = &cobra.Command{
	Use:   "approve [id]",
	Short: "Approve a pending request",
	Args:  resolveArgs(&approveAll),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResolve(cmd, args, approveAll, true)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject [id]",
	Short: "Reject a pending request",
	Args:  resolveArgs(&rejectAll),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResolve(cmd, args, rejectAll, false)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List resolved approval requests",
	Long: "Shows resolved requests, most recent first. With --history-db the\n" +
		"SQLite history is read directly and no server is needed.",
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func resolveArgs(all *bool) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if *all {
			return cobra.NoArgs(cmd, args)
		}
		if len(args) != 1 {
			return errors.New("requires a request id or --all")
		}
		return nil
	}
}

func dial(cmd *cobra.Command) (*env, *client.Client, error) {
	e, err := setup(cmd)
	if err != nil {
		return nil, nil, err
	}
	c, err := client.New(e.cfg.Server.Listen)
	if err != nil {
		e.close()
		return nil, nil, err
	}
	e.closers = append(e.closers, c.Close)
	return e, c, nil
}

func runPending(cmd *cobra.Command, args []string) error {
	e, c, err := dial(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	reqs, err := c.Pending(cmd.Context())
	if err != nil {
		return fmt.Errorf("list pending requests: %w", err)
	}
	if len(reqs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending approvals.")
		return nil
	}
	printRequests(cmd.OutOrStdout(), reqs)
	return nil
}

func runResolve(cmd *cobra.Command, args []string, all, approve bool) error {
	e, c, err := dial(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := cmd.Context()
	by := operator()
	verb := "Rejected"
	if approve {
		verb = "Approved"
	}

	if all {
		var n int
		if approve {
			n, err = c.ApproveAll(ctx, by)
		} else {
			n, err = c.RejectAll(ctx, by)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d request(s)\n", verb, n)
		return nil
	}

	if approve {
		err = c.Approve(ctx, args[0], by)
	} else {
		err = c.Reject(ctx, args[0], by)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, args[0])
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	var reqs []approval.Request
	if e.cfg.Approval.HistoryDB != "" {
		h, err := approval.OpenSQLiteHistory(e.cfg.Approval.HistoryDB, e.logger)
		if err != nil {
			return err
		}
		defer h.Close()
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if reqs, err = h.Recent(ctx, historyLimit); err != nil {
			return fmt.Errorf("read approval history: %w", err)
		}
	} else {
		c, err := client.New(e.cfg.Server.Listen)
		if err != nil {
			return err
		}
		defer c.Close()
		if reqs, err = c.History(cmd.Context(), historyLimit); err != nil {
			return fmt.Errorf("read approval history: %w", err)
		}
	}

	if len(reqs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No resolved approvals.")
		return nil
	}
	printRequests(cmd.OutOrStdout(), reqs)
	return nil
}

func printRequests(w io.Writer, reqs []approval.Request) {
	fmt.Fprintf(w, "%-36s %-9s %-8s %-40s %-8s %s\n", "ID", "STATUS", "RISK", "ACTION", "CREATED", "BY")
	for _, r := range reqs {
		fmt.Fprintf(w, "%-36s %-9s %-8s %-40s %-8s %s\n",
			r.ID,
			r.Status,
			r.Risk,
			truncate(r.Description, 40),
			r.Timestamp.Local().Format("15:04:05"),
			r.ResolvedBy,
		)
	}
}

// operator names the human resolving requests from this shell.
func operator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "cli"
}
