package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/client"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/executor"
	wardenmcp "github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/mcp"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/policy"
)

var mcpRemote bool

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().Bool("full-access", false, "Posture used by warden_check and warden_exec")
	mcpCmd.Flags().Bool("auto-approve", false, "Posture used by warden_check and warden_exec")
	mcpCmd.Flags().StringSlice("safe-dir", nil, "Safe directory used by warden_check and warden_exec (repeatable)")
	mcpCmd.Flags().BoolVar(&mcpRemote, "remote", false, "Use the approval server on --listen instead of a local queue")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs warden as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes warden_check, warden_exec, warden_pending, warden_history, warden_approve and warden_reject.\n" +
		"warden_exec runs an action once the gate lets it through, waiting on the queue when a human must approve.\n" +
		"With --remote the tools act on a running `warden serve` or `warden run --serve`.",
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	var (
		approvals wardenmcp.Approvals
		engine    *policy.Engine
	)
	if mcpRemote {
		c, err := client.New(e.cfg.Server.Listen)
		if err != nil {
			return err
		}
		defer c.Close()
		approvals = c
		// The sensitive list used while searching comes from the local
		// policy file; a missing one falls back to the defaults.
		if engine, err = policy.Load(e.cfg.Policy.File); err != nil {
			e.logger.Warn("local policy unreadable, using defaults for execution", "error", err)
			engine = policy.NewDefault()
		}
	} else {
		g, _, err := e.buildGate()
		if err != nil {
			return err
		}
		approvals = wardenmcp.Local{Gate: g}
		engine = g.Engine()
	}

	srv := wardenmcp.New(approvals, wardenmcp.Config{
		Version:  version,
		Policy:   e.cfg.PolicyContext(),
		Logger:   e.logger,
		Executor: executor.New(executor.WithEngine(engine), executor.WithLogger(e.logger)),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(cmd.ErrOrStderr(), "warden MCP server running on stdio")
	return srv.Run(ctx)
}
