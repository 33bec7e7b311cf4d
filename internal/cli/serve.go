package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Duration("timeout", 0, "How long Authorize waits for a human (default 5m)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC approval server",
	Long: "Runs the policy gate and approval queue as a gRPC service on --listen.\n" +
		"Agents call Authorize; operators use pending, approve and reject.\n" +
		"The policy file is hot-reloaded when it changes.",
	Args: cobra.NoArgs,
	RunE: runServeCmd,
}

func runServeCmd(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	g, hist, err := e.buildGate()
	if err != nil {
		return err
	}
	opts := []server.Option{server.WithLogger(e.logger), server.WithPolicyPath(e.cfg.Policy.File)}
	if hist != nil {
		opts = append(opts, server.WithHistory(hist))
	}
	srv := server.New(g, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloader, err := server.NewReloader(srv.ReloadPolicy, []string{e.cfg.Policy.File}, e.logger)
	if err != nil {
		e.logger.Warn("hot reload disabled", "error", err)
	} else {
		go reloader.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(cmd.ErrOrStderr(), "\nShutting down approval server...")
		cancel()
		srv.GracefulStop()
	}()

	fmt.Fprintf(cmd.ErrOrStderr(), "warden approval server listening on %s\n", e.cfg.Server.Listen)
	fmt.Fprintf(cmd.ErrOrStderr(), "Policy: %s (hot-reload enabled)\n\n", e.cfg.Policy.File)
	return srv.ListenAndServe(e.cfg.Server.Listen)
}
