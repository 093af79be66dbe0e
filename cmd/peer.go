package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"mcphub/internal/examplepeer"
	"mcphub/internal/logger"

	"github.com/spf13/cobra"
)

var (
	peerNotify        bool
	peerLineDelimited bool
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Runs the example MCP server on stdin and stdout",
	Long: `Runs a small MCP server speaking Content-Length framed JSON-RPC on stdin and
stdout. It offers echo, add and fail tools and is what the "example" package
starts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err := examplepeer.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout(),
			examplepeer.WithNotify(peerNotify),
			examplepeer.WithLineDelimited(peerLineDelimited),
			examplepeer.WithLogger(logger.WithComponent("peer")),
		)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(peerCmd)
	peerCmd.Flags().BoolVar(&peerNotify, "notify", false, "send a log notification before every response")
	peerCmd.Flags().BoolVar(&peerLineDelimited, "line-delimited", false, "write newline-delimited JSON instead of Content-Length frames")
}
