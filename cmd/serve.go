package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"mcphub/internal/hub"
	"mcphub/internal/logger"
	"mcphub/internal/packages"
	"mcphub/internal/supervisor"

	"github.com/spf13/cobra"
)

var (
	serveServers  []string
	servePort     int
	servePackages string
	serveWatch    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the hub and serves its gRPC API",
	Long: `Runs the hub: starts the requested MCP servers, serves the supervisor and
health services over gRPC, and stops every server on SIGINT or SIGTERM.`,
	Example: `  mcphub serve --server core --server memory:tool_launched
  mcphub serve --packages ./packages.yaml --watch`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringArrayVarP(&serveServers, "server", "s", nil, "start this server, as name[:mode]; repeatable")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "gRPC port (overrides MCPHUB_PORT)")
	serveCmd.Flags().StringVar(&servePackages, "packages", "", "YAML file of extra packages (overrides MCPHUB_PACKAGES_FILE)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "reload the packages file when it changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	port := cfg.Port
	if cmd.Flags().Changed("port") {
		port = servePort
	}
	pkgFile := cfg.PackagesFile
	if servePackages != "" {
		pkgFile = servePackages
	}
	if serveWatch && pkgFile == "" {
		return errors.New("--watch needs a packages file")
	}

	table := packages.Default()
	if pkgFile != "" {
		t, err := packages.LoadFile(pkgFile)
		if err != nil {
			return err
		}
		table = t
	}
	builtin := builtinPackages(log)
	registry := packages.NewRegistry(table.Merge(builtin))

	sup := supervisor.New(registry,
		supervisor.WithSpawner(supervisor.ExecSpawner(cmd.ErrOrStderr())),
		supervisor.WithReapTimeout(cfg.ReapTimeout),
		supervisor.WithLogger(logger.WithComponent("supervisor")),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closeLine hub.CloseLine
	defer closeLine.Close()
	closeLine.Add(sup.StopAll)

	srv := hub.NewServer(sup,
		hub.WithCallTimeout(cfg.CallTimeout),
		hub.WithLogger(logger.WithComponent("hub")),
	)
	addr, stopGRPC, err := srv.StartAsync(port)
	if err != nil {
		return err
	}
	closeLine.Add(stopGRPC)
	fmt.Fprintf(cmd.OutOrStdout(), "mcphub listening on %s\n", addr)

	for _, spec := range slices.Concat(cfg.Servers, serveServers) {
		name, mode, err := parseServerSpec(spec)
		if err != nil {
			return err
		}
		st, err := sup.Start(ctx, name, mode)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "started %s (%s) pid %d\n", st.ID, st.Mode, st.PID)
	}

	if serveWatch {
		watchCtx, cancel := context.WithCancel(ctx)
		closeLine.Add(cancel)
		go func() {
			if err := packages.WatchRegistry(watchCtx, pkgFile, registry, builtin); err != nil {
				log.Warn("packages watch stopped", "path", pkgFile, "error", err)
			}
		}()
	}

	pollHealth(ctx, srv, cfg.PollInterval, log)
	log.Info("shutting down")
	return nil
}

// pollHealth refreshes the health service every interval until ctx ends and
// logs servers that are no longer running.
func pollHealth(ctx context.Context, srv *hub.Server, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, st := range srv.RefreshHealth() {
			if st.Status != supervisor.StatusRunning {
				log.Warn("server not running", "id", st.ID, "status", st.Status, "error", st.Error)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// parseServerSpec splits name[:mode]; the mode defaults to hub_hosted.
func parseServerSpec(spec string) (string, supervisor.Mode, error) {
	name, rawMode, found := strings.Cut(strings.TrimSpace(spec), ":")
	if name == "" {
		return "", "", fmt.Errorf("empty server name in %q", spec)
	}
	if !found {
		return name, supervisor.ModeHubHosted, nil
	}
	mode, err := supervisor.ParseMode(rawMode)
	if err != nil {
		return "", "", err
	}
	return name, mode, nil
}

// builtinPackages registers this binary's own example peer as "example".
func builtinPackages(log *slog.Logger) packages.Table {
	exe, err := os.Executable()
	if err != nil {
		log.Warn("example peer unavailable", "error", err)
		return packages.Table{}
	}
	return packages.Table{
		"example": {DisplayName: "mcphub example peer", Path: exe, Args: []string{"peer"}},
	}
}
