package cmd

import (
	"fmt"
	"os"

	"mcphub/internal/config"
	"mcphub/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfg      config.Config
	logLevel string
	logFile  string
	debug    bool
)

var rootCmd = &cobra.Command{
	Use:   "mcphub",
	Short: "A supervisor for stdio MCP servers",
	Long: `mcphub starts MCP servers as child processes, speaks JSON-RPC with them over
their stdin and stdout, and exposes them to other tools over gRPC.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		cfg = c

		level := cfg.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		if err := logger.SetLevel(level); err != nil {
			return err
		}
		if debug {
			logger.SetDebug(true)
		}
		file := cfg.LogFile
		if cmd.Flags().Changed("log-file") {
			file = logFile
		}
		return logger.Init(file)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error (overrides MCPHUB_LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "shorthand for --log-level debug")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr (overrides MCPHUB_LOG_FILE)")
}

func Execute() {
	defer logger.Close()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		logger.Close()
		os.Exit(1)
	}
}
