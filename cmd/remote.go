package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"mcphub/internal/hub"
	"mcphub/internal/supervisor"

	"github.com/spf13/cobra"
)

const cliClientName = "mcphub-cli"

var (
	hubAddr    string
	statusJSON bool
	startMode  string
	callArgs   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Lists the servers a running hub supervises",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHub(cmd, func(ctx context.Context, c *hub.Client) error {
			servers, summary, err := c.GetServers(ctx)
			if err != nil {
				return err
			}
			if statusJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"servers": servers, "summary": summary})
			}
			printServers(cmd.OutOrStdout(), servers, summary)
			return nil
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start NAME",
	Short: "Starts a server on a running hub",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := supervisor.ParseMode(startMode)
		if err != nil {
			return err
		}
		return withHub(cmd, func(ctx context.Context, c *hub.Client) error {
			st, err := c.StartServer(ctx, args[0], mode)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started %s (%s) pid %d\n", st.ID, st.Mode, st.PID)
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop NAME",
	Short: "Stops a server on a running hub",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHub(cmd, func(ctx context.Context, c *hub.Client) error {
			if err := c.StopServer(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", args[0])
			return nil
		})
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart NAME",
	Short: "Stops a server if it is running and starts it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := supervisor.ParseMode(startMode)
		if err != nil {
			return err
		}
		return withHub(cmd, func(ctx context.Context, c *hub.Client) error {
			st, err := c.RestartServer(ctx, args[0], mode)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restarted %s (%s) pid %d\n", st.ID, st.Mode, st.PID)
			return nil
		})
	},
}

var stopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stops every server on a running hub",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHub(cmd, func(ctx context.Context, c *hub.Client) error {
			return c.StopAll(ctx)
		})
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools NAME",
	Short: "Lists the tools of a server on a running hub",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHub(cmd, func(ctx context.Context, c *hub.Client) error {
			if _, err := c.Initialize(ctx, args[0]); err != nil {
				return err
			}
			raw, err := c.ListTools(ctx, args[0])
			if err != nil {
				return err
			}
			return printRaw(cmd.OutOrStdout(), raw)
		})
	},
}

var callCmd = &cobra.Command{
	Use:     "call NAME TOOL",
	Short:   "Calls a tool of a server on a running hub",
	Example: `  mcphub call example add --args '{"a":1,"b":2}'`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var arguments json.RawMessage
		if callArgs != "" {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal([]byte(callArgs), &obj); err != nil {
				return fmt.Errorf("--args must be a JSON object: %w", err)
			}
			arguments = json.RawMessage(callArgs)
		}
		return withHub(cmd, func(ctx context.Context, c *hub.Client) error {
			if _, err := c.Initialize(ctx, args[0]); err != nil {
				return err
			}
			raw, err := c.CallTool(ctx, args[0], args[1], arguments)
			if err != nil {
				return err
			}
			return printRaw(cmd.OutOrStdout(), raw)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, startCmd, stopCmd, restartCmd, stopAllCmd, toolsCmd, callCmd} {
		c.Flags().StringVar(&hubAddr, "addr", "", "hub address (default localhost:$MCPHUB_PORT)")
		rootCmd.AddCommand(c)
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON instead of a table")
	for _, c := range []*cobra.Command{startCmd, restartCmd} {
		c.Flags().StringVar(&startMode, "mode", string(supervisor.ModeHubHosted), "tool_launched or hub_hosted")
	}
	callCmd.Flags().StringVar(&callArgs, "args", "", "tool arguments as a JSON object")
}

// withHub dials the hub and runs fn with a context bounded by the call timeout.
func withHub(cmd *cobra.Command, fn func(context.Context, *hub.Client) error) error {
	addr := hubAddr
	if addr == "" {
		addr = fmt.Sprintf("localhost:%d", cfg.Port)
	}
	c, err := hub.Dial(addr, cliClientName)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CallTimeout)
	defer cancel()
	return fn(ctx, c)
}

func printServers(w io.Writer, servers []supervisor.ServerStatus, summary supervisor.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMODE\tSTATUS\tPID\tSTARTED\tERROR")
	for _, st := range servers {
		pid := "-"
		if st.PID > 0 {
			pid = fmt.Sprint(st.PID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			st.ID, st.Name, st.Mode, st.Status, pid, st.StartedAt.Local().Format("2006-01-02 15:04:05"), st.Error)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d running, %d stopped, %d error\n", summary.Running, summary.Stopped, summary.Error)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRaw(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
