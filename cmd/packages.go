package cmd

import (
	"fmt"
	"text/tabwriter"

	"mcphub/internal/logger"
	"mcphub/internal/packages"

	"github.com/spf13/cobra"
)

var packagesFile string

var packagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "Lists the packages the hub can start",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.PackagesFile
		if packagesFile != "" {
			path = packagesFile
		}
		table := packages.Default()
		if path != "" {
			t, err := packages.LoadFile(path)
			if err != nil {
				return err
			}
			table = t
		}
		table = table.Merge(builtinPackages(logger.WithComponent("packages")))

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tPACKAGE\tCOMMAND")
		for _, name := range table.Names() {
			c := table[name]
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name, c.DisplayName, c.String())
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(packagesCmd)
	packagesCmd.Flags().StringVar(&packagesFile, "packages", "", "YAML file of extra packages (overrides MCPHUB_PACKAGES_FILE)")
}
