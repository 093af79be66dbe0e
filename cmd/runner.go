package cmd

import (
	"bytes"

	"github.com/spf13/cobra"
)

// CommandRunner executes cmd and returns everything it wrote to its output
// and error streams.
func CommandRunner(cmd *cobra.Command) (string, error) {
	b := &bytes.Buffer{}
	cmd.SetOut(b)
	cmd.SetErr(b)
	defer func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
	}()

	err := cmd.Execute()
	return b.String(), err
}
