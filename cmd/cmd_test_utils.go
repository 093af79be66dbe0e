package cmd

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags puts every flag of c back to its default so commands can be
// executed more than once in one test binary.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// runCommand executes rootCmd with args under ctx and returns its output.
func runCommand(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	rootCmd.SetArgs(args)
	rootCmd.SetContext(ctx)
	if sub, _, err := rootCmd.Find(args); err == nil && sub != rootCmd {
		sub.SetContext(ctx)
	}
	return CommandRunner(rootCmd)
}

// runSubCommand runs a long-lived command, cancels it after wait and checks
// its output.
func runSubCommand(t *testing.T, wait time.Duration, args []string, outputAssertions ...string) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var (
		wg  sync.WaitGroup
		out string
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err = runCommand(t, ctx, args...)
	}()

	time.Sleep(wait)
	cancel()
	wg.Wait()

	require.NoError(t, err)
	lower := strings.ToLower(out)
	for _, oa := range outputAssertions {
		assert.Contains(t, lower, strings.ToLower(oa))
	}
}
