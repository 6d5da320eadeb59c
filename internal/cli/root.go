package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"pyvm/internal/errkind"
)

var (
	homeDir    string
	outputJSON bool
)

// Execute runs the root cobra command.
func Execute() {
	os.Exit(Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// Run executes the command line args and returns the process exit code.
// Failures are printed as "error[<Kind>]: <message>".
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error[%s]: %v\n", errkind.Name(err), err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pyvm",
		Short:         "Install and switch between Python versions",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&homeDir, "home", "", "pyvm root directory (default $PYVM_HOME or ~/.pyvm)")
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output machine-readable JSON")

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newInstallCmd())
	cmd.AddCommand(newUseCmd())
	cmd.AddCommand(newUninstallCmd())
	cmd.AddCommand(newCurrentCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newPruneCmd())

	return cmd
}
