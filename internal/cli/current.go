package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pyvm/internal/manager"
	"pyvm/internal/tui"
)

func newCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the active version",
		Args:  cobra.NoArgs,
		RunE:  runCurrent,
	}
}

func runCurrent(cmd *cobra.Command, _ []string) error {
	return withManager(func(m *manager.Manager) error {
		state, err := m.Current()
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd, state)
		}

		out := cmd.OutOrStdout()
		if state.Active == "" {
			fmt.Fprintln(out, "No version is active.")
		} else {
			fmt.Fprintf(out, "%s %s\n", state.Active, tui.NonEmptyOrDash(state.PathEntry))
		}
		if !state.Consistent {
			fmt.Fprintln(out, tui.WarningStyle.Render("The search path does not match the registry; run `pyvm doctor`."))
		}
		return nil
	})
}
