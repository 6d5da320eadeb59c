package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pyvm/internal/manager"
	"pyvm/internal/tui"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report drift, orphaned installs and leftovers",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	return withManager(func(m *manager.Manager) error {
		report, err := m.Doctor()
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd, report)
		}
		tui.RenderDoctor(cmd.OutOrStdout(), report)
		return nil
	})
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete leftovers and unregistered version directories",
		Args:  cobra.NoArgs,
		RunE:  runPrune,
	}
}

func runPrune(cmd *cobra.Command, _ []string) error {
	return withManager(func(m *manager.Manager) error {
		result, err := m.Prune(cmd.Context())
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd, result)
		}
		out := cmd.OutOrStdout()
		if len(result.Removed) == 0 {
			fmt.Fprintln(out, "Nothing to prune.")
			return nil
		}
		for _, path := range result.Removed {
			fmt.Fprintf(out, "removed %s\n", path)
		}
		return nil
	})
}
