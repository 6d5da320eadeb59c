package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pyvm/internal/manager"
)

func newUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <version>",
		Short: "Make an installed version the active one",
		Args:  cobra.ExactArgs(1),
		RunE:  runUse,
	}
}

func runUse(cmd *cobra.Command, args []string) error {
	id := args[0]
	return withManager(func(m *manager.Manager) error {
		if err := m.Use(cmd.Context(), id); err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd, map[string]string{"active": id})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Now using %s\n", id)
		printActivationHint(cmd, m)
		return nil
	})
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall <version>",
		Aliases: []string{"remove"},
		Short:   "Remove an installed version",
		Args:    cobra.ExactArgs(1),
		RunE:    runUninstall,
	}
}

func runUninstall(cmd *cobra.Command, args []string) error {
	id := args[0]
	return withManager(func(m *manager.Manager) error {
		if err := m.Uninstall(cmd.Context(), id); err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd, map[string]string{"uninstalled": id})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s\n", id)
		return nil
	})
}
