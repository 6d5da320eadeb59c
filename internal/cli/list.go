package cli

import (
	"github.com/spf13/cobra"

	"pyvm/internal/manager"
	"pyvm/internal/tui"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed versions",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
}

func runList(cmd *cobra.Command, _ []string) error {
	return withManager(func(m *manager.Manager) error {
		listing, err := m.List()
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd, listing)
		}
		tui.RenderVersions(cmd.OutOrStdout(), listing)
		return nil
	})
}
