package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"pyvm/internal/manager"
	"pyvm/internal/registry"
	"pyvm/internal/tui"
)

var installUse bool

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <version>",
		Short: "Download, verify and install a version",
		Args:  cobra.ExactArgs(1),
		RunE:  runInstall,
	}
	cmd.Flags().BoolVar(&installUse, "use", false, "Activate the version once installed")
	return cmd
}

func runInstall(cmd *cobra.Command, args []string) error {
	id := args[0]
	return withManager(func(m *manager.Manager) error {
		out := cmd.OutOrStdout()
		mode := tui.DetectMode(out, outputJSON)

		var (
			rec registry.Record
			err error
		)
		switch mode {
		case tui.ModeTUI:
			err = tui.RunWithWork(cmd.Context(), out, tui.NewInstallModel(id), func(ctx context.Context, send func(tea.Msg)) error {
				var installErr error
				rec, installErr = m.Install(ctx, id, manager.InstallOptions{
					Activate: installUse,
					Reporter: tui.NewProgramReporter(send),
				})
				return installErr
			})
		case tui.ModePlain:
			rec, err = m.Install(cmd.Context(), id, manager.InstallOptions{
				Activate: installUse,
				Reporter: tui.NewLineReporter(cmd.ErrOrStderr()),
			})
		default:
			rec, err = m.Install(cmd.Context(), id, manager.InstallOptions{Activate: installUse})
		}
		if err != nil {
			return err
		}

		if outputJSON {
			return writeJSON(cmd, rec)
		}
		fmt.Fprintf(out, "Installed %s at %s\n", rec.ID, rec.Path)
		if installUse {
			fmt.Fprintf(out, "Now using %s\n", rec.ID)
			printActivationHint(cmd, m)
		}
		return nil
	})
}
