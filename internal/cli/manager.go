package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"pyvm/internal/config"
	"pyvm/internal/logx"
	"pyvm/internal/manager"
	"pyvm/internal/paths"
)

// withManager resolves the layout, loads settings and opens the log file for
// the duration of fn.
func withManager(fn func(m *manager.Manager) error) error {
	layout, err := paths.Resolve(homeDir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(layout.SettingsFile)
	if err != nil {
		return err
	}

	logger, closer, err := logx.New(layout)
	if err != nil {
		return err
	}
	defer closer.Close()

	m, err := manager.New(manager.Options{Layout: layout, Settings: cfg, Logger: logger})
	if err != nil {
		logger.Printf("setup failed: %v", err)
		return err
	}
	return fn(m)
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// printActivationHint tells Unix users how to pick up the env file.
func printActivationHint(cmd *cobra.Command, m *manager.Manager) {
	if runtime.GOOS == "windows" {
		fmt.Fprintln(cmd.OutOrStdout(), "Open a new terminal to pick up the change.")
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Add `. %s` to your shell profile if you have not already.\n", m.Layout().EnvFile)
}
