package main

import (
	"github.com/spf13/cobra"

	"github.com/rickgao/fabsync/internal/version"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	statusAddr string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "fabsync",
		Short: "Realtime order and notification sync for the fabrication portal",
		Long: `fabsync holds one authenticated push connection to the portal, fans
incoming events out to local consumers and keeps their state consistent with
REST polling whenever the push connection is unavailable.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to YAML config file (defaults and environment only when empty)")
	root.PersistentFlags().StringVar(&flags.statusAddr, "status-addr", "", "serve /healthz and /status on this address, e.g. 127.0.0.1:8090")

	root.AddCommand(
		newWatchCmd(flags),
		newNotificationsCmd(flags),
		newStreamCmd(flags),
		newVersionCmd(),
	)
	return root
}
