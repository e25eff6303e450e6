// Package cmd holds the zchat-client command tree.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"client_go/internal/config"
	"client_go/internal/logging"
)

// app carries what every subcommand needs once the root has loaded it.
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "zchat-client",
		Short: "Offline-first zChat message sync client",
		Long: `zchat-client keeps a durable local log of every conversation, queues
messages while offline and delivers them over a single websocket session
once the chat server is reachable.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			logging.Init(logging.Config{
				Level:       cfg.Log.Level,
				Pretty:      cfg.Log.Pretty || cfg.IsDevelopment(),
				ServiceName: cfg.App.Name,
			})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Directory containing config.yaml (default: . and ./config)")

	root.AddCommand(
		newServeCmd(a),
		newSendCmd(a),
		newFlushCmd(a),
		newHistoryCmd(a),
	)
	return root
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
