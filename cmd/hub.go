package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"settings_sync/internal/server"
	"settings_sync/internal/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newHubCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the websocket relay peers broadcast through",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			logs := utils.NewManager(cfg.LogPath, cfg.LogLevel)
			defer logs.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.StartHub(ctx, cfg.HubListen, logs.Logger("hub"))
		},
	}
	cmd.Flags().String("hub-listen", "", "listen address, e.g. :25580")
	return cmd
}
