package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	rootCmd := &cobra.Command{
		Use:           "settingsync",
		Short:         "Peer coordination for shared settings",
		Long:          "settingsync runs peers that keep a settings store in sync over a shared channel: it elects a leader, tracks liveness and resolves conflicting writes.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().String("prefix", "", "config base path, reads <prefix>/config/settingsync.yml")
	rootCmd.PersistentFlags().String("config", "", "config file, overrides --prefix")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-path", "", "per-peer log directory, stderr when empty")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(v),
		newHubCmd(v),
		newSimulateCmd(),
	)
	return rootCmd
}
