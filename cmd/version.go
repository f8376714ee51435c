package cmd

import (
	"fmt"

	"settings_sync/internal/dataType"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), dataType.SettingsSyncVersion)
			return err
		},
	}
}
