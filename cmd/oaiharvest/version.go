package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clarin-eric/oai-harvest-manager-sub001/oai"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), oai.Version)
		},
	}
}
