package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/outlawai/outlaw-service/service"
)

// version is overridden through ldflags on release builds.
var version = "dev"

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "outlaw-service",
		Short:        "Outlaw Legal AI backend service",
		Long:         "Automated legal-support and analysis engine with statute lookup,\nreport rendering and batch processing.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := service.NewService(cmd.Context(), configPath)
			if err != nil {
				return err
			}

			// Blocks until a shutdown signal arrives.
			return svc.Start()
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file (built-in defaults apply when omitted)")

	root.AddCommand(versionCommand())

	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the service version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "outlaw-service %s\n", version)
		},
	}
}
