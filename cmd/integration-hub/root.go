package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:               "integration-hub",
	Short:             "Connects properties to third-party services over OAuth2 and API keys.",
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: bootstrapCommand,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, refreshCmd, connectorsCmd)
}
