package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "recipe-sync-server",
	Short: "Multi-device sync server for recipes and shopping lists",
	Long: `recipe-sync-server keeps the recipes, shopping lists and favorites of
every device of a user in sync. Devices push queued offline mutations in
batches, pull a versioned change feed, and resolve conflicting edits.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	rootCmd.AddCommand(serveCmd, setupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
