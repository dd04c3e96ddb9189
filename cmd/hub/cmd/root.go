package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any
// subcommands
var rootCmd = &cobra.Command{
	Use:   "hub",
	Short: "real-time connection hub for the driftsync backend",
	Long: `Hub tracks every live client connection for the driftsync
file-sync service and routes messages to users, connections, devices,
groups, or everyone. Run "hub serve" to start it.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
