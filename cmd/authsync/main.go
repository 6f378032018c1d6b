// Command authsync runs the session gateway.
package main

import (
	"fmt"
	"os"

	"github.com/edupath/authsync"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "authsync",
		Short: "Session gateway for the EduPath frontend",
		Long: `authsync keeps each browser's sign-in state in step with the identity
provider and the EduPath API, and guards frontend routes by role.

Configuration is read from authsync.yaml, searched for from the working
directory upwards, and from AS__ environment variables, e.g.
AS__BACKEND__URL=http://api:8000.`,
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configFile != "" {
				authsync.LoadConfigFile(configFile)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Additional YAML config file")

	rootCmd.AddCommand(
		serveCmd(),
		configCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}
