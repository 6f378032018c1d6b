package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/edupath/authsync"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "List configuration keys",
		Long: `List every known configuration key with its type, default and
description, then report loaded keys that are unknown or deprecated.

With --check only the report is printed, and the command fails when it
is not empty.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !check {
				printKeys()
			}
			warnings := authsync.ValidateConfig()
			for _, w := range warnings {
				fmt.Fprintf(os.Stderr, "\033[33m⚠\033[0m %s\n", w)
			}
			if check && len(warnings) > 0 {
				return fmt.Errorf("%d configuration problem(s)", len(warnings))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Only validate the loaded configuration")

	return cmd
}

func printKeys() {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTYPE\tDEFAULT\tDESCRIPTION")
	for _, info := range authsync.ConfigKeys() {
		def := ""
		if info.Default != nil {
			def = fmt.Sprint(info.Default)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Key, info.Type, def, info.Description)
	}
	tw.Flush()
}
