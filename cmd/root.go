package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcbrumagin/soundclone-sub000/server"
)

var rootCmd = &cobra.Command{
	Use:   "soundclone",
	Short: "SoundClone is an asynchronous audio processing backend.",
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
