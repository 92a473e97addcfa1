package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mcbrumagin/soundclone-sub000/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP server and the processing pipeline",
	Long:  `Runs the upload API, the transcode/waveform/metadata workers, the completion watchdog and the durable-store mirror in one process.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
