package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/mcbrumagin/soundclone-sub000/config"
	"github.com/mcbrumagin/soundclone-sub000/core/mirror"
	"github.com/mcbrumagin/soundclone-sub000/db"
	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/logger"
	"github.com/mcbrumagin/soundclone-sub000/repository"
	"github.com/mcbrumagin/soundclone-sub000/storage"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore local state from the durable store",
	Long:  `Downloads metadata records into Redis and re-materialises missing or stale local artifact files, then exits. The server runs the same restore at startup; this command exists for operating on a stopped instance.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logger.Init(logger.Config{Level: logger.LogLevel(cfg.LogLevel)})

		redisClient, err := db.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()

		remote, err := storage.NewMinioStore(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to durable store: %v", err)
		}

		// A throwaway bus: restore-time store writes have no subscribers.
		bus := event.NewMemoryBus(1)
		defer bus.Close()

		store := repository.NewRedisTrackStore(redisClient, bus)
		layout := mirror.NewLayout(cfg)

		summary := mirror.NewInitializer(remote, store, layout).Run(context.Background())
		log.Printf("Restore finished: %d records loaded, %d files restored, %d up to date, %d failures",
			summary.RecordsLoaded, summary.FilesRestored, summary.FilesUpToDate, summary.Failures)
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}
