package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/mcbrumagin/soundclone-sub000/config"
	"github.com/mcbrumagin/soundclone-sub000/storage"
)

var (
	storagePrefix string
	storageStats  bool
	storageDelete string
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect the durable store bucket",
	Long:  `Lists objects in the durable store, prints bucket statistics, or removes a single object.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		store, err := storage.NewMinioStore(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to durable store: %v", err)
		}

		ctx := context.Background()

		if storageDelete != "" {
			if err := store.Remove(ctx, storageDelete); err != nil {
				log.Fatalf("Failed to remove object: %v", err)
			}
			fmt.Printf("Removed %s\n", storageDelete)
			return
		}

		objects, stats, err := store.Stats(ctx, storagePrefix)
		if err != nil {
			log.Fatalf("Failed to list bucket: %v", err)
		}

		if storageStats {
			fmt.Printf("Bucket: %s (prefix %q)\n", cfg.MinioBucket, storagePrefix)
			fmt.Printf("Objects: %d\n", stats.TotalObjects)
			fmt.Printf("Total size: %d bytes\n", stats.TotalSize)
			if !stats.LastModified.IsZero() {
				fmt.Printf("Last modified: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
			}
			return
		}

		for _, obj := range objects {
			fmt.Printf("%12d  %s  %s\n", obj.Size, obj.LastModified.Format("2006-01-02 15:04:05"), obj.Key)
		}
		fmt.Printf("%d objects\n", len(objects))
	},
}

func init() {
	storageCmd.Flags().StringVarP(&storagePrefix, "prefix", "p", "", "object key prefix")
	storageCmd.Flags().BoolVarP(&storageStats, "stats", "s", false, "print bucket statistics")
	storageCmd.Flags().StringVarP(&storageDelete, "delete", "d", "", "remove a single object by key")
	rootCmd.AddCommand(storageCmd)
}
