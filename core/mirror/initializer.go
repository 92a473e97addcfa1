package mirror

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/mcbrumagin/soundclone-sub000/logger"
	"github.com/mcbrumagin/soundclone-sub000/model"
	"github.com/mcbrumagin/soundclone-sub000/repository"
	"github.com/mcbrumagin/soundclone-sub000/storage"
)

// InitSummary reports what the startup reconciliation did.
type InitSummary struct {
	RecordsLoaded int
	FilesRestored int
	FilesUpToDate int
	Failures      int
}

// Initializer pulls prior remote state into local storage and the metadata
// store before the pipeline starts. Startup blocks on it, but individual
// object failures only get logged and counted; a degraded local-only state
// is acceptable.
type Initializer struct {
	remote storage.ObjectStore
	store  repository.TrackStore
	layout Layout
}

func NewInitializer(remote storage.ObjectStore, store repository.TrackStore, layout Layout) *Initializer {
	return &Initializer{remote: remote, store: store, layout: layout}
}

// Run reconciles every namespace. It never returns an error: the pipeline
// starts regardless of how much state could be pulled.
func (init *Initializer) Run(ctx context.Context) *InitSummary {
	summary := &InitSummary{}
	init.loadMetadata(ctx, summary)
	for ns, dir := range init.layout.FileNamespaces() {
		init.restoreFiles(ctx, ns, dir, summary)
	}
	logger.Info("backup restore finished",
		logger.Int("recordsLoaded", summary.RecordsLoaded),
		logger.Int("filesRestored", summary.FilesRestored),
		logger.Int("filesUpToDate", summary.FilesUpToDate),
		logger.Int("failures", summary.Failures))
	return summary
}

// loadMetadata pulls track records straight into the store, bypassing the
// filesystem.
func (init *Initializer) loadMetadata(ctx context.Context, summary *InitSummary) {
	objects, err := init.remote.List(ctx, remotePrefixes[NamespaceMetadata])
	if err != nil {
		logger.Error("cannot list remote metadata, continuing without it",
			logger.ErrorField(err))
		summary.Failures++
		return
	}
	for _, obj := range objects {
		if err := init.loadRecord(ctx, obj.Key); err != nil {
			logger.Warn("skipping unloadable metadata object",
				logger.String("key", obj.Key), logger.ErrorField(err))
			summary.Failures++
			continue
		}
		summary.RecordsLoaded++
	}
}

func (init *Initializer) loadRecord(ctx context.Context, key string) error {
	reader, err := init.remote.Get(ctx, key)
	if err != nil {
		return err
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	var track model.Track
	if err := json.Unmarshal(raw, &track); err != nil {
		return err
	}
	if _, err := TrackIDFromMetadataKey(key); err != nil {
		return err
	}
	return init.store.Set(ctx, &track)
}

// restoreFiles downloads any object that is missing locally or whose local
// size disagrees with the remote.
func (init *Initializer) restoreFiles(ctx context.Context, ns Namespace, dir string, summary *InitSummary) {
	objects, err := init.remote.List(ctx, remotePrefixes[ns])
	if err != nil {
		logger.Error("cannot list remote namespace, continuing without it",
			logger.String("namespace", string(ns)), logger.ErrorField(err))
		summary.Failures++
		return
	}
	for _, obj := range objects {
		localPath, err := init.layout.LocalPath(ns, obj.Key)
		if err != nil {
			logger.Warn("unmappable remote object",
				logger.String("key", obj.Key), logger.ErrorField(err))
			summary.Failures++
			continue
		}
		if info, err := os.Stat(localPath); err == nil && info.Size() == obj.Size {
			summary.FilesUpToDate++
			continue
		}
		if err := init.remote.Download(ctx, obj.Key, localPath); err != nil {
			logger.Warn("download failed, continuing",
				logger.String("key", obj.Key), logger.ErrorField(err))
			summary.Failures++
			continue
		}
		summary.FilesRestored++
	}
}
