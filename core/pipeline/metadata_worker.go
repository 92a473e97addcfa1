package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/mcbrumagin/soundclone-sub000/core/audio"
	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/logger"
	"github.com/mcbrumagin/soundclone-sub000/repository"
)

// MetadataWorker consumes transcode-complete and probes the optimized stream
// for technical and tag metadata. Unlike the waveform stage, a probe failure
// is fatal to the track.
type MetadataWorker struct {
	bus      event.Bus
	store    repository.TrackStore
	prober   audio.Prober
	paths    Paths
	inflight *inflightSet
	wg       sync.WaitGroup
}

func NewMetadataWorker(bus event.Bus, store repository.TrackStore, prober audio.Prober, paths Paths) *MetadataWorker {
	return &MetadataWorker{
		bus:      bus,
		store:    store,
		prober:   prober,
		paths:    paths,
		inflight: newInflightSet(),
	}
}

func (w *MetadataWorker) Run(ctx context.Context) {
	sub := w.bus.Subscribe(event.TopicTranscodeComplete)
	defer sub.Close()
	logger.Info("metadata worker started")
	consume(ctx, "metadata", sub, &w.wg, w.handle)
	w.wg.Wait()
}

func (w *MetadataWorker) handle(ctx context.Context, env event.Envelope) {
	var msg event.TranscodeComplete
	if err := env.Decode(&msg); err != nil {
		logger.Error("bad transcode-complete payload", logger.ErrorField(err))
		return
	}
	if !w.inflight.tryAcquire(msg.TrackID) {
		logger.Warn("probe already in flight, dropping duplicate",
			logger.String("trackId", msg.TrackID))
		return
	}
	defer w.inflight.release(msg.TrackID)

	inputPath, err := w.paths.LocalFromURL(msg.TranscodedFileLocation)
	if err != nil {
		w.fail(ctx, msg, err.Error())
		return
	}

	meta, err := w.prober.Probe(ctx, inputPath)
	if err != nil {
		w.fail(ctx, msg, err.Error())
		return
	}

	updated, err := w.store.Merge(ctx, msg.TrackID, map[string]any{
		"fileMetadata": meta,
		"duration":     meta.Duration,
	})
	if err != nil {
		w.fail(ctx, msg, "record merge failed: "+err.Error())
		return
	}
	if updated == nil {
		logger.Warn("track record vanished before metadata merge",
			logger.String("trackId", msg.TrackID))
		return
	}

	complete := event.MetadataComplete{
		MessageID: msg.MessageID,
		TrackID:   msg.TrackID,
		Metadata:  meta,
		Timestamp: time.Now().UTC(),
	}
	if err := w.bus.Publish(ctx, event.TopicMetadataComplete, complete); err != nil {
		logger.Warn("failed to publish metadata-complete",
			logger.String("trackId", msg.TrackID), logger.ErrorField(err))
	}
}

func (w *MetadataWorker) fail(ctx context.Context, msg event.TranscodeComplete, reason string) {
	logger.Error("metadata probe failed",
		logger.String("trackId", msg.TrackID),
		logger.String("messageId", msg.MessageID),
		logger.String("reason", reason))
	failed := event.ProcessingFailed{
		MessageID: msg.MessageID,
		TrackID:   msg.TrackID,
		Service:   "metadata",
		Error:     reason,
		Timestamp: time.Now().UTC(),
	}
	if err := w.bus.Publish(ctx, event.TopicProcessingFailed, failed); err != nil {
		logger.Error("failed to publish processing-failed",
			logger.String("trackId", msg.TrackID), logger.ErrorField(err))
	}
}
