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

// WaveformWorker consumes transcode-complete and renders the waveform image.
// The stage is best effort: a failure is logged, never published as
// processing-failed, and never marks the track failed. The track stays
// playable without a waveform.
type WaveformWorker struct {
	bus      event.Bus
	store    repository.TrackStore
	renderer audio.WaveformRenderer
	paths    Paths
	inflight *inflightSet
	wg       sync.WaitGroup
}

func NewWaveformWorker(bus event.Bus, store repository.TrackStore, renderer audio.WaveformRenderer, paths Paths) *WaveformWorker {
	return &WaveformWorker{
		bus:      bus,
		store:    store,
		renderer: renderer,
		paths:    paths,
		inflight: newInflightSet(),
	}
}

func (w *WaveformWorker) Run(ctx context.Context) {
	sub := w.bus.Subscribe(event.TopicTranscodeComplete)
	defer sub.Close()
	logger.Info("waveform worker started")
	consume(ctx, "waveform", sub, &w.wg, w.handle)
	w.wg.Wait()
}

func (w *WaveformWorker) handle(ctx context.Context, env event.Envelope) {
	var msg event.TranscodeComplete
	if err := env.Decode(&msg); err != nil {
		logger.Error("bad transcode-complete payload", logger.ErrorField(err))
		return
	}
	if !w.inflight.tryAcquire(msg.TrackID) {
		logger.Warn("waveform already in flight, dropping duplicate",
			logger.String("trackId", msg.TrackID))
		return
	}
	defer w.inflight.release(msg.TrackID)

	inputPath, err := w.paths.LocalFromURL(msg.TranscodedFileLocation)
	if err != nil {
		logger.Error("waveform skipped, unmappable input location",
			logger.String("trackId", msg.TrackID), logger.ErrorField(err))
		return
	}
	outputPath := w.paths.WaveformPath(msg.TrackID)
	waveformURL := w.paths.WaveformURL(msg.TrackID)

	if err := w.renderer.Render(ctx, inputPath, outputPath); err != nil {
		logger.Error("waveform render failed, track remains playable without it",
			logger.String("trackId", msg.TrackID),
			logger.String("messageId", msg.MessageID),
			logger.ErrorField(err))
		return
	}

	publishFileUpdated(ctx, w.bus, outputPath, waveformURL)

	updated, err := w.store.Merge(ctx, msg.TrackID, map[string]any{
		"isWaveformGenerated": true,
		"waveformUrl":         waveformURL,
	})
	if err != nil || updated == nil {
		logger.Error("waveform merge failed",
			logger.String("trackId", msg.TrackID),
			logger.Bool("absent", updated == nil && err == nil),
			logger.ErrorField(err))
		return
	}

	complete := event.WaveformComplete{
		MessageID:        msg.MessageID,
		TrackID:          msg.TrackID,
		WaveformFileName: WaveformFileName(msg.TrackID),
		Timestamp:        time.Now().UTC(),
	}
	if err := w.bus.Publish(ctx, event.TopicWaveformComplete, complete); err != nil {
		logger.Warn("failed to publish waveform-complete",
			logger.String("trackId", msg.TrackID), logger.ErrorField(err))
	}
}
