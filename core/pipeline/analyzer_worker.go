package pipeline

import (
	"context"
	"sync"

	"github.com/mcbrumagin/soundclone-sub000/core/audio"
	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/logger"
	"github.com/mcbrumagin/soundclone-sub000/repository"
)

// AnalyzerWorker consumes transcode-complete and runs the optional harmonic
// analysis (key, mode, tempo). Best effort, like the waveform stage: failures
// are logged and never affect the track's terminal status.
type AnalyzerWorker struct {
	bus      event.Bus
	store    repository.TrackStore
	analyzer audio.Analyzer
	paths    Paths
	inflight *inflightSet
	wg       sync.WaitGroup
}

func NewAnalyzerWorker(bus event.Bus, store repository.TrackStore, analyzer audio.Analyzer, paths Paths) *AnalyzerWorker {
	return &AnalyzerWorker{
		bus:      bus,
		store:    store,
		analyzer: analyzer,
		paths:    paths,
		inflight: newInflightSet(),
	}
}

func (w *AnalyzerWorker) Run(ctx context.Context) {
	sub := w.bus.Subscribe(event.TopicTranscodeComplete)
	defer sub.Close()
	logger.Info("analyzer worker started")
	consume(ctx, "analyzer", sub, &w.wg, w.handle)
	w.wg.Wait()
}

func (w *AnalyzerWorker) handle(ctx context.Context, env event.Envelope) {
	var msg event.TranscodeComplete
	if err := env.Decode(&msg); err != nil {
		logger.Error("bad transcode-complete payload", logger.ErrorField(err))
		return
	}
	if !w.inflight.tryAcquire(msg.TrackID) {
		return
	}
	defer w.inflight.release(msg.TrackID)

	inputPath, err := w.paths.LocalFromURL(msg.TranscodedFileLocation)
	if err != nil {
		logger.Warn("analysis skipped, unmappable input location",
			logger.String("trackId", msg.TrackID), logger.ErrorField(err))
		return
	}

	data, err := w.analyzer.Analyze(ctx, inputPath)
	if err != nil {
		logger.Warn("harmonic analysis failed",
			logger.String("trackId", msg.TrackID), logger.ErrorField(err))
		return
	}

	if _, err := w.store.Merge(ctx, msg.TrackID, map[string]any{"harmonics": data}); err != nil {
		logger.Warn("harmonics merge failed",
			logger.String("trackId", msg.TrackID), logger.ErrorField(err))
		return
	}

	logger.Info("harmonic analysis stored",
		logger.String("trackId", msg.TrackID),
		logger.String("key", data.Key),
		logger.Float64("bpm", data.BPM))
}
