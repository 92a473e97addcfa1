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

// RetryPolicy bounds the transcode retry loop. Only transient failures are
// retried; tool errors fail immediately.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	Factor   int
}

// TranscodeWorker consumes transcode-request, re-encodes the raw upload into
// the optimized stream and publishes transcode-complete or processing-failed.
type TranscodeWorker struct {
	bus        event.Bus
	store      repository.TrackStore
	transcoder audio.Transcoder
	paths      Paths
	retry      RetryPolicy
	inflight   *inflightSet
	wg         sync.WaitGroup
}

func NewTranscodeWorker(bus event.Bus, store repository.TrackStore, transcoder audio.Transcoder, paths Paths, retry RetryPolicy) *TranscodeWorker {
	if retry.Attempts <= 0 {
		retry.Attempts = 1
	}
	if retry.Factor <= 0 {
		retry.Factor = 1
	}
	return &TranscodeWorker{
		bus:        bus,
		store:      store,
		transcoder: transcoder,
		paths:      paths,
		retry:      retry,
		inflight:   newInflightSet(),
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight handlers.
func (w *TranscodeWorker) Run(ctx context.Context) {
	sub := w.bus.Subscribe(event.TopicTranscodeRequest)
	defer sub.Close()
	logger.Info("transcode worker started")
	consume(ctx, "transcode", sub, &w.wg, w.handle)
	w.wg.Wait()
}

func (w *TranscodeWorker) handle(ctx context.Context, env event.Envelope) {
	var msg event.TranscodeRequest
	if err := env.Decode(&msg); err != nil {
		logger.Error("bad transcode-request payload", logger.ErrorField(err))
		return
	}
	if !w.inflight.tryAcquire(msg.TrackID) {
		logger.Warn("transcode already in flight, dropping duplicate request",
			logger.String("trackId", msg.TrackID),
			logger.String("messageId", msg.MessageID))
		return
	}
	defer w.inflight.release(msg.TrackID)

	inputPath, err := w.paths.LocalFromURL(msg.RawAudioURL)
	if err != nil {
		w.fail(ctx, msg, err.Error())
		return
	}
	outputPath := w.paths.OptimizedPath(msg.TrackID)

	start := time.Now()
	if err := w.transcodeWithRetry(ctx, inputPath, outputPath, msg); err != nil {
		w.fail(ctx, msg, err.Error())
		return
	}

	logger.Info("transcode finished",
		logger.String("trackId", msg.TrackID),
		logger.String("messageId", msg.MessageID),
		logger.Duration("elapsed", time.Since(start)))

	// Announce the new artifact so the mirror replicates it.
	publishFileUpdated(ctx, w.bus, outputPath, msg.OptimizedAudioURL)

	// isTranscoded/optimizedAudioUrl are this stage's fields; the terminal
	// status stays with the watchdog.
	updated, err := w.store.Merge(ctx, msg.TrackID, map[string]any{
		"isTranscoded":      true,
		"optimizedAudioUrl": msg.OptimizedAudioURL,
	})
	if err != nil {
		w.fail(ctx, msg, "record merge failed: "+err.Error())
		return
	}
	if updated == nil {
		logger.Warn("track record vanished before transcode merge",
			logger.String("trackId", msg.TrackID))
		return
	}

	complete := event.TranscodeComplete{
		MessageID:              msg.MessageID,
		TrackID:                msg.TrackID,
		TranscodedFileLocation: msg.OptimizedAudioURL,
		Timestamp:              time.Now().UTC(),
	}
	if err := w.bus.Publish(ctx, event.TopicTranscodeComplete, complete); err != nil {
		logger.Error("failed to publish transcode-complete",
			logger.String("trackId", msg.TrackID), logger.ErrorField(err))
	}
}

func (w *TranscodeWorker) transcodeWithRetry(ctx context.Context, inputPath, outputPath string, msg event.TranscodeRequest) error {
	delay := w.retry.Delay
	var lastErr error
	for attempt := 1; attempt <= w.retry.Attempts; attempt++ {
		lastErr = w.transcoder.Transcode(ctx, inputPath, outputPath)
		if lastErr == nil {
			return nil
		}
		if !audio.IsTransient(lastErr) {
			logger.Error("transcode failed",
				logger.String("trackId", msg.TrackID),
				logger.Int("attempt", attempt),
				logger.ErrorField(lastErr))
			return lastErr
		}
		logger.Warn("transient transcode failure, backing off",
			logger.String("trackId", msg.TrackID),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.ErrorField(lastErr))
		if attempt == w.retry.Attempts {
			break
		}
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
		delay *= time.Duration(w.retry.Factor)
	}
	return lastErr
}

func (w *TranscodeWorker) fail(ctx context.Context, msg event.TranscodeRequest, reason string) {
	failed := event.ProcessingFailed{
		MessageID: msg.MessageID,
		TrackID:   msg.TrackID,
		Service:   "transcode",
		Error:     reason,
		Timestamp: time.Now().UTC(),
	}
	if err := w.bus.Publish(ctx, event.TopicProcessingFailed, failed); err != nil {
		logger.Error("failed to publish processing-failed",
			logger.String("trackId", msg.TrackID), logger.ErrorField(err))
	}
}

// publishFileUpdated tells the mirror about a freshly written local artifact.
// Mirror delivery is best effort and never gates the pipeline.
func publishFileUpdated(ctx context.Context, bus event.Bus, filePath, urlPath string) {
	evt := event.FileEvent{
		FilePath:  filePath,
		URLPath:   urlPath,
		Timestamp: time.Now().UTC(),
	}
	if err := bus.Publish(ctx, event.TopicFileUpdated, evt); err != nil {
		logger.Warn("failed to publish file-updated",
			logger.String("filePath", filePath), logger.ErrorField(err))
	}
}
