package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/logger"
	"github.com/mcbrumagin/soundclone-sub000/model"
	"github.com/mcbrumagin/soundclone-sub000/repository"
)

// WatchdogConfig bounds the wait for a track's artifacts to converge.
type WatchdogConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	// KeepRaw retains the raw upload after successful processing. On
	// failure the raw upload is always kept for debugging and manual
	// retry.
	KeepRaw bool
}

// watchEntry is the per-track state machine instance: created when a
// transcode-request is observed, destroyed on any terminal transition.
type watchEntry struct {
	trackID       string
	startedAt     time.Time
	failed        bool
	failedService string
	failedError   string
}

// Watchdog waits for the independently-triggered pipeline branches of each
// track to converge on its record. It is a pure observer of the store: no
// ordering is assumed between its polls and any worker's merge. It is the
// only writer of processingStatus.
//
// A track completes when its essential artifacts, the optimized stream and
// the probed file metadata, are on the record; the waveform is decorative
// and gets the remaining time as a grace period but never fails the track.
type Watchdog struct {
	bus   event.Bus
	store repository.TrackStore
	paths Paths
	cfg   WatchdogConfig

	mu      sync.Mutex
	watches map[string]*watchEntry
}

func NewWatchdog(bus event.Bus, store repository.TrackStore, paths Paths, cfg WatchdogConfig) *Watchdog {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Watchdog{
		bus:     bus,
		store:   store,
		paths:   paths,
		cfg:     cfg,
		watches: make(map[string]*watchEntry),
	}
}

// Watching reports whether a live watch exists for the track. Test hook.
func (w *Watchdog) Watching(trackID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watches[trackID]
	return ok
}

// Run blocks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	reqSub := w.bus.Subscribe(event.TopicTranscodeRequest)
	defer reqSub.Close()
	failSub := w.bus.Subscribe(event.TopicProcessingFailed)
	defer failSub.Close()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	logger.Info("completion watchdog started",
		logger.Duration("pollInterval", w.cfg.PollInterval),
		logger.Duration("timeout", w.cfg.Timeout))

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-reqSub.Events():
			if !ok {
				return
			}
			var msg event.TranscodeRequest
			if err := env.Decode(&msg); err != nil {
				logger.Error("bad transcode-request payload", logger.ErrorField(err))
				continue
			}
			w.startWatch(ctx, msg)
		case env, ok := <-failSub.Events():
			if !ok {
				return
			}
			var msg event.ProcessingFailed
			if err := env.Decode(&msg); err != nil {
				logger.Error("bad processing-failed payload", logger.ErrorField(err))
				continue
			}
			w.markFailed(msg)
		case <-ticker.C:
			w.pollAll(ctx)
		}
	}
}

func (w *Watchdog) startWatch(ctx context.Context, msg event.TranscodeRequest) {
	w.mu.Lock()
	if _, exists := w.watches[msg.TrackID]; exists {
		w.mu.Unlock()
		logger.Warn("already watching track, ignoring duplicate request",
			logger.String("trackId", msg.TrackID))
		return
	}
	w.watches[msg.TrackID] = &watchEntry{
		trackID:   msg.TrackID,
		startedAt: time.Now(),
	}
	w.mu.Unlock()

	// The watchdog owns processingStatus for the whole lifecycle, the
	// non-terminal transition included.
	if _, err := w.store.Merge(ctx, msg.TrackID, map[string]any{
		"processingStatus": model.StatusProcessing,
	}); err != nil {
		logger.Warn("failed to mark track processing",
			logger.String("trackId", msg.TrackID), logger.ErrorField(err))
	}
	logger.Info("watching track", logger.String("trackId", msg.TrackID))
}

func (w *Watchdog) markFailed(msg event.ProcessingFailed) {
	w.mu.Lock()
	defer w.mu.Unlock()
	entry, ok := w.watches[msg.TrackID]
	if !ok {
		// The failure can outrun the transcode-request that started the
		// track; keep it so the late-arriving watch finds it failed.
		entry = &watchEntry{trackID: msg.TrackID, startedAt: time.Now()}
		w.watches[msg.TrackID] = entry
	}
	// Short-circuit: the next poll tick finishes the track without waiting
	// out the timeout.
	entry.failed = true
	entry.failedService = msg.Service
	entry.failedError = msg.Error
}

func (w *Watchdog) pollAll(ctx context.Context) {
	// Snapshot under the lock; markFailed mutates entries concurrently.
	w.mu.Lock()
	entries := make([]watchEntry, 0, len(w.watches))
	for _, entry := range w.watches {
		entries = append(entries, *entry)
	}
	w.mu.Unlock()

	for i := range entries {
		w.poll(ctx, entries[i])
	}
}

func (w *Watchdog) poll(ctx context.Context, entry watchEntry) {
	if entry.failed {
		reason := fmt.Sprintf("%s failed: %s", entry.failedService, entry.failedError)
		w.finish(ctx, entry, model.StatusFailed, []string{reason})
		return
	}

	track, err := w.store.Get(ctx, entry.trackID)
	if err != nil {
		logger.Warn("watchdog poll failed, will retry",
			logger.String("trackId", entry.trackID), logger.ErrorField(err))
		return
	}
	if track == nil {
		// Deleted out from under us; nothing left to finalize.
		logger.Warn("watched track no longer exists, dropping watch",
			logger.String("trackId", entry.trackID))
		w.discard(entry.trackID)
		return
	}

	essentialDone := track.OptimizedAudioURL != "" && track.FileMetadata != nil
	if essentialDone && track.WaveformURL != "" {
		w.finish(ctx, entry, model.StatusCompleted, nil)
		return
	}

	if time.Since(entry.startedAt) < w.cfg.Timeout {
		return
	}

	// Timed out. The waveform alone never fails a track; anything else
	// missing does.
	if essentialDone {
		logger.Warn("waveform never arrived, completing without it",
			logger.String("trackId", entry.trackID))
		w.finish(ctx, entry, model.StatusCompleted, nil)
		return
	}
	var missing []string
	if track.OptimizedAudioURL == "" {
		missing = append(missing, "timed out waiting for optimized audio")
	}
	if track.FileMetadata == nil {
		missing = append(missing, "timed out waiting for file metadata")
	}
	w.finish(ctx, entry, model.StatusFailed, missing)
}

func (w *Watchdog) finish(ctx context.Context, entry watchEntry, status model.ProcessingStatus, errs []string) {
	fields := map[string]any{"processingStatus": status}
	if len(errs) > 0 {
		fields["processingErrors"] = errs
	}
	track, err := w.store.Merge(ctx, entry.trackID, fields)
	if err != nil {
		logger.Error("failed to write terminal status",
			logger.String("trackId", entry.trackID),
			logger.String("status", string(status)),
			logger.ErrorField(err))
	}

	if status == model.StatusCompleted && !w.cfg.KeepRaw && track != nil {
		w.removeRaw(ctx, track)
	}

	// The watch entry goes away no matter how the merge fared.
	w.discard(entry.trackID)

	logger.Info("track finished",
		logger.String("trackId", entry.trackID),
		logger.String("status", string(status)),
		logger.Duration("elapsed", time.Since(entry.startedAt)),
		logger.Any("errors", errs))
}

// removeRaw deletes the raw upload once processing succeeded. Failed tracks
// always keep their raw upload for debugging and manual retry.
func (w *Watchdog) removeRaw(ctx context.Context, track *model.Track) {
	localPath, err := w.paths.LocalFromURL(track.RawAudioURL)
	if err != nil {
		logger.Warn("cannot map raw upload for cleanup",
			logger.String("trackId", track.ID), logger.ErrorField(err))
		return
	}
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("raw upload cleanup failed",
			logger.String("trackId", track.ID), logger.ErrorField(err))
		return
	}
	evt := event.FileEvent{FilePath: localPath, URLPath: track.RawAudioURL, Timestamp: time.Now().UTC()}
	if err := w.bus.Publish(ctx, event.TopicFileDeleted, evt); err != nil {
		logger.Warn("failed to publish file-deleted for raw cleanup",
			logger.String("trackId", track.ID), logger.ErrorField(err))
	}
}

func (w *Watchdog) discard(trackID string) {
	w.mu.Lock()
	delete(w.watches, trackID)
	w.mu.Unlock()
}
