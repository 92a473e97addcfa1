package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbrumagin/soundclone-sub000/core/audio"
	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/model"
	"github.com/mcbrumagin/soundclone-sub000/repository"
)

// Tool fakes. The workers never inspect tool output files, so the fakes only
// model success, failure and latency.

type fakeTranscoder struct {
	calls     atomic.Int32
	failFirst int32 // fail this many calls with a transient error
	err       error // permanent error for every call
}

func (f *fakeTranscoder) Transcode(ctx context.Context, inputPath, outputPath string) error {
	n := f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	if n <= f.failFirst {
		return fmt.Errorf("attempt %d: %w", n, audio.ErrSourceNotReady)
	}
	return nil
}

type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) Render(ctx context.Context, inputPath, outputPath string) error {
	return f.err
}

type fakeProber struct {
	meta  *model.FileMetadata
	err   error
	block bool
}

func (f *fakeProber) Probe(ctx context.Context, inputPath string) (*model.FileMetadata, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.meta, nil
}

func probedMeta() *model.FileMetadata {
	return &model.FileMetadata{Duration: 182.4, Bitrate: 128000, SampleRate: 48000, Channels: 2, Codec: "opus"}
}

type fakeAnalyzer struct {
	data *model.HarmonicData
	err  error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, inputPath string) (*model.HarmonicData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func analyzedHarmonics() *model.HarmonicData {
	return &model.HarmonicData{Key: "F#", Mode: "minor", BPM: 124, Confidence: 0.92}
}

type harness struct {
	bus      event.Bus
	store    *repository.MemoryTrackStore
	paths    Paths
	ingestor *Ingestor
	watchdog *Watchdog
}

func startPipeline(t *testing.T, tr audio.Transcoder, rn audio.WaveformRenderer, pr audio.Prober, wcfg WatchdogConfig) *harness {
	t.Helper()
	return startPipelineWithAnalyzer(t, tr, rn, pr, nil, wcfg)
}

func startPipelineWithAnalyzer(t *testing.T, tr audio.Transcoder, rn audio.WaveformRenderer, pr audio.Prober, an audio.Analyzer, wcfg WatchdogConfig) *harness {
	t.Helper()

	bus := event.NewMemoryBus(64)
	store := repository.NewMemoryTrackStore(bus)
	paths := tempPaths(t)
	if wcfg.PollInterval == 0 {
		wcfg.PollInterval = 10 * time.Millisecond
	}
	if wcfg.Timeout == 0 {
		wcfg.Timeout = 5 * time.Second
	}
	wcfg.KeepRaw = true

	watchdog := NewWatchdog(bus, store, paths, wcfg)
	retry := RetryPolicy{Attempts: 3, Delay: time.Millisecond, Factor: 2}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		bus.Close()
	})

	go NewTranscodeWorker(bus, store, tr, paths, retry).Run(ctx)
	go NewWaveformWorker(bus, store, rn, paths).Run(ctx)
	go NewMetadataWorker(bus, store, pr, paths).Run(ctx)
	if an != nil {
		go NewAnalyzerWorker(bus, store, an, paths).Run(ctx)
	}
	go watchdog.Run(ctx)

	// Give every subscription a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	return &harness{
		bus:      bus,
		store:    store,
		paths:    paths,
		ingestor: NewIngestor(store, bus, paths),
		watchdog: watchdog,
	}
}

func (h *harness) upload(t *testing.T) *model.Track {
	t.Helper()
	track, err := h.ingestor.Ingest(context.Background(), IngestRequest{
		Title:       "Pipeline Take",
		FileName:    "take.mp3",
		ContentType: "audio/mpeg",
		Content:     strings.NewReader("raw-bytes"),
	})
	require.NoError(t, err)
	return track
}

func (h *harness) waitTerminal(t *testing.T, trackID string, within time.Duration) *model.Track {
	t.Helper()
	var final *model.Track
	require.Eventually(t, func() bool {
		track, err := h.store.Get(context.Background(), trackID)
		if err != nil || track == nil || !track.ProcessingStatus.Terminal() {
			return false
		}
		final = track
		return true
	}, within, 10*time.Millisecond, "track %s never reached a terminal status", trackID)
	return final
}

func TestPipelineHappyPath(t *testing.T) {
	h := startPipeline(t, &fakeTranscoder{}, &fakeRenderer{}, &fakeProber{meta: probedMeta()}, WatchdogConfig{})
	track := h.upload(t)

	final := h.waitTerminal(t, track.ID, 3*time.Second)
	assert.Equal(t, model.StatusCompleted, final.ProcessingStatus)
	assert.Empty(t, final.ProcessingErrors)
	assert.True(t, final.IsTranscoded)
	assert.True(t, final.IsWaveformGenerated)
	assert.Equal(t, h.paths.OptimizedURL(track.ID), final.OptimizedAudioURL)
	assert.Equal(t, h.paths.WaveformURL(track.ID), final.WaveformURL)
	require.NotNil(t, final.FileMetadata)
	assert.Equal(t, "opus", final.FileMetadata.Codec)
	assert.Equal(t, 182.4, final.Duration)

	// Terminal means the watch is gone too.
	require.Eventually(t, func() bool { return !h.watchdog.Watching(track.ID) },
		time.Second, 10*time.Millisecond)
}

func TestPipelineRetriesTransientTranscodeFailures(t *testing.T) {
	tr := &fakeTranscoder{failFirst: 2}
	h := startPipeline(t, tr, &fakeRenderer{}, &fakeProber{meta: probedMeta()}, WatchdogConfig{})
	track := h.upload(t)

	final := h.waitTerminal(t, track.ID, 3*time.Second)
	assert.Equal(t, model.StatusCompleted, final.ProcessingStatus)
	assert.Equal(t, int32(3), tr.calls.Load())
}

func TestPipelineFailsFastOnPermanentTranscodeError(t *testing.T) {
	// A generous timeout proves the failure path does not wait it out.
	h := startPipeline(t, &fakeTranscoder{err: errors.New("codec exploded")},
		&fakeRenderer{}, &fakeProber{meta: probedMeta()},
		WatchdogConfig{Timeout: time.Minute})
	track := h.upload(t)

	start := time.Now()
	final := h.waitTerminal(t, track.ID, 3*time.Second)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.Equal(t, model.StatusFailed, final.ProcessingStatus)
	require.NotEmpty(t, final.ProcessingErrors)
	assert.Contains(t, final.ProcessingErrors[0], "transcode failed")
	assert.Contains(t, final.ProcessingErrors[0], "codec exploded")
	assert.Empty(t, final.OptimizedAudioURL)

	require.Eventually(t, func() bool { return !h.watchdog.Watching(track.ID) },
		time.Second, 10*time.Millisecond)
}

func TestPipelineCompletesWithoutWaveform(t *testing.T) {
	h := startPipeline(t, &fakeTranscoder{}, &fakeRenderer{err: errors.New("no pixels today")},
		&fakeProber{meta: probedMeta()},
		WatchdogConfig{Timeout: 300 * time.Millisecond})
	track := h.upload(t)

	final := h.waitTerminal(t, track.ID, 3*time.Second)
	assert.Equal(t, model.StatusCompleted, final.ProcessingStatus)
	assert.Empty(t, final.ProcessingErrors)
	assert.True(t, final.IsTranscoded)
	assert.False(t, final.IsWaveformGenerated)
	assert.Empty(t, final.WaveformURL)
	require.NotNil(t, final.FileMetadata)
}

func TestPipelineMergesHarmonicAnalysis(t *testing.T) {
	h := startPipelineWithAnalyzer(t, &fakeTranscoder{}, &fakeRenderer{},
		&fakeProber{meta: probedMeta()}, &fakeAnalyzer{data: analyzedHarmonics()},
		WatchdogConfig{})
	track := h.upload(t)

	final := h.waitTerminal(t, track.ID, 3*time.Second)
	assert.Equal(t, model.StatusCompleted, final.ProcessingStatus)

	// The analysis races the watchdog's completion merge; wait for it to land.
	var analyzed *model.Track
	require.Eventually(t, func() bool {
		current, err := h.store.Get(context.Background(), track.ID)
		if err != nil || current == nil || current.Harmonics == nil {
			return false
		}
		analyzed = current
		return true
	}, 2*time.Second, 10*time.Millisecond, "harmonics never merged")

	assert.Equal(t, "F#", analyzed.Harmonics.Key)
	assert.Equal(t, "minor", analyzed.Harmonics.Mode)
	assert.Equal(t, 124.0, analyzed.Harmonics.BPM)
	assert.Equal(t, model.StatusCompleted, analyzed.ProcessingStatus)
}

func TestPipelineCompletesWhenAnalysisFails(t *testing.T) {
	h := startPipelineWithAnalyzer(t, &fakeTranscoder{}, &fakeRenderer{},
		&fakeProber{meta: probedMeta()}, &fakeAnalyzer{err: errors.New("no tonal center")},
		WatchdogConfig{})
	track := h.upload(t)

	final := h.waitTerminal(t, track.ID, 3*time.Second)
	assert.Equal(t, model.StatusCompleted, final.ProcessingStatus)
	assert.Empty(t, final.ProcessingErrors)
	assert.Nil(t, final.Harmonics)
}

func TestPipelineFailsWhenMetadataHangs(t *testing.T) {
	h := startPipeline(t, &fakeTranscoder{}, &fakeRenderer{}, &fakeProber{block: true},
		WatchdogConfig{Timeout: 300 * time.Millisecond})
	track := h.upload(t)

	final := h.waitTerminal(t, track.ID, 3*time.Second)
	assert.Equal(t, model.StatusFailed, final.ProcessingStatus)
	require.NotEmpty(t, final.ProcessingErrors)
	assert.Contains(t, final.ProcessingErrors[0], "timed out waiting for file metadata")
	// The transcode itself succeeded and stays on the record.
	assert.True(t, final.IsTranscoded)

	require.Eventually(t, func() bool { return !h.watchdog.Watching(track.ID) },
		time.Second, 10*time.Millisecond)
}

func TestPipelineToleratesRedeliveredTranscodeComplete(t *testing.T) {
	h := startPipeline(t, &fakeTranscoder{}, &fakeRenderer{}, &fakeProber{meta: probedMeta()}, WatchdogConfig{})
	track := h.upload(t)

	final := h.waitTerminal(t, track.ID, 3*time.Second)
	require.Equal(t, model.StatusCompleted, final.ProcessingStatus)

	// Deterministic filenames make a redelivery overwrite in place; the
	// terminal status must not move either.
	redelivery := event.TranscodeComplete{
		MessageID:              event.NewMessageID(),
		TrackID:                track.ID,
		TranscodedFileLocation: h.paths.OptimizedURL(track.ID),
		Timestamp:              time.Now().UTC(),
	}
	require.NoError(t, h.bus.Publish(context.Background(), event.TopicTranscodeComplete, redelivery))

	time.Sleep(200 * time.Millisecond)
	again, err := h.store.Get(context.Background(), track.ID)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, model.StatusCompleted, again.ProcessingStatus)
	assert.Equal(t, final.OptimizedAudioURL, again.OptimizedAudioURL)
	assert.Equal(t, final.WaveformURL, again.WaveformURL)
}

func TestWatchdogDropsWatchWhenTrackDeleted(t *testing.T) {
	h := startPipeline(t, &fakeTranscoder{}, &fakeRenderer{}, &fakeProber{block: true},
		WatchdogConfig{Timeout: time.Minute})
	track := h.upload(t)

	require.Eventually(t, func() bool { return h.watchdog.Watching(track.ID) },
		time.Second, 10*time.Millisecond)

	require.NoError(t, h.store.Delete(context.Background(), track.ID))

	require.Eventually(t, func() bool { return !h.watchdog.Watching(track.ID) },
		2*time.Second, 10*time.Millisecond)
}
