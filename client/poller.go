// Package client implements the completion-poller contract consumed by
// uploading clients: discover when a track's derived artifacts become
// available without hammering the API.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/mcbrumagin/soundclone-sub000/logger"
	"github.com/mcbrumagin/soundclone-sub000/model"
)

// Outcome is what the poller reports for one tracked upload.
type Outcome string

const (
	OutcomeReady     Outcome = "ready"
	OutcomeFailed    Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
)

// StatusFunc fetches the current record for a track. Absent records return
// (nil, nil), matching the store contract.
type StatusFunc func(ctx context.Context, trackID string) (*model.Track, error)

// ResultFunc receives the terminal outcome for a tracked upload.
type ResultFunc func(trackID string, outcome Outcome, track *model.Track)

// Config tunes the adaptive backoff. Fresh uploads are polled eagerly; stale
// ones back off up to MaxInterval until MaxAge gives up entirely.
type Config struct {
	BaseInterval time.Duration // youngest uploads
	MaxInterval  time.Duration
	MaxAge       time.Duration
	Tick         time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseInterval: time.Second,
		MaxInterval:  15 * time.Second,
		MaxAge:       10 * time.Minute,
		Tick:         500 * time.Millisecond,
	}
}

type pendingTrack struct {
	enqueued time.Time
	lastPoll time.Time
}

// CompletionPoller watches a pending set of uploads and reports when each
// becomes ready (both artifact URLs present, or the record completed) or
// terminally failed.
type CompletionPoller struct {
	status StatusFunc
	report ResultFunc
	cfg    Config

	mu      sync.Mutex
	pending map[string]*pendingTrack
}

func NewCompletionPoller(status StatusFunc, report ResultFunc, cfg Config) *CompletionPoller {
	if cfg.BaseInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &CompletionPoller{
		status:  status,
		report:  report,
		cfg:     cfg,
		pending: make(map[string]*pendingTrack),
	}
}

// Track adds an upload to the pending set.
func (p *CompletionPoller) Track(trackID string) {
	p.mu.Lock()
	p.pending[trackID] = &pendingTrack{enqueued: time.Now()}
	p.mu.Unlock()
}

// Pending reports how many uploads are still being watched.
func (p *CompletionPoller) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Interval returns the poll interval for an upload of the given age. It
// grows stepwise from BaseInterval to MaxInterval.
func (p *CompletionPoller) Interval(age time.Duration) time.Duration {
	switch {
	case age < 10*time.Second:
		return p.cfg.BaseInterval
	case age < 30*time.Second:
		return 2 * p.cfg.BaseInterval
	case age < time.Minute:
		return 5 * p.cfg.BaseInterval
	default:
		return p.cfg.MaxInterval
	}
}

// Run drives the poll loop until ctx ends.
func (p *CompletionPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *CompletionPoller) sweep(ctx context.Context) {
	now := time.Now()

	p.mu.Lock()
	due := make(map[string]*pendingTrack)
	for trackID, state := range p.pending {
		if now.Sub(state.lastPoll) >= p.Interval(now.Sub(state.enqueued)) {
			state.lastPoll = now
			due[trackID] = state
		}
	}
	p.mu.Unlock()

	for trackID, state := range due {
		p.check(ctx, trackID, state, now)
	}
}

func (p *CompletionPoller) check(ctx context.Context, trackID string, state *pendingTrack, now time.Time) {
	track, err := p.status(ctx, trackID)
	if err != nil {
		logger.Warn("status poll failed",
			logger.String("trackId", trackID), logger.ErrorField(err))
		return
	}

	switch {
	// Completed is terminal even when the waveform never arrived; the
	// track is playable and further polling cannot change it.
	case track != nil && (track.Ready() || track.ProcessingStatus == model.StatusCompleted):
		p.resolve(trackID, OutcomeReady, track)
	case track != nil && track.ProcessingStatus == model.StatusFailed:
		p.resolve(trackID, OutcomeFailed, track)
	case now.Sub(state.enqueued) > p.cfg.MaxAge:
		p.resolve(trackID, OutcomeAbandoned, track)
	}
}

func (p *CompletionPoller) resolve(trackID string, outcome Outcome, track *model.Track) {
	p.mu.Lock()
	delete(p.pending, trackID)
	p.mu.Unlock()
	if p.report != nil {
		p.report(trackID, outcome, track)
	}
}
