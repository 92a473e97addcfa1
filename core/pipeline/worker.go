package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/logger"
)

// inflightSet guards against handling two messages for the same track
// concurrently within one worker. Intake never blocks on a slow track; a
// duplicate for an in-flight track is dropped (redelivery is at-most-once
// anyway, and filenames are deterministic so a retry is idempotent).
type inflightSet struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{m: make(map[string]struct{})}
}

func (s *inflightSet) tryAcquire(trackID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.m[trackID]; busy {
		return false
	}
	s.m[trackID] = struct{}{}
	return true
}

func (s *inflightSet) release(trackID string) {
	s.mu.Lock()
	delete(s.m, trackID)
	s.mu.Unlock()
}

// consume drains a subscription until the context ends or the subscription
// closes, dispatching each message to handle on its own goroutine so one slow
// message never blocks intake of unrelated ones.
func consume(ctx context.Context, name string, sub event.Subscription, wg *sync.WaitGroup, handle func(context.Context, event.Envelope)) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Events():
			if !ok {
				logger.Info("subscription closed", logger.String("worker", name))
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				handle(ctx, env)
			}()
		}
	}
}

// sleepCtx waits for d unless the context ends first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
