package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/model"
)

// MemoryTrackStore is an in-process TrackStore used in tests and local runs
// without Redis. Records are deep-copied on the way in and out.
type MemoryTrackStore struct {
	mu     sync.RWMutex
	tracks map[string]*model.Track
	bus    event.Bus
}

func NewMemoryTrackStore(bus event.Bus) *MemoryTrackStore {
	return &MemoryTrackStore{
		tracks: make(map[string]*model.Track),
		bus:    bus,
	}
}

func copyTrack(track *model.Track) *model.Track {
	raw, err := json.Marshal(track)
	if err != nil {
		return nil
	}
	var dup model.Track
	if err := json.Unmarshal(raw, &dup); err != nil {
		return nil
	}
	return &dup
}

func (s *MemoryTrackStore) Get(_ context.Context, trackID string) (*model.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	track, ok := s.tracks[trackID]
	if !ok {
		return nil, nil
	}
	return copyTrack(track), nil
}

func (s *MemoryTrackStore) Set(ctx context.Context, track *model.Track) error {
	dup := copyTrack(track)
	s.mu.Lock()
	s.tracks[track.ID] = dup
	s.mu.Unlock()
	notifyUpdated(ctx, s.bus, dup)
	return nil
}

func (s *MemoryTrackStore) Merge(ctx context.Context, trackID string, fields map[string]any) (*model.Track, error) {
	s.mu.Lock()
	current, ok := s.tracks[trackID]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	merged, err := applyMerge(current, fields)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.tracks[trackID] = merged
	s.mu.Unlock()
	notifyUpdated(ctx, s.bus, merged)
	return copyTrack(merged), nil
}

func (s *MemoryTrackStore) Delete(ctx context.Context, trackID string) error {
	s.mu.Lock()
	delete(s.tracks, trackID)
	s.mu.Unlock()
	notifyDeleted(ctx, s.bus, trackID)
	return nil
}

func (s *MemoryTrackStore) List(_ context.Context) ([]*model.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tracks := make([]*model.Track, 0, len(s.tracks))
	for _, track := range s.tracks {
		tracks = append(tracks, copyTrack(track))
	}
	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].CreatedAt.Before(tracks[j].CreatedAt)
	})
	return tracks, nil
}
