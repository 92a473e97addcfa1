package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/model"
)

func newTestStore() *MemoryTrackStore {
	return NewMemoryTrackStore(nil)
}

func seedTrack(t *testing.T, store *MemoryTrackStore) *model.Track {
	t.Helper()
	track := &model.Track{
		ID:               "track-1",
		Title:            "First Light",
		Description:      "demo take",
		Tags:             []string{"ambient", "demo"},
		OriginalFileName: "first-light.wav",
		FileType:         "audio/wav",
		FileSize:         1024,
		RawAudioURL:      "/static/audio/raw/track-1.wav",
		ProcessingStatus: model.StatusPending,
		CreatedAt:        time.Now().UTC().Add(-time.Minute),
		UpdatedAt:        time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, store.Set(context.Background(), track))
	return track
}

func TestGetAbsentReturnsNilNil(t *testing.T) {
	store := newTestStore()
	track, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, track)
}

func TestMergeAbsentReturnsNilNil(t *testing.T) {
	store := newTestStore()
	track, err := store.Merge(context.Background(), "nope", map[string]any{"title": "x"})
	require.NoError(t, err)
	assert.Nil(t, track)
}

func TestMergePreservesUnrelatedFields(t *testing.T) {
	store := newTestStore()
	seeded := seedTrack(t, store)

	merged, err := store.Merge(context.Background(), seeded.ID, map[string]any{
		"isTranscoded":      true,
		"optimizedAudioUrl": "/static/audio/optimized/track-1.webm",
	})
	require.NoError(t, err)
	require.NotNil(t, merged)

	assert.True(t, merged.IsTranscoded)
	assert.Equal(t, "/static/audio/optimized/track-1.webm", merged.OptimizedAudioURL)
	// Everything not named in the overlay stays intact.
	assert.Equal(t, seeded.Title, merged.Title)
	assert.Equal(t, seeded.Description, merged.Description)
	assert.Equal(t, seeded.Tags, merged.Tags)
	assert.Equal(t, seeded.RawAudioURL, merged.RawAudioURL)
	assert.Equal(t, seeded.ProcessingStatus, merged.ProcessingStatus)
}

func TestMergeStampsUpdatedAt(t *testing.T) {
	store := newTestStore()
	seeded := seedTrack(t, store)

	merged, err := store.Merge(context.Background(), seeded.ID, map[string]any{"duration": 12.5})
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.True(t, merged.UpdatedAt.After(seeded.UpdatedAt),
		"updatedAt %v should advance past %v", merged.UpdatedAt, seeded.UpdatedAt)
}

func TestMergeIDIsImmutable(t *testing.T) {
	store := newTestStore()
	seeded := seedTrack(t, store)

	merged, err := store.Merge(context.Background(), seeded.ID, map[string]any{"id": "hijacked"})
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.Equal(t, seeded.ID, merged.ID)
}

func TestMergeNeverRegressesTerminalStatus(t *testing.T) {
	store := newTestStore()
	seeded := seedTrack(t, store)

	_, err := store.Merge(context.Background(), seeded.ID, map[string]any{
		"processingStatus": model.StatusCompleted,
	})
	require.NoError(t, err)

	// A straggler worker trying to flip the status back must lose.
	merged, err := store.Merge(context.Background(), seeded.ID, map[string]any{
		"processingStatus": model.StatusProcessing,
		"duration":         3.0,
	})
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.Equal(t, model.StatusCompleted, merged.ProcessingStatus)
	// The rest of the overlay still lands.
	assert.Equal(t, 3.0, merged.Duration)
}

func TestMergeModelValuesAndLiteralsMix(t *testing.T) {
	store := newTestStore()
	seeded := seedTrack(t, store)

	meta := &model.FileMetadata{Duration: 180.2, Bitrate: 128000, Codec: "opus", Channels: 2}
	merged, err := store.Merge(context.Background(), seeded.ID, map[string]any{
		"fileMetadata": meta,
		"duration":     meta.Duration,
	})
	require.NoError(t, err)
	require.NotNil(t, merged)
	require.NotNil(t, merged.FileMetadata)
	assert.Equal(t, "opus", merged.FileMetadata.Codec)
	assert.Equal(t, 180.2, merged.Duration)
}

func TestDeleteThenGet(t *testing.T) {
	store := newTestStore()
	seeded := seedTrack(t, store)

	require.NoError(t, store.Delete(context.Background(), seeded.ID))
	track, err := store.Get(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Nil(t, track)
}

func TestListSortedByCreation(t *testing.T) {
	store := newTestStore()
	now := time.Now().UTC()
	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.Set(context.Background(), &model.Track{
			ID:        id,
			Title:     id,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}
	tracks, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tracks, 3)
	assert.Equal(t, "c", tracks[0].ID)
	assert.Equal(t, "a", tracks[1].ID)
	assert.Equal(t, "b", tracks[2].ID)
}

func TestWritesNotifyTheMirror(t *testing.T) {
	bus := event.NewMemoryBus(8)
	defer bus.Close()
	updated := bus.Subscribe(event.TopicMetadataUpdated)
	defer updated.Close()
	deleted := bus.Subscribe(event.TopicMetadataDeleted)
	defer deleted.Close()

	store := NewMemoryTrackStore(bus)
	seeded := seedTrack(t, store)

	select {
	case env := <-updated.Events():
		var evt event.MetadataEvent
		require.NoError(t, env.Decode(&evt))
		assert.Equal(t, seeded.ID, evt.TrackID)
		require.NotNil(t, evt.Metadata)
		assert.Equal(t, seeded.Title, evt.Metadata.Title)
	case <-time.After(time.Second):
		t.Fatal("no metadata-updated event after Set")
	}

	require.NoError(t, store.Delete(context.Background(), seeded.ID))
	select {
	case env := <-deleted.Events():
		var evt event.MetadataEvent
		require.NoError(t, env.Decode(&evt))
		assert.Equal(t, seeded.ID, evt.TrackID)
	case <-time.After(time.Second):
		t.Fatal("no metadata-deleted event after Delete")
	}
}
