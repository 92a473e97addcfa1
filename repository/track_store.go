package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/logger"
	"github.com/mcbrumagin/soundclone-sub000/model"
)

// TrackStore is the single source of truth every pipeline worker reads and
// writes. Operations on a missing track return (nil, nil): absence is an
// explicit result, not an error.
type TrackStore interface {
	Get(ctx context.Context, trackID string) (*model.Track, error)
	Set(ctx context.Context, track *model.Track) error
	// Merge shallow-overlays the given fields onto the stored record and
	// stamps updatedAt. Returns the updated record, or (nil, nil) when the
	// track does not exist.
	Merge(ctx context.Context, trackID string, fields map[string]any) (*model.Track, error)
	Delete(ctx context.Context, trackID string) error
	List(ctx context.Context) ([]*model.Track, error)
}

// applyMerge overlays fields onto current via their JSON forms, so callers can
// pass model values or plain literals interchangeably. The id field is
// immutable and cannot be overlaid; a terminal processingStatus is never
// regressed.
func applyMerge(current *model.Track, fields map[string]any) (*model.Track, error) {
	raw, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("marshal current record: %w", err)
	}
	var base map[string]any
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("unmarshal current record: %w", err)
	}

	overlayRaw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal merge fields: %w", err)
	}
	var overlay map[string]any
	if err := json.Unmarshal(overlayRaw, &overlay); err != nil {
		return nil, fmt.Errorf("unmarshal merge fields: %w", err)
	}

	for key, value := range overlay {
		if key == "id" {
			continue
		}
		if key == "processingStatus" && current.ProcessingStatus.Terminal() {
			logger.Warn("ignoring status overwrite on finished track",
				logger.String("trackId", current.ID),
				logger.Any("attempted", value))
			continue
		}
		base[key] = value
	}
	base["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)

	mergedRaw, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshal merged record: %w", err)
	}
	var merged model.Track
	if err := json.Unmarshal(mergedRaw, &merged); err != nil {
		return nil, fmt.Errorf("unmarshal merged record: %w", err)
	}
	return &merged, nil
}

// notifyUpdated tells the mirror a record changed. Failures only get logged;
// store writes never depend on the bus.
func notifyUpdated(ctx context.Context, bus event.Bus, track *model.Track) {
	if bus == nil {
		return
	}
	err := bus.Publish(ctx, event.TopicMetadataUpdated, event.MetadataEvent{
		TrackID:   track.ID,
		Metadata:  track,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("failed to publish metadata-updated",
			logger.String("trackId", track.ID), logger.ErrorField(err))
	}
}

func notifyDeleted(ctx context.Context, bus event.Bus, trackID string) {
	if bus == nil {
		return
	}
	err := bus.Publish(ctx, event.TopicMetadataDeleted, event.MetadataEvent{
		TrackID:   trackID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("failed to publish metadata-deleted",
			logger.String("trackId", trackID), logger.ErrorField(err))
	}
}
