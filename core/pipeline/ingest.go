package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/logger"
	"github.com/mcbrumagin/soundclone-sub000/model"
	"github.com/mcbrumagin/soundclone-sub000/repository"
)

// ErrValidation marks an upload rejected before the pipeline starts.
var ErrValidation = errors.New("validation failed")

// IngestRequest carries one validated-to-be upload into the pipeline.
type IngestRequest struct {
	Title       string
	Description string
	Tags        []string
	FileName    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// Ingestor originates the pipeline: it validates an upload, mints the track
// ID, writes the raw file and the initial record, and publishes
// transcode-request.
type Ingestor struct {
	store repository.TrackStore
	bus   event.Bus
	paths Paths
}

func NewIngestor(store repository.TrackStore, bus event.Bus, paths Paths) *Ingestor {
	return &Ingestor{store: store, bus: bus, paths: paths}
}

func audioLike(contentType, fileName string) bool {
	if strings.HasPrefix(contentType, "audio/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".mp3", ".wav", ".flac", ".aac", ".m4a", ".ogg", ".opus", ".webm":
		return true
	}
	return false
}

// Ingest validates and admits one upload. The returned record is already
// persisted with processingStatus=pending, and the transcode-request event is
// on the bus; callers respond to the uploader without waiting for any worker.
func (ing *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*model.Track, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if req.Content == nil || req.FileName == "" {
		return nil, fmt.Errorf("%w: audio file is required", ErrValidation)
	}
	if !audioLike(req.ContentType, req.FileName) {
		return nil, fmt.Errorf("%w: %q is not an audio file", ErrValidation, req.FileName)
	}

	trackID := uuid.New().String()
	ext := strings.ToLower(filepath.Ext(req.FileName))
	if ext == "" {
		ext = ".dat"
	}
	rawFileName := trackID + ext
	rawPath := ing.paths.RawPath(rawFileName)

	if err := os.MkdirAll(filepath.Dir(rawPath), 0755); err != nil {
		return nil, fmt.Errorf("create raw audio directory: %w", err)
	}
	out, err := os.Create(rawPath)
	if err != nil {
		return nil, fmt.Errorf("create raw file %s: %w", rawPath, err)
	}
	written, err := io.Copy(out, req.Content)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(rawPath)
		return nil, fmt.Errorf("write raw file %s: %w", rawPath, err)
	}

	now := time.Now().UTC()
	track := &model.Track{
		ID:               trackID,
		Title:            strings.TrimSpace(req.Title),
		Description:      req.Description,
		Tags:             req.Tags,
		OriginalFileName: req.FileName,
		FileType:         req.ContentType,
		FileSize:         written,
		RawAudioURL:      ing.paths.RawURL(rawFileName),
		ProcessingStatus: model.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := ing.store.Set(ctx, track); err != nil {
		return nil, fmt.Errorf("persist initial record for %s: %w", trackID, err)
	}

	// The record is durable before any worker can observe the request.
	msg := event.TranscodeRequest{
		MessageID:         event.NewMessageID(),
		TrackID:           trackID,
		RawAudioURL:       track.RawAudioURL,
		OptimizedAudioURL: ing.paths.OptimizedURL(trackID),
		WaveformURL:       ing.paths.WaveformURL(trackID),
		OptimizedFileName: OptimizedFileName(trackID),
		WaveformFileName:  WaveformFileName(trackID),
		Timestamp:         time.Now().UTC(),
	}
	if err := ing.bus.Publish(ctx, event.TopicTranscodeRequest, msg); err != nil {
		// The record stays pending; an operator can re-enqueue it.
		logger.Error("failed to publish transcode-request",
			logger.String("trackId", trackID), logger.ErrorField(err))
		return track, fmt.Errorf("publish transcode-request for %s: %w", trackID, err)
	}

	logger.Info("upload admitted",
		logger.String("trackId", trackID),
		logger.String("messageId", msg.MessageID),
		logger.String("fileName", req.FileName),
		logger.Int64("size", written))
	return track, nil
}
