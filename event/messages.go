package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcbrumagin/soundclone-sub000/model"
)

// Topic names for the processing pipeline and the backup mirror.
const (
	TopicTranscodeRequest  = "transcode-request"
	TopicTranscodeComplete = "transcode-complete"
	TopicWaveformComplete  = "waveform-complete"
	TopicMetadataComplete  = "metadata-complete"
	TopicProcessingFailed  = "processing-failed"
	TopicFileUpdated       = "file-updated"
	TopicFileDeleted       = "file-deleted"
	TopicMetadataUpdated   = "metadata-updated"
	TopicMetadataDeleted   = "metadata-deleted"
)

// TranscodeRequest starts the pipeline for one upload. It carries every
// location downstream stages need so no stage re-derives filenames on its own.
type TranscodeRequest struct {
	MessageID         string    `json:"messageId"`
	TrackID           string    `json:"trackId"`
	RawAudioURL       string    `json:"rawAudioUrl"`
	OptimizedAudioURL string    `json:"optimizedAudioUrl"`
	WaveformURL       string    `json:"waveformUrl"`
	OptimizedFileName string    `json:"optimizedFileName"`
	WaveformFileName  string    `json:"waveformFileName"`
	Timestamp         time.Time `json:"timestamp"`
}

// TranscodeComplete is published after the optimized stream is persisted.
type TranscodeComplete struct {
	MessageID              string    `json:"messageId"`
	TrackID                string    `json:"trackId"`
	TranscodedFileLocation string    `json:"transcodedFileLocation"`
	Timestamp              time.Time `json:"timestamp"`
}

// WaveformComplete is published after the waveform image is persisted.
type WaveformComplete struct {
	MessageID        string    `json:"messageId"`
	TrackID          string    `json:"trackId"`
	WaveformFileName string    `json:"waveformFileName"`
	Timestamp        time.Time `json:"timestamp"`
}

// MetadataComplete is published after the probe succeeds.
type MetadataComplete struct {
	MessageID string              `json:"messageId"`
	TrackID   string              `json:"trackId"`
	Metadata  *model.FileMetadata `json:"metadata"`
	Timestamp time.Time           `json:"timestamp"`
}

// ProcessingFailed short-circuits the watchdog for a track. Only stages whose
// failure is fatal to the track publish it.
type ProcessingFailed struct {
	MessageID string    `json:"messageId"`
	TrackID   string    `json:"trackId"`
	Service   string    `json:"service"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// FileEvent notifies the mirror that a local file changed or was removed.
type FileEvent struct {
	FilePath  string    `json:"filePath"`
	URLPath   string    `json:"urlPath,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MetadataEvent notifies the mirror that a store record changed or was removed.
type MetadataEvent struct {
	TrackID   string       `json:"trackId"`
	Metadata  *model.Track `json:"metadata,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewMessageID returns a correlation identifier for one processing run.
// It appears only in logs and diagnostics.
func NewMessageID() string {
	return uuid.New().String()
}
