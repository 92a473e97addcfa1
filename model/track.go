package model

import "time"

// ProcessingStatus is the terminal pipeline state of a track. It is owned by
// the completion watchdog; workers only set artifact URLs and flags.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FileMetadata holds the technical and tag metadata probed from the
// optimized audio stream.
type FileMetadata struct {
	Duration   float64 `json:"duration"`
	Bitrate    int64   `json:"bitrate"`
	SampleRate int     `json:"sampleRate"`
	Channels   int     `json:"channels"`
	Codec      string  `json:"codec"`
	Artist     string  `json:"artist,omitempty"`
	Title      string  `json:"title,omitempty"`
	Album      string  `json:"album,omitempty"`
	Year       string  `json:"year,omitempty"`
	Genre      string  `json:"genre,omitempty"`
}

// HarmonicData holds the optional key/tempo analysis of a track.
type HarmonicData struct {
	Key           string  `json:"key"`
	Mode          string  `json:"mode"`
	BPM           float64 `json:"bpm"`
	TimeSignature string  `json:"timeSignature,omitempty"`
	Confidence    float64 `json:"confidence"`
}

// Track is the per-upload metadata record, keyed by ID. The ID is assigned
// once at ingestion and seeds the deterministic artifact filenames.
type Track struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	OriginalFileName string `json:"originalFileName"`
	FileType         string `json:"fileType"`
	FileSize         int64  `json:"fileSize"`

	RawAudioURL         string        `json:"rawAudioUrl"`
	OptimizedAudioURL   string        `json:"optimizedAudioUrl,omitempty"`
	IsTranscoded        bool          `json:"isTranscoded"`
	WaveformURL         string        `json:"waveformUrl,omitempty"`
	IsWaveformGenerated bool          `json:"isWaveformGenerated"`
	Duration            float64       `json:"duration,omitempty"`
	FileMetadata        *FileMetadata `json:"fileMetadata,omitempty"`
	Harmonics           *HarmonicData `json:"harmonics,omitempty"`

	ProcessingStatus ProcessingStatus `json:"processingStatus"`
	ProcessingErrors []string         `json:"processingErrors,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Comments are CRUD'd by handlers outside the pipeline; the pipeline
	// treats them as opaque.
	Comments []map[string]any `json:"comments,omitempty"`
}

// Ready reports whether both derived artifacts exist. The client poller
// treats a track as playable once this is true.
func (t *Track) Ready() bool {
	return t.OptimizedAudioURL != "" && t.WaveformURL != ""
}
