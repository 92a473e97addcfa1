package audio

import (
	"context"
	"errors"

	"github.com/mcbrumagin/soundclone-sub000/model"
)

// Transcoder re-encodes an uploaded asset into the optimized stream format.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string) error
}

// WaveformRenderer draws a fixed-dimension waveform image for a stream.
type WaveformRenderer interface {
	Render(ctx context.Context, inputPath, outputPath string) error
}

// Prober extracts technical and tag metadata from a stream.
type Prober interface {
	Probe(ctx context.Context, inputPath string) (*model.FileMetadata, error)
}

// Analyzer estimates key and tempo for a stream. Optional stage.
type Analyzer interface {
	Analyze(ctx context.Context, inputPath string) (*model.HarmonicData, error)
}

// ErrSourceNotReady marks a transcode failure caused by the source file not
// being readable yet. Only these failures are worth retrying.
var ErrSourceNotReady = errors.New("source not readable yet")

// IsTransient reports whether a transcode error should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrSourceNotReady)
}
