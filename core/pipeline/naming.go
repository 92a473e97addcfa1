package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mcbrumagin/soundclone-sub000/config"
)

// OptimizedFileName derives the optimized stream filename from a track ID.
// Every component that needs the name derives it the same way, so producers
// and consumers can reference an artifact before it exists.
func OptimizedFileName(trackID string) string {
	return trackID + ".webm"
}

// WaveformFileName derives the waveform image filename from a track ID.
func WaveformFileName(trackID string) string {
	return trackID + ".png"
}

// Paths maps between URL paths, local working files and track IDs for the
// three artifact classes.
type Paths struct {
	RawDir        string
	OptimizedDir  string
	WaveformDir   string
	RawBase       string
	OptimizedBase string
	WaveformBase  string
}

// NewPaths builds the path mapper from the loaded configuration.
func NewPaths(cfg *config.Config) Paths {
	return Paths{
		RawDir:        cfg.RawAudioDir,
		OptimizedDir:  cfg.OptimizedDir,
		WaveformDir:   cfg.WaveformDir,
		RawBase:       cfg.RawAudioBase,
		OptimizedBase: cfg.OptimizedBase,
		WaveformBase:  cfg.WaveformBase,
	}
}

func (p Paths) RawPath(fileName string) string {
	return filepath.Join(p.RawDir, fileName)
}

func (p Paths) RawURL(fileName string) string {
	return p.RawBase + fileName
}

func (p Paths) OptimizedPath(trackID string) string {
	return filepath.Join(p.OptimizedDir, OptimizedFileName(trackID))
}

func (p Paths) OptimizedURL(trackID string) string {
	return p.OptimizedBase + OptimizedFileName(trackID)
}

func (p Paths) WaveformPath(trackID string) string {
	return filepath.Join(p.WaveformDir, WaveformFileName(trackID))
}

func (p Paths) WaveformURL(trackID string) string {
	return p.WaveformBase + WaveformFileName(trackID)
}

// LocalFromURL maps an artifact URL path back to its local working file.
func (p Paths) LocalFromURL(urlPath string) (string, error) {
	switch {
	case strings.HasPrefix(urlPath, p.OptimizedBase):
		return filepath.Join(p.OptimizedDir, strings.TrimPrefix(urlPath, p.OptimizedBase)), nil
	case strings.HasPrefix(urlPath, p.WaveformBase):
		return filepath.Join(p.WaveformDir, strings.TrimPrefix(urlPath, p.WaveformBase)), nil
	case strings.HasPrefix(urlPath, p.RawBase):
		return filepath.Join(p.RawDir, strings.TrimPrefix(urlPath, p.RawBase)), nil
	default:
		return "", fmt.Errorf("url path %q does not match a known artifact base", urlPath)
	}
}
