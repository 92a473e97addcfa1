package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaths() Paths {
	return Paths{
		RawDir:        filepath.Join("data", "audio", "raw"),
		OptimizedDir:  filepath.Join("data", "audio", "optimized"),
		WaveformDir:   filepath.Join("data", "waveforms"),
		RawBase:       "/static/audio/raw/",
		OptimizedBase: "/static/audio/optimized/",
		WaveformBase:  "/static/waveforms/",
	}
}

func TestArtifactNamesAreDeterministic(t *testing.T) {
	assert.Equal(t, "abc123.webm", OptimizedFileName("abc123"))
	assert.Equal(t, "abc123.png", WaveformFileName("abc123"))
	// Same input, same name, every time.
	assert.Equal(t, OptimizedFileName("abc123"), OptimizedFileName("abc123"))
}

func TestPathsDeriveFromTrackID(t *testing.T) {
	p := testPaths()
	assert.Equal(t, filepath.Join("data", "audio", "optimized", "t1.webm"), p.OptimizedPath("t1"))
	assert.Equal(t, "/static/audio/optimized/t1.webm", p.OptimizedURL("t1"))
	assert.Equal(t, filepath.Join("data", "waveforms", "t1.png"), p.WaveformPath("t1"))
	assert.Equal(t, "/static/waveforms/t1.png", p.WaveformURL("t1"))
}

func TestLocalFromURLRoundTrip(t *testing.T) {
	p := testPaths()

	local, err := p.LocalFromURL(p.OptimizedURL("t1"))
	require.NoError(t, err)
	assert.Equal(t, p.OptimizedPath("t1"), local)

	local, err = p.LocalFromURL(p.WaveformURL("t1"))
	require.NoError(t, err)
	assert.Equal(t, p.WaveformPath("t1"), local)

	local, err = p.LocalFromURL(p.RawURL("t1.mp3"))
	require.NoError(t, err)
	assert.Equal(t, p.RawPath("t1.mp3"), local)
}

func TestLocalFromURLRejectsForeignPaths(t *testing.T) {
	p := testPaths()
	_, err := p.LocalFromURL("/elsewhere/t1.webm")
	assert.Error(t, err)
}
