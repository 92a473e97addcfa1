package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeFixture = `{
	"streams": [
		{"codec_name": "opus", "sample_rate": "48000", "channels": 2}
	],
	"format": {
		"duration": "182.400000",
		"bit_rate": "128000",
		"tags": {
			"artist": "Night Shift",
			"title": "First Light",
			"album": "Dawn Sessions",
			"date": "2024",
			"genre": "Ambient"
		}
	}
}`

func TestParseProbeOutput(t *testing.T) {
	meta, err := parseProbeOutput([]byte(probeFixture), "t1.webm")
	require.NoError(t, err)

	assert.Equal(t, "opus", meta.Codec)
	assert.Equal(t, 48000, meta.SampleRate)
	assert.Equal(t, 2, meta.Channels)
	assert.Equal(t, 182.4, meta.Duration)
	assert.Equal(t, int64(128000), meta.Bitrate)
	assert.Equal(t, "Night Shift", meta.Artist)
	assert.Equal(t, "First Light", meta.Title)
	assert.Equal(t, "Dawn Sessions", meta.Album)
	assert.Equal(t, "2024", meta.Year)
	assert.Equal(t, "Ambient", meta.Genre)
}

func TestParseProbeOutputUppercaseTags(t *testing.T) {
	raw := `{
		"streams": [{"codec_name": "opus", "sample_rate": "48000", "channels": 2}],
		"format": {"duration": "10.0", "bit_rate": "96000",
			"tags": {"ARTIST": "Night Shift", "TITLE": "First Light"}}
	}`
	meta, err := parseProbeOutput([]byte(raw), "t1.webm")
	require.NoError(t, err)
	assert.Equal(t, "Night Shift", meta.Artist)
	assert.Equal(t, "First Light", meta.Title)
}

func TestParseProbeOutputNoTags(t *testing.T) {
	raw := `{
		"streams": [{"codec_name": "opus", "sample_rate": "44100", "channels": 1}],
		"format": {"duration": "3.5", "bit_rate": "64000"}
	}`
	meta, err := parseProbeOutput([]byte(raw), "t1.webm")
	require.NoError(t, err)
	assert.Empty(t, meta.Artist)
	assert.Equal(t, 44100, meta.SampleRate)
	assert.Equal(t, 3.5, meta.Duration)
}

func TestParseProbeOutputNoAudioStreams(t *testing.T) {
	raw := `{"streams": [], "format": {"duration": "3.5"}}`
	_, err := parseProbeOutput([]byte(raw), "still-image.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no audio streams")
}

func TestParseProbeOutputGarbage(t *testing.T) {
	_, err := parseProbeOutput([]byte("ffprobe had a bad day"), "t1.webm")
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrSourceNotReady))
	assert.False(t, IsTransient(assert.AnError))
	assert.False(t, IsTransient(nil))
}
