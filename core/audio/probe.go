package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/mcbrumagin/soundclone-sub000/model"
)

// FFprobeProber implements Prober via ffprobe's JSON output.
type FFprobeProber struct {
	ffprobePath string
}

func NewFFprobeProber(ffprobePath string) *FFprobeProber {
	return &FFprobeProber{ffprobePath: ffprobePath}
}

// ffprobeOutput mirrors the subset of ffprobe JSON the probe consumes.
type ffprobeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string            `json:"duration"`
		BitRate  string            `json:"bit_rate"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

func (p *FFprobeProber) Probe(ctx context.Context, inputPath string) (*model.FileMetadata, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name,sample_rate,channels",
		"-show_entries", "format=duration,bit_rate:format_tags",
		"-of", "json",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w\nFFprobe Error: %s", inputPath, err, stderr.String())
	}

	return parseProbeOutput(out.Bytes(), inputPath)
}

func parseProbeOutput(raw []byte, inputPath string) (*model.FileMetadata, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(raw, &probeData); err != nil {
		return nil, fmt.Errorf("unmarshal ffprobe output for %s: %w", inputPath, err)
	}
	if len(probeData.Streams) == 0 {
		return nil, fmt.Errorf("no audio streams found in %s", inputPath)
	}

	meta := &model.FileMetadata{
		Codec:    probeData.Streams[0].CodecName,
		Channels: probeData.Streams[0].Channels,
	}
	if v, err := strconv.Atoi(probeData.Streams[0].SampleRate); err == nil {
		meta.SampleRate = v
	}
	if v, err := strconv.ParseFloat(probeData.Format.Duration, 64); err == nil {
		meta.Duration = v
	}
	if v, err := strconv.ParseInt(probeData.Format.BitRate, 10, 64); err == nil {
		meta.Bitrate = v
	}

	// Tag keys vary by container; ffprobe lowercases most of them.
	tags := probeData.Format.Tags
	meta.Artist = firstTag(tags, "artist", "ARTIST")
	meta.Title = firstTag(tags, "title", "TITLE")
	meta.Album = firstTag(tags, "album", "ALBUM")
	meta.Year = firstTag(tags, "date", "DATE", "year")
	meta.Genre = firstTag(tags, "genre", "GENRE")

	return meta, nil
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, key := range keys {
		if v, ok := tags[key]; ok && v != "" {
			return v
		}
	}
	return ""
}
