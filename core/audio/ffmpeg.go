package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mcbrumagin/soundclone-sub000/logger"
)

// FFmpegTranscoder implements Transcoder by shelling out to ffmpeg, encoding
// to WebM/Opus at a configured bitrate.
type FFmpegTranscoder struct {
	ffmpegPath string
	bitrate    string
}

func NewFFmpegTranscoder(ffmpegPath, bitrate string) *FFmpegTranscoder {
	return &FFmpegTranscoder{ffmpegPath: ffmpegPath, bitrate: bitrate}
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, inputPath, outputPath string) error {
	if _, err := os.Stat(inputPath); err != nil {
		// The upload may still be flushing to disk. Callers retry this.
		return fmt.Errorf("stat %s: %v: %w", inputPath, err, ErrSourceNotReady)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("create output directory for %s: %w", outputPath, err)
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-c:a", "libopus",
		"-b:a", t.bitrate,
		"-f", "webm",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("executing ffmpeg",
		logger.String("input", inputPath),
		logger.String("args", strings.Join(args, " ")))

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed for %s: %w\nFFmpeg Error: %s", inputPath, err, stderr.String())
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("ffmpeg produced no output for %s: %w", inputPath, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("ffmpeg produced empty output for %s", inputPath)
	}
	return nil
}

// FFmpegWaveformRenderer implements WaveformRenderer with ffmpeg's
// showwavespic filter.
type FFmpegWaveformRenderer struct {
	ffmpegPath string
	width      int
	height     int
	color      string
}

func NewFFmpegWaveformRenderer(ffmpegPath string, width, height int, color string) *FFmpegWaveformRenderer {
	return &FFmpegWaveformRenderer{
		ffmpegPath: ffmpegPath,
		width:      width,
		height:     height,
		color:      color,
	}
}

func (r *FFmpegWaveformRenderer) Render(ctx context.Context, inputPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("create output directory for %s: %w", outputPath, err)
	}

	filter := fmt.Sprintf("showwavespic=s=%dx%d:colors=%s", r.width, r.height, r.color)
	args := []string{
		"-y",
		"-i", inputPath,
		"-filter_complex", filter,
		"-frames:v", "1",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("waveform render failed for %s: %w\nFFmpeg Error: %s", inputPath, err, stderr.String())
	}
	if info, err := os.Stat(outputPath); err != nil || info.Size() == 0 {
		return fmt.Errorf("waveform render produced no output for %s", inputPath)
	}
	return nil
}
