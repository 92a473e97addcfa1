package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mcbrumagin/soundclone-sub000/model"
)

// CommandAnalyzer runs an external harmonic-analysis command against a stream
// and parses its JSON stdout. The command receives the input path as its last
// argument and is expected to print key/mode/bpm estimates.
type CommandAnalyzer struct {
	command []string
}

// NewCommandAnalyzer builds an analyzer from a space-separated command line.
// Returns nil when the command is empty, which disables the stage.
func NewCommandAnalyzer(command string) *CommandAnalyzer {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	return &CommandAnalyzer{command: fields}
}

func (a *CommandAnalyzer) Analyze(ctx context.Context, inputPath string) (*model.HarmonicData, error) {
	args := append(a.command[1:], inputPath)
	cmd := exec.CommandContext(ctx, a.command[0], args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("analyzer failed for %s: %w\nAnalyzer Error: %s", inputPath, err, stderr.String())
	}

	var data model.HarmonicData
	if err := json.Unmarshal(out.Bytes(), &data); err != nil {
		return nil, fmt.Errorf("unmarshal analyzer output for %s: %w", inputPath, err)
	}
	return &data, nil
}
