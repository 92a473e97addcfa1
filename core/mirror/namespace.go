package mirror

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mcbrumagin/soundclone-sub000/config"
)

// Namespace is one tracked class of replicated state.
type Namespace string

const (
	NamespaceMetadata  Namespace = "metadata"
	NamespaceRaw       Namespace = "raw"
	NamespaceOptimized Namespace = "optimized"
	NamespaceWaveforms Namespace = "waveforms"
)

// remote key prefixes per namespace.
var remotePrefixes = map[Namespace]string{
	NamespaceMetadata:  "metadata/",
	NamespaceRaw:       "audio/raw/",
	NamespaceOptimized: "audio/optimized/",
	NamespaceWaveforms: "waveforms/",
}

// Layout maps local working directories to remote namespaces and back.
type Layout struct {
	RawDir       string
	OptimizedDir string
	WaveformDir  string
}

func NewLayout(cfg *config.Config) Layout {
	return Layout{
		RawDir:       cfg.RawAudioDir,
		OptimizedDir: cfg.OptimizedDir,
		WaveformDir:  cfg.WaveformDir,
	}
}

// FileNamespaces returns the namespaces that live on the filesystem, with
// their local directories. Metadata is excluded: it lives in the store.
func (l Layout) FileNamespaces() map[Namespace]string {
	return map[Namespace]string{
		NamespaceRaw:       l.RawDir,
		NamespaceOptimized: l.OptimizedDir,
		NamespaceWaveforms: l.WaveformDir,
	}
}

// Classify resolves a local file path into its namespace and remote key.
func (l Layout) Classify(localPath string) (Namespace, string, error) {
	clean := filepath.Clean(localPath)
	for ns, dir := range l.FileNamespaces() {
		cleanDir := filepath.Clean(dir)
		if rel, err := filepath.Rel(cleanDir, clean); err == nil && !strings.HasPrefix(rel, "..") {
			return ns, remotePrefixes[ns] + filepath.ToSlash(rel), nil
		}
	}
	return "", "", fmt.Errorf("path %q is outside every mirrored directory", localPath)
}

// LocalPath resolves a remote key back to its local file path.
func (l Layout) LocalPath(ns Namespace, key string) (string, error) {
	prefix := remotePrefixes[ns]
	if !strings.HasPrefix(key, prefix) {
		return "", fmt.Errorf("key %q is not in namespace %s", key, ns)
	}
	rel := strings.TrimPrefix(key, prefix)
	dirs := l.FileNamespaces()
	dir, ok := dirs[ns]
	if !ok {
		return "", fmt.Errorf("namespace %s has no local directory", ns)
	}
	return filepath.Join(dir, filepath.FromSlash(rel)), nil
}

// MetadataKey returns the remote key for a track record.
func MetadataKey(trackID string) string {
	return remotePrefixes[NamespaceMetadata] + trackID + ".json"
}

// TrackIDFromMetadataKey extracts the track ID from a metadata object key.
func TrackIDFromMetadataKey(key string) (string, error) {
	prefix := remotePrefixes[NamespaceMetadata]
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ".json") {
		return "", fmt.Errorf("key %q is not a metadata object", key)
	}
	return strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json"), nil
}
