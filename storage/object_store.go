package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// ObjectInfo describes one remote object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// ObjectStore is the durable remote store the mirror replicates to. MinIO
// backs production; an in-memory implementation backs tests.
type ObjectStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	PutFile(ctx context.Context, key, localPath, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Download(ctx context.Context, key, localPath string) error
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Remove(ctx context.Context, key string) error
}

// ContentTypeFor infers a MIME type from the file extension. Unknown
// extensions fall back to octet-stream.
func ContentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".aac":
		return "audio/aac"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
