package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryObjectStore is an in-process ObjectStore for tests and local runs
// without a MinIO endpoint.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject

	// FailPuts makes every write fail, for exercising degraded-mirror paths.
	FailPuts bool
}

type memoryObject struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string]memoryObject)}
}

func (m *MemoryObjectStore) Put(_ context.Context, key string, reader io.Reader, _ int64, contentType string) error {
	if m.FailPuts {
		return fmt.Errorf("put object %s: simulated failure", key)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = memoryObject{data: data, contentType: contentType, lastModified: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *MemoryObjectStore) PutFile(ctx context.Context, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.Put(ctx, key, f, -1, contentType)
}

func (m *MemoryObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryObjectStore) Download(ctx context.Context, key, localPath string) error {
	reader, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	defer reader.Close()
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0644)
}

func (m *MemoryObjectStore) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, nil
	}
	return &ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		LastModified: obj.lastModified,
		ContentType:  obj.contentType,
	}, nil
}

func (m *MemoryObjectStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var infos []ObjectInfo
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		infos = append(infos, ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified,
			ContentType:  obj.contentType,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (m *MemoryObjectStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}
