package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/logger"
	"github.com/mcbrumagin/soundclone-sub000/storage"
)

// ContinuousMirror replicates local state changes to the durable remote
// store for the process lifetime. Replication is one-directional
// (local to remote) and entirely best effort: a mirror failure never blocks
// or fails a pipeline stage.
type ContinuousMirror struct {
	bus    event.Bus
	remote storage.ObjectStore
	layout Layout
	wg     sync.WaitGroup

	// OpTimeout bounds each remote operation.
	OpTimeout time.Duration
}

func NewContinuousMirror(bus event.Bus, remote storage.ObjectStore, layout Layout) *ContinuousMirror {
	return &ContinuousMirror{
		bus:       bus,
		remote:    remote,
		layout:    layout,
		OpTimeout: 30 * time.Second,
	}
}

// Run blocks until ctx is cancelled, then drains in-flight replications.
func (m *ContinuousMirror) Run(ctx context.Context) {
	fileUpdated := m.bus.Subscribe(event.TopicFileUpdated)
	defer fileUpdated.Close()
	fileDeleted := m.bus.Subscribe(event.TopicFileDeleted)
	defer fileDeleted.Close()
	metaUpdated := m.bus.Subscribe(event.TopicMetadataUpdated)
	defer metaUpdated.Close()
	metaDeleted := m.bus.Subscribe(event.TopicMetadataDeleted)
	defer metaDeleted.Close()

	logger.Info("continuous mirror started")

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return
		case env, ok := <-fileUpdated.Events():
			if !ok {
				return
			}
			m.dispatch(env, m.handleFileUpdated)
		case env, ok := <-fileDeleted.Events():
			if !ok {
				return
			}
			m.dispatch(env, m.handleFileDeleted)
		case env, ok := <-metaUpdated.Events():
			if !ok {
				return
			}
			m.dispatch(env, m.handleMetadataUpdated)
		case env, ok := <-metaDeleted.Events():
			if !ok {
				return
			}
			m.dispatch(env, m.handleMetadataDeleted)
		}
	}
}

// dispatch runs a handler on its own goroutine with a bounded context, so a
// slow remote never backs the event stream up.
func (m *ContinuousMirror) dispatch(env event.Envelope, handle func(context.Context, event.Envelope)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.OpTimeout)
		defer cancel()
		handle(ctx, env)
	}()
}

func (m *ContinuousMirror) handleFileUpdated(ctx context.Context, env event.Envelope) {
	var evt event.FileEvent
	if err := env.Decode(&evt); err != nil {
		logger.Warn("bad file-updated payload", logger.ErrorField(err))
		return
	}
	ns, key, err := m.layout.Classify(evt.FilePath)
	if err != nil {
		logger.Warn("unclassifiable file change, not mirrored",
			logger.String("filePath", evt.FilePath), logger.ErrorField(err))
		return
	}
	contentType := storage.ContentTypeFor(evt.FilePath)
	if err := m.remote.PutFile(ctx, key, evt.FilePath, contentType); err != nil {
		logger.Warn("mirror upload failed",
			logger.String("namespace", string(ns)),
			logger.String("key", key),
			logger.ErrorField(err))
		return
	}
	logger.Debug("mirrored file",
		logger.String("key", key),
		logger.String("contentType", contentType))
}

func (m *ContinuousMirror) handleFileDeleted(ctx context.Context, env event.Envelope) {
	var evt event.FileEvent
	if err := env.Decode(&evt); err != nil {
		logger.Warn("bad file-deleted payload", logger.ErrorField(err))
		return
	}
	_, key, err := m.layout.Classify(evt.FilePath)
	if err != nil {
		logger.Warn("unclassifiable file deletion, not mirrored",
			logger.String("filePath", evt.FilePath), logger.ErrorField(err))
		return
	}
	if err := m.remote.Remove(ctx, key); err != nil {
		logger.Warn("mirror delete failed",
			logger.String("key", key), logger.ErrorField(err))
		return
	}
	logger.Debug("mirrored deletion", logger.String("key", key))
}

func (m *ContinuousMirror) handleMetadataUpdated(ctx context.Context, env event.Envelope) {
	var evt event.MetadataEvent
	if err := env.Decode(&evt); err != nil {
		logger.Warn("bad metadata-updated payload", logger.ErrorField(err))
		return
	}
	if evt.Metadata == nil {
		logger.Warn("metadata-updated without a record",
			logger.String("trackId", evt.TrackID))
		return
	}
	raw, err := json.Marshal(evt.Metadata)
	if err != nil {
		logger.Warn("cannot marshal record for mirroring",
			logger.String("trackId", evt.TrackID), logger.ErrorField(err))
		return
	}
	key := MetadataKey(evt.TrackID)
	err = m.remote.Put(ctx, key, bytes.NewReader(raw), int64(len(raw)), "application/json")
	if err != nil {
		logger.Warn("mirror metadata upload failed",
			logger.String("key", key), logger.ErrorField(err))
		return
	}
	logger.Debug("mirrored metadata", logger.String("trackId", evt.TrackID))
}

func (m *ContinuousMirror) handleMetadataDeleted(ctx context.Context, env event.Envelope) {
	var evt event.MetadataEvent
	if err := env.Decode(&evt); err != nil {
		logger.Warn("bad metadata-deleted payload", logger.ErrorField(err))
		return
	}
	key := MetadataKey(evt.TrackID)
	if err := m.remote.Remove(ctx, key); err != nil {
		logger.Warn("mirror metadata delete failed",
			logger.String("key", key), logger.ErrorField(err))
		return
	}
	logger.Debug("mirrored metadata deletion", logger.String("trackId", evt.TrackID))
}
