package mirror

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/logger"
)

// Watcher turns filesystem changes in the mirrored directories into
// file-updated / file-deleted events, so artifacts written by any code path
// reach the continuous mirror without explicit announcements.
type Watcher struct {
	bus    event.Bus
	layout Layout
	wg     sync.WaitGroup

	// SettleDelay lets a written file settle before announcing it, so the
	// mirror does not upload half-flushed artifacts.
	SettleDelay time.Duration
}

func NewWatcher(bus event.Bus, layout Layout) *Watcher {
	return &Watcher{bus: bus, layout: layout, SettleDelay: 200 * time.Millisecond}
}

// Run blocks until ctx is cancelled, then waits for pending announcements.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	for ns, dir := range w.layout.FileNamespaces() {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s directory: %w", ns, err)
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s directory: %w", ns, err)
		}
	}

	logger.Info("mirror file watcher started")

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return nil
		case fsEvent, ok := <-watcher.Events:
			if !ok {
				w.wg.Wait()
				return nil
			}
			w.handle(ctx, fsEvent)
		case err, ok := <-watcher.Errors:
			if !ok {
				w.wg.Wait()
				return nil
			}
			logger.Warn("file watcher error", logger.ErrorField(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsEvent fsnotify.Event) {
	switch {
	case fsEvent.Op.Has(fsnotify.Remove) || fsEvent.Op.Has(fsnotify.Rename):
		evt := event.FileEvent{FilePath: fsEvent.Name, Timestamp: time.Now().UTC()}
		if err := w.bus.Publish(ctx, event.TopicFileDeleted, evt); err != nil {
			logger.Warn("failed to publish file-deleted",
				logger.String("filePath", fsEvent.Name), logger.ErrorField(err))
		}
	case fsEvent.Op.Has(fsnotify.Create) || fsEvent.Op.Has(fsnotify.Write):
		// Settle off the event loop: one slow flush must not stall intake
		// of events for unrelated files.
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.announceSettled(ctx, fsEvent.Name)
		}()
	}
}

func (w *Watcher) announceSettled(ctx context.Context, filePath string) {
	if w.SettleDelay > 0 {
		timer := time.NewTimer(w.SettleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
	if info, err := os.Stat(filePath); err != nil || info.IsDir() {
		return
	}
	evt := event.FileEvent{FilePath: filePath, Timestamp: time.Now().UTC()}
	if err := w.bus.Publish(ctx, event.TopicFileUpdated, evt); err != nil {
		logger.Warn("failed to publish file-updated",
			logger.String("filePath", filePath), logger.ErrorField(err))
	}
}
