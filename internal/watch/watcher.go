// Package watch reports changes to the user style and template directories
// so compiled assets can be dropped while the server runs.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/bibcite/internal/storage"
)

// Ops reported to the callback.
const (
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

const debounce = 200 * time.Millisecond

// Dir is one flat asset directory.
type Dir struct {
	Kind string // e.g. "style" or "template"
	Root string
	Ext  string
}

// EventCallback is called once per changed asset after events settle.
type EventCallback func(kind, name, op string)

type assetKey struct {
	kind string
	name string
}

// Watch watches dirs until ctx is cancelled. Bursts of events for the same
// asset (editors often write, chmod and rename in quick succession) collapse
// into one callback carrying the last op.
func Watch(ctx context.Context, dirs []Dir, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	byRoot := make(map[string]Dir, len(dirs))
	for _, d := range dirs {
		root := filepath.Clean(d.Root)
		if err := w.Add(root); err != nil {
			return err
		}
		byRoot[root] = d
		logger.Info("watcher: started", slog.String("kind", d.Kind), slog.String("root", root))
	}

	pending := map[assetKey]string{}
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	schedule := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(debounce)
		}
	}

	flush := func() {
		keys := make([]assetKey, 0, len(pending))
		for k := range pending {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].kind != keys[j].kind {
				return keys[i].kind < keys[j].kind
			}
			return keys[i].name < keys[j].name
		})
		for _, k := range keys {
			logger.Debug("watcher: asset changed",
				slog.String("kind", k.kind), slog.String("name", k.name), slog.String("op", pending[k]))
			if cb != nil {
				cb(k.kind, k.name, pending[k])
			}
		}
		clear(pending)
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			flush()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			d, ok := byRoot[filepath.Dir(ev.Name)]
			if !ok {
				continue
			}
			name, ok := strings.CutSuffix(filepath.Base(ev.Name), d.Ext)
			if !ok || !storage.ValidName(name) {
				continue
			}

			var op string
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				op = OpUpdated
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				op = OpDeleted
			default:
				continue
			}
			pending[assetKey{kind: d.Kind, name: name}] = op
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
