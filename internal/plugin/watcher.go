package plugin

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a plugin when its config file changes on disk. Editors
// tend to fire several events per save, so changes are debounced per
// plugin before triggering a reload.
type Watcher struct {
	reg *Registry
	log zerolog.Logger
}

// NewWatcher creates a watcher bound to the registry's plugin dir.
func NewWatcher(reg *Registry, log zerolog.Logger) *Watcher {
	return &Watcher{reg: reg, log: log.With().Str("comp", "watcher").Logger()}
}

const debounce = 300 * time.Millisecond

// Run watches until ctx is cancelled. A failed auto-reload is logged and
// leaves the previous instance active, same as a failed admin reload.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.reg.dir); err != nil {
		return err
	}
	w.log.Info().Str("dir", w.reg.dir).Msg("watching plugin configs")

	pending := make(map[string]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			name := pluginNameFromPath(ev.Name)
			if name == "" {
				continue
			}
			if t, ok := pending[name]; ok {
				t.Stop()
			}
			pending[name] = time.AfterFunc(debounce, func() {
				if err := w.reg.ReloadOne(name); err != nil {
					w.log.Warn().Err(err).Str("plugin", name).Msg("auto-reload failed")
				}
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

// pluginNameFromPath maps <dir>/<name>.yaml to a registered plugin name,
// or "" for unrelated files.
func pluginNameFromPath(path string) string {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".yaml") {
		return ""
	}
	name := strings.TrimSuffix(base, ".yaml")
	if _, _, ok := factory(name); !ok {
		return ""
	}
	return name
}
