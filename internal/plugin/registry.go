package plugin

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Snapshot is one immutable, internally consistent view of the loaded
// plugin set. Routers grab a snapshot once per dispatch and use it for the
// whole dispatch; a reload completing mid-flight is invisible to them.
type Snapshot struct {
	plugins map[string]*Plugin
	ordered []*Plugin // ascending Order, then name
}

// Get returns the plugin with the given name, or nil.
func (s *Snapshot) Get(name string) *Plugin {
	if s == nil {
		return nil
	}
	return s.plugins[name]
}

// Ordered returns all plugins in deterministic routing order.
func (s *Snapshot) Ordered() []*Plugin {
	if s == nil {
		return nil
	}
	return s.ordered
}

// Names returns the loaded plugin names in routing order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Ordered()))
	for _, p := range s.Ordered() {
		names = append(names, p.Name)
	}
	return names
}

// SnapshotOf builds a standalone snapshot from the given plugins, outside
// any registry. Useful for embedding and tests.
func SnapshotOf(plugins ...*Plugin) *Snapshot {
	m := make(map[string]*Plugin, len(plugins))
	for _, p := range plugins {
		m[p.Name] = p
	}
	return newSnapshot(m)
}

func newSnapshot(plugins map[string]*Plugin) *Snapshot {
	ordered := make([]*Plugin, 0, len(plugins))
	for _, p := range plugins {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Order != ordered[j].Order {
			return ordered[i].Order < ordered[j].Order
		}
		return ordered[i].Name < ordered[j].Name
	})
	return &Snapshot{plugins: plugins, ordered: ordered}
}

// Registry owns the live snapshot. Reads are a single atomic pointer load;
// all mutations (load, reload, enable, disable, unload) are serialized by a
// writer mutex and publish a complete new snapshot.
type Registry struct {
	dir string
	log zerolog.Logger

	writeMu sync.Mutex
	cur     atomic.Pointer[Snapshot]
}

// NewRegistry creates an empty registry over the given plugin config dir.
func NewRegistry(dir string, log zerolog.Logger) *Registry {
	r := &Registry{dir: dir, log: log.With().Str("comp", "registry").Logger()}
	r.cur.Store(newSnapshot(map[string]*Plugin{}))
	return r
}

// Snapshot returns the current snapshot. Never nil.
func (r *Registry) Snapshot() *Snapshot {
	return r.cur.Load()
}

// load builds a fresh Plugin from config + factory. It touches no shared
// state, so concurrent loads of different plugins are safe.
func (r *Registry) load(name string) (*Plugin, error) {
	f, order, ok := factory(name)
	if !ok {
		return nil, &LoadError{Plugin: name, Err: ErrUnknown}
	}

	spec, err := readSpec(r.dir, name)
	if err != nil {
		return nil, &LoadError{Plugin: name, Err: err}
	}

	h, err := f.New(spec.Settings)
	if err != nil {
		// Factories wrap ErrConfigInvalid for bad settings; anything else
		// is an init failure.
		if !errors.Is(err, ErrConfigInvalid) {
			err = errors.Join(ErrHandlerInit, err)
		}
		return nil, &LoadError{Plugin: name, Err: err}
	}

	return &Plugin{
		Name:            name,
		Enabled:         spec.Enable,
		Commands:        spec.Commands,
		Tip:             spec.CommandTip,
		Price:           spec.Price,
		AdminIgnore:     spec.AdminIgnore,
		WhitelistIgnore: spec.WhitelistIgnore,
		Match:           spec.matchMode(),
		CaseInsensitive: spec.CaseInsensitive,
		Order:           order,
		Handler:         h,
	}, nil
}

// ReloadOne loads the named plugin and, on success, swaps the single entry
// into a new snapshot. On failure the live snapshot is untouched and the
// previous instance, if any, keeps serving.
func (r *Registry) ReloadOne(name string) error {
	p, err := r.load(name)
	if err != nil {
		r.log.Warn().Err(err).Str("plugin", name).Msg("reload failed, keeping previous instance")
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := r.copyPlugins()
	next[name] = p
	r.cur.Store(newSnapshot(next))
	r.log.Info().Str("plugin", name).Bool("enabled", p.Enabled).Msg("plugin reloaded")
	return nil
}

// ReloadAll reloads every currently loaded plugin. Loads run concurrently
// into a staging set; if any fails, nothing is swapped and the joined
// per-plugin failures are returned. Only a fully successful staging set
// replaces the live snapshot, in one atomic store.
func (r *Registry) ReloadAll() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	names := r.Snapshot().Names()
	if len(names) == 0 {
		return nil
	}

	staged := make([]*Plugin, len(names))
	errs := make([]error, len(names))

	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			staged[i], errs[i] = r.load(name)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		r.log.Warn().Err(err).Msg("reload all failed, registry unchanged")
		return err
	}

	next := make(map[string]*Plugin, len(staged))
	for _, p := range staged {
		next[p.Name] = p
	}
	r.cur.Store(newSnapshot(next))
	r.log.Info().Int("plugins", len(next)).Msg("all plugins reloaded")
	return nil
}

// Bootstrap performs the initial load of every registered factory at
// startup. Unlike ReloadAll it is lenient: a plugin that fails to load is
// skipped (and reported) while the rest come up, matching operator
// expectations for a cold start. Names in disabled start with Enabled off
// regardless of their config.
func (r *Registry) Bootstrap(disabled []string) error {
	off := make(map[string]struct{}, len(disabled))
	for _, n := range disabled {
		off[n] = struct{}{}
	}

	loaded := make(map[string]*Plugin)
	var errs []error
	for _, name := range FactoryNames() {
		p, err := r.load(name)
		if err != nil {
			r.log.Warn().Err(err).Str("plugin", name).Msg("skipping plugin at startup")
			errs = append(errs, err)
			continue
		}
		if _, ok := off[name]; ok {
			cp := *p
			cp.Enabled = false
			p = &cp
		}
		loaded[name] = p
	}

	r.writeMu.Lock()
	r.cur.Store(newSnapshot(loaded))
	r.writeMu.Unlock()

	r.log.Info().Int("plugins", len(loaded)).Msg("registry bootstrapped")
	return errors.Join(errs...)
}

// Unload removes the named plugin from the snapshot. Dispatches already
// holding the old snapshot finish normally.
func (r *Registry) Unload(name string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.Snapshot().Get(name) == nil {
		return &LoadError{Plugin: name, Err: ErrUnknown}
	}
	next := r.copyPlugins()
	delete(next, name)
	r.cur.Store(newSnapshot(next))
	r.log.Info().Str("plugin", name).Msg("plugin unloaded")
	return nil
}

// SetEnabled flips the enabled flag via a snapshot copy. A disabled plugin
// stays loaded but is skipped by the router.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	p := r.Snapshot().Get(name)
	if p == nil {
		return &LoadError{Plugin: name, Err: ErrUnknown}
	}
	cp := *p
	cp.Enabled = enabled

	next := r.copyPlugins()
	next[name] = &cp
	r.cur.Store(newSnapshot(next))
	r.log.Info().Str("plugin", name).Bool("enabled", enabled).Msg("plugin toggled")
	return nil
}

// copyPlugins clones the current snapshot map. Callers hold writeMu.
func (r *Registry) copyPlugins() map[string]*Plugin {
	cur := r.Snapshot()
	next := make(map[string]*Plugin, len(cur.plugins)+1)
	for k, v := range cur.plugins {
		next[k] = v
	}
	return next
}
