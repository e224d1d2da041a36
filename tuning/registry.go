package tuning

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/hybridlat/latcontrol/config"
	"github.com/hybridlat/latcontrol/logging"
)

// A Registry hands out stores for one tuning directory. Controllers attach to it and own the
// store they receive until they release it; value-only groups such as common are created lazily
// on first lookup and live as long as the registry.
type Registry struct {
	dir    string
	logger logging.Logger

	mu      sync.Mutex
	shared  map[Group]*Store
	owned   map[*Store]struct{}
	seeds   map[Group]config.AttributeMap
	noWatch bool
	closed  bool
}

// NewRegistry returns a registry rooted at dir.
func NewRegistry(dir string, logger logging.Logger) *Registry {
	if dir == "" {
		dir = config.DefaultTuningDir
	}
	return &Registry{
		dir:    dir,
		logger: logger,
		shared: map[Group]*Store{},
		owned:  map[*Store]struct{}{},
		seeds:  map[Group]config.AttributeMap{},
	}
}

// Dir returns the tuning directory.
func (r *Registry) Dir() string {
	return r.dir
}

// DisableWatching makes stores created afterwards skip file change notifications.
func (r *Registry) DisableWatching() {
	r.mu.Lock()
	r.noWatch = true
	r.mu.Unlock()
}

// SetSeed sets the values a lazily created store of group starts from when its file is missing.
func (r *Registry) SetSeed(group Group, values config.AttributeMap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seeds[group] = values.Copy()
}

// Attach creates a store for target's group. The caller owns the store and must hand it back
// through Release.
func (r *Registry) Attach(target Target, disableApply bool) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("tuning registry is closed")
	}
	group := target.TuningGroup()
	s, err := NewStore(group, NewHandle(target), Options{
		Dir:          r.dir,
		DisableApply: disableApply,
		NoWatch:      r.noWatch,
	}, r.logger.Sublogger(string(group)))
	if err != nil {
		return nil, err
	}
	r.owned[s] = struct{}{}
	return s, nil
}

// Release detaches and closes a store obtained from Attach.
func (r *Registry) Release(s *Store) error {
	if s == nil {
		return nil
	}
	r.mu.Lock()
	delete(r.owned, s)
	r.mu.Unlock()
	return s.Close()
}

// Get returns the validated value of key in group, reloading the group first if its file changed.
func (r *Registry) Get(group Group, key string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.sharedStore(group)
	if err != nil {
		return 0, err
	}
	s.Check()
	v, ok := s.Get(key)
	if !ok {
		return 0, errors.Errorf("%s has no parameter %q", group, key)
	}
	return v, nil
}

// Enabled reports whether the flag key in group is set. Unknown keys read as disabled.
func (r *Registry) Enabled(group Group, key string) bool {
	v, err := r.Get(group, key)
	return err == nil && v > 0.5
}

// Values returns the validated contents of group.
func (r *Registry) Values(group Group) (config.AttributeMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.sharedStore(group)
	if err != nil {
		return nil, err
	}
	s.Check()
	return s.Values(), nil
}

// Groups returns the groups with an open store, sorted by name.
func (r *Registry) Groups() []Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	groups := lo.Uniq(append(lo.Keys(r.shared), lo.Map(lo.Keys(r.owned), func(s *Store, _ int) Group {
		return s.Group()
	})...))
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups
}

// Close closes every store still open, including ones never released by their owners.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	for _, s := range r.shared {
		err = multierr.Combine(err, s.Close())
	}
	for s := range r.owned {
		err = multierr.Combine(err, s.Close())
	}
	r.shared = map[Group]*Store{}
	r.owned = map[*Store]struct{}{}
	return err
}

// sharedStore must be called with mu held.
func (r *Registry) sharedStore(group Group) (*Store, error) {
	if r.closed {
		return nil, errors.New("tuning registry is closed")
	}
	if s, ok := r.shared[group]; ok {
		return s, nil
	}
	s, err := NewStore(group, nil, Options{
		Dir:     r.dir,
		Seed:    r.seeds[group],
		NoWatch: r.noWatch,
	}, r.logger.Sublogger(string(group)))
	if err != nil {
		return nil, err
	}
	r.shared[group] = s
	return s, nil
}
