package tuning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"

	"github.com/hybridlat/latcontrol/config"
	"github.com/hybridlat/latcontrol/logging"
)

const (
	dirPerm  = 0o777
	filePerm = 0o666
)

// errEmptyFile is returned when the backing file exists but has no content.
var errEmptyFile = errors.New("tuning file is empty")

// Options configure a Store.
type Options struct {
	// Dir is the directory holding the group files.
	Dir string
	// DisableApply keeps reading and validating the file but never pushes values into the controller.
	DisableApply bool
	// Seed supplies initial values when there is no controller to synthesize them from.
	Seed config.AttributeMap
	// NoWatch skips registering for file change notifications. Reloads then only happen
	// through MarkPending.
	NoWatch bool
}

// A Store keeps one group's file and its last validated contents, and applies them to the
// attached controller. All methods except MarkPending must be called from a single goroutine,
// normally the control loop.
type Store struct {
	group  Group
	schema Schema
	path   string
	handle *Handle
	opts   Options
	logger logging.Logger

	values  config.AttributeMap
	pending atomic.Bool
	watcher *dirWatcher
	// written is the last content this store put on disk. Reading it back is not a change.
	written []byte
}

// NewStore loads, repairs and applies the group's file, then starts watching its directory.
// Problems with the file itself are recovered from and logged; only an unknown group is an error.
func NewStore(group Group, handle *Handle, opts Options, logger logging.Logger) (*Store, error) {
	schema, err := SchemaFor(group)
	if err != nil {
		return nil, err
	}
	if opts.Dir == "" {
		opts.Dir = config.DefaultTuningDir
	}
	s := &Store{
		group:  group,
		schema: schema,
		path:   filepath.Join(opts.Dir, group.FileName()),
		handle: handle,
		opts:   opts,
		logger: logger,
	}
	s.load()

	if !opts.NoWatch {
		w, err := newDirWatcher(opts.Dir, func(string) { s.MarkPending() }, logger)
		if err != nil {
			logger.Warnw("live reload unavailable", "group", group, "error", err)
		} else {
			s.watcher = w
		}
	}
	return s, nil
}

// Group returns the group this store serves.
func (s *Store) Group() Group {
	return s.group
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Values returns a copy of the last validated parameter set.
func (s *Store) Values() config.AttributeMap {
	return s.values.Copy()
}

// Get returns the validated value of key.
func (s *Store) Get(key string) (float64, bool) {
	return s.values.Number(key)
}

// MarkPending flags the store for a reload on the next Check. Safe to call from any goroutine.
func (s *Store) MarkPending() {
	s.pending.Store(true)
}

// Pending reports whether a reload is waiting for the next Check.
func (s *Store) Pending() bool {
	return s.pending.Load()
}

// Check reloads the file if a change was signaled since the last call and reports whether it did.
// A file holding exactly what the store last wrote, such as its own repair of a bad edit, is
// not reloaded.
func (s *Store) Check() bool {
	if !s.pending.CompareAndSwap(true, false) {
		return false
	}
	data, err := s.readFile()
	if err != nil {
		s.logger.Warnw("keeping last validated tuning", "path", s.path, "error", err)
		return false
	}
	if s.written != nil && bytes.Equal(data, s.written) {
		s.logger.Debugw("tuning file unchanged since last write", "path", s.path)
		return false
	}
	raw, err := parseTuning(data)
	if err != nil {
		s.logger.Warnw("keeping last validated tuning", "path", s.path, "error", err)
		return false
	}
	s.commit(raw, false)
	return true
}

// Close stops watching and detaches the controller.
func (s *Store) Close() error {
	s.handle.Detach()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

func (s *Store) load() {
	raw, err := s.read()
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			s.logger.Warnw("regenerating tuning file", "path", s.path, "error", err)
		}
		s.commit(s.synthesize(), true)
		return
	}
	s.commit(raw, false)
}

// synthesize builds initial values from the controller, the seed, or nothing at all.
func (s *Store) synthesize() config.AttributeMap {
	if target, ok := s.handle.Target(); ok {
		if current := target.CurrentTuning(); current != nil {
			return current.Copy()
		}
	}
	if s.opts.Seed != nil {
		return s.opts.Seed.Copy()
	}
	return config.AttributeMap{}
}

func (s *Store) commit(raw config.AttributeMap, forceWrite bool) {
	values, corrections := s.schema.Validate(raw)
	if !forceWrite {
		for _, c := range corrections {
			s.logger.Warnw("corrected tuning value", "path", s.path, "param", c.Param,
				"reason", c.Reason, "from", c.From, "to", c.To)
		}
	}
	// a file that needs no repair is the editor's content, not ours
	s.written = nil
	if forceWrite || len(corrections) > 0 {
		if err := s.write(values); err != nil {
			s.logger.Errorw("failed to write tuning file", "path", s.path, "error", err)
		}
	}
	s.values = values
	s.apply()
}

func (s *Store) apply() {
	if s.opts.DisableApply {
		s.logger.Debugw("live tuning disabled, not applying", "group", s.group)
		return
	}
	target, ok := s.handle.Target()
	if !ok {
		return
	}
	if err := target.ApplyTuning(s.values.Copy()); err != nil {
		s.logger.Errorw("failed to apply tuning", "group", s.group, "error", err)
		return
	}
	s.logger.Infow("applied tuning", "group", s.group, "values", s.values)
}

func (s *Store) read() (config.AttributeMap, error) {
	data, err := s.readFile()
	if err != nil {
		return nil, err
	}
	return parseTuning(data)
}

func (s *Store) readFile() ([]byte, error) {
	//nolint:gosec
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read tuning file")
	}
	return data, nil
}

func parseTuning(data []byte) (config.AttributeMap, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyFile
	}
	var values config.AttributeMap
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrap(err, "failed to parse tuning file")
	}
	if values == nil {
		return nil, errors.New("tuning file does not hold an object")
	}
	return values, nil
}

// write replaces the file atomically so a concurrent reader never sees a partial document.
func (s *Store) write(values config.AttributeMap) error {
	data, err := marshalOrdered(s.schema, values)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.opts.Dir, dirPerm); err != nil {
		return errors.Wrap(err, "failed to create tuning directory")
	}
	tmp, err := os.CreateTemp(s.opts.Dir, "."+s.group.FileName()+".*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	if _, err := tmp.Write(data); err != nil {
		//nolint:errcheck
		tmp.Close()
		//nolint:errcheck
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to write temporary file")
	}
	if err := tmp.Close(); err != nil {
		//nolint:errcheck
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		s.logger.Debugw("failed to relax tuning file permissions", "path", tmp.Name(), "error", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return err
	}
	s.written = data
	return nil
}

// marshalOrdered renders values as a two-space indented object with the schema's keys first,
// in declaration order, followed by any other keys sorted by name.
func marshalOrdered(schema Schema, values config.AttributeMap) ([]byte, error) {
	keys := lo.FilterMap(schema, func(p Param, _ int) (string, bool) {
		return p.Name, values.Has(p.Name)
	})
	extra := lo.Filter(lo.Keys(values), func(k string, _ int) bool {
		_, declared := schema.Lookup(k)
		return !declared
	})
	sort.Strings(extra)
	keys = append(keys, extra...)

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, k := range keys {
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(values[k])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode %q", k)
		}
		fmt.Fprintf(&buf, "  %s: %s", kb, vb)
		if i < len(keys)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}
