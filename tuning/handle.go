package tuning

import (
	"sync"

	"github.com/hybridlat/latcontrol/config"
)

// A Target is a controller whose gains come from a tuning group.
type Target interface {
	// TuningGroup is the group the controller reads its gains from.
	TuningGroup() Group
	// CurrentTuning returns the controller's configured values in the group's layout. It seeds
	// the backing file when that file is missing or corrupt.
	CurrentTuning() config.AttributeMap
	// ApplyTuning installs validated values and resets transient controller state.
	ApplyTuning(values config.AttributeMap) error
}

// A Handle is a detachable reference from a store to its controller. Once detached, the store
// behaves as if no controller were attached.
type Handle struct {
	mu     sync.Mutex
	target Target
}

// NewHandle returns a handle pointing at target.
func NewHandle(target Target) *Handle {
	return &Handle{target: target}
}

// Target returns the referenced controller, if still attached.
func (h *Handle) Target() (Target, bool) {
	if h == nil {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target, h.target != nil
}

// Detach drops the reference. It is safe to call more than once.
func (h *Handle) Detach() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.target = nil
	h.mu.Unlock()
}
