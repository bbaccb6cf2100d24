package output

import (
	"errors"
	"sync"

	"github.com/bryanchriswhite/wlmirror/internal/logger"
)

var (
	ErrUnknownOutput   = errors.New("output: unknown output")
	ErrDuplicateOutput = errors.New("output: duplicate output id")
)

// Registry owns the set of known outputs. Mutations and observer callbacks
// happen on the reactor thread; List may be called from any goroutine.
type Registry struct {
	mu        sync.RWMutex
	entries   []*Entry
	initDone  bool
	observers []Observer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddObserver registers o for lifecycle notifications.
func (r *Registry) AddObserver(o Observer) {
	r.observers = append(r.observers, o)
}

// InitDone reports whether the initial output sync has completed.
func (r *Registry) InitDone() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initDone
}

// MarkInitDone completes the initial sync and notifies observers. Later calls
// are no-ops.
func (r *Registry) MarkInitDone() {
	r.mu.Lock()
	if r.initDone {
		r.mu.Unlock()
		return
	}
	r.initDone = true
	count := len(r.entries)
	r.mu.Unlock()

	logger.WithComponent("output").Debug().
		Int("count", count).
		Msg("Initial output sync complete")

	for _, o := range r.observers {
		o.OutputInitDone()
	}
}

// Add registers a new output and returns the registry-owned entry.
func (r *Registry) Add(e Entry) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(e.ID) != nil {
		return nil, ErrDuplicateOutput
	}
	if e.Scale <= 0 {
		e.Scale = 1
	}

	entry := &e
	r.entries = append(r.entries, entry)

	logger.WithComponent("output").Debug().
		Str("name", entry.Name).
		Uint32("id", entry.ID).
		Int32("scale", entry.Scale).
		Stringer("transform", entry.Transform).
		Msg("Added output")
	return entry, nil
}

// Update replaces the properties of the output with the same ID. Observers are
// told about the change only when something differs.
func (r *Registry) Update(e Entry) (*Entry, error) {
	r.mu.Lock()
	entry := r.find(e.ID)
	if entry == nil {
		r.mu.Unlock()
		return nil, ErrUnknownOutput
	}
	if e.Scale <= 0 {
		e.Scale = 1
	}
	if *entry == e {
		r.mu.Unlock()
		return entry, nil
	}
	*entry = e
	r.mu.Unlock()

	logger.WithComponent("output").Debug().
		Str("name", entry.Name).
		Int32("scale", entry.Scale).
		Stringer("transform", entry.Transform).
		Msg("Output changed")

	for _, o := range r.observers {
		o.OutputChanged(entry)
	}
	return entry, nil
}

// Remove forgets the output with the given ID. Observers see the entry before
// it is dropped.
func (r *Registry) Remove(id uint32) error {
	r.mu.RLock()
	entry := r.find(id)
	r.mu.RUnlock()
	if entry == nil {
		return ErrUnknownOutput
	}

	for _, o := range r.observers {
		o.OutputRemoved(entry)
	}

	r.mu.Lock()
	for i, e := range r.entries {
		if e == entry {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	logger.WithComponent("output").Debug().
		Str("name", entry.Name).
		Uint32("id", entry.ID).
		Msg("Removed output")
	return nil
}

// Sync reconciles the registry with a full enumeration: unknown outputs are
// added, known ones updated and missing ones removed. The first Sync completes
// the initial sync.
func (r *Registry) Sync(entries []Entry) error {
	seen := make(map[uint32]struct{}, len(entries))
	for _, e := range entries {
		seen[e.ID] = struct{}{}
		if r.Find(e.ID) == nil {
			if _, err := r.Add(e); err != nil {
				return err
			}
			continue
		}
		if _, err := r.Update(e); err != nil {
			return err
		}
	}

	for _, e := range r.List() {
		if _, ok := seen[e.ID]; !ok {
			if err := r.Remove(e.ID); err != nil {
				return err
			}
		}
	}

	r.MarkInitDone()
	return nil
}

// Find returns the entry with the given ID, or nil.
func (r *Registry) Find(id uint32) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.find(id)
}

// FindByName returns the entry with the given connector name, or nil.
func (r *Registry) FindByName(name string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// At returns the first output whose geometry contains (x, y), or nil.
func (r *Registry) At(x, y int32) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Geometry.Contains(x, y) {
			return e
		}
	}
	return nil
}

// List returns copies of all entries in insertion order.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}

// Len returns the number of known outputs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) find(id uint32) *Entry {
	for _, e := range r.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}
