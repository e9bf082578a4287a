// Package resource implements the fixed-slot handle registry, the
// factory-reset-callback registry, the per-handle update lists, and the
// single lazily-allocated scratch buffer (spec.md §4.3). Every method here
// assumes the caller already holds the resource lock (internal/mutex); the
// table's own mutex is defense in depth for callers (tests, the shell) that
// touch it directly.
package resource

import (
	"sync"

	"github.com/behrlich/go-pstore/internal/model"
)

type handleSlot struct {
	valid    bool
	refCount int32
	updates  []model.UpdateEntry
}

type factoryResetSlot struct {
	valid   bool
	fn      func(privateData any)
	private any
}

// Table is the resource-lock-protected mutable state described by
// spec.md §3/§4.3.
type Table struct {
	mu sync.Mutex

	handles   []handleSlot
	updateMax int

	factoryResets []factoryResetSlot

	bufferLength uint32
	scratch      []byte
}

// New creates an empty table sized per config.
func New(handleMax, factoryResetMax, updateMax int, bufferLength uint32) *Table {
	return &Table{
		handles:       make([]handleSlot, handleMax),
		updateMax:     updateMax,
		factoryResets: make([]factoryResetSlot, factoryResetMax),
		bufferLength:  bufferLength,
	}
}

// NewHandle allocates the first free handle slot.
func (t *Table) NewHandle() (model.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.handles {
		if !t.handles[i].valid {
			t.handles[i] = handleSlot{valid: true}
			return model.Handle(i), nil
		}
	}
	return model.InvalidHandle, model.New("NewHandle", model.StatusResourceExhausted, "handle table full")
}

func (t *Table) slot(h model.Handle) (*handleSlot, error) {
	if h < 0 || int(h) >= len(t.handles) || !t.handles[h].valid {
		return nil, model.NewHandleError("", int32(h), model.StatusNotFound, "handle out of range")
	}
	return &t.handles[h], nil
}

// DeleteHandle removes a handle, failing FailedPrecondition while
// referenced (invariant 2).
func (t *Table) DeleteHandle(h model.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.slot(h)
	if err != nil {
		return err
	}
	if s.refCount != 0 {
		return model.NewHandleError("DeleteHandle", int32(h), model.StatusFailedPrecondition, "handle still referenced")
	}
	t.handles[h] = handleSlot{}
	return nil
}

// IsValid reports whether h names an open handle.
func (t *Table) IsValid(h model.Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.slot(h)
	return err == nil
}

// Reference bumps h's ref count, preventing a concurrent Close.
func (t *Table) Reference(h model.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.slot(h)
	if err != nil {
		return err
	}
	s.refCount++
	return nil
}

// Unreference releases one reference. Unreferencing at zero is a
// caller-contract violation (model.StatusInternal).
func (t *Table) Unreference(h model.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.slot(h)
	if err != nil {
		return err
	}
	if s.refCount == 0 {
		return model.NewHandleError("Unreference", int32(h), model.StatusInternal, "unreference at zero")
	}
	s.refCount--
	return nil
}

// NewFactoryReset registers a callback in the first free slot.
func (t *Table) NewFactoryReset(fn func(privateData any), private any) (model.FactoryResetID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.factoryResets {
		if !t.factoryResets[i].valid {
			t.factoryResets[i] = factoryResetSlot{valid: true, fn: fn, private: private}
			return model.FactoryResetID(i), nil
		}
	}
	return model.InvalidFactoryResetID, model.New("NewFactoryReset", model.StatusResourceExhausted, "factory-reset table full")
}

// DeleteFactoryReset clears a registration.
func (t *Table) DeleteFactoryReset(id model.FactoryResetID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || int(id) >= len(t.factoryResets) || !t.factoryResets[id].valid {
		return model.New("DeleteFactoryReset", model.StatusNotFound, "factory-reset id out of range")
	}
	t.factoryResets[id] = factoryResetSlot{}
	return nil
}

// FactoryResetEntry is a snapshot of one registered callback.
type FactoryResetEntry struct {
	Fn      func(privateData any)
	Private any
}

// ListFactoryResets returns every currently-registered callback, in slot
// order, for InvokeFactoryReset to run.
func (t *Table) ListFactoryResets() []FactoryResetEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []FactoryResetEntry
	for _, s := range t.factoryResets {
		if s.valid {
			out = append(out, FactoryResetEntry{Fn: s.fn, Private: s.private})
		}
	}
	return out
}

// SetUpdateData appends (itemID, tmpID) to h's update list.
func (t *Table) SetUpdateData(h model.Handle, itemID model.ItemID, tmpID uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.slot(h)
	if err != nil {
		return err
	}
	if len(s.updates) >= t.updateMax {
		return model.NewHandleError("SetUpdateData", int32(h), model.StatusInternal, "update list full")
	}
	s.updates = append(s.updates, model.UpdateEntry{ItemID: itemID, TmpID: tmpID})
	return nil
}

// GetUpdateData copies out h's update list.
func (t *Table) GetUpdateData(h model.Handle) ([]model.UpdateEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.slot(h)
	if err != nil {
		return nil, err
	}
	out := make([]model.UpdateEntry, len(s.updates))
	copy(out, s.updates)
	return out, nil
}

// RemoveUpdateData clears h's update list.
func (t *Table) RemoveUpdateData(h model.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.slot(h)
	if err != nil {
		return err
	}
	s.updates = nil
	return nil
}

// HandleIsAlreadyBeingUpdated returns FailedPrecondition iff h's update
// list is non-empty.
func (t *Table) HandleIsAlreadyBeingUpdated(h model.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.slot(h)
	if err != nil {
		return err
	}
	if len(s.updates) > 0 {
		return model.NewHandleError("HandleIsAlreadyBeingUpdated", int32(h), model.StatusFailedPrecondition, "handle already updating")
	}
	return nil
}

// UpdateDataExistsInHandles scans every handle's update list for itemID,
// returning FailedPrecondition on the first match (invariant 1).
func (t *Table) UpdateDataExistsInHandles(itemID model.ItemID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.handles {
		if !t.handles[i].valid {
			continue
		}
		for _, e := range t.handles[i].updates {
			if e.ItemID == itemID {
				return model.NewItemError("UpdateDataExistsInHandles", int32(itemID), model.StatusFailedPrecondition, "item already being updated by another handle")
			}
		}
	}
	return nil
}

// FindUpdateEntry returns the update-list entry for itemID on h, if any.
func (t *Table) FindUpdateEntry(h model.Handle, itemID model.ItemID) (model.UpdateEntry, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.slot(h)
	if err != nil {
		return model.UpdateEntry{}, false, err
	}
	for _, e := range s.updates {
		if e.ItemID == itemID {
			return e, true, nil
		}
	}
	return model.UpdateEntry{}, false, nil
}

// GetBuffer lazily allocates and returns the single shared scratch buffer.
func (t *Table) GetBuffer() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scratch == nil {
		t.scratch = make([]byte, t.bufferLength)
	}
	return t.scratch
}

// BufferLength returns the configured scratch buffer size.
func (t *Table) BufferLength() uint32 {
	return t.bufferLength
}

// FreeBuffer releases the scratch buffer (called from Deinit).
func (t *Table) FreeBuffer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scratch = nil
}
