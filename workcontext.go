package pstore

import (
	"context"
	"time"

	"github.com/behrlich/go-pstore/internal/mutex"
	"github.com/behrlich/go-pstore/internal/workengine"
)

// WorkContext is a pre-allocated save/load context a caller can build once
// and reuse across repeated calls against the same StructInfo, avoiding the
// member-slice allocation AllocateWork would otherwise repeat on every
// call — the fast path for a large or frequently-saved struct (e.g. a
// periodic calibration-data flush), grounded on the original
// implementation's "large-save fast path" extension.
type WorkContext struct {
	work *workengine.Work
}

// NewWorkContext builds a reusable work context for info.
func (m *Manager) NewWorkContext(mask Mask, data any, info *StructInfo, private any) *WorkContext {
	return &WorkContext{work: m.engine.AllocateWork(mask, data, info, private)}
}

// SaveWithContext re-binds wc to (mask, data, private) and runs Save,
// reusing wc's member slice instead of allocating a new Work.
func (m *Manager) SaveWithContext(ctx context.Context, owner any, handle Handle, wc *WorkContext, mask Mask, data any, info *StructInfo, private any) error {
	start := time.Now()
	wc.work.Reset(mask, data, info, private)
	err := m.orchestrator.Run(ctx, &mutex.ControlContext{
		Owner:         owner,
		ResourceEntry: func() error { return m.resources.Reference(handle) },
		StorageFunc: func() error {
			if m.engine.SetupWorkMask(wc.work) == 0 {
				return nil
			}
			if err := m.engine.GetWorkStorageInfo(handle, wc.work); err != nil {
				return err
			}
			return m.engine.Save(handle, wc.work)
		},
		ResourceExit: m.referenceExit(handle),
	})
	m.observer.ObserveSave(0, uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}

// LoadWithContext is SaveWithContext's load counterpart.
func (m *Manager) LoadWithContext(ctx context.Context, owner any, handle Handle, wc *WorkContext, mask Mask, data any, info *StructInfo, private any) error {
	start := time.Now()
	wc.work.Reset(mask, data, info, private)
	err := m.orchestrator.Run(ctx, &mutex.ControlContext{
		Owner:         owner,
		ResourceEntry: func() error { return m.resources.Reference(handle) },
		StorageFunc: func() error {
			if m.engine.SetupWorkMask(wc.work) == 0 {
				return nil
			}
			if err := m.engine.GetWorkStorageInfo(handle, wc.work); err != nil {
				return err
			}
			return m.engine.Load(handle, wc.work)
		},
		ResourceExit: m.referenceExit(handle),
	})
	m.observer.ObserveLoad(0, uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}
