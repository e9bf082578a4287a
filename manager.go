package pstore

import (
	"context"
	"time"

	"github.com/behrlich/go-pstore/internal/buffer"
	"github.com/behrlich/go-pstore/internal/catalog"
	"github.com/behrlich/go-pstore/internal/logging"
	"github.com/behrlich/go-pstore/internal/model"
	"github.com/behrlich/go-pstore/internal/mutex"
	"github.com/behrlich/go-pstore/internal/resource"
	"github.com/behrlich/go-pstore/internal/storage"
	"github.com/behrlich/go-pstore/internal/workengine"
)

// Manager is one initialized instance of the parameter storage engine: a
// resource lock, a storage lock, the orchestrator pairing them, and the
// work engine they guard. Safe for concurrent use by multiple goroutines;
// callers that want reentrant-lock semantics across calls on the "same
// logical thread" pass a stable, comparable owner token (see Lock/Unlock).
type Manager struct {
	cfg Config

	resourceLock *mutex.ReentrantLock
	storageLock  *mutex.ReentrantLock
	orchestrator *mutex.Controller

	resources *resource.Table
	catalog   *catalog.Table
	adapter   *storage.Adapter
	bridge    *buffer.Bridge
	engine    *workengine.Engine

	logger   *logging.Logger
	metrics  *Metrics
	observer Observer
}

// New initializes a manager from cfg. Mirrors spec.md §4.7's init: it takes
// both locks (infinite wait, storage then resource) and wires the resource
// table and storage adapter; calling New twice on an already-initialized
// config is not supported (each Config gets its own Manager).
func New(cfg Config, cat *catalog.Table) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, model.Wrap("Init", model.StatusInvalidArgument, err)
	}

	logger := logging.NewLogger(cfg.Logger)

	m := &Manager{
		cfg:          cfg,
		resourceLock: mutex.New("resource", logger),
		storageLock:  mutex.New("storage", logger),
		catalog:      cat,
		logger:       logger,
		metrics:      cfg.Metrics,
		observer:     cfg.Observer,
	}
	m.orchestrator = &mutex.Controller{Resource: m.resourceLock, Storage: m.storageLock, Timeout: cfg.Timeout}

	owner := initOwner{}
	if err := m.storageLock.WithLock(context.Background(), owner, mutex.Infinite, func() error {
		return m.resourceLock.WithLock(context.Background(), owner, mutex.Infinite, func() error {
			m.resources = resource.New(cfg.HandleMax, cfg.FactoryResetMax, cfg.UpdateMax, cfg.BufferLength)
			m.adapter = storage.New(m.catalog, cfg.Storage)
			m.bridge = buffer.New(cfg.Heap, m.resources.GetBuffer, cfg.BufferLength)
			m.engine = workengine.New(m.adapter, m.bridge, cfg.Storage, m.resources, m.logger)
			return nil
		})
	}); err != nil {
		return nil, err
	}

	if m.observer == nil {
		m.observer = NoOpObserver{}
	}
	return m, nil
}

// initOwner is the comparable token Init/Deinit use as their own lock
// owner, distinct from any caller-supplied owner.
type initOwner struct{}

// Deinit releases the scratch buffer and marks the manager unusable. Taking
// both locks mirrors init's ordering.
func (m *Manager) Deinit() error {
	owner := initOwner{}
	return m.storageLock.WithLock(context.Background(), owner, mutex.Infinite, func() error {
		return m.resourceLock.WithLock(context.Background(), owner, mutex.Infinite, func() error {
			m.resources.FreeBuffer()
			return nil
		})
	})
}

// Open allocates a new handle via the orchestrator's resource-entry-only
// shape.
func (m *Manager) Open(ctx context.Context, owner any) (Handle, error) {
	var h Handle
	err := m.orchestrator.Run(ctx, &mutex.ControlContext{
		Owner: owner,
		ResourceEntry: func() error {
			var err error
			h, err = m.resources.NewHandle()
			return err
		},
	})
	if err != nil {
		return InvalidHandle, err
	}
	return h, nil
}

// Close deletes a handle via the orchestrator's resource-entry-only shape.
func (m *Manager) Close(ctx context.Context, owner any, handle Handle) error {
	return m.orchestrator.Run(ctx, &mutex.ControlContext{
		Owner:         owner,
		ResourceEntry: func() error { return m.resources.DeleteHandle(handle) },
	})
}

func (m *Manager) referenceExit(handle Handle) func() error {
	return func() error { return m.resources.Unreference(handle) }
}

// Save persists every enabled member of info against data, through the
// reference/storage/unreference orchestrator shape.
func (m *Manager) Save(ctx context.Context, owner any, handle Handle, mask Mask, data any, info *StructInfo, private any) error {
	start := time.Now()
	work := m.engine.AllocateWork(mask, data, info, private)
	var saveErr error
	err := m.orchestrator.Run(ctx, &mutex.ControlContext{
		Owner:         owner,
		ResourceEntry: func() error { return m.resources.Reference(handle) },
		StorageFunc: func() error {
			if m.engine.SetupWorkMask(work) == 0 {
				return nil
			}
			if err := m.engine.GetWorkStorageInfo(handle, work); err != nil {
				return err
			}
			saveErr = m.engine.Save(handle, work)
			return saveErr
		},
		ResourceExit: m.referenceExit(handle),
	})
	m.observer.ObserveSave(0, uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}

// Load reads every enabled member of info into data.
func (m *Manager) Load(ctx context.Context, owner any, handle Handle, mask Mask, data any, info *StructInfo, private any) error {
	start := time.Now()
	work := m.engine.AllocateWork(mask, data, info, private)
	err := m.orchestrator.Run(ctx, &mutex.ControlContext{
		Owner:         owner,
		ResourceEntry: func() error { return m.resources.Reference(handle) },
		StorageFunc: func() error {
			if m.engine.SetupWorkMask(work) == 0 {
				return nil
			}
			if err := m.engine.GetWorkStorageInfo(handle, work); err != nil {
				return err
			}
			return m.engine.Load(handle, work)
		},
		ResourceExit: m.referenceExit(handle),
	})
	m.observer.ObserveLoad(0, uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}

// Clear erases every enabled member of info.
func (m *Manager) Clear(ctx context.Context, owner any, handle Handle, mask Mask, info *StructInfo, private any) error {
	start := time.Now()
	work := m.engine.AllocateWork(mask, nil, info, private)
	err := m.orchestrator.Run(ctx, &mutex.ControlContext{
		Owner:         owner,
		ResourceEntry: func() error { return m.resources.Reference(handle) },
		StorageFunc: func() error {
			if m.engine.SetupWorkMask(work) == 0 {
				return nil
			}
			if err := m.engine.GetWorkStorageInfo(handle, work); err != nil {
				return err
			}
			return m.engine.Clear(handle, work)
		},
		ResourceExit: m.referenceExit(handle),
	})
	m.observer.ObserveClear(uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}

// GetSize reports itemID's loadable size. Reference/unreference only run
// when handle is valid, since an anonymous caller may query a live item
// without ever opening a handle.
func (m *Manager) GetSize(ctx context.Context, owner any, handle Handle, itemID ItemID) (uint32, error) {
	var size uint32
	cc := &mutex.ControlContext{
		Owner: owner,
		StorageFunc: func() error {
			var err error
			size, err = m.engine.GetSize(handle, itemID)
			return err
		},
	}
	if handle != InvalidHandle {
		cc.ResourceEntry = func() error { return m.resources.Reference(handle) }
		cc.ResourceExit = m.referenceExit(handle)
	}
	if err := m.orchestrator.Run(ctx, cc); err != nil {
		return 0, err
	}
	return size, nil
}

// UpdateBegin starts a cancellable update transaction for every enabled
// member of info.
func (m *Manager) UpdateBegin(ctx context.Context, owner any, handle Handle, mask Mask, info *StructInfo, private any, updateType UpdateType) error {
	start := time.Now()
	work := m.engine.AllocateWork(mask, nil, info, private)
	err := m.orchestrator.Run(ctx, &mutex.ControlContext{
		Owner:         owner,
		ResourceEntry: func() error { return m.resources.Reference(handle) },
		StorageFunc: func() error {
			if m.engine.SetupWorkMask(work) == 0 {
				return nil
			}
			return m.engine.BeginUpdate(handle, work, updateType)
		},
		ResourceExit: m.referenceExit(handle),
	})
	m.observer.ObserveUpdate(uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}

// UpdateComplete commits a handle's in-flight update. A no-op success when
// the backend isn't cancellable, per spec.md §4.7.
func (m *Manager) UpdateComplete(ctx context.Context, owner any, handle Handle) error {
	if !m.adapter.Capabilities().Cancellable {
		return nil
	}
	start := time.Now()
	err := m.orchestrator.Run(ctx, &mutex.ControlContext{
		Owner:         owner,
		ResourceEntry: func() error { return m.resources.Reference(handle) },
		StorageFunc:   func() error { return m.engine.CompleteUpdate(handle) },
		ResourceExit:  m.referenceExit(handle),
	})
	m.observer.ObserveUpdate(uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}

// UpdateCancel discards a handle's in-flight update. A no-op success when
// the backend isn't cancellable.
func (m *Manager) UpdateCancel(ctx context.Context, owner any, handle Handle) error {
	if !m.adapter.Capabilities().Cancellable {
		return nil
	}
	start := time.Now()
	err := m.orchestrator.Run(ctx, &mutex.ControlContext{
		Owner:         owner,
		ResourceEntry: func() error { return m.resources.Reference(handle) },
		StorageFunc:   func() error { return m.engine.CancelUpdate(handle) },
		ResourceExit:  m.referenceExit(handle),
	})
	m.observer.ObserveUpdate(uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}

// InvokeFactoryReset resets every catalog row flagged factory_reset_required,
// asks the backend to drop unmanaged items, then invokes every registered
// callback under its own resource-lock acquire/release cycle so callbacks
// may re-enter read-only APIs. Adapter.FactoryReset already demotes non-fatal
// per-item failures to Ok and keeps going; only a DataLoss/Internal failure
// reaches here, and it aborts the whole reset.
func (m *Manager) InvokeFactoryReset(ctx context.Context, owner any) error {
	return m.orchestrator.Run(ctx, &mutex.ControlContext{
		Owner: owner,
		StorageFunc: func() error {
			if err := m.adapter.FactoryReset(); err != nil {
				return err
			}
			if err := m.adapter.Clean(); err != nil {
				return err
			}
			for _, entry := range m.resources.ListFactoryResets() {
				if err := m.resourceLock.WithLock(ctx, owner, m.cfg.Timeout, func() error {
					entry.Fn(entry.Private)
					return nil
				}); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// RegisterFactoryReset registers a callback invoked by InvokeFactoryReset.
func (m *Manager) RegisterFactoryReset(ctx context.Context, owner any, fn func(privateData any), private any) (FactoryResetID, error) {
	var id FactoryResetID
	err := m.orchestrator.Run(ctx, &mutex.ControlContext{
		Owner: owner,
		ResourceEntry: func() error {
			var err error
			id, err = m.resources.NewFactoryReset(fn, private)
			return err
		},
	})
	if err != nil {
		return InvalidFactoryResetID, err
	}
	return id, nil
}

// UnregisterFactoryReset clears a previously registered callback.
func (m *Manager) UnregisterFactoryReset(ctx context.Context, owner any, id FactoryResetID) error {
	return m.orchestrator.Run(ctx, &mutex.ControlContext{
		Owner:         owner,
		ResourceEntry: func() error { return m.resources.DeleteFactoryReset(id) },
	})
}

// Downgrade acquires the storage lock (infinite wait) and asks the backend
// to prepare for a firmware downgrade.
func (m *Manager) Downgrade(ctx context.Context, owner any) error {
	return m.storageLock.WithLock(ctx, owner, mutex.Infinite, m.adapter.Downgrade)
}

// Lock acquires the storage lock directly, for callers that need to
// serialize a sequence of calls against concurrent storage access.
func (m *Manager) Lock(ctx context.Context, owner any, timeout time.Duration) error {
	return m.storageLock.Lock(ctx, owner, timeout)
}

// Unlock releases a lock acquired via Lock.
func (m *Manager) Unlock(owner any) error {
	return m.storageLock.Unlock(owner)
}

// GetCapabilities reports the engine-wide capability bits.
func (m *Manager) GetCapabilities() Capabilities {
	return m.adapter.Capabilities()
}

// GetItemCapabilities reports the static per-item-id capability bits.
func (m *Manager) GetItemCapabilities(itemID ItemID) (ItemCapabilities, error) {
	return m.adapter.ItemCapabilities(itemID)
}
