// Package workengine drives the save/load/clear/update lifecycles (spec.md
// §4.6): it turns a caller's StructInfo + mask into a per-call work context,
// walks the enabled members in declaration order dispatching to the typed
// codec, and rolls a partially-applied save/clear back on failure.
package workengine

import (
	"github.com/behrlich/go-pstore/internal/buffer"
	"github.com/behrlich/go-pstore/internal/external"
	"github.com/behrlich/go-pstore/internal/logging"
	"github.com/behrlich/go-pstore/internal/model"
	"github.com/behrlich/go-pstore/internal/resource"
	"github.com/behrlich/go-pstore/internal/storage"
)

// workMember is the runtime state the engine accumulates for one member
// across a single call, layered on top of its static descriptor.
type workMember struct {
	desc model.MemberDescriptor

	enabled bool

	update     bool
	updateData uint32

	storageInfo  model.StorageInfo
	capabilities model.ItemCapabilities

	cancel model.CancelPolicy
	backup []byte
}

// Work is one call's state: the member array plus the caller context it was
// built from.
type Work struct {
	mask    model.Mask
	data    any
	info    *model.StructInfo
	private any

	members []workMember
	enabled int
}

// Engine binds the catalog-backed storage adapter, the buffer bridge, and
// the resource table's update-list bookkeeping into the operations above.
type Engine struct {
	adapter   *storage.Adapter
	bridge    *buffer.Bridge
	pl        external.PlatformStorage
	resources *resource.Table
	logger    *logging.Logger
}

// New creates a work engine. pl is the same platform-storage backend bound
// into adapter, kept here too since the buffer bridge's Load/Save take a
// raw external.PlatformStorage rather than routing through the adapter's
// item-id resolution a second time.
func New(adapter *storage.Adapter, bridge *buffer.Bridge, pl external.PlatformStorage, resources *resource.Table, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{adapter: adapter, bridge: bridge, pl: pl, resources: resources, logger: logger}
}

// AllocateWork builds an empty per-call work context sized to info.
func (e *Engine) AllocateWork(mask model.Mask, data any, info *model.StructInfo, private any) *Work {
	w := &Work{}
	w.Reset(mask, data, info, private)
	return w
}

// Reset rebinds an existing Work to a new call, reusing its member slice
// when its capacity covers info's members — the allocation-avoiding fast path behind
// pstore's SaveWithContext/LoadWithContext for callers issuing the same
// save/load repeatedly (e.g. a periodic calibration-data flush).
func (w *Work) Reset(mask model.Mask, data any, info *model.StructInfo, private any) {
	w.mask = mask
	w.data = data
	w.info = info
	w.private = private
	w.enabled = 0
	if cap(w.members) >= len(info.Members) {
		w.members = w.members[:len(info.Members)]
	} else {
		w.members = make([]workMember, len(info.Members))
	}
	for i, m := range info.Members {
		w.members[i] = workMember{desc: m}
	}
}

// SetupWorkMask evaluates every member's mask predicate exactly once and
// returns the number of members now in scope.
func (e *Engine) SetupWorkMask(w *Work) int {
	w.enabled = 0
	for i := range w.members {
		m := &w.members[i]
		m.enabled = m.desc.Enabled == nil || m.desc.Enabled(w.mask)
		if m.enabled {
			w.enabled++
		}
	}
	return w.enabled
}

// GetWorkStorageInfo fetches the handle's update list once, marks any
// enabled member currently mid-update, and for every enabled non-Custom
// member fetches its live storage size and static capabilities.
func (e *Engine) GetWorkStorageInfo(handle model.Handle, w *Work) error {
	updates, err := e.resources.GetUpdateData(handle)
	if err != nil {
		return err
	}

	for i := range w.members {
		m := &w.members[i]
		if !m.enabled {
			continue
		}
		for _, u := range updates {
			if u.ItemID == m.desc.ItemID {
				m.update = true
				m.updateData = u.TmpID
				break
			}
		}
		if m.desc.ItemID == model.ItemIDCustom {
			continue
		}
		if m.update {
			// Every subsequent adapter call for this item-id — here and
			// through the rest of Save/Load/Clear — resolves to the
			// in-progress update's tmp-id instead of the real one, so a
			// save during an update stages into the tmp-id and a
			// concurrent handle's load still sees the committed value.
			e.adapter.SetDataIDOverride(m.desc.ItemID, m.updateData)
		}
		info, err := e.adapter.GetStorageInfo(m.desc.ItemID)
		if err != nil {
			return err
		}
		m.storageInfo = info
		caps, err := e.adapter.ItemCapabilities(m.desc.ItemID)
		if err != nil {
			return err
		}
		m.capabilities = caps
	}
	return nil
}

// clearOverrides removes every data-id override GetWorkStorageInfo set for
// this call's in-progress-update members, run once Save/Load/Clear is done
// so a later call against the real item-id (from this or another handle)
// resolves normally again.
func (e *Engine) clearOverrides(w *Work) {
	for i := range w.members {
		m := &w.members[i]
		if m.update && m.desc.ItemID != model.ItemIDCustom {
			e.adapter.ClearDataIDOverride(m.desc.ItemID)
		}
	}
}

// loadBackup allocates a large-heap region sized to the member's live
// persisted value, loads it through the buffer bridge (so the mappable and
// file-chunked paths both apply to a backup that may exceed the scratch
// buffer), and returns the backup as host bytes for the equal-to-current
// check and for rollback.
func (e *Engine) loadBackup(m *workMember) ([]byte, error) {
	if m.storageInfo.WrittenSize == 0 {
		return nil, nil
	}
	dataID, err := e.adapter.DataID(m.desc.ItemID)
	if err != nil {
		return nil, err
	}
	region, err := e.bridge.Allocate(m.storageInfo.WrittenSize)
	if err != nil {
		return nil, err
	}
	defer e.bridge.Free(region)

	if err := e.bridge.Load(e.pl, region, 0, dataID, 0, m.storageInfo.WrittenSize, m.capabilities.EnableOffset); err != nil {
		return nil, err
	}
	return e.bridge.ReadAll(region)
}

// Save drives the save operate loop over every enabled member in
// declaration order, rolling back on the first failure.
func (e *Engine) Save(handle model.Handle, w *Work) error {
	defer e.clearOverrides(w)
	for i := range w.members {
		m := &w.members[i]
		if !m.enabled {
			continue
		}

		if m.desc.ItemID == model.ItemIDCustom {
			if err := m.desc.Custom.Save(w.private); err != nil {
				if rbErr := e.internalCancel(w, i); rbErr != nil {
					return model.Wrap("Save", model.StatusDataLoss, rbErr)
				}
				return err
			}
			continue
		}

		if m.capabilities.ReadOnly {
			err := model.NewItemError("Save", int32(m.desc.ItemID), model.StatusPermissionDenied, "item is read-only")
			if rbErr := e.internalCancel(w, i); rbErr != nil {
				return model.Wrap("Save", model.StatusDataLoss, rbErr)
			}
			return err
		}

		var backup []byte
		if m.storageInfo.WrittenSize == 0 {
			m.cancel = model.CancelClear
		} else {
			m.cancel = model.CancelSave
			b, err := e.loadBackup(m)
			if err != nil {
				if rbErr := e.internalCancel(w, i); rbErr != nil {
					return model.Wrap("Save", model.StatusDataLoss, rbErr)
				}
				return err
			}
			backup = b
			m.backup = b
		}

		codec, ok := storage.Lookup(m.desc.Type)
		if !ok {
			err := model.NewItemError("Save", int32(m.desc.ItemID), model.StatusInternal, "no codec for item type")
			if rbErr := e.internalCancel(w, i); rbErr != nil {
				return model.Wrap("Save", model.StatusDataLoss, rbErr)
			}
			return err
		}
		if err := codec.Save(e.adapter, e.bridge, m.desc, w.data, backup); err != nil {
			if rbErr := e.internalCancel(w, i); rbErr != nil {
				return model.Wrap("Save", model.StatusDataLoss, rbErr)
			}
			return err
		}
	}
	return nil
}

// Load mirrors Save, populating the caller's data from persisted bytes.
// Load never mutates the backend, so it never rolls back.
func (e *Engine) Load(handle model.Handle, w *Work) error {
	defer e.clearOverrides(w)
	for i := range w.members {
		m := &w.members[i]
		if !m.enabled {
			continue
		}
		if m.desc.ItemID == model.ItemIDCustom {
			if err := m.desc.Custom.Load(w.private); err != nil {
				return err
			}
			continue
		}
		codec, ok := storage.Lookup(m.desc.Type)
		if !ok {
			return model.NewItemError("Load", int32(m.desc.ItemID), model.StatusInternal, "no codec for item type")
		}
		if _, err := codec.Load(e.adapter, e.bridge, m.desc, w.data); err != nil {
			return err
		}
	}
	return nil
}

// Clear drives the clear operate loop: read-only is fatal, an already-empty
// item is a no-op success, otherwise the backup is captured for rollback
// before erasing.
func (e *Engine) Clear(handle model.Handle, w *Work) error {
	defer e.clearOverrides(w)
	for i := range w.members {
		m := &w.members[i]
		if !m.enabled {
			continue
		}
		if m.desc.ItemID == model.ItemIDCustom {
			if err := m.desc.Custom.Clear(w.private); err != nil {
				if rbErr := e.internalCancel(w, i); rbErr != nil {
					return model.Wrap("Clear", model.StatusDataLoss, rbErr)
				}
				return err
			}
			continue
		}
		if m.capabilities.ReadOnly {
			err := model.NewItemError("Clear", int32(m.desc.ItemID), model.StatusPermissionDenied, "item is read-only")
			if rbErr := e.internalCancel(w, i); rbErr != nil {
				return model.Wrap("Clear", model.StatusDataLoss, rbErr)
			}
			return err
		}
		if m.storageInfo.WrittenSize == 0 {
			m.cancel = model.CancelSkip
			continue
		}
		m.cancel = model.CancelSave
		backup, err := e.loadBackup(m)
		if err != nil {
			if rbErr := e.internalCancel(w, i); rbErr != nil {
				return model.Wrap("Clear", model.StatusDataLoss, rbErr)
			}
			return err
		}
		m.backup = backup
		if err := e.adapter.Clear(m.desc.ItemID); err != nil {
			if rbErr := e.internalCancel(w, i); rbErr != nil {
				return model.Wrap("Clear", model.StatusDataLoss, rbErr)
			}
			return err
		}
	}
	return nil
}

// internalCancel rolls back every member already processed before index
// failedAt, walking backwards in reverse declaration order.
func (e *Engine) internalCancel(w *Work, failedAt int) error {
	for i := failedAt - 1; i >= 0; i-- {
		m := &w.members[i]
		if !m.enabled {
			continue
		}
		if m.desc.ItemID == model.ItemIDCustom {
			if err := m.desc.Custom.Cancel(w.private); err != nil {
				return err
			}
			continue
		}
		switch m.cancel {
		case model.CancelSkip:
			continue
		case model.CancelClear:
			if err := e.adapter.Clear(m.desc.ItemID); err != nil {
				return err
			}
		case model.CancelSave:
			if err := e.adapter.WriteItem(m.desc.ItemID, 0, m.backup); err != nil {
				return err
			}
		}
	}
	return nil
}

// BeginUpdate runs update_begin for every enabled non-Custom member,
// appending (item_id, tmp_id) to the handle's update list, rolling back
// already-begun members backwards on the first failure.
func (e *Engine) BeginUpdate(handle model.Handle, w *Work, updateType model.UpdateType) error {
	if err := e.resources.HandleIsAlreadyBeingUpdated(handle); err != nil {
		return err
	}
	for i := range w.members {
		m := &w.members[i]
		if !m.enabled || m.desc.ItemID == model.ItemIDCustom {
			continue
		}
		if err := e.resources.UpdateDataExistsInHandles(m.desc.ItemID); err != nil {
			return err
		}
	}
	if err := e.GetWorkStorageInfo(handle, w); err != nil {
		return err
	}

	for i := range w.members {
		m := &w.members[i]
		if !m.enabled || m.desc.ItemID == model.ItemIDCustom {
			continue
		}
		tmp, err := e.adapter.BeginUpdate(m.desc.ItemID)
		if err != nil {
			e.rollbackBegin(w, i)
			return err
		}
		if updateType == model.UpdateCopy && m.storageInfo.WrittenSize > 0 {
			if err := e.copyIntoTmp(m, tmp); err != nil {
				e.rollbackBegin(w, i)
				return err
			}
		}
		if err := e.resources.SetUpdateData(handle, m.desc.ItemID, tmp); err != nil {
			e.rollbackBegin(w, i)
			return err
		}
		m.update = true
		m.updateData = tmp
	}
	return nil
}

const updateCopyCap = 64 * 1024

func (e *Engine) copyIntoTmp(m *workMember, tmpID uint32) error {
	size := m.storageInfo.WrittenSize
	if size > updateCopyCap {
		return model.NewItemError("BeginUpdate", int32(m.desc.ItemID), model.StatusInternal, "update copy exceeds bounded cap")
	}
	buf := make([]byte, size)
	if _, err := e.adapter.ReadItem(m.desc.ItemID, 0, buf); err != nil {
		return err
	}
	return e.adapter.WriteTmp(m.desc.ItemID, tmpID, 0, buf)
}

func (e *Engine) rollbackBegin(w *Work, failedAt int) {
	for i := failedAt - 1; i >= 0; i-- {
		m := &w.members[i]
		if !m.enabled || !m.update || m.desc.ItemID == model.ItemIDCustom {
			continue
		}
		e.adapter.CancelUpdate(m.desc.ItemID, m.updateData)
		m.update = false
	}
}

// requireBeingUpdated fails FailedPrecondition unless handle's update list is
// non-empty — the inverse of HandleIsAlreadyBeingUpdated's guard, needed
// because update_complete/update_cancel require a prior update_begin while
// update_begin requires the opposite.
func (e *Engine) requireBeingUpdated(op string, handle model.Handle) error {
	updates, err := e.resources.GetUpdateData(handle)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return model.NewHandleError(op, int32(handle), model.StatusFailedPrecondition, "handle has no update in progress")
	}
	return nil
}

// CompleteUpdate switches every tmp-id in the handle's update list into its
// real data-id, then clears the list.
func (e *Engine) CompleteUpdate(handle model.Handle) error {
	if err := e.requireBeingUpdated("CompleteUpdate", handle); err != nil {
		return err
	}
	updates, err := e.resources.GetUpdateData(handle)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if err := e.adapter.CompleteUpdate(u.ItemID, u.TmpID); err != nil {
			return err
		}
	}
	return e.resources.RemoveUpdateData(handle)
}

// CancelUpdate discards every tmp-id in the handle's update list.
func (e *Engine) CancelUpdate(handle model.Handle) error {
	if err := e.requireBeingUpdated("CancelUpdate", handle); err != nil {
		return err
	}
	updates, err := e.resources.GetUpdateData(handle)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if err := e.adapter.CancelUpdate(u.ItemID, u.TmpID); err != nil {
			return err
		}
	}
	return e.resources.RemoveUpdateData(handle)
}

// GetSize reports how many bytes a subsequent Load would read for itemID.
// If handle names an in-progress update for itemID, the temporary value's
// size is reported instead of the live value's.
func (e *Engine) GetSize(handle model.Handle, itemID model.ItemID) (uint32, error) {
	if handle != model.InvalidHandle {
		entry, found, err := e.resources.FindUpdateEntry(handle, itemID)
		if err != nil {
			return 0, err
		}
		if found {
			info, err := e.adapter.GetTmpStorageInfo(itemID, entry.TmpID)
			if err != nil {
				return 0, err
			}
			return info.WrittenSize, nil
		}
	}
	info, err := e.adapter.GetStorageInfo(itemID)
	if err != nil {
		return 0, err
	}
	return info.WrittenSize, nil
}
