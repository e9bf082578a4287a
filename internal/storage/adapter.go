// Package storage implements the storage adapter (spec.md §4.5): the layer
// between the work engine and the platform-storage backend. It resolves an
// item-id to its catalog row, maps backend errors onto the model.Status
// taxonomy, and exposes the byte-level save/load/clear/update primitives the
// typed codec builds on.
package storage

import (
	"errors"
	"strconv"
	"sync"

	"github.com/behrlich/go-pstore/internal/catalog"
	"github.com/behrlich/go-pstore/internal/external"
	"github.com/behrlich/go-pstore/internal/logging"
	"github.com/behrlich/go-pstore/internal/model"
)

// Adapter binds a catalog to the one platform-storage backend this build
// wires up (model.BackendPl). Routing a BackendOther row fails with
// StatusUnavailable — see SPEC_FULL.md Open Questions on why "other" stays
// unresolved.
type Adapter struct {
	catalog *catalog.Table
	pl      external.PlatformStorage
	logger  *logging.Logger

	overrideMu sync.Mutex
	overrides  map[model.ItemID]uint32
}

// New binds a catalog and the platform-storage backend.
func New(cat *catalog.Table, pl external.PlatformStorage) *Adapter {
	return &Adapter{catalog: cat, pl: pl, logger: logging.Default()}
}

// SetDataIDOverride redirects itemID's data-id to dataID for every call that
// resolves through this adapter, until cleared. The work engine uses this to
// route a member's Save/Load/Clear through its in-progress update's tmp-id
// instead of its real data-id, for the duration of that one storage-locked
// call.
func (a *Adapter) SetDataIDOverride(itemID model.ItemID, dataID uint32) {
	a.overrideMu.Lock()
	defer a.overrideMu.Unlock()
	if a.overrides == nil {
		a.overrides = make(map[model.ItemID]uint32)
	}
	a.overrides[itemID] = dataID
}

// ClearDataIDOverride removes a prior override, resuming catalog-routed
// resolution for itemID.
func (a *Adapter) ClearDataIDOverride(itemID model.ItemID) {
	a.overrideMu.Lock()
	defer a.overrideMu.Unlock()
	delete(a.overrides, itemID)
}

// mapBackendErr classifies a raw backend error per spec.md §6: the three
// "caller got it wrong" sentinels collapse to PermissionDenied, ErrFault is
// treated as data loss, and any other error (connection drop, timeout,
// transient busy) is Unavailable since the backend may recover on retry.
func mapBackendErr(op string, itemID model.ItemID, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, external.ErrNotFound):
		return model.NewItemError(op, int32(itemID), model.StatusPermissionDenied, "backend: not found")
	case errors.Is(err, external.ErrInvalidOperation):
		return model.NewItemError(op, int32(itemID), model.StatusPermissionDenied, "backend: invalid operation")
	case errors.Is(err, external.ErrInvalidParam):
		return model.NewItemError(op, int32(itemID), model.StatusPermissionDenied, "backend: invalid parameter")
	case errors.Is(err, external.ErrFault):
		return model.NewItemError(op, int32(itemID), model.StatusDataLoss, "backend: fault")
	default:
		return model.NewItemError(op, int32(itemID), model.StatusUnavailable, err.Error())
	}
}

func (a *Adapter) resolve(op string, itemID model.ItemID) (model.CatalogRow, error) {
	row, ok := a.catalog.Lookup(itemID)
	if !ok {
		return model.CatalogRow{}, model.NewItemError(op, int32(itemID), model.StatusNotFound, "item-id not in catalog")
	}
	if row.Backend != model.BackendPl {
		return model.CatalogRow{}, model.NewItemError(op, int32(itemID), model.StatusUnavailable, "item-id routes to an unimplemented backend")
	}
	a.overrideMu.Lock()
	if dataID, ok := a.overrides[itemID]; ok {
		row.DataID = dataID
	}
	a.overrideMu.Unlock()
	return row, nil
}

// GetStorageInfo reports the live persisted size for itemID, used by
// get_work_storage_info and GetSize.
func (a *Adapter) GetStorageInfo(itemID model.ItemID) (model.StorageInfo, error) {
	row, err := a.resolve("GetStorageInfo", itemID)
	if err != nil {
		return model.StorageInfo{}, err
	}
	info, err := a.pl.GetDataInfo(row.DataID)
	if err != nil {
		if errors.Is(err, external.ErrNotFound) {
			return model.StorageInfo{WrittenSize: 0}, nil
		}
		return model.StorageInfo{}, mapBackendErr("GetStorageInfo", itemID, err)
	}
	return model.StorageInfo{WrittenSize: info.WrittenSize}, nil
}

// GetTmpStorageInfo reports the persisted size of a temporary data-id opened
// for an in-progress update, bypassing catalog resolution since a tmp-id
// isn't a catalog row.
func (a *Adapter) GetTmpStorageInfo(itemID model.ItemID, tmpID uint32) (model.StorageInfo, error) {
	info, err := a.pl.GetDataInfo(tmpID)
	if err != nil {
		if errors.Is(err, external.ErrNotFound) {
			return model.StorageInfo{WrittenSize: 0}, nil
		}
		return model.StorageInfo{}, mapBackendErr("GetTmpStorageInfo", itemID, err)
	}
	return model.StorageInfo{WrittenSize: info.WrittenSize}, nil
}

// ItemCapabilities reports the static per-item-id capability bits.
func (a *Adapter) ItemCapabilities(itemID model.ItemID) (model.ItemCapabilities, error) {
	row, err := a.resolve("ItemCapabilities", itemID)
	if err != nil {
		return model.ItemCapabilities{}, err
	}
	idCaps, err := a.pl.GetIDCapabilities(row.DataID)
	if err != nil {
		return model.ItemCapabilities{}, mapBackendErr("ItemCapabilities", itemID, err)
	}
	return model.ItemCapabilities{ReadOnly: idCaps.IsReadOnly, EnableOffset: idCaps.EnableSeek}, nil
}

// Capabilities reports the engine-wide capability bits. Cancellable mirrors
// the backend's EnableTmpID bit per SPEC_FULL.md's Open Question decision.
func (a *Adapter) Capabilities() model.Capabilities {
	return model.Capabilities{Cancellable: a.pl.GetCapabilities().EnableTmpID}
}

// ReadItem reads up to len(buf) bytes of itemID starting at storageOffset,
// returning the number of bytes actually read.
func (a *Adapter) ReadItem(itemID model.ItemID, storageOffset uint32, buf []byte) (int, error) {
	row, err := a.resolve("ReadItem", itemID)
	if err != nil {
		return 0, err
	}
	return a.readDataID(itemID, row.DataID, storageOffset, buf)
}

func (a *Adapter) readDataID(itemID model.ItemID, dataID uint32, storageOffset uint32, buf []byte) (int, error) {
	h, err := a.pl.Open(dataID, external.OpenReadOnly)
	if err != nil {
		return 0, mapBackendErr("ReadItem", itemID, err)
	}
	defer a.pl.Close(h)
	if _, err := a.pl.Seek(h, int64(storageOffset)); err != nil {
		return 0, mapBackendErr("ReadItem", itemID, err)
	}
	n, err := a.pl.Read(h, buf)
	if err != nil {
		return n, mapBackendErr("ReadItem", itemID, err)
	}
	return n, nil
}

// WriteItem writes data to itemID starting at storageOffset.
func (a *Adapter) WriteItem(itemID model.ItemID, storageOffset uint32, data []byte) error {
	row, err := a.resolve("WriteItem", itemID)
	if err != nil {
		return err
	}
	return a.writeDataID(itemID, row.DataID, storageOffset, data)
}

func (a *Adapter) writeDataID(itemID model.ItemID, dataID uint32, storageOffset uint32, data []byte) error {
	h, err := a.pl.Open(dataID, external.OpenWriteOnly)
	if err != nil {
		return mapBackendErr("WriteItem", itemID, err)
	}
	defer a.pl.Close(h)
	if _, err := a.pl.Seek(h, int64(storageOffset)); err != nil {
		return mapBackendErr("WriteItem", itemID, err)
	}
	n, err := a.pl.Write(h, data)
	if err != nil {
		return mapBackendErr("WriteItem", itemID, err)
	}
	if n != len(data) {
		return model.NewItemError("WriteItem", int32(itemID), model.StatusDataLoss, "short write to backend")
	}
	return nil
}

// Clear erases itemID's persisted value.
func (a *Adapter) Clear(itemID model.ItemID) error {
	row, err := a.resolve("Clear", itemID)
	if err != nil {
		return err
	}
	if err := a.pl.Erase(row.DataID); err != nil {
		if errors.Is(err, external.ErrNotFound) {
			return nil
		}
		return mapBackendErr("Clear", itemID, err)
	}
	return nil
}

// BeginUpdate allocates a temporary data-id standing in for itemID's real
// data-id for the duration of an update transaction.
func (a *Adapter) BeginUpdate(itemID model.ItemID) (uint32, error) {
	row, err := a.resolve("BeginUpdate", itemID)
	if err != nil {
		return 0, err
	}
	tmp, err := a.pl.GetTmpDataID(row.DataID)
	if err != nil {
		return 0, mapBackendErr("BeginUpdate", itemID, err)
	}
	return tmp, nil
}

// WriteTmp writes data into the temporary data-id opened for an in-progress
// update.
func (a *Adapter) WriteTmp(itemID model.ItemID, tmpID uint32, storageOffset uint32, data []byte) error {
	return a.writeDataID(itemID, tmpID, storageOffset, data)
}

// ReadTmp reads from the temporary data-id opened for an in-progress update.
func (a *Adapter) ReadTmp(itemID model.ItemID, tmpID uint32, storageOffset uint32, buf []byte) (int, error) {
	return a.readDataID(itemID, tmpID, storageOffset, buf)
}

// CompleteUpdate atomically swaps the temporary data-id into itemID's real
// data-id slot.
func (a *Adapter) CompleteUpdate(itemID model.ItemID, tmpID uint32) error {
	row, err := a.resolve("CompleteUpdate", itemID)
	if err != nil {
		return err
	}
	if err := a.pl.SwitchData(tmpID, row.DataID); err != nil {
		return mapBackendErr("CompleteUpdate", itemID, err)
	}
	return nil
}

// CancelUpdate discards a temporary data-id without switching it in.
func (a *Adapter) CancelUpdate(itemID model.ItemID, tmpID uint32) error {
	if err := a.pl.Erase(tmpID); err != nil {
		if errors.Is(err, external.ErrNotFound) {
			return nil
		}
		return mapBackendErr("CancelUpdate", itemID, err)
	}
	return nil
}

// FactoryReset resets every catalog row whose FactoryResetRequired bit is
// set. Per spec.md §4.7, a DataLoss or Internal per-item failure is fatal and
// aborts the loop; any other failure class is demoted to Ok and the loop
// moves on to the next row, mirroring the original's
// EsfParameterStorageManagerInternalInvokeFactoryResetRequired.
func (a *Adapter) FactoryReset() error {
	for _, row := range a.catalog.All() {
		if row.Backend != model.BackendPl || !row.FactoryResetRequired {
			continue
		}
		if err := a.pl.FactoryReset(row.DataID); err != nil {
			mapped := mapBackendErr("FactoryReset", row.ItemID, err)
			status := model.StatusOf(mapped)
			if status == model.StatusDataLoss || status == model.StatusInternal {
				return mapped
			}
			a.logger.WithItem(strconv.Itoa(int(row.ItemID))).WithError(mapped).Warn("factory reset: non-fatal per-item failure, continuing")
		}
	}
	return nil
}

// Clean asks the backend to drop any orphaned temporary data-ids.
func (a *Adapter) Clean() error {
	if err := a.pl.Clean(); err != nil {
		return model.Wrap("Clean", model.StatusUnavailable, err)
	}
	return nil
}

// Downgrade asks the backend to prepare for a firmware downgrade.
func (a *Adapter) Downgrade() error {
	if err := a.pl.Downgrade(); err != nil {
		return model.Wrap("Downgrade", model.StatusUnavailable, err)
	}
	return nil
}

// DataID returns the backend data-id itemID routes to, for callers (the
// buffer bridge, through the work engine) that need to address storage
// directly for large offset-capable items.
func (a *Adapter) DataID(itemID model.ItemID) (uint32, error) {
	row, err := a.resolve("DataID", itemID)
	if err != nil {
		return 0, err
	}
	return row.DataID, nil
}
