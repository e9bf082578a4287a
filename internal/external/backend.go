// Package external defines the two out-of-scope collaborator contracts this
// engine drives but never implements for production use: the platform
// storage driver and the large-heap memory manager. Kept separate from the
// public pstore package (mirroring the teacher's internal/interfaces split)
// so reference implementations under backend/ and memheap/ can depend on it
// without importing the engine itself.
package external

import (
	"errors"
	"io"
)

// Sentinel errors a PlatformStorage/MemoryHeap implementation wraps (via
// fmt.Errorf("...: %w", ...) or returns directly) to let
// internal/storage.Adapter classify a failure into the right model.Status
// per spec.md §6, instead of everything collapsing to StatusUnavailable.
var (
	// ErrNotFound means the requested data-id/handle does not exist.
	ErrNotFound = errors.New("external: not found")
	// ErrInvalidOperation means the call is not valid in the backend's
	// current state (e.g. writing a read-only id).
	ErrInvalidOperation = errors.New("external: invalid operation")
	// ErrInvalidParam means an argument failed the backend's own validation.
	ErrInvalidParam = errors.New("external: invalid parameter")
	// ErrFault means the backend hit unrecoverable corruption or a media
	// fault; callers should treat the item as lost.
	ErrFault = errors.New("external: fault")
)

// OpenFlag selects the access mode for PlatformStorage.Open.
type OpenFlag int

const (
	OpenReadOnly OpenFlag = iota
	OpenWriteOnly
	OpenReadWrite
)

// DataHandle identifies an open platform-storage item for the duration of a
// single Open/.../Close cycle.
type DataHandle int64

// DataInfo reports the persisted size of a data-id.
type DataInfo struct {
	WrittenSize uint32
}

// IDCapabilities are the static per-data-id capability bits the backend
// reports.
type IDCapabilities struct {
	IsReadOnly  bool
	EnableSeek bool
}

// Capabilities are the backend-wide capability bits.
type Capabilities struct {
	EnableTmpID bool
}

// PlatformStorage is the opaque byte-addressable keyed store this engine
// persists into. Implementations are expected to be safe for concurrent use
// only to the extent the engine's storage lock already serializes callers;
// they need not add their own locking beyond what protects their own
// internal bookkeeping.
type PlatformStorage interface {
	Open(dataID uint32, flags OpenFlag) (DataHandle, error)
	Close(handle DataHandle) error
	Seek(handle DataHandle, offset int64) (int64, error)
	Read(handle DataHandle, buf []byte) (int, error)
	Write(handle DataHandle, buf []byte) (int, error)

	Erase(dataID uint32) error
	GetDataInfo(dataID uint32) (DataInfo, error)

	GetTmpDataID(dataID uint32) (uint32, error)
	SwitchData(tmpID, dataID uint32) error

	GetCapabilities() Capabilities
	GetIDCapabilities(dataID uint32) (IDCapabilities, error)

	FactoryReset(dataID uint32) error
	Clean() error
	Downgrade() error
}

// MapSupport reports whether a MemoryHeap region can be mapped into the
// caller's address space.
type MapSupport int

const (
	MapSupported MapSupport = iota
	MapNotSupported
)

// HeapHandle identifies an allocated large-heap region.
type HeapHandle int64

// MemoryHeap is the capability-advertising buffer provider the buffer
// bridge allocates backup/transfer regions from. Implementations that
// cannot mmap fall back to a file.Reader/Writer/Seeker/Closer-shaped API
// via Open/Close below, exactly as the external spec describes.
type MemoryHeap interface {
	Allocate(size uint32) (HeapHandle, error)
	Free(handle HeapHandle) error

	IsMapSupport(handle HeapHandle) MapSupport

	// Map/Unmap are valid only when IsMapSupport returns MapSupported.
	Map(handle HeapHandle) ([]byte, error)
	Unmap(handle HeapHandle) error

	// Open/Close bracket a file.-mode session over the region; the
	// returned ReadWriteSeeker is only valid between Open and Close.
	Open(handle HeapHandle) (io.ReadWriteSeeker, error)
	Close(handle HeapHandle) error
}
