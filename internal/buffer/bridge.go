// Package buffer implements the buffer bridge: it allocates/frees backing
// regions from the large-heap memory manager and moves bytes between a
// region and a platform-storage item, transparently choosing the mappable
// (zero-copy) path or the file-I/O (chunked through a scratch buffer) path
// per spec.md §4.4.
package buffer

import (
	"math"

	"github.com/behrlich/go-pstore/internal/external"
	"github.com/behrlich/go-pstore/internal/model"
)

// Region is an allocated backing buffer.
type Region struct {
	handle external.HeapHandle
	size   uint32
}

// Size returns the region's byte length.
func (r Region) Size() uint32 { return r.size }

// Bridge owns the large-heap handle and the scratch buffer used for the
// file-I/O path.
type Bridge struct {
	heap         external.MemoryHeap
	scratch      func() []byte
	bufferLength uint32
}

// New creates a bridge. scratch returns the resource table's single shared
// scratch buffer (see internal/resource.Table.GetBuffer) — lazily fetched
// on every file-mode call rather than cached here, since its lifetime is
// owned by the resource table.
func New(heap external.MemoryHeap, scratch func() []byte, bufferLength uint32) *Bridge {
	return &Bridge{heap: heap, scratch: scratch, bufferLength: bufferLength}
}

// Allocate reserves a region of size bytes.
func (b *Bridge) Allocate(size uint32) (Region, error) {
	if size == 0 || size >= math.MaxInt32 {
		return Region{}, model.New("Buffer.Allocate", model.StatusInternal, "invalid allocation size")
	}
	h, err := b.heap.Allocate(size)
	if err != nil {
		return Region{}, model.Wrap("Buffer.Allocate", model.StatusResourceExhausted, err)
	}
	return Region{handle: h, size: size}, nil
}

// Free releases a region. Freeing a zero-sized (zero-value) region is a
// no-op, matching the teacher's idempotent-free convention.
func (b *Bridge) Free(r Region) error {
	if r.size == 0 {
		return nil
	}
	if err := b.heap.Free(r.handle); err != nil {
		return model.Wrap("Buffer.Free", model.StatusInternal, err)
	}
	return nil
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return model.Wrap(op, model.StatusDataLoss, err)
}

// Save writes size bytes of region (starting at regionOffset) to storage
// item dataID at storageOffset.
func (b *Bridge) Save(storage external.PlatformStorage, r Region, regionOffset uint32, dataID uint32, storageOffset uint32, size uint32, enableOffset bool) error {
	if b.heap.IsMapSupport(r.handle) == external.MapSupported {
		addr, err := b.heap.Map(r.handle)
		if err != nil {
			return mapErr("Buffer.Save", err)
		}
		defer b.heap.Unmap(r.handle)

		n, err := storageWriteAt(storage, dataID, storageOffset, addr[regionOffset:regionOffset+size])
		if err != nil {
			return err
		}
		if uint32(n) != size {
			return model.New("Buffer.Save", model.StatusDataLoss, "short write to storage")
		}
		return nil
	}
	return b.fileTransfer(storage, r, regionOffset, dataID, storageOffset, size, enableOffset, true)
}

// Load reads size bytes of storage item dataID at storageOffset into region
// (starting at regionOffset).
func (b *Bridge) Load(storage external.PlatformStorage, r Region, regionOffset uint32, dataID uint32, storageOffset uint32, size uint32, enableOffset bool) error {
	if b.heap.IsMapSupport(r.handle) == external.MapSupported {
		addr, err := b.heap.Map(r.handle)
		if err != nil {
			return mapErr("Buffer.Load", err)
		}
		defer b.heap.Unmap(r.handle)

		n, err := storageReadAt(storage, dataID, storageOffset, addr[regionOffset:regionOffset+size])
		if err != nil {
			return err
		}
		if uint32(n) != size {
			return model.New("Buffer.Load", model.StatusDataLoss, "short read from storage")
		}
		return nil
	}
	return b.fileTransfer(storage, r, regionOffset, dataID, storageOffset, size, enableOffset, false)
}

// IsEqual compares region[regionOffset:regionOffset+size] against data,
// without touching storage. In file mode it streams sub-chunks through the
// scratch buffer and returns false on the first mismatched chunk.
func (b *Bridge) IsEqual(r Region, regionOffset uint32, size uint32, data []byte) (bool, error) {
	if uint32(len(data)) != size {
		return false, nil
	}
	if b.heap.IsMapSupport(r.handle) == external.MapSupported {
		addr, err := b.heap.Map(r.handle)
		if err != nil {
			return false, mapErr("Buffer.IsEqual", err)
		}
		defer b.heap.Unmap(r.handle)
		return bytesEqual(addr[regionOffset:regionOffset+size], data), nil
	}

	rw, err := b.heap.Open(r.handle)
	if err != nil {
		return false, mapErr("Buffer.IsEqual", err)
	}
	defer b.heap.Close(r.handle)

	if _, err := rw.Seek(int64(regionOffset), 0); err != nil {
		return false, mapErr("Buffer.IsEqual", err)
	}

	scratch := b.scratch()
	remaining := size
	var cursor uint32
	for remaining > 0 {
		chunk := remaining
		if chunk > uint32(len(scratch)) {
			chunk = uint32(len(scratch))
		}
		n, err := rw.Read(scratch[:chunk])
		if err != nil && n == 0 {
			return false, mapErr("Buffer.IsEqual", err)
		}
		if !bytesEqual(scratch[:n], data[cursor:cursor+uint32(n)]) {
			return false, nil
		}
		cursor += uint32(n)
		remaining -= uint32(n)
	}
	return true, nil
}

// ReadAll copies the full contents of a region out to a host []byte. Used
// by the typed codec to compare a freshly-loaded backup against a
// candidate new value.
func (b *Bridge) ReadAll(r Region) ([]byte, error) {
	if b.heap.IsMapSupport(r.handle) == external.MapSupported {
		addr, err := b.heap.Map(r.handle)
		if err != nil {
			return nil, mapErr("Buffer.ReadAll", err)
		}
		defer b.heap.Unmap(r.handle)
		out := make([]byte, r.size)
		copy(out, addr[:r.size])
		return out, nil
	}

	rw, err := b.heap.Open(r.handle)
	if err != nil {
		return nil, mapErr("Buffer.ReadAll", err)
	}
	defer b.heap.Close(r.handle)

	out := make([]byte, r.size)
	var read uint32
	for read < r.size {
		n, err := rw.Read(out[read:])
		if err != nil && n == 0 {
			return nil, mapErr("Buffer.ReadAll", err)
		}
		read += uint32(n)
	}
	return out, nil
}

func (b *Bridge) fileTransfer(storage external.PlatformStorage, r Region, regionOffset uint32, dataID uint32, storageOffset uint32, size uint32, enableOffset bool, isSave bool) error {
	if size > b.bufferLength && !enableOffset {
		return model.New("Buffer.fileTransfer", model.StatusInternal, "transfer exceeds scratch buffer with no offset capability")
	}

	rw, err := b.heap.Open(r.handle)
	if err != nil {
		return mapErr("Buffer.fileTransfer", err)
	}
	defer b.heap.Close(r.handle)

	if _, err := rw.Seek(int64(regionOffset), 0); err != nil {
		return mapErr("Buffer.fileTransfer", err)
	}

	scratch := b.scratch()
	var transferred uint32
	for transferred < size {
		chunk := size - transferred
		if chunk > uint32(len(scratch)) {
			chunk = uint32(len(scratch))
		}

		if isSave {
			n, err := rw.Read(scratch[:chunk])
			if err != nil && n == 0 {
				return mapErr("Buffer.fileTransfer", err)
			}
			wn, err := storageWriteAt(storage, dataID, storageOffset+transferred, scratch[:n])
			if err != nil {
				return err
			}
			if wn < n && storageOffset+transferred+uint32(wn) < storageOffset+size {
				return model.New("Buffer.fileTransfer", model.StatusInternal, "short write mid-transfer")
			}
			transferred += uint32(n)
		} else {
			rn, err := storageReadAt(storage, dataID, storageOffset+transferred, scratch[:chunk])
			if err != nil {
				return err
			}
			if uint32(rn) < chunk && storageOffset+transferred+uint32(rn) < storageOffset+size {
				return model.New("Buffer.fileTransfer", model.StatusInternal, "short read mid-transfer")
			}
			wn, err := rw.Write(scratch[:rn])
			if err != nil && wn == 0 {
				return mapErr("Buffer.fileTransfer", err)
			}
			transferred += uint32(rn)
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func storageWriteAt(storage external.PlatformStorage, dataID uint32, offset uint32, data []byte) (int, error) {
	h, err := storage.Open(dataID, external.OpenWriteOnly)
	if err != nil {
		return 0, mapErr("storageWriteAt", err)
	}
	defer storage.Close(h)
	if _, err := storage.Seek(h, int64(offset)); err != nil {
		return 0, mapErr("storageWriteAt", err)
	}
	n, err := storage.Write(h, data)
	if err != nil {
		return n, mapErr("storageWriteAt", err)
	}
	return n, nil
}

func storageReadAt(storage external.PlatformStorage, dataID uint32, offset uint32, buf []byte) (int, error) {
	h, err := storage.Open(dataID, external.OpenReadOnly)
	if err != nil {
		return 0, mapErr("storageReadAt", err)
	}
	defer storage.Close(h)
	if _, err := storage.Seek(h, int64(offset)); err != nil {
		return 0, mapErr("storageReadAt", err)
	}
	n, err := storage.Read(h, buf)
	if err != nil {
		return n, mapErr("storageReadAt", err)
	}
	return n, nil
}
