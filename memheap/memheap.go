// Package memheap provides a reference external.MemoryHeap: regions backed
// by an anonymous mmap when New is given Mappable, or by a temp-file-backed
// ReadWriteSeeker when it is given NotMappable — grounded on the teacher's
// anonymous-mmap allocation for ublk's staging buffers
// (internal/queue/runner.go), generalized from a fixed descriptor/buffer
// pair to arbitrarily many independently-sized regions.
package memheap

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-pstore/internal/external"
)

type region struct {
	size    uint32
	mapped  []byte
	file    *os.File
	mapMode bool
}

// Heap is an in-process external.MemoryHeap. When mmap is constructed with
// MapMode, every allocation is an anonymous MAP_PRIVATE mapping; otherwise
// every allocation is backed by a temp file, exercising the buffer bridge's
// file-I/O chunked path.
type Heap struct {
	mapMode bool

	mu      sync.Mutex
	regions map[external.HeapHandle]*region
	nextH   int64
}

// MapMode selects whether New's heap advertises mmap support.
type MapMode bool

const (
	Mappable    MapMode = true
	NotMappable MapMode = false
)

// New creates a heap. mode controls whether allocated regions are
// advertised (and actually backed) as memory-mappable.
func New(mode MapMode) *Heap {
	return &Heap{mapMode: bool(mode), regions: make(map[external.HeapHandle]*region)}
}

func (h *Heap) Allocate(size uint32) (external.HeapHandle, error) {
	r := &region{size: size, mapMode: h.mapMode}
	if h.mapMode {
		data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			return 0, fmt.Errorf("memheap: mmap: %w", err)
		}
		r.mapped = data
	} else {
		f, err := os.CreateTemp("", "pstore-heap-*")
		if err != nil {
			return 0, fmt.Errorf("memheap: create temp file: %w", err)
		}
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			os.Remove(f.Name())
			return 0, fmt.Errorf("memheap: truncate: %w", err)
		}
		r.file = f
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextH++
	handle := external.HeapHandle(h.nextH)
	h.regions[handle] = r
	return handle, nil
}

func (h *Heap) get(handle external.HeapHandle) (*region, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.regions[handle]
	if !ok {
		return nil, fmt.Errorf("memheap: unknown handle")
	}
	return r, nil
}

func (h *Heap) Free(handle external.HeapHandle) error {
	h.mu.Lock()
	r, ok := h.regions[handle]
	delete(h.regions, handle)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	if r.mapMode {
		if r.mapped != nil {
			return unix.Munmap(r.mapped)
		}
		return nil
	}
	if r.file != nil {
		name := r.file.Name()
		r.file.Close()
		os.Remove(name)
	}
	return nil
}

func (h *Heap) IsMapSupport(handle external.HeapHandle) external.MapSupport {
	r, err := h.get(handle)
	if err != nil || !r.mapMode {
		return external.MapNotSupported
	}
	return external.MapSupported
}

func (h *Heap) Map(handle external.HeapHandle) ([]byte, error) {
	r, err := h.get(handle)
	if err != nil {
		return nil, err
	}
	if !r.mapMode {
		return nil, fmt.Errorf("memheap: region is not mappable")
	}
	return r.mapped, nil
}

func (h *Heap) Unmap(handle external.HeapHandle) error {
	// The mapping stays resident for the region's lifetime; Unmap is a
	// no-op bookkeeping hook, matching Allocate/Free owning the mmap span
	// rather than each Map/Unmap pair.
	_, err := h.get(handle)
	return err
}

func (h *Heap) Open(handle external.HeapHandle) (io.ReadWriteSeeker, error) {
	r, err := h.get(handle)
	if err != nil {
		return nil, err
	}
	if r.mapMode {
		return nil, fmt.Errorf("memheap: region is mappable, use Map instead")
	}
	if _, err := r.file.Seek(0, 0); err != nil {
		return nil, err
	}
	return r.file, nil
}

func (h *Heap) Close(handle external.HeapHandle) error {
	// The file stays open for the region's lifetime (closed in Free); Close
	// here only ends the current read/write session.
	_, err := h.get(handle)
	return err
}

var _ external.MemoryHeap = (*Heap)(nil)
