// Package memstorage provides a RAM-based external.PlatformStorage, the
// reference backend for tests and the shell demo. It shards its locking per
// data-id rather than per byte-range (unlike a block device, a parameter
// store's items are independently-sized named blobs, not one flat address
// space), following the teacher's sharded-locking Memory backend in spirit.
package memstorage

import (
	"io"
	"sync"

	"github.com/behrlich/go-pstore/internal/external"
)

type item struct {
	mu       sync.RWMutex
	data     []byte
	readOnly bool
}

type openHandle struct {
	dataID   uint32
	tmp      bool
	pos      int64
	readOnly bool
}

// Memory is an in-process external.PlatformStorage backed by per-data-id
// byte slices.
type Memory struct {
	mu       sync.Mutex
	items    map[uint32]*item
	tmpItems map[uint32]*item
	nextTmp  uint32
	nextH    int64
	handles  map[external.DataHandle]*openHandle
	tmpID    bool
}

// tmpIDBase is the first temporary data-id; every id at or above it
// addresses tmpItems.
const tmpIDBase uint32 = 1 << 24

// New creates an empty memory-backed store. enableTmpID controls whether
// GetCapabilities reports support for cancellable updates.
func New(enableTmpID bool) *Memory {
	return &Memory{
		items:    make(map[uint32]*item),
		tmpItems: make(map[uint32]*item),
		nextTmp:  tmpIDBase, // keep temp ids out of the normal data-id range
		handles:  make(map[external.DataHandle]*openHandle),
		tmpID:    enableTmpID,
	}
}

func (m *Memory) resolve(dataID uint32) *item {
	if dataID >= tmpIDBase {
		return m.tmpItems[dataID]
	}
	return m.items[dataID]
}

func (m *Memory) ensure(dataID uint32) *item {
	if dataID >= tmpIDBase {
		it, ok := m.tmpItems[dataID]
		if !ok {
			it = &item{}
			m.tmpItems[dataID] = it
		}
		return it
	}
	it, ok := m.items[dataID]
	if !ok {
		it = &item{}
		m.items[dataID] = it
	}
	return it
}

// SetReadOnly marks dataID read-only, for exercising the PermissionDenied
// path in tests.
func (m *Memory) SetReadOnly(dataID uint32, readOnly bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(dataID).readOnly = readOnly
}

func (m *Memory) Open(dataID uint32, flags external.OpenFlag) (external.DataHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.resolve(dataID)
	if it == nil {
		if flags == external.OpenReadOnly {
			return 0, external.ErrNotFound
		}
		it = m.ensure(dataID)
	}
	if it.readOnly && flags != external.OpenReadOnly {
		return 0, external.ErrInvalidOperation
	}
	m.nextH++
	h := external.DataHandle(m.nextH)
	m.handles[h] = &openHandle{dataID: dataID, readOnly: flags == external.OpenReadOnly}
	return h, nil
}

func (m *Memory) Close(handle external.DataHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, handle)
	return nil
}

func (m *Memory) Seek(handle external.DataHandle, offset int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oh, ok := m.handles[handle]
	if !ok {
		return 0, external.ErrInvalidParam
	}
	oh.pos = offset
	return offset, nil
}

func (m *Memory) Read(handle external.DataHandle, buf []byte) (int, error) {
	m.mu.Lock()
	oh, ok := m.handles[handle]
	if !ok {
		m.mu.Unlock()
		return 0, external.ErrInvalidParam
	}
	it := m.resolve(oh.dataID)
	m.mu.Unlock()
	if it == nil {
		return 0, nil
	}
	it.mu.RLock()
	defer it.mu.RUnlock()
	if oh.pos >= int64(len(it.data)) {
		return 0, io.EOF
	}
	n := copy(buf, it.data[oh.pos:])
	oh.pos += int64(n)
	return n, nil
}

func (m *Memory) Write(handle external.DataHandle, buf []byte) (int, error) {
	m.mu.Lock()
	oh, ok := m.handles[handle]
	if !ok {
		m.mu.Unlock()
		return 0, external.ErrInvalidParam
	}
	if oh.readOnly {
		m.mu.Unlock()
		return 0, external.ErrInvalidOperation
	}
	it := m.ensure(oh.dataID)
	m.mu.Unlock()

	it.mu.Lock()
	defer it.mu.Unlock()
	end := oh.pos + int64(len(buf))
	if end > int64(len(it.data)) {
		grown := make([]byte, end)
		copy(grown, it.data)
		it.data = grown
	}
	n := copy(it.data[oh.pos:end], buf)
	oh.pos += int64(n)
	return n, nil
}

func (m *Memory) Erase(dataID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.resolve(dataID)
	if it == nil {
		return external.ErrNotFound
	}
	it.mu.Lock()
	it.data = nil
	it.mu.Unlock()
	return nil
}

func (m *Memory) GetDataInfo(dataID uint32) (external.DataInfo, error) {
	m.mu.Lock()
	it := m.resolve(dataID)
	m.mu.Unlock()
	if it == nil {
		return external.DataInfo{}, external.ErrNotFound
	}
	it.mu.RLock()
	defer it.mu.RUnlock()
	return external.DataInfo{WrittenSize: uint32(len(it.data))}, nil
}

func (m *Memory) GetTmpDataID(dataID uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tmpID {
		return 0, external.ErrInvalidOperation
	}
	tmp := m.nextTmp
	m.nextTmp++
	m.tmpItems[tmp] = &item{}
	return tmp, nil
}

func (m *Memory) SwitchData(tmpID, dataID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tmp, ok := m.tmpItems[tmpID]
	if !ok {
		return external.ErrNotFound
	}
	m.items[dataID] = tmp
	delete(m.tmpItems, tmpID)
	return nil
}

func (m *Memory) GetCapabilities() external.Capabilities {
	return external.Capabilities{EnableTmpID: m.tmpID}
}

func (m *Memory) GetIDCapabilities(dataID uint32) (external.IDCapabilities, error) {
	m.mu.Lock()
	it := m.resolve(dataID)
	m.mu.Unlock()
	readOnly := it != nil && it.readOnly
	return external.IDCapabilities{IsReadOnly: readOnly, EnableSeek: true}, nil
}

func (m *Memory) FactoryReset(dataID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.resolve(dataID)
	if it == nil {
		return nil
	}
	it.mu.Lock()
	it.data = nil
	it.mu.Unlock()
	return nil
}

func (m *Memory) Clean() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tmpItems = make(map[uint32]*item)
	return nil
}

func (m *Memory) Downgrade() error { return nil }

var _ external.PlatformStorage = (*Memory)(nil)
