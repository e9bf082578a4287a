// Package filestorage provides a directory-backed external.PlatformStorage:
// each data-id is one file under a root directory, and SwitchData commits a
// temporary file into its real name via github.com/natefinch/atomic so a
// crash mid-update never leaves a torn item, the Go-idiomatic realization
// of the original's tmp-id-then-switch_data scheme.
package filestorage

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/behrlich/go-pstore/internal/external"
)

type openHandle struct {
	path     string
	f        *os.File
	readOnly bool
}

// Store is a directory-backed external.PlatformStorage.
type Store struct {
	dir string

	mu      sync.Mutex
	handles map[external.DataHandle]*openHandle
	nextH   int64
	nextTmp uint32

	roMu     sync.Mutex
	readOnly map[uint32]bool

	enableTmpID bool
}

// New creates a store rooted at dir, which must already exist.
func New(dir string, enableTmpID bool) *Store {
	return &Store{
		dir:         dir,
		handles:     make(map[external.DataHandle]*openHandle),
		nextTmp:     1,
		readOnly:    make(map[uint32]bool),
		enableTmpID: enableTmpID,
	}
}

func (s *Store) pathFor(dataID uint32) string {
	return filepath.Join(s.dir, "item-"+strconv.FormatUint(uint64(dataID), 10))
}

func (s *Store) tmpPathFor(tmpID uint32) string {
	return filepath.Join(s.dir, "tmp-"+strconv.FormatUint(uint64(tmpID), 10))
}

// SetReadOnly marks dataID read-only.
func (s *Store) SetReadOnly(dataID uint32, readOnly bool) {
	s.roMu.Lock()
	defer s.roMu.Unlock()
	s.readOnly[dataID] = readOnly
}

func (s *Store) isReadOnly(dataID uint32) bool {
	s.roMu.Lock()
	defer s.roMu.Unlock()
	return s.readOnly[dataID]
}

func toErrno(path string, err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return external.ErrNotFound
	}
	return external.ErrFault
}

func (s *Store) Open(dataID uint32, flags external.OpenFlag) (external.DataHandle, error) {
	path := s.resolvedPath(dataID)
	if s.isReadOnly(dataID) && flags != external.OpenReadOnly {
		return 0, external.ErrInvalidOperation
	}

	var f *os.File
	var err error
	switch flags {
	case external.OpenReadOnly:
		f, err = os.Open(path)
	default:
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	}
	if err != nil {
		return 0, toErrno(path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextH++
	h := external.DataHandle(s.nextH)
	s.handles[h] = &openHandle{path: path, f: f, readOnly: flags == external.OpenReadOnly}
	return h, nil
}

func (s *Store) Close(handle external.DataHandle) error {
	s.mu.Lock()
	oh, ok := s.handles[handle]
	delete(s.handles, handle)
	s.mu.Unlock()
	if !ok {
		return external.ErrInvalidParam
	}
	return oh.f.Close()
}

func (s *Store) get(handle external.DataHandle) (*openHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oh, ok := s.handles[handle]
	if !ok {
		return nil, external.ErrInvalidParam
	}
	return oh, nil
}

func (s *Store) Seek(handle external.DataHandle, offset int64) (int64, error) {
	oh, err := s.get(handle)
	if err != nil {
		return 0, err
	}
	return oh.f.Seek(offset, io.SeekStart)
}

func (s *Store) Read(handle external.DataHandle, buf []byte) (int, error) {
	oh, err := s.get(handle)
	if err != nil {
		return 0, err
	}
	n, rerr := oh.f.Read(buf)
	if rerr != nil && rerr != io.EOF {
		return n, external.ErrFault
	}
	return n, nil
}

func (s *Store) Write(handle external.DataHandle, buf []byte) (int, error) {
	oh, err := s.get(handle)
	if err != nil {
		return 0, err
	}
	if oh.readOnly {
		return 0, external.ErrInvalidOperation
	}
	n, werr := oh.f.Write(buf)
	if werr != nil {
		return n, external.ErrFault
	}
	return n, nil
}

func (s *Store) Erase(dataID uint32) error {
	path := s.resolvedPath(dataID)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return external.ErrFault
	}
	return nil
}

func (s *Store) GetDataInfo(dataID uint32) (external.DataInfo, error) {
	fi, err := os.Stat(s.resolvedPath(dataID))
	if err != nil {
		if os.IsNotExist(err) {
			return external.DataInfo{}, external.ErrNotFound
		}
		return external.DataInfo{}, external.ErrFault
	}
	return external.DataInfo{WrittenSize: uint32(fi.Size())}, nil
}

func (s *Store) GetTmpDataID(dataID uint32) (uint32, error) {
	if !s.enableTmpID {
		return 0, external.ErrInvalidOperation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.nextTmp
	s.nextTmp++
	// The temp data-id addresses its own tmp-* file, not item-*, because
	// resolvedPath routes any id carrying tmpIDFlag to tmpPathFor — callers must use
	// the returned id only through this Store, never cross-mix with a
	// real data-id.
	return tmp | tmpIDFlag, nil
}

// tmpIDFlag distinguishes a temporary data-id from a real one in the single
// uint32 namespace the PlatformStorage interface shares between them.
const tmpIDFlag = 1 << 31

func (s *Store) resolvedPath(dataID uint32) string {
	if dataID&tmpIDFlag != 0 {
		return s.tmpPathFor(dataID &^ tmpIDFlag)
	}
	return s.pathFor(dataID)
}

func (s *Store) SwitchData(tmpID, dataID uint32) error {
	tmpPath := s.resolvedPath(tmpID)
	realPath := s.pathFor(dataID)
	f, err := os.Open(tmpPath)
	if err != nil {
		return toErrno(tmpPath, err)
	}
	defer f.Close()
	if err := atomic.WriteFile(realPath, f); err != nil {
		return external.ErrFault
	}
	os.Remove(tmpPath)
	return nil
}

func (s *Store) GetCapabilities() external.Capabilities {
	return external.Capabilities{EnableTmpID: s.enableTmpID}
}

func (s *Store) GetIDCapabilities(dataID uint32) (external.IDCapabilities, error) {
	return external.IDCapabilities{IsReadOnly: s.isReadOnly(dataID), EnableSeek: true}, nil
}

func (s *Store) FactoryReset(dataID uint32) error {
	if err := s.Erase(dataID); err != nil {
		return err
	}
	return nil
}

func (s *Store) Clean() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return external.ErrFault
	}
	for _, e := range entries {
		if len(e.Name()) >= 4 && e.Name()[:4] == "tmp-" {
			os.Remove(filepath.Join(s.dir, e.Name()))
		}
	}
	return nil
}

func (s *Store) Downgrade() error { return nil }

var _ external.PlatformStorage = (*Store)(nil)
