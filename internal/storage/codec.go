package storage

import (
	"bytes"

	"github.com/behrlich/go-pstore/internal/buffer"
	"github.com/behrlich/go-pstore/internal/model"
	"github.com/behrlich/go-pstore/internal/rangecmp"
)

// SaveFunc persists one member's current value. backup is the bytes most
// recently loaded for this item (nil if none was loaded this call), letting
// the codec skip an unchanged write per spec.md §4.5's equal-to-current
// requirement.
type SaveFunc func(a *Adapter, br *buffer.Bridge, m model.MemberDescriptor, data any, backup []byte) error

// LoadFunc reads one member's persisted value back into the caller's data.
type LoadFunc func(a *Adapter, br *buffer.Bridge, m model.MemberDescriptor, data any) ([]byte, error)

// Codec is the typed save/load pair for one model.ItemType. Go-pstore uses a
// map[ItemType]Codec dispatch table rather than an ItemType-implementing
// interface per member, since a member's descriptor is plain data shared
// across the work engine and the codec, not an object with behavior of its
// own.
type Codec struct {
	Save SaveFunc
	Load LoadFunc
}

// Codecs is the fixed dispatch table, one entry per model.ItemType.
var Codecs = map[model.ItemType]Codec{
	model.ItemTypeBinaryArray:         {Save: saveDirect, Load: loadDirect},
	model.ItemTypeBinaryPointer:       {Save: saveDirect, Load: loadDirect},
	model.ItemTypeRaw:                 {Save: saveDirect, Load: loadDirect},
	model.ItemTypeString:              {Save: saveString, Load: loadString},
	model.ItemTypeOffsetBinaryArray:   {Save: saveOffset, Load: loadOffset},
	model.ItemTypeOffsetBinaryPointer: {Save: saveOffset, Load: loadOffset},
}

// Lookup returns the codec for an item type, or false if t is unknown (a
// caller-contract violation: every model.ItemType constant has an entry).
func Lookup(t model.ItemType) (Codec, bool) {
	c, ok := Codecs[t]
	return c, ok
}

// saveDirect writes a fixed/raw/pointer member's whole value at offset 0.
func saveDirect(a *Adapter, br *buffer.Bridge, m model.MemberDescriptor, data any, backup []byte) error {
	val, err := m.Get(data)
	if err != nil {
		return model.Wrap("Codec.Save", model.StatusInvalidArgument, err)
	}
	if uint32(len(val)) > m.MaxSize {
		return model.NewItemError("Codec.Save", int32(m.ItemID), model.StatusOutOfRange, "value exceeds declared max size")
	}
	if backup != nil && bytes.Equal(backup, val) {
		return nil
	}
	if len(val) < len(backup) {
		// A write at offset 0 does not shrink the item; clear it first so
		// no tail of the longer previous value survives.
		if err := a.Clear(m.ItemID); err != nil {
			return err
		}
	}
	return a.WriteItem(m.ItemID, 0, val)
}

func loadDirect(a *Adapter, br *buffer.Bridge, m model.MemberDescriptor, data any) ([]byte, error) {
	info, err := a.GetStorageInfo(m.ItemID)
	if err != nil {
		return nil, err
	}
	size := info.WrittenSize
	if size > m.MaxSize {
		size = m.MaxSize
	}
	buf := make([]byte, size)
	if size > 0 {
		n, err := a.ReadItem(m.ItemID, 0, buf)
		if err != nil {
			return nil, err
		}
		buf = buf[:n]
	}
	if m.Set != nil {
		if err := m.Set(data, buf); err != nil {
			return nil, model.Wrap("Codec.Load", model.StatusInvalidArgument, err)
		}
	}
	return buf, nil
}

// saveString trims a trailing NUL the caller's Get may include (the
// original C member type is a NUL-terminated buffer) before writing, so
// on-disk string items don't carry a dangling byte.
func saveString(a *Adapter, br *buffer.Bridge, m model.MemberDescriptor, data any, backup []byte) error {
	val, err := m.Get(data)
	if err != nil {
		return model.Wrap("Codec.Save", model.StatusInvalidArgument, err)
	}
	val = bytes.TrimRight(val, "\x00")
	if uint32(len(val)) >= m.MaxSize {
		return model.NewItemError("Codec.Save", int32(m.ItemID), model.StatusOutOfRange, "string exceeds declared max size")
	}
	if backup != nil && bytes.Equal(bytes.TrimRight(backup, "\x00"), val) {
		return nil
	}
	if len(val) < len(backup) {
		if err := a.Clear(m.ItemID); err != nil {
			return err
		}
	}
	return a.WriteItem(m.ItemID, 0, val)
}

func loadString(a *Adapter, br *buffer.Bridge, m model.MemberDescriptor, data any) ([]byte, error) {
	return loadDirect(a, br, m, data)
}

// saveOffset handles OffsetBinaryArray/OffsetBinaryPointer members, whose
// write position within the backend item is caller-supplied rather than
// always zero. The value is written straight through the adapter at that
// offset; the buffer bridge is not involved.
func saveOffset(a *Adapter, br *buffer.Bridge, m model.MemberDescriptor, data any, backup []byte) error {
	if m.OffsetOf == nil {
		return model.NewItemError("Codec.Save", int32(m.ItemID), model.StatusInternal, "offset item missing OffsetOf accessor")
	}
	offset, err := m.OffsetOf(data)
	if err != nil {
		return model.Wrap("Codec.Save", model.StatusInvalidArgument, err)
	}
	val, err := m.Get(data)
	if err != nil {
		return model.Wrap("Codec.Save", model.StatusInvalidArgument, err)
	}
	if uint32(len(val)) > m.MaxSize {
		return model.NewItemError("Codec.Save", int32(m.ItemID), model.StatusOutOfRange, "value exceeds declared max size")
	}
	if backup != nil && rangecmp.Equal(offset, val, 0, uint32(len(backup)), backup) {
		return nil
	}
	return a.WriteItem(m.ItemID, offset, val)
}

func loadOffset(a *Adapter, br *buffer.Bridge, m model.MemberDescriptor, data any) ([]byte, error) {
	if m.OffsetOf == nil {
		return nil, model.NewItemError("Codec.Load", int32(m.ItemID), model.StatusInternal, "offset item missing OffsetOf accessor")
	}
	offset, err := m.OffsetOf(data)
	if err != nil {
		return nil, model.Wrap("Codec.Load", model.StatusInvalidArgument, err)
	}
	info, err := a.GetStorageInfo(m.ItemID)
	if err != nil {
		return nil, err
	}
	size := m.MaxSize
	if info.WrittenSize < offset {
		size = 0
	} else if rem := info.WrittenSize - offset; rem < size {
		size = rem
	}
	buf := make([]byte, size)
	if size > 0 {
		n, err := a.ReadItem(m.ItemID, offset, buf)
		if err != nil {
			return nil, err
		}
		buf = buf[:n]
	}
	if m.Set != nil {
		if err := m.Set(data, buf); err != nil {
			return nil, model.Wrap("Codec.Load", model.StatusInvalidArgument, err)
		}
	}
	return buf, nil
}
