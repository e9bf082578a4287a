// Package model holds the data model shared by every go-pstore package:
// item-ids, item types, struct descriptors, handles, and the per-call work
// context. It has no dependency on the public pstore package so internal
// packages can import it without creating an import cycle; pstore re-exports
// the names callers need as type aliases.
package model

// ItemID is a dense integer tag naming a persisted logical item.
type ItemID int32

// ItemIDCustom is the sentinel item-id for caller-defined members dispatched
// through CustomOps instead of the typed codec.
const ItemIDCustom ItemID = -1

// ItemType selects the codec used to serialize a member's bytes.
type ItemType int

const (
	ItemTypeBinaryArray ItemType = iota
	ItemTypeBinaryPointer
	ItemTypeOffsetBinaryArray
	ItemTypeOffsetBinaryPointer
	ItemTypeString
	ItemTypeRaw
)

func (t ItemType) String() string {
	switch t {
	case ItemTypeBinaryArray:
		return "BinaryArray"
	case ItemTypeBinaryPointer:
		return "BinaryPointer"
	case ItemTypeOffsetBinaryArray:
		return "OffsetBinaryArray"
	case ItemTypeOffsetBinaryPointer:
		return "OffsetBinaryPointer"
	case ItemTypeString:
		return "String"
	case ItemTypeRaw:
		return "Raw"
	default:
		return "Unknown"
	}
}

// BackendTag routes an item-id to the backend that owns it.
type BackendTag int

const (
	BackendPl BackendTag = iota
	BackendOther
	BackendMax
)

// UpdateType selects how update_begin seeds the temporary id.
type UpdateType int

const (
	UpdateEmpty UpdateType = iota
	UpdateCopy
)

// CancelPolicy records what the rollback pass must do for one member.
type CancelPolicy int

const (
	CancelSkip CancelPolicy = iota
	CancelSave
	CancelClear
)

// Handle is the small integer identifying an open caller session.
type Handle int32

// InvalidHandle is the distinguished "no handle" value.
const InvalidHandle Handle = -1

// Mask is a caller-opaque value threaded into each member's predicate.
type Mask uint64

// InvalidMask is the distinguished "no mask" value.
const InvalidMask Mask = 0

// FactoryResetID identifies a registered factory-reset callback slot.
type FactoryResetID int32

// InvalidFactoryResetID is the distinguished "no registration" value.
const InvalidFactoryResetID FactoryResetID = -1

// CustomOps carries the four closures a Custom member dispatches to instead
// of the typed codec.
type CustomOps struct {
	Save   func(privateData any) error
	Load   func(privateData any) error
	Clear  func(privateData any) error
	Cancel func(privateData any) error
}

// MemberDescriptor describes one member of a caller's StructInfo. Rather
// than the original's raw byte offset into the caller's struct (meaningful
// only with C memory layout), a go-pstore member carries accessor closures
// that read/write the caller's Go value directly — the idiomatic
// replacement for offset+memcpy that needs no unsafe pointer arithmetic.
type MemberDescriptor struct {
	ItemID  ItemID
	Type    ItemType
	MaxSize uint32
	// Enabled is the mask predicate: given the call's mask, is this member
	// in scope? Evaluated exactly once per call, during setup_work_mask.
	Enabled func(mask Mask) bool
	// Get extracts this member's candidate bytes from the caller's data for
	// a save. Nil for Custom members.
	Get func(data any) ([]byte, error)
	// Set stores loaded bytes back into the caller's data for a load. Nil
	// for Custom members.
	Set func(data any, value []byte) error
	// OffsetOf returns the write offset for OffsetBinaryArray/
	// OffsetBinaryPointer members, whose codec fails with StatusInternal
	// when it is nil. Every other item type ignores it.
	OffsetOf func(data any) (uint32, error)
	// Custom is non-nil iff ItemID == ItemIDCustom.
	Custom *CustomOps
}

// StructInfo is the ordered sequence of member descriptors a caller passes
// to Save/Load/Clear/UpdateBegin. Order fixes iteration and rollback order.
type StructInfo struct {
	Members []MemberDescriptor
}

// ItemCapabilities are the per-item-id static capability bits.
type ItemCapabilities struct {
	ReadOnly     bool
	EnableOffset bool
}

// Capabilities are the engine-wide capability bits.
type Capabilities struct {
	Cancellable bool
}

// StorageInfo is the live size/flags the storage adapter reports for one
// member ahead of a save/clear/load.
type StorageInfo struct {
	WrittenSize uint32
}

// CatalogRow is one static row of the item-id -> backend routing table.
type CatalogRow struct {
	ItemID              ItemID
	Backend             BackendTag
	DataID              uint32
	MaxSize             uint32
	FactoryResetRequired bool
}

// UpdateEntry is one (item-id, temporary-data-id) pair in a handle's update
// list.
type UpdateEntry struct {
	ItemID ItemID
	TmpID  uint32
}
