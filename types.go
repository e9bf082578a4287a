// Package pstore is the public API of the transactional parameter storage
// manager: a library that persists a catalog of named configuration items
// into a platform storage backend, with crash-safe atomic multi-item
// updates, rollback on partial failure, factory-reset policies, and typed
// structured access with partial masking.
package pstore

import "github.com/behrlich/go-pstore/internal/model"

// Re-exported types so callers never import internal/model directly.
type (
	ItemID           = model.ItemID
	ItemType         = model.ItemType
	Handle           = model.Handle
	Mask             = model.Mask
	FactoryResetID   = model.FactoryResetID
	Status           = model.Status
	Error            = model.Error
	CustomOps        = model.CustomOps
	MemberDescriptor = model.MemberDescriptor
	StructInfo       = model.StructInfo
	ItemCapabilities = model.ItemCapabilities
	Capabilities     = model.Capabilities
	UpdateType       = model.UpdateType
)

const (
	ItemIDCustom = model.ItemIDCustom

	ItemTypeBinaryArray         = model.ItemTypeBinaryArray
	ItemTypeBinaryPointer       = model.ItemTypeBinaryPointer
	ItemTypeOffsetBinaryArray   = model.ItemTypeOffsetBinaryArray
	ItemTypeOffsetBinaryPointer = model.ItemTypeOffsetBinaryPointer
	ItemTypeString              = model.ItemTypeString
	ItemTypeRaw                 = model.ItemTypeRaw

	InvalidHandle         = model.InvalidHandle
	InvalidMask           = model.InvalidMask
	InvalidFactoryResetID = model.InvalidFactoryResetID

	UpdateEmpty = model.UpdateEmpty
	UpdateCopy  = model.UpdateCopy

	StatusOk                 = model.StatusOk
	StatusInvalidArgument    = model.StatusInvalidArgument
	StatusFailedPrecondition = model.StatusFailedPrecondition
	StatusNotFound           = model.StatusNotFound
	StatusOutOfRange         = model.StatusOutOfRange
	StatusPermissionDenied   = model.StatusPermissionDenied
	StatusResourceExhausted  = model.StatusResourceExhausted
	StatusDataLoss           = model.StatusDataLoss
	StatusUnavailable        = model.StatusUnavailable
	StatusInternal           = model.StatusInternal
	StatusTimedOut           = model.StatusTimedOut
)

// StatusOf extracts the Status carried by err, or StatusInternal if err
// didn't originate from this package.
func StatusOf(err error) Status { return model.StatusOf(err) }

// IsDataEmpty reports whether a member's declared-empty test passes: for
// BinaryArray/OffsetBinaryArray/OffsetBinaryPointer/Raw this is size == 0;
// for BinaryPointer it mirrors array semantics since go-pstore represents
// both as []byte; for String it's an empty (or all-NUL) string.
func IsDataEmpty(data any, info *StructInfo, index int) bool {
	if index < 0 || index >= len(info.Members) {
		return true
	}
	m := info.Members[index]
	if m.ItemID == ItemIDCustom || m.Get == nil {
		return true
	}
	val, err := m.Get(data)
	if err != nil {
		return true
	}
	switch m.Type {
	case ItemTypeString:
		for _, b := range val {
			if b != 0 {
				return false
			}
		}
		return true
	default:
		return len(val) == 0
	}
}
