package model

import "fmt"

// Status is the closed set of outcomes every public operation returns.
type Status int

const (
	StatusOk Status = iota
	StatusInvalidArgument
	StatusFailedPrecondition
	StatusNotFound
	StatusOutOfRange
	StatusPermissionDenied
	StatusResourceExhausted
	StatusDataLoss
	StatusUnavailable
	StatusInternal
	StatusTimedOut
)

var statusNames = [...]string{
	StatusOk:                 "ok",
	StatusInvalidArgument:    "invalid_argument",
	StatusFailedPrecondition: "failed_precondition",
	StatusNotFound:           "not_found",
	StatusOutOfRange:         "out_of_range",
	StatusPermissionDenied:   "permission_denied",
	StatusResourceExhausted:  "resource_exhausted",
	StatusDataLoss:           "data_loss",
	StatusUnavailable:        "unavailable",
	StatusInternal:           "internal",
	StatusTimedOut:           "timed_out",
}

// String returns the status's canonical name. Total: every Status value,
// including out-of-range ones, returns a string.
func (s Status) String() string {
	if int(s) < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Error is the structured error type returned by every fallible operation
// in go-pstore. It carries enough context to log without string-parsing.
type Error struct {
	Op     string // operation that failed, e.g. "Save", "UpdateBegin"
	Handle int32  // handle involved, or -1 if not applicable
	ItemID int32  // item-id involved, or -1 if not applicable
	Status Status
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Status.String()
	}
	if e.Op == "" {
		return fmt.Sprintf("pstore: %s", msg)
	}
	if e.ItemID >= 0 {
		return fmt.Sprintf("pstore: %s: item=%d: %s", e.Op, e.ItemID, msg)
	}
	if e.Handle >= 0 {
		return fmt.Sprintf("pstore: %s: handle=%d: %s", e.Op, e.Handle, msg)
	}
	return fmt.Sprintf("pstore: %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is against another *Error, comparing only Status; any
// other target does not match.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Status == te.Status
	}
	return false
}

// New creates a structured error with no handle/item context.
func New(op string, status Status, msg string) *Error {
	return &Error{Op: op, Handle: -1, ItemID: -1, Status: status, Msg: msg}
}

// NewHandleError creates a structured error scoped to a handle.
func NewHandleError(op string, handle int32, status Status, msg string) *Error {
	return &Error{Op: op, Handle: handle, ItemID: -1, Status: status, Msg: msg}
}

// NewItemError creates a structured error scoped to an item-id.
func NewItemError(op string, itemID int32, status Status, msg string) *Error {
	return &Error{Op: op, Handle: -1, ItemID: itemID, Status: status, Msg: msg}
}

// Wrap wraps an existing error under the given operation and status. A nil
// inner error yields a nil *Error, mirroring the teacher's WrapError.
func Wrap(op string, status Status, inner error) *Error {
	if inner == nil {
		return nil
	}
	if pe, ok := inner.(*Error); ok {
		return &Error{Op: op, Handle: pe.Handle, ItemID: pe.ItemID, Status: pe.Status, Msg: pe.Msg, Inner: pe.Inner}
	}
	return &Error{Op: op, Handle: -1, ItemID: -1, Status: status, Msg: inner.Error(), Inner: inner}
}

// StatusOf extracts the Status carried by err, or StatusInternal if err is
// not a *Error (a caller-contract violation: every internal error path must
// produce a *Error).
func StatusOf(err error) Status {
	if err == nil {
		return StatusOk
	}
	var pe *Error
	if as(err, &pe) {
		return pe.Status
	}
	return StatusInternal
}

// as is a tiny local errors.As to avoid importing errors in this hot path
// for the common case where err is directly *Error.
func as(err error, target **Error) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
