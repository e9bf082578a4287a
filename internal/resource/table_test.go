package resource

import (
	"testing"

	"github.com/behrlich/go-pstore/internal/model"
)

func TestNewHandleAndExhaustion(t *testing.T) {
	tb := New(2, 2, 4, 64)

	h0, err := tb.NewHandle()
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	h1, err := tb.NewHandle()
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	if h0 == h1 {
		t.Fatal("expected distinct handles")
	}

	_, err = tb.NewHandle()
	if model.StatusOf(err) != model.StatusResourceExhausted {
		t.Fatalf("status = %v, want StatusResourceExhausted", model.StatusOf(err))
	}
}

func TestDeleteHandleWhileReferenced(t *testing.T) {
	tb := New(1, 1, 1, 64)
	h, _ := tb.NewHandle()

	if err := tb.Reference(h); err != nil {
		t.Fatalf("Reference: %v", err)
	}
	err := tb.DeleteHandle(h)
	if model.StatusOf(err) != model.StatusFailedPrecondition {
		t.Fatalf("status = %v, want StatusFailedPrecondition", model.StatusOf(err))
	}

	if err := tb.Unreference(h); err != nil {
		t.Fatalf("Unreference: %v", err)
	}
	if err := tb.DeleteHandle(h); err != nil {
		t.Fatalf("DeleteHandle after unreference: %v", err)
	}
	if tb.IsValid(h) {
		t.Fatal("handle should be invalid after delete")
	}
}

func TestUnreferenceAtZero(t *testing.T) {
	tb := New(1, 1, 1, 64)
	h, _ := tb.NewHandle()
	err := tb.Unreference(h)
	if model.StatusOf(err) != model.StatusInternal {
		t.Fatalf("status = %v, want StatusInternal", model.StatusOf(err))
	}
}

func TestUnknownHandleIsNotFound(t *testing.T) {
	tb := New(1, 1, 1, 64)
	if tb.IsValid(model.Handle(5)) {
		t.Fatal("out-of-range handle should be invalid")
	}
	err := tb.Reference(model.Handle(5))
	if model.StatusOf(err) != model.StatusNotFound {
		t.Fatalf("status = %v, want StatusNotFound", model.StatusOf(err))
	}
}

func TestFactoryResetRegistry(t *testing.T) {
	tb := New(1, 2, 1, 64)
	calls := 0
	id, err := tb.NewFactoryReset(func(any) { calls++ }, nil)
	if err != nil {
		t.Fatalf("NewFactoryReset: %v", err)
	}

	entries := tb.ListFactoryResets()
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	entries[0].Fn(entries[0].Private)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	if err := tb.DeleteFactoryReset(id); err != nil {
		t.Fatalf("DeleteFactoryReset: %v", err)
	}
	if len(tb.ListFactoryResets()) != 0 {
		t.Fatal("expected no registrations after delete")
	}

	_, err = tb.NewFactoryReset(nil, nil)
	_, err2 := tb.NewFactoryReset(nil, nil)
	if err != nil || err2 != nil {
		t.Fatalf("unexpected error re-filling table: %v, %v", err, err2)
	}
	_, err3 := tb.NewFactoryReset(nil, nil)
	if model.StatusOf(err3) != model.StatusResourceExhausted {
		t.Fatalf("status = %v, want StatusResourceExhausted", model.StatusOf(err3))
	}
}

func TestUpdateListLifecycle(t *testing.T) {
	tb := New(2, 1, 2, 64)
	h, _ := tb.NewHandle()

	if err := tb.HandleIsAlreadyBeingUpdated(h); err != nil {
		t.Fatalf("fresh handle should not be updating: %v", err)
	}

	if err := tb.SetUpdateData(h, model.ItemID(1), 100); err != nil {
		t.Fatalf("SetUpdateData: %v", err)
	}

	if err := tb.HandleIsAlreadyBeingUpdated(h); model.StatusOf(err) != model.StatusFailedPrecondition {
		t.Fatalf("status = %v, want StatusFailedPrecondition", model.StatusOf(err))
	}

	if err := tb.UpdateDataExistsInHandles(model.ItemID(1)); model.StatusOf(err) != model.StatusFailedPrecondition {
		t.Fatalf("status = %v, want StatusFailedPrecondition", model.StatusOf(err))
	}
	if err := tb.UpdateDataExistsInHandles(model.ItemID(2)); err != nil {
		t.Fatalf("unrelated item should not conflict: %v", err)
	}

	entry, found, err := tb.FindUpdateEntry(h, model.ItemID(1))
	if err != nil || !found || entry.TmpID != 100 {
		t.Fatalf("FindUpdateEntry = %+v, %v, %v", entry, found, err)
	}

	list, err := tb.GetUpdateData(h)
	if err != nil || len(list) != 1 {
		t.Fatalf("GetUpdateData = %v, %v", list, err)
	}

	if err := tb.RemoveUpdateData(h); err != nil {
		t.Fatalf("RemoveUpdateData: %v", err)
	}
	if err := tb.HandleIsAlreadyBeingUpdated(h); err != nil {
		t.Fatalf("handle should be clear after RemoveUpdateData: %v", err)
	}
}

func TestUpdateListFull(t *testing.T) {
	tb := New(1, 1, 1, 64)
	h, _ := tb.NewHandle()
	if err := tb.SetUpdateData(h, model.ItemID(1), 1); err != nil {
		t.Fatalf("SetUpdateData: %v", err)
	}
	err := tb.SetUpdateData(h, model.ItemID(2), 2)
	if model.StatusOf(err) != model.StatusInternal {
		t.Fatalf("status = %v, want StatusInternal", model.StatusOf(err))
	}
}

func TestScratchBufferLazyAllocationAndFree(t *testing.T) {
	tb := New(1, 1, 1, 128)
	if tb.BufferLength() != 128 {
		t.Fatalf("BufferLength() = %d, want 128", tb.BufferLength())
	}
	buf := tb.GetBuffer()
	if len(buf) != 128 {
		t.Fatalf("len(buf) = %d, want 128", len(buf))
	}
	// Same backing buffer returned on repeat calls.
	buf2 := tb.GetBuffer()
	if &buf[0] != &buf2[0] {
		t.Fatal("GetBuffer should return the same backing array across calls")
	}
	tb.FreeBuffer()
	buf3 := tb.GetBuffer()
	if len(buf3) != 128 {
		t.Fatalf("len(buf3) = %d, want 128 after re-allocation", len(buf3))
	}
}
