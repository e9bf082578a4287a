package pstore_test

import (
	"context"
	"testing"

	"github.com/behrlich/go-pstore"
	"github.com/behrlich/go-pstore/backend/memstorage"
	"github.com/behrlich/go-pstore/internal/catalog"
	"github.com/behrlich/go-pstore/memheap"
)

const scenarioCatalog = `{items: [
	{id: 0, name: "WiFiSSID", backend: "pl", data_id: 0, type: "string", max_size: 33, factory_reset_required: false},
	{id: 1, name: "A", backend: "pl", data_id: 1, type: "string", max_size: 8, factory_reset_required: false},
	{id: 2, name: "B", backend: "pl", data_id: 2, type: "binary_array", max_size: 16, factory_reset_required: false},
	{id: 3, name: "C", backend: "pl", data_id: 3, type: "binary_array", max_size: 16, factory_reset_required: false},
	{id: 4, name: "X", backend: "pl", data_id: 4, type: "string", max_size: 4, factory_reset_required: false},
	{id: 5, name: "I1", backend: "pl", data_id: 5, type: "raw", max_size: 16, factory_reset_required: true},
	{id: 6, name: "I2", backend: "pl", data_id: 6, type: "raw", max_size: 16, factory_reset_required: false}
]}`

type owner struct{ name string }

func newManager(t *testing.T, store *memstorage.Memory) (*pstore.Manager, *catalog.Table) {
	t.Helper()
	cat, err := catalog.Load([]byte(scenarioCatalog))
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	cfg := pstore.DefaultConfig()
	cfg.Storage = store
	cfg.Heap = memheap.New(memheap.Mappable)
	mgr, err := pstore.New(cfg, cat)
	if err != nil {
		t.Fatalf("pstore.New: %v", err)
	}
	return mgr, cat
}

// scalarInfo builds a one-member StructInfo backed by box, the same
// accessor-closure shape the shell CLI and work-engine tests use.
func scalarInfo(itemID pstore.ItemID, itemType pstore.ItemType, maxSize uint32, box *[]byte) *pstore.StructInfo {
	return &pstore.StructInfo{Members: []pstore.MemberDescriptor{{
		ItemID:  itemID,
		Type:    itemType,
		MaxSize: maxSize,
		Enabled: func(pstore.Mask) bool { return true },
		Get:     func(any) ([]byte, error) { return *box, nil },
		Set:     func(_ any, v []byte) error { *box = append([]byte(nil), v...); return nil },
	}}}
}

const maskAll pstore.Mask = 1

// TestScenarioStringRoundTrip is S1: a string round-trips through
// save/load, IsDataEmpty reports non-empty, and a second identical save
// skips the backend write.
func TestScenarioStringRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memstorage.New(true)
	mgr, _ := newManager(t, store)
	own := owner{"s1"}

	h, err := mgr.Open(ctx, own)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer mgr.Close(ctx, own, h)

	box := []byte("MyNet")
	info := scalarInfo(pstore.ItemID(0), pstore.ItemTypeString, 33, &box)
	if err := mgr.Save(ctx, own, h, maskAll, nil, info, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var loadBox []byte
	loadInfo := scalarInfo(pstore.ItemID(0), pstore.ItemTypeString, 33, &loadBox)
	if err := mgr.Load(ctx, own, h, maskAll, nil, loadInfo, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(loadBox) != "MyNet" {
		t.Fatalf("Load = %q, want MyNet", loadBox)
	}
	if pstore.IsDataEmpty(nil, loadInfo, 0) {
		t.Fatal("IsDataEmpty = true, want false")
	}

	// A second identical save must not touch the backend: flip the backend
	// read-only so any write attempt fails the test.
	store.SetReadOnly(0, true)
	box2 := []byte("MyNet")
	info2 := scalarInfo(pstore.ItemID(0), pstore.ItemTypeString, 33, &box2)
	if err := mgr.Save(ctx, own, h, maskAll, nil, info2, nil); err != nil {
		t.Fatalf("second identical Save should be a no-op write, got: %v", err)
	}
}

// TestScenarioMultiMemberAtomicSaveRollsBack is S2: when a later member in
// a multi-member save fails, the whole save must roll back so a reload
// still returns the prior values.
func TestScenarioMultiMemberAtomicSaveRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memstorage.New(true)
	mgr, _ := newManager(t, store)
	own := owner{"s2"}

	h, err := mgr.Open(ctx, own)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer mgr.Close(ctx, own, h)

	aBox, bBox, cBox := []byte("abc"), []byte{0x01, 0x02}, []byte{0xFF}
	initial := &pstore.StructInfo{Members: []pstore.MemberDescriptor{
		scalarInfo(pstore.ItemID(1), pstore.ItemTypeString, 8, &aBox).Members[0],
		scalarInfo(pstore.ItemID(2), pstore.ItemTypeBinaryArray, 16, &bBox).Members[0],
		scalarInfo(pstore.ItemID(3), pstore.ItemTypeBinaryArray, 16, &cBox).Members[0],
	}}
	if err := mgr.Save(ctx, own, h, maskAll, nil, initial, nil); err != nil {
		t.Fatalf("initial Save: %v", err)
	}

	// Arrange the backend to fail C's write on the next save.
	store.SetReadOnly(3, true)

	aBox2, bBox2, cBox2 := []byte("xyz"), []byte{0x03, 0x04}, []byte{0xFE, 0xFD}
	next := &pstore.StructInfo{Members: []pstore.MemberDescriptor{
		scalarInfo(pstore.ItemID(1), pstore.ItemTypeString, 8, &aBox2).Members[0],
		scalarInfo(pstore.ItemID(2), pstore.ItemTypeBinaryArray, 16, &bBox2).Members[0],
		scalarInfo(pstore.ItemID(3), pstore.ItemTypeBinaryArray, 16, &cBox2).Members[0],
	}}
	if err := mgr.Save(ctx, own, h, maskAll, nil, next, nil); err == nil {
		t.Fatal("expected the save of C to fail")
	}

	var loadA, loadB, loadC []byte
	loadInfo := &pstore.StructInfo{Members: []pstore.MemberDescriptor{
		scalarInfo(pstore.ItemID(1), pstore.ItemTypeString, 8, &loadA).Members[0],
		scalarInfo(pstore.ItemID(2), pstore.ItemTypeBinaryArray, 16, &loadB).Members[0],
		scalarInfo(pstore.ItemID(3), pstore.ItemTypeBinaryArray, 16, &loadC).Members[0],
	}}
	if err := mgr.Load(ctx, own, h, maskAll, nil, loadInfo, nil); err != nil {
		t.Fatalf("Load after failed save: %v", err)
	}
	if string(loadA) != "abc" {
		t.Fatalf("A after rollback = %q, want abc", loadA)
	}
	if string(loadB) != "\x01\x02" {
		t.Fatalf("B after rollback = %x, want 0102", loadB)
	}
	if string(loadC) != "\xFF" {
		t.Fatalf("C after rollback = %x, want FF", loadC)
	}
}

// TestScenarioCancellableUpdateIsolatesUntilComplete is S3: a save made
// during an in-progress Copy update must be invisible to a second handle
// until update_complete runs.
func TestScenarioCancellableUpdateIsolatesUntilComplete(t *testing.T) {
	ctx := context.Background()
	store := memstorage.New(true) // EnableTmpID -> Cancellable capability
	mgr, _ := newManager(t, store)
	own1, own2 := owner{"h1"}, owner{"h2"}

	h, err := mgr.Open(ctx, own1)
	if err != nil {
		t.Fatalf("Open h: %v", err)
	}
	defer mgr.Close(ctx, own1, h)
	h2, err := mgr.Open(ctx, own2)
	if err != nil {
		t.Fatalf("Open h2: %v", err)
	}
	defer mgr.Close(ctx, own2, h2)

	origBox := []byte("prior")
	origInfo := scalarInfo(pstore.ItemID(1), pstore.ItemTypeString, 8, &origBox)
	if err := mgr.Save(ctx, own1, h, maskAll, nil, origInfo, nil); err != nil {
		t.Fatalf("seed Save: %v", err)
	}

	updateInfo := scalarInfo(pstore.ItemID(1), pstore.ItemTypeString, 8, new([]byte))
	if err := mgr.UpdateBegin(ctx, own1, h, maskAll, updateInfo, nil, pstore.UpdateCopy); err != nil {
		t.Fatalf("UpdateBegin: %v", err)
	}

	newBox := []byte("new")
	newInfo := scalarInfo(pstore.ItemID(1), pstore.ItemTypeString, 8, &newBox)
	if err := mgr.Save(ctx, own1, h, maskAll, nil, newInfo, nil); err != nil {
		t.Fatalf("Save during update: %v", err)
	}

	var fromH2 []byte
	h2Info := scalarInfo(pstore.ItemID(1), pstore.ItemTypeString, 8, &fromH2)
	if err := mgr.Load(ctx, own2, h2, maskAll, nil, h2Info, nil); err != nil {
		t.Fatalf("Load from h2 before complete: %v", err)
	}
	if string(fromH2) != "prior" {
		t.Fatalf("Load from h2 before complete = %q, want prior (uncommitted update must stay isolated)", fromH2)
	}

	if err := mgr.UpdateComplete(ctx, own1, h); err != nil {
		t.Fatalf("UpdateComplete: %v", err)
	}

	var afterComplete []byte
	afterInfo := scalarInfo(pstore.ItemID(1), pstore.ItemTypeString, 8, &afterComplete)
	if err := mgr.Load(ctx, own2, h2, maskAll, nil, afterInfo, nil); err != nil {
		t.Fatalf("Load from h2 after complete: %v", err)
	}
	if string(afterComplete) != "new" {
		t.Fatalf("Load from h2 after complete = %q, want new", afterComplete)
	}
}

// TestScenarioFactoryReset is S4.
func TestScenarioFactoryReset(t *testing.T) {
	ctx := context.Background()
	store := memstorage.New(true)
	mgr, _ := newManager(t, store)
	own := owner{"s4"}

	h, err := mgr.Open(ctx, own)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer mgr.Close(ctx, own, h)

	i1Box, i2Box := []byte("reset-me"), []byte("keep-me")
	info := &pstore.StructInfo{Members: []pstore.MemberDescriptor{
		scalarInfo(pstore.ItemID(5), pstore.ItemTypeRaw, 16, &i1Box).Members[0],
		scalarInfo(pstore.ItemID(6), pstore.ItemTypeRaw, 16, &i2Box).Members[0],
	}}
	if err := mgr.Save(ctx, own, h, maskAll, nil, info, nil); err != nil {
		t.Fatalf("seed Save: %v", err)
	}

	callCount := 0
	var gotPrivate any
	priv := "cb-private"
	id, err := mgr.RegisterFactoryReset(ctx, own, func(p any) {
		callCount++
		gotPrivate = p
	}, priv)
	if err != nil {
		t.Fatalf("RegisterFactoryReset: %v", err)
	}
	defer mgr.UnregisterFactoryReset(ctx, own, id)

	if err := mgr.InvokeFactoryReset(ctx, own); err != nil {
		t.Fatalf("InvokeFactoryReset: %v", err)
	}

	size1, err := mgr.GetSize(ctx, own, pstore.InvalidHandle, pstore.ItemID(5))
	if err != nil {
		t.Fatalf("GetSize I1: %v", err)
	}
	if size1 != 0 {
		t.Fatalf("GetSize I1 (factory_reset_required) after reset = %d, want 0", size1)
	}

	size2, err := mgr.GetSize(ctx, own, pstore.InvalidHandle, pstore.ItemID(6))
	if err != nil {
		t.Fatalf("GetSize I2: %v", err)
	}
	if size2 != uint32(len("keep-me")) {
		t.Fatalf("GetSize I2 (not factory_reset_required) after reset = %d, want %d", size2, len("keep-me"))
	}

	if callCount != 1 {
		t.Fatalf("factory reset callback invoked %d times, want 1", callCount)
	}
	if gotPrivate != priv {
		t.Fatalf("factory reset callback private = %v, want %v", gotPrivate, priv)
	}
}

// TestScenarioOutOfRangeSaveLeavesStateUnchanged is S5.
func TestScenarioOutOfRangeSaveLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := memstorage.New(true)
	mgr, _ := newManager(t, store)
	own := owner{"s5"}

	h, err := mgr.Open(ctx, own)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer mgr.Close(ctx, own, h)

	seedBox := []byte("ok")
	seedInfo := scalarInfo(pstore.ItemID(4), pstore.ItemTypeString, 4, &seedBox)
	if err := mgr.Save(ctx, own, h, maskAll, nil, seedInfo, nil); err != nil {
		t.Fatalf("seed Save: %v", err)
	}

	tooLongBox := []byte("12345")
	tooLongInfo := scalarInfo(pstore.ItemID(4), pstore.ItemTypeString, 4, &tooLongBox)
	err = mgr.Save(ctx, own, h, maskAll, nil, tooLongInfo, nil)
	if pstore.StatusOf(err) != pstore.StatusOutOfRange {
		t.Fatalf("Save overlong string: status = %v, want StatusOutOfRange", pstore.StatusOf(err))
	}

	var loadBox []byte
	loadInfo := scalarInfo(pstore.ItemID(4), pstore.ItemTypeString, 4, &loadBox)
	if err := mgr.Load(ctx, own, h, maskAll, nil, loadInfo, nil); err != nil {
		t.Fatalf("Load after rejected save: %v", err)
	}
	if string(loadBox) != "ok" {
		t.Fatalf("state after rejected save = %q, want unchanged ok", loadBox)
	}
}

// TestScenarioGetSizeSeesStaged is S6.
func TestScenarioGetSizeSeesStaged(t *testing.T) {
	ctx := context.Background()
	store := memstorage.New(true)
	mgr, _ := newManager(t, store)
	own := owner{"s6"}

	h, err := mgr.Open(ctx, own)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer mgr.Close(ctx, own, h)

	seedBox := []byte("before")
	seedInfo := scalarInfo(pstore.ItemID(1), pstore.ItemTypeString, 8, &seedBox)
	if err := mgr.Save(ctx, own, h, maskAll, nil, seedInfo, nil); err != nil {
		t.Fatalf("seed Save: %v", err)
	}
	previousSize := uint32(len("before"))

	beginInfo := scalarInfo(pstore.ItemID(1), pstore.ItemTypeString, 8, new([]byte))
	if err := mgr.UpdateBegin(ctx, own, h, maskAll, beginInfo, nil, pstore.UpdateEmpty); err != nil {
		t.Fatalf("UpdateBegin: %v", err)
	}

	stagedBox := []byte("0123456789")
	stagedInfo := scalarInfo(pstore.ItemID(1), pstore.ItemTypeString, 8, &stagedBox)
	// The member's declared max (8) applies to the real item, not the
	// string codec's trailing-NUL rule here since Raw-style string codecs
	// only check MaxSize on Save; keep the staged payload within bounds.
	stagedInfo.Members[0].MaxSize = 16
	if err := mgr.Save(ctx, own, h, maskAll, nil, stagedInfo, nil); err != nil {
		t.Fatalf("Save during update: %v", err)
	}

	sizeH, err := mgr.GetSize(ctx, own, h, pstore.ItemID(1))
	if err != nil {
		t.Fatalf("GetSize(h): %v", err)
	}
	if sizeH != uint32(len("0123456789")) {
		t.Fatalf("GetSize(h) = %d, want %d", sizeH, len("0123456789"))
	}

	sizeGlobal, err := mgr.GetSize(ctx, own, pstore.InvalidHandle, pstore.ItemID(1))
	if err != nil {
		t.Fatalf("GetSize(invalid): %v", err)
	}
	if sizeGlobal != previousSize {
		t.Fatalf("GetSize(invalid) = %d, want unchanged %d", sizeGlobal, previousSize)
	}

	if err := mgr.UpdateCancel(ctx, own, h); err != nil {
		t.Fatalf("UpdateCancel: %v", err)
	}
}
