package mutex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/behrlich/go-pstore/internal/model"
)

func newController() *Controller {
	return &Controller{
		Resource: New("resource", nil),
		Storage:  New("storage", nil),
		Timeout:  time.Second,
	}
}

func TestControllerIllegalShape(t *testing.T) {
	c := newController()
	err := c.Run(context.Background(), &ControlContext{Owner: "a", ResourceExit: func() error { return nil }})
	if model.StatusOf(err) != model.StatusInternal {
		t.Fatalf("status = %v, want StatusInternal for ResourceExit-only shape", model.StatusOf(err))
	}
}

func TestControllerFullShapeRunsInOrder(t *testing.T) {
	c := newController()
	var order []string
	err := c.Run(context.Background(), &ControlContext{
		Owner:         "a",
		ResourceEntry: func() error { order = append(order, "entry"); return nil },
		StorageFunc:   func() error { order = append(order, "storage"); return nil },
		ResourceExit:  func() error { order = append(order, "exit"); return nil },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"entry", "storage", "exit"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestControllerResourceExitRunsAfterStorageFailure(t *testing.T) {
	c := newController()
	exitRan := false
	storageErr := model.New("op", model.StatusDataLoss, "write failed")
	err := c.Run(context.Background(), &ControlContext{
		Owner:         "a",
		ResourceEntry: func() error { return nil },
		StorageFunc:   func() error { return storageErr },
		ResourceExit:  func() error { exitRan = true; return nil },
	})
	if err != storageErr {
		t.Fatalf("Run error = %v, want the storage error", err)
	}
	if !exitRan {
		t.Fatal("ResourceExit must run even after StorageFunc fails")
	}
}

func TestControllerResourceEntryFailureSkipsRest(t *testing.T) {
	c := newController()
	storageRan, exitRan := false, false
	entryErr := model.New("op", model.StatusResourceExhausted, "no free handles")
	err := c.Run(context.Background(), &ControlContext{
		Owner:         "a",
		ResourceEntry: func() error { return entryErr },
		StorageFunc:   func() error { storageRan = true; return nil },
		ResourceExit:  func() error { exitRan = true; return nil },
	})
	if err != entryErr {
		t.Fatalf("Run error = %v, want the entry error", err)
	}
	if storageRan || exitRan {
		t.Fatal("StorageFunc/ResourceExit must not run when ResourceEntry fails")
	}
}

func TestControllerResourceExitErrorOnlyOverridesOk(t *testing.T) {
	c := newController()
	storageErr := model.New("op", model.StatusDataLoss, "primary failure")
	exitErr := model.New("op", model.StatusInternal, "exit failure")
	err := c.Run(context.Background(), &ControlContext{
		Owner:         "a",
		ResourceEntry: func() error { return nil },
		StorageFunc:   func() error { return storageErr },
		ResourceExit:  func() error { return exitErr },
	})
	if err != storageErr {
		t.Fatalf("Run error = %v, want the storage error (must not be overridden by exit error)", err)
	}
}

func TestControllerEntryOnlyShape(t *testing.T) {
	c := newController()
	ran := false
	err := c.Run(context.Background(), &ControlContext{
		Owner:         "a",
		ResourceEntry: func() error { ran = true; return nil },
	})
	if err != nil || !ran {
		t.Fatalf("entry-only shape: err=%v ran=%v", err, ran)
	}
}

func TestControllerStorageOnlyShape(t *testing.T) {
	c := newController()
	ran := false
	err := c.Run(context.Background(), &ControlContext{
		Owner:       "a",
		StorageFunc: func() error { ran = true; return nil },
	})
	if err != nil || !ran {
		t.Fatalf("storage-only shape: err=%v ran=%v", err, ran)
	}
}

func TestControllerPropagatesGenericStorageError(t *testing.T) {
	c := newController()
	want := errors.New("boom")
	err := c.Run(context.Background(), &ControlContext{
		Owner:       "a",
		StorageFunc: func() error { return want },
	})
	if err != want {
		t.Fatalf("Run error = %v, want %v", err, want)
	}
}
