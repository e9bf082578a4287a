package mutex

import (
	"context"
	"time"

	"github.com/behrlich/go-pstore/internal/model"
)

// ControlContext describes one orchestrated call. Only three shapes are
// legal: all three closures set; ResourceEntry only; StorageFunc only.
// Any other combination is a callable-contract violation (model.StatusInternal).
type ControlContext struct {
	Owner         any
	ResourceEntry func() error
	StorageFunc   func() error
	ResourceExit  func() error
}

func (c *ControlContext) legalShape() bool {
	all := c.ResourceEntry != nil && c.StorageFunc != nil && c.ResourceExit != nil
	entryOnly := c.ResourceEntry != nil && c.StorageFunc == nil && c.ResourceExit == nil
	storageOnly := c.ResourceEntry == nil && c.StorageFunc != nil && c.ResourceExit == nil
	return all || entryOnly || storageOnly
}

// Controller pairs the resource and storage locks and runs ControlContexts
// against them per spec: resource-entry (timed) then storage (timed) then
// resource-exit (infinite wait, always runs unless resource-entry failed).
type Controller struct {
	Resource *ReentrantLock
	Storage  *ReentrantLock
	Timeout  time.Duration
}

// Run executes cc's closures in order and returns the first non-Ok status.
// ResourceExit always runs when ResourceEntry succeeded (or was absent),
// even if StorageFunc failed, and its own failure only overrides an
// otherwise-Ok result.
func (c *Controller) Run(ctx context.Context, cc *ControlContext) error {
	if !cc.legalShape() {
		return model.New("ExclusiveControl", model.StatusInternal, "illegal orchestrator closure shape")
	}

	if cc.ResourceEntry != nil {
		if err := c.Resource.WithLock(ctx, cc.Owner, c.Timeout, cc.ResourceEntry); err != nil {
			return err
		}
	}

	var result error

	if cc.StorageFunc != nil {
		if err := c.Storage.WithLock(ctx, cc.Owner, c.Timeout, cc.StorageFunc); err != nil {
			result = err
		}
	}

	if cc.ResourceExit != nil {
		if err := c.Resource.WithLock(ctx, cc.Owner, Infinite, cc.ResourceExit); err != nil && result == nil {
			result = err
		}
	}

	return result
}
