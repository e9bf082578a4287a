package pstore

import (
	"fmt"
	"time"

	"github.com/behrlich/go-pstore/internal/external"
)

// Config is the build-time configuration spec.md §6 requires every caller
// to fix up front: HandleMax, Timeout, FactoryResetMax, UpdateMax, and
// BufferLength must all be positive.
type Config struct {
	HandleMax       int           `json:"handle_max"`
	Timeout         time.Duration `json:"-"`
	FactoryResetMax int           `json:"factory_reset_max"`
	UpdateMax       int           `json:"update_max"`
	BufferLength    uint32        `json:"buffer_length"`

	Storage external.PlatformStorage `json:"-"`
	Heap    external.MemoryHeap      `json:"-"`

	Logger   *LogConfig `json:"-"`
	Metrics  *Metrics   `json:"-"`
	Observer Observer   `json:"-"`
}

// DefaultConfig returns sane defaults for everything except Storage/Heap,
// which every caller must supply.
func DefaultConfig() Config {
	return Config{
		HandleMax:       8,
		Timeout:         5 * time.Second,
		FactoryResetMax: 8,
		UpdateMax:       4,
		BufferLength:    4096,
	}
}

// Validate checks the positivity constraints spec.md §6 requires.
func (c Config) Validate() error {
	switch {
	case c.HandleMax <= 0:
		return fmt.Errorf("pstore: HandleMax must be > 0")
	case c.Timeout <= 0:
		return fmt.Errorf("pstore: Timeout must be > 0")
	case c.FactoryResetMax <= 0:
		return fmt.Errorf("pstore: FactoryResetMax must be > 0")
	case c.UpdateMax <= 0:
		return fmt.Errorf("pstore: UpdateMax must be > 0")
	case c.BufferLength == 0:
		return fmt.Errorf("pstore: BufferLength must be > 0")
	case c.Storage == nil:
		return fmt.Errorf("pstore: Storage backend is required")
	case c.Heap == nil:
		return fmt.Errorf("pstore: Heap backend is required")
	default:
		return nil
	}
}
