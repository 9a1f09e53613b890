package staging

import "time"

// Default sizing. The defaults favor small steady-state memory with cheap
// geometric growth under load.
const (
	// DefaultCapacity is the initial staging ring capacity (4 MiB).
	DefaultCapacity = 4 << 20

	// DefaultMaxCapacity bounds growth (256 MiB). A request whose aligned
	// size exceeds this fails with ErrCapacityExceeded.
	DefaultMaxCapacity = 256 << 20

	// MinAlignment is the minimum region alignment in bytes. Individual
	// transfers may be aligned further by their format (block-compressed
	// formats round to block granularity).
	MinAlignment = 16

	// DefaultWaitTimeout bounds every blocking wait on a completion token.
	// Exceeding it is treated as a lost device queue, not a slow one.
	DefaultWaitTimeout = 5 * time.Second
)

// Config holds construction parameters for a Device. The zero value is
// usable; every field defaults when unset or out of range.
type Config struct {
	// Capacity is the initial ring capacity in bytes.
	// Defaults to DefaultCapacity if 0.
	Capacity uint64

	// MaxCapacity bounds growth. Defaults to DefaultMaxCapacity if 0, and
	// is raised to Capacity if smaller.
	MaxCapacity uint64

	// Alignment is the base region alignment. Must be a power of two;
	// raised to MinAlignment if smaller.
	Alignment uint64

	// WaitTimeout bounds blocking waits on completion tokens.
	// Defaults to DefaultWaitTimeout if 0.
	WaitTimeout time.Duration
}

// withDefaults returns c with unset fields resolved.
func (c Config) withDefaults() Config {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MaxCapacity == 0 {
		c.MaxCapacity = DefaultMaxCapacity
	}
	if c.MaxCapacity < c.Capacity {
		c.MaxCapacity = c.Capacity
	}
	if c.Alignment < MinAlignment {
		c.Alignment = MinAlignment
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	return c
}
