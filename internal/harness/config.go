package harness

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ahrav/ticketlock/ticket"
)

// Mode selects how workers take the lock under test.
type Mode string

const (
	// ModeLock has every worker call Lock.
	ModeLock Mode = "lock"
	// ModeTryLock has every worker loop on TryLock until it succeeds.
	ModeTryLock Mode = "trylock"
)

const (
	// DefaultIterations is the number of spawn/join rounds when none is configured.
	DefaultIterations = 2
	// DefaultWidth is the ticket counter width in bits.
	DefaultWidth = 8
	// DefaultBarrierPoll is how long a worker sleeps between start barrier checks.
	DefaultBarrierPoll = time.Millisecond
	// MaxWorkers caps the worker count regardless of the lock's capacity.
	MaxWorkers = 65535

	// Worker defaults for narrow and wide counters.
	defaultNarrowWorkers = 255
	defaultWideWorkers   = 300
)

var (
	// ErrInvalidMode is returned for a mode other than ModeLock or ModeTryLock.
	ErrInvalidMode = errors.New("harness: invalid mode")
	// ErrInvalidWidth is returned for a counter width other than 8, 16 or 32.
	ErrInvalidWidth = errors.New("harness: invalid counter width")
)

// Config describes one stress run.
type Config struct {
	Workers     int           `toml:"workers"`
	Iterations  int           `toml:"iterations"`
	Mode        Mode          `toml:"mode"`
	Width       int           `toml:"width"`
	BarrierPoll time.Duration `toml:"barrier_poll"`
	Debug       bool          `toml:"debug"`
}

// DefaultConfig returns the built-in configuration. Workers is left at zero and resolved
// by Normalize once the counter width is known.
func DefaultConfig() Config {
	return Config{
		Iterations:  DefaultIterations,
		Mode:        ModeLock,
		Width:       DefaultWidth,
		BarrierPoll: DefaultBarrierPoll,
	}
}

// LoadFile decodes a TOML file over cfg. Keys missing from the file keep their value.
func LoadFile(path string, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("harness: load config %s: %w", path, err)
	}
	return nil
}

// Validate reports settings that cannot be repaired by Normalize.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeLock, ModeTryLock:
	default:
		return fmt.Errorf("%w %q, want %q or %q", ErrInvalidMode, c.Mode, ModeLock, ModeTryLock)
	}
	if _, err := CapacityFor(c.Width); err != nil {
		return err
	}
	return nil
}

// Normalize replaces out-of-range numbers with defaults. A worker count that is not
// positive or exceeds capacity (or MaxWorkers) falls back to the default, never to a
// clamped value.
func (c Config) Normalize(capacity uint64) Config {
	if c.Workers <= 0 || uint64(c.Workers) > min(capacity, MaxWorkers) {
		c.Workers = DefaultWorkers(capacity)
	}
	if c.Iterations <= 0 {
		c.Iterations = DefaultIterations
	}
	if c.BarrierPoll <= 0 {
		c.BarrierPoll = DefaultBarrierPoll
	}
	return c
}

// DefaultWorkers is the worker count used when none, or an invalid one, is configured.
func DefaultWorkers(capacity uint64) int {
	if capacity < 256 {
		return int(min(capacity, defaultNarrowWorkers))
	}
	return defaultWideWorkers
}

// CapacityFor returns the lock capacity for a counter width in bits.
func CapacityFor(width int) (uint64, error) {
	switch width {
	case 8:
		return ticket.Capacity[uint8](), nil
	case 16:
		return ticket.Capacity[uint16](), nil
	case 32:
		return ticket.Capacity[uint32](), nil
	default:
		return 0, fmt.Errorf("%w %d, want 8, 16 or 32", ErrInvalidWidth, width)
	}
}
