// Package sandbox holds what every sandboxed execution backend shares:
// resource ceilings ([Limits]), the per-invocation [Meter] that enforces
// them, and the failure taxonomy ([Error], [Kind]).
package sandbox

import (
	"fmt"
	"time"
)

// Limits are the resource ceilings of one function invocation.
// A zero field means no ceiling of that kind.
type Limits struct {
	// MemoryBytes bounds memory owned by the execution context.
	MemoryBytes int64
	// Timeout bounds wall-clock time of one invocation.
	Timeout time.Duration
	// MaxSteps bounds the number of interpreter instructions.
	MaxSteps int64
	// CallStackSize bounds the depth of nested calls inside the runtime.
	CallStackSize int
}

// Defaults follow the database's stock configuration: 1 MiB and 10ms.
const (
	DefaultMemoryBytes   = 1 << 20
	DefaultTimeout       = 10 * time.Millisecond
	DefaultCallStackSize = 200
)

func DefaultLimits() Limits {
	return Limits{
		MemoryBytes:   DefaultMemoryBytes,
		Timeout:       DefaultTimeout,
		CallStackSize: DefaultCallStackSize,
	}
}

// Validate rejects negative ceilings.
func (l Limits) Validate() error {
	switch {
	case l.MemoryBytes < 0:
		return fmt.Errorf("memory limit must not be negative, got %d", l.MemoryBytes)
	case l.Timeout < 0:
		return fmt.Errorf("time limit must not be negative, got %v", l.Timeout)
	case l.MaxSteps < 0:
		return fmt.Errorf("step limit must not be negative, got %d", l.MaxSteps)
	case l.CallStackSize < 0:
		return fmt.Errorf("call stack size must not be negative, got %d", l.CallStackSize)
	}
	return nil
}

func (l Limits) String() string {
	return fmt.Sprintf("memory=%d timeout=%v steps=%d stack=%d", l.MemoryBytes, l.Timeout, l.MaxSteps, l.CallStackSize)
}
