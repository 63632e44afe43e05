package sandbox

import (
	"context"
	"errors"
	"math/bits"
	"runtime/metrics"
	"sync"
	"sync/atomic"
	"time"
)

// Sample is one memory estimate of an execution context.
type Sample struct {
	// Bytes is the estimated total.
	Bytes int64
	// Largest is the size of the largest single value. Repeated
	// concatenation can grow it geometrically; everything else grows by a
	// bounded amount per step.
	Largest int64
}

// Sampler estimates the memory held by an execution context. It may stop
// counting once the total exceeds limit.
type Sampler func(limit int64) Sample

const (
	// checkInterval is the number of steps between checks when memory is
	// not being sampled.
	checkInterval = 1024
	// maxStride caps the steps between memory samples.
	maxStride = 128
	// maxStepGrowth bounds the bytes one step can add without
	// concatenation.
	maxStepGrowth = 2048
	// maxWalkInterval is the most steps between two heap walks.
	maxWalkInterval = 4096
	// allocGrowth scales allocated bytes into the sampler's units, whose
	// per-entry costs exceed what the runtime allocates for a slot.
	allocGrowth = 2
)

const allocsMetric = "/gc/heap/allocs:bytes"

// allocatedBytes reads the bytes the process has allocated so far. It
// reports false if the runtime does not provide the metric.
func allocatedBytes() (int64, bool) {
	s := [1]metrics.Sample{{Name: allocsMetric}}
	metrics.Read(s[:])
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0, false
	}
	return int64(s[0].Value.Uint64()), true
}

// Meter enforces [Limits] on one invocation. It is a context.Context whose
// Done method is polled by the interpreter before every instruction; each
// poll counts one step, and every few steps the meter checks the step
// budget, the deadline and (through a [Sampler]) memory.
//
// Once aborted, Done returns a closed channel for good, so code running in
// the sandbox cannot catch the abort and continue.
type Meter struct {
	parent  context.Context
	limits  Limits
	start   time.Time
	sampler Sampler
	allocs  func() (int64, bool)

	// State of the last heap walk, touched only by the metered goroutine.
	walked     bool
	walkStep   int64
	walkAllocs int64
	last       Sample

	done  chan struct{}
	once  sync.Once
	mu    sync.Mutex
	cause error

	steps atomic.Int64
	next  atomic.Int64
	used  atomic.Int64

	stopTimer  func() bool
	stopParent func() bool
}

var _ context.Context = (*Meter)(nil)

// NewMeter starts metering an invocation under limits. Cancellation of
// parent aborts the invocation like a timeout. Call Stop when done.
func NewMeter(parent context.Context, limits Limits) *Meter {
	m := &Meter{
		parent: parent,
		limits: limits,
		start:  time.Now(),
		done:   make(chan struct{}),
		allocs: allocatedBytes,
	}
	m.next.Store(1)
	if limits.Timeout > 0 {
		t := time.AfterFunc(limits.Timeout, func() { m.Abort(ErrTimeLimit) })
		m.stopTimer = t.Stop
	}
	m.stopParent = context.AfterFunc(parent, func() {
		m.Abort(context.Cause(parent))
	})
	return m
}

// SetSampler installs the memory estimator. It must be called before the
// metered code starts running.
func (m *Meter) SetSampler(s Sampler) { m.sampler = s }

// Limits returns the ceilings being enforced.
func (m *Meter) Limits() Limits { return m.limits }

func (m *Meter) Deadline() (time.Time, bool) {
	deadline, ok := m.parent.Deadline()
	if m.limits.Timeout > 0 {
		own := m.start.Add(m.limits.Timeout)
		if !ok || own.Before(deadline) {
			return own, true
		}
	}
	return deadline, ok
}

// Done counts one step and returns the abort channel.
func (m *Meter) Done() <-chan struct{} {
	n := m.steps.Add(1)
	if n >= m.next.Load() {
		m.check(n)
	}
	return m.done
}

func (m *Meter) Err() error {
	select {
	case <-m.done:
		return m.Cause()
	default:
		return nil
	}
}

func (m *Meter) Value(key any) any { return m.parent.Value(key) }

func (m *Meter) check(n int64) {
	if m.Aborted() {
		return
	}
	if m.limits.MaxSteps > 0 && n > m.limits.MaxSteps {
		m.Abort(ErrStepLimit)
		return
	}
	if m.limits.Timeout > 0 && time.Since(m.start) >= m.limits.Timeout {
		m.Abort(ErrTimeLimit)
		return
	}
	stride := int64(checkInterval)
	if m.sampler != nil && m.limits.MemoryBytes > 0 {
		sample := m.estimate(n)
		m.used.Store(sample.Bytes)
		if sample.Bytes > m.limits.MemoryBytes {
			m.Abort(ErrMemoryLimit)
			return
		}
		stride = strideFor(sample, m.limits.MemoryBytes)
	}
	if m.limits.MaxSteps > 0 && n+stride > m.limits.MaxSteps+1 {
		stride = m.limits.MaxSteps + 1 - n
	}
	m.next.Store(n + stride)
}

// estimate returns the memory estimate at step n. The heap is walked only
// when the bytes allocated since the last walk could have used up the
// headroom, or when the last walk is maxWalkInterval steps old; otherwise
// the last walk plus everything allocated since is an upper bound. The
// allocation counter is process-wide, so concurrent invocations only make
// walks more frequent.
func (m *Meter) estimate(n int64) Sample {
	allocated, ok := m.allocs()
	if ok && m.walked && n-m.walkStep < maxWalkInterval {
		grown := allocGrowth * max(allocated-m.walkAllocs, 0)
		est := Sample{Bytes: m.last.Bytes + grown, Largest: max(m.last.Largest, grown)}
		if est.Bytes <= m.limits.MemoryBytes {
			return est
		}
	}
	return m.walk(n, allocated)
}

func (m *Meter) walk(n, allocated int64) Sample {
	s := m.sampler(m.limits.MemoryBytes)
	m.last, m.walked, m.walkStep, m.walkAllocs = s, true, n, allocated
	return s
}

// strideFor spaces memory samples so that neither kind of growth can pass
// the ceiling by much before the next sample. Concatenation at most
// doubles the largest value every two or three steps, so the geometric
// bound is the log of the headroom in units of that value; any other step
// adds at most maxStepGrowth bytes.
func strideFor(s Sample, limit int64) int64 {
	headroom := limit - s.Bytes
	if headroom <= 0 {
		return 1
	}
	largest := max(s.Largest, 1)
	geometric := int64(5*bits.Len64(uint64(headroom/largest))) / 2
	linear := headroom / maxStepGrowth
	return max(1, min(geometric, linear, maxStride))
}

// Reserve checks that n more bytes fit under the memory ceiling, given the
// latest sample. It aborts the invocation and returns ErrMemoryLimit if
// they do not.
func (m *Meter) Reserve(n int64) error {
	if m.limits.MemoryBytes <= 0 {
		return nil
	}
	if n >= 0 && m.used.Load()+n > m.limits.MemoryBytes && m.sampler != nil && !m.Aborted() {
		// The estimate may include garbage; walk before refusing.
		allocated, _ := m.allocs()
		m.used.Store(m.walk(m.steps.Load(), allocated).Bytes)
	}
	if n < 0 || m.used.Load()+n > m.limits.MemoryBytes {
		m.Abort(ErrMemoryLimit)
		return ErrMemoryLimit
	}
	return nil
}

// Step counts one step of work done outside the interpreter loop, such as
// inside a builtin, and returns the abort cause once the invocation has
// been stopped.
func (m *Meter) Step() error {
	m.Done()
	return m.Err()
}

// Abort stops the invocation with the given cause. Only the first cause
// is kept.
func (m *Meter) Abort(cause error) {
	m.once.Do(func() {
		if cause == nil {
			cause = context.Canceled
		}
		m.mu.Lock()
		m.cause = cause
		m.mu.Unlock()
		close(m.done)
	})
}

// Aborted reports whether a ceiling or the parent context stopped the
// invocation.
func (m *Meter) Aborted() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Cause returns why the invocation was aborted, or nil.
func (m *Meter) Cause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cause
}

// OutOfMemory reports whether the memory ceiling caused the abort.
func (m *Meter) OutOfMemory() bool {
	return errors.Is(m.Cause(), ErrMemoryLimit)
}

// Steps returns the number of steps counted so far.
func (m *Meter) Steps() int64 { return m.steps.Load() }

// Used returns the latest memory sample.
func (m *Meter) Used() int64 { return m.used.Load() }

// Elapsed returns the wall time since the meter started.
func (m *Meter) Elapsed() time.Duration { return time.Since(m.start) }

// Stop releases the meter's timer and parent watch.
func (m *Meter) Stop() {
	if m.stopTimer != nil {
		m.stopTimer()
	}
	if m.stopParent != nil {
		m.stopParent()
	}
}

// MeterFrom returns the Meter carried by ctx, if ctx is one.
func MeterFrom(ctx context.Context) (*Meter, bool) {
	m, ok := ctx.(*Meter)
	return m, ok
}
