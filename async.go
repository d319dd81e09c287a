package gpgmm

import (
	"sync"

	"github.com/bbernhar/GPGMM/gpgmmerr"
)

// asyncJob is one enqueued CreateResource call (spec §5).
type asyncJob struct {
	allocDesc    AllocationDescriptor
	resourceDesc ResourceDescriptor
	initialState int
	clearValue   *[4]float32
	handle       *AsyncAllocationHandle
}

// AsyncAllocationHandle is the event handle CreateResourceAsync
// returns: the client Waits or polls IsSignaled, then retrieves the
// result exactly once via ResourceAllocator.AcquireAllocation (spec
// §5's "retrievable exactly once").
type AsyncAllocationHandle struct {
	done chan struct{}

	mu       sync.Mutex
	alloc    *Allocation
	err      error
	acquired bool
}

func newAsyncAllocationHandle() *AsyncAllocationHandle {
	return &AsyncAllocationHandle{done: make(chan struct{})}
}

// Wait blocks until the enqueued allocation completes.
func (h *AsyncAllocationHandle) Wait() { <-h.done }

// IsSignaled reports whether the allocation has completed, without
// blocking.
func (h *AsyncAllocationHandle) IsSignaled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *AsyncAllocationHandle) complete(alloc *Allocation, err error) {
	h.mu.Lock()
	h.alloc, h.err = alloc, err
	h.mu.Unlock()
	close(h.done)
}

// acquire returns the completed result exactly once; a second call
// reports a LogicError, since cancellation and re-acquisition are not
// supported (spec §5).
func (h *AsyncAllocationHandle) acquire() (*Allocation, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.acquired {
		return nil, gpgmmerr.New(gpgmmerr.KindLogicError, "AcquireAllocation called twice on the same handle")
	}
	h.acquired = true
	return h.alloc, h.err
}

// asyncPool is the fixed-size worker-thread pool backing
// CreateResourceAsync (spec §5): synchronous allocate/deallocate stays
// on the caller's goroutine; only the async variant uses this.
type asyncPool struct {
	jobs chan asyncJob
	wg   sync.WaitGroup
}

func newAsyncPool(workerCount int, ra *ResourceAllocator) *asyncPool {
	p := &asyncPool{jobs: make(chan asyncJob, workerCount*4)}
	p.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go p.worker(ra)
	}
	return p
}

func (p *asyncPool) worker(ra *ResourceAllocator) {
	defer p.wg.Done()
	for job := range p.jobs {
		alloc, err := ra.CreateResource(job.allocDesc, job.resourceDesc, job.initialState, job.clearValue)
		job.handle.complete(alloc, err)
	}
}

func (p *asyncPool) close() {
	close(p.jobs)
	p.wg.Wait()
}

// CreateResourceAsync enqueues a CreateResource call onto the fixed
// worker pool and returns immediately with a handle the client can
// Wait()/IsSignaled() on. Cancellation is not supported: once enqueued
// the work runs to completion (spec §5).
func (ra *ResourceAllocator) CreateResourceAsync(allocDesc AllocationDescriptor, resourceDesc ResourceDescriptor, initialState int, clearValue *[4]float32) (*AsyncAllocationHandle, error) {
	handle := newAsyncAllocationHandle()
	job := asyncJob{
		allocDesc:    allocDesc,
		resourceDesc: resourceDesc,
		initialState: initialState,
		clearValue:   clearValue,
		handle:       handle,
	}

	ra.async.jobs <- job
	return handle, nil
}

// AcquireAllocation retrieves the result of a previously enqueued
// CreateResourceAsync call, blocking until it completes. A second call
// on the same handle reports a LogicError.
func (ra *ResourceAllocator) AcquireAllocation(handle *AsyncAllocationHandle) (*Allocation, error) {
	return handle.acquire()
}
