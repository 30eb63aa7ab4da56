package pathfind

import (
	"runtime"
	"sync/atomic"

	"rtslockstep/internal/config"
)

// requestQueueCapacity and resultQueueCapacity bound how many outstanding
// requests/results the worker will buffer before Submit starts reporting
// the queue as full. Rounded up to a power of two by newSPSCQueue.
const (
	requestQueueCapacity = 256
	resultQueueCapacity  = 256
)

// Worker runs path searches on a dedicated goroutine, off the simulation's
// tick loop. Exactly one goroutine may call Submit and exactly one goroutine
// may call TryResult/Drain — the single-producer/single-consumer queues
// underneath make no other arrangement safe.
type Worker struct {
	grid     *Grid
	limits   searchLimits
	requests *spscQueue[Request]
	results  *spscQueue[Result]
	stop     atomic.Bool
	done     chan struct{}
}

// NewWorker starts a Worker backed by grid, searching within the bounds of
// the default pathfinder config. The returned Worker's goroutine runs until
// Close is called.
func NewWorker(grid *Grid) *Worker {
	return NewWorkerWithConfig(grid, config.DefaultPathfind())
}

// NewWorkerWithConfig starts a Worker tuned by cfg instead of the default
// pathfinder config.
func NewWorkerWithConfig(grid *Grid, cfg config.PathfindConfig) *Worker {
	w := &Worker{
		grid:     grid,
		limits:   limitsFromConfig(cfg),
		requests: newSPSCQueue[Request](requestQueueCapacity),
		results:  newSPSCQueue[Result](resultQueueCapacity),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit enqueues a path request. Returns false if the request queue is
// full; the caller should retry on a later tick rather than block.
func (w *Worker) Submit(req Request) bool {
	return w.requests.tryPush(req)
}

// TryResult dequeues one completed result, if any is available.
func (w *Worker) TryResult() (Result, bool) {
	return w.results.tryPop()
}

// Drain dequeues up to max completed results.
func (w *Worker) Drain(max int) []Result {
	out := make([]Result, 0, max)
	for len(out) < max {
		r, ok := w.results.tryPop()
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out
}

// Close stops the worker goroutine and waits for it to exit.
func (w *Worker) Close() {
	w.stop.Store(true)
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	for !w.stop.Load() {
		req, ok := w.requests.tryPop()
		if !ok {
			runtime.Gosched()
			continue
		}
		snap := w.grid.snapshot()
		if snap == nil {
			continue
		}
		result := findPath(snap, req, w.limits)
		for !w.results.tryPush(result) {
			runtime.Gosched()
		}
	}
}
