package negotiation

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Worker runs tasks one at a time in submission order. Submit never
// blocks, so engine callbacks and subscription pumps can feed it from any
// goroutine. When the Run context ends, queued tasks are dropped unrun.
type Worker struct {
	log     zerolog.Logger
	onError func(error)

	mu      sync.Mutex
	queue   []Task
	stopped bool

	wake chan struct{}
	done chan struct{}
}

// NewWorker creates a worker. Errors returned by tasks go to onError unless
// the worker is being torn down.
func NewWorker(name string, onError func(error), logger zerolog.Logger) *Worker {
	return &Worker{
		log:     logger.With().Str("worker", name).Logger(),
		onError: onError,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Submit queues t. It reports false once the worker has stopped.
func (w *Worker) Submit(t Task) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, t)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

func (w *Worker) next() (Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil, false
	}
	t := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return t, true
}

// Run executes tasks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.stopped = true
		dropped := len(w.queue)
		w.queue = nil
		w.mu.Unlock()
		close(w.done)
		w.log.Debug().Int("dropped", dropped).Msg("worker stopped")
	}()

	for {
		t, ok := w.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := t(ctx); err != nil && ctx.Err() == nil && w.onError != nil {
			w.onError(err)
		}
	}
}

// Done is closed after Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Pending returns the number of queued tasks.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}
