package acquisition

import (
	"context"
	"sync"

	"github.com/biosync/biostream/pkg/device"
)

// Result is what one worker reported when it was joined.
type Result struct {
	Device string
	State  device.State
	Err    error
}

// Supervisor starts one goroutine per worker and joins them all after
// shutdown.
type Supervisor struct {
	workers  []*Worker
	shutdown *Shutdown

	wg      sync.WaitGroup
	once    sync.Once
	results []Result
}

func NewSupervisor(sd *Shutdown, workers ...*Worker) *Supervisor {
	return &Supervisor{workers: workers, shutdown: sd, results: make([]Result, len(workers))}
}

// Start launches every worker. Calling it more than once has no effect.
func (s *Supervisor) Start(ctx context.Context) {
	s.once.Do(func() {
		for i, w := range s.workers {
			i, w := i, w
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				err := w.Run(ctx, s.shutdown)
				s.results[i] = Result{Device: w.Name(), State: w.State(), Err: err}
			}()
		}
	})
}

// Shutdown requests every worker to stop.
func (s *Supervisor) Shutdown() { s.shutdown.Request() }

// Wait blocks until every started worker has returned and reports one
// result per worker, in start order.
func (s *Supervisor) Wait() []Result {
	s.wg.Wait()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}
