package worker

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Detached runs fire-and-forget tasks. Callers never wait on a task and its
// error is discarded after being logged at debug level. Tasks outlive the
// cancellation of the context that started them.
type Detached struct {
	wg sync.WaitGroup
}

// Go starts fn on its own goroutine and returns immediately.
func (d *Detached) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := fn(ctx); err != nil {
			logrus.WithError(err).WithField("task", name).Debug("Detached task failed")
		}
	}()
}

// Wait blocks until every started task has returned. Used on shutdown.
func (d *Detached) Wait() {
	d.wg.Wait()
}
