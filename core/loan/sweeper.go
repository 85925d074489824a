package loan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kat-co/vala"

	"github.com/trezcool/mkopo/core"
)

// DefaultSweepInterval is the sweep interval used when none is configured.
const DefaultSweepInterval = 24 * time.Hour

// Sweeper runs the overdue sweep periodically until stopped.
type Sweeper struct {
	svc      *Service
	logger   core.Logger
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(svc *Service, logger core.Logger, conf *core.Config) *Sweeper {
	vala.BeginValidation().Validate(
		vala.IsNotNil(svc, "svc"),
		vala.IsNotNil(logger, "logger"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	interval := conf.Loan.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{svc: svc, logger: logger, interval: interval}
}

// Start launches the sweep loop. The first sweep runs right away; the loop ends when ctx is done
// or Stop is called.
func (sw *Sweeper) Start(ctx context.Context) {
	sw.ctx, sw.cancel = context.WithCancel(ctx)

	sw.wg.Add(1)
	go sw.run()
	sw.logger.Info(fmt.Sprintf("sweeper started: every %s", sw.interval))
}

// Stop cancels the running sweep, if any, and waits for the loop to exit.
func (sw *Sweeper) Stop() {
	if sw.cancel == nil {
		return
	}
	sw.cancel()
	sw.wg.Wait()
	sw.logger.Info("sweeper stopped")
}

func (sw *Sweeper) run() {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.sweep()
	for {
		select {
		case <-sw.ctx.Done():
			return
		case <-ticker.C:
			sw.sweep()
		}
	}
}

func (sw *Sweeper) sweep() {
	start := time.Now()
	count, err := sw.svc.SweepOverdue(sw.ctx)
	if err != nil {
		if sw.ctx.Err() != nil {
			return
		}
		sw.logger.Error(fmt.Sprintf("sweep: %d loan(s) flagged overdue, then: %v", count, err), err)
		return
	}
	sw.logger.Info(fmt.Sprintf("sweep: %d loan(s) flagged overdue in %s", count, time.Since(start)))
}
