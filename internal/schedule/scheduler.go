// Package schedule runs the periodic jobs of the gateway: ingestion,
// rematching, expiry sweeps and webhook dispatch.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gopkg.in/inconshreveable/log15.v2"
)

type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means the interval.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type Scheduler struct {
	locker Locker
	log    log15.Logger
	jobs   []Job
}

func New(locker Locker, log log15.Logger) *Scheduler {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Scheduler{locker: locker, log: log}
}

func (s *Scheduler) Add(j Job) {
	if j.Timeout <= 0 || j.Timeout > j.Interval {
		j.Timeout = j.Interval
	}
	s.jobs = append(s.jobs, j)
}

// Run starts every job on its own ticker and blocks until ctx is done.
// Each job runs once straight away.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	s.log.Info("scheduler started", "jobs", len(s.jobs))
	wg.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	t := time.NewTicker(j.Interval)
	defer t.Stop()

	for {
		s.RunOnce(ctx, j)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// RunOnce runs j unless another holder has its lease. It reports whether
// the job ran.
func (s *Scheduler) RunOnce(ctx context.Context, j Job) bool {
	if ctx.Err() != nil {
		return false
	}
	log := s.log.New("job", j.Name)

	release, ok, err := s.locker.Acquire(ctx, "job:"+j.Name, j.Timeout+time.Second)
	if err != nil {
		log.Error("acquire job lock", "err", err)
		return false
	}
	if !ok {
		log.Debug("job still running elsewhere, skipped")
		return false
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	start := time.Now()
	if err := j.Run(runCtx); err != nil {
		log.Error("job failed", "err", err, "took", time.Since(start))
		return true
	}
	log.Debug("job done", "took", time.Since(start))
	return true
}
