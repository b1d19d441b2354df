package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/krobus00/crypto-catalog-service/internal/config"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const defaultInterval = 10 * time.Minute

type Refresher interface {
	RefreshAll(ctx context.Context, trigger entity.RefreshTrigger) (*entity.RefreshReport, error)
}

// Scheduler runs a full refresh on a fixed interval. A tick that fires while
// the previous run is still going is skipped.
type Scheduler struct {
	cron       *cron.Cron
	entryID    cron.EntryID
	refresher  Refresher
	interval   time.Duration
	runOnStart bool

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

func NewScheduler(refresher Refresher, cfg config.RefreshConfig) (*Scheduler, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	logger := cron.PrintfLogger(logrus.StandardLogger())
	runCtx, cancelRun := context.WithCancel(context.Background())

	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
		),
		refresher:  refresher,
		interval:   interval,
		runOnStart: cfg.RunOnStart,
		runCtx:     runCtx,
		cancelRun:  cancelRun,
	}

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.run)
	if err != nil {
		cancelRun()
		return nil, fmt.Errorf("register refresh job: %w", err)
	}
	s.entryID = entryID

	return s, nil
}

func (s *Scheduler) Start() {
	if s.runOnStart {
		// go through the wrapped job so the first tick is skipped while this runs
		job := s.cron.Entry(s.entryID).WrappedJob
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			job.Run()
		}()
	}

	s.cron.Start()
	logrus.WithField("interval", s.interval.String()).Info("refresh scheduler started")
}

// Stop stops new ticks and waits for the in-flight run. When ctx ends first the
// run is cancelled; assets it already committed stay committed.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronCtx := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelRun()
		logrus.Info("refresh scheduler stopped")
		return nil
	case <-ctx.Done():
		logrus.Warn("refresh scheduler stop timed out, cancelling the running refresh")
		s.cancelRun()
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	report, err := s.refresher.RefreshAll(s.runCtx, entity.RefreshTriggerScheduled)
	if err != nil {
		logrus.WithError(err).Error("scheduled refresh failed")
		return
	}

	if report.FailedCount() > 0 {
		logrus.WithFields(logrus.Fields{
			"run_id": report.RunID,
			"failed": report.FailedSymbols(),
		}).Warn("scheduled refresh finished with failures")
	}
}
