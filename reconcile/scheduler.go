package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/catalog_sync/config"
	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs timed "all" passes and provider heartbeats.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	logger  *logrus.Logger
	timeout time.Duration
}

// NewScheduler registers the jobs but does not start them. An empty schedule disables
// timed passes and a zero heartbeat interval disables heartbeats.
func NewScheduler(svc *Service, settings config.ReconcileSettings, logger *logrus.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = config.GetLogger()
	}
	cronLogger := cron.PrintfLogger(logger)
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		service: svc,
		logger:  logger,
		timeout: settings.AllLockTTL,
	}

	if settings.Schedule != "" {
		if _, err := cron.ParseStandard(settings.Schedule); err != nil {
			return nil, fmt.Errorf("invalid RECONCILE_SCHEDULE %q: %w", settings.Schedule, err)
		}
		if _, err := s.cron.AddFunc(settings.Schedule, s.runScheduled); err != nil {
			return nil, err
		}
	}
	if settings.HeartbeatInterval > 0 {
		spec := fmt.Sprintf("@every %s", settings.HeartbeatInterval)
		if _, err := s.cron.AddFunc(spec, s.heartbeat); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) runScheduled() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	run, err := s.service.RunSync(ctx, models.ScopeAll, models.SyncTriggerScheduled)
	if err != nil {
		config.LogError(s.logger, "reconcile", "Scheduler.runScheduled", "run sync", run.ID, err)
	}
}

func (s *Scheduler) heartbeat() {
	// failures are already reflected in connection health
	_ = s.service.Heartbeat(context.Background())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
