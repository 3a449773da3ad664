package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/stagepass/stagepass-backend/pkg/config"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/metrics"
)

// Job is one unit of scheduled background work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Locker is the redis surface used for the cross-replica lock. Only one
// sweeper replica runs a tick at a time.
type Locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
}

const lockName = "sweeper"

// Service drives the registered jobs on a fixed interval.
type Service struct {
	jobs     []Job
	interval time.Duration
	lockTTL  time.Duration
	locker   Locker
	metrics  *metrics.JobMetrics
	logg     *logger.Logger
}

func NewService(cfg config.SweeperConfig, locker Locker, jobMetrics *metrics.JobMetrics, logg *logger.Logger, jobs ...Job) (*Service, error) {
	if locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("at least one job required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Service{
		jobs:     jobs,
		interval: interval,
		lockTTL:  lockTTL,
		locker:   locker,
		metrics:  jobMetrics,
		logg:     logg,
	}, nil
}

// Run ticks until the context is cancelled. The first sweep happens
// immediately so a fresh deploy clears any backlog.
func (s *Service) Run(ctx context.Context) error {
	s.logg.Info(ctx, "sweeper started")
	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every job once, guarded by the distributed lock.
func (s *Service) Tick(ctx context.Context) {
	key := s.locker.LockKey(lockName)
	acquired, err := s.locker.SetNX(ctx, key, time.Now().Format(time.RFC3339), s.lockTTL)
	if err != nil {
		s.logg.Warn(ctx, "sweeper lock acquisition failed")
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := s.locker.Del(ctx, key); err != nil {
			s.logg.Warn(ctx, "sweeper lock release failed")
		}
	}()

	for _, job := range s.jobs {
		start := time.Now()
		err := job.Run(ctx)
		s.metrics.ObserveDuration(job.Name(), time.Since(start))
		if err != nil {
			s.metrics.IncFailure(job.Name())
			s.logg.Error(s.logg.WithFields(ctx, map[string]any{
				"job": job.Name(),
			}), "sweeper job failed", err)
			continue
		}
		s.metrics.IncSuccess(job.Name())
	}
}
