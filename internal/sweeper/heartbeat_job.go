package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/stagepass/stagepass-backend/pkg/logger"
)

// HeartbeatJob emits a periodic liveness log line. It runs on every tick but
// only logs once per configured interval, so a daily heartbeat survives a
// five-minute sweep schedule.
type HeartbeatJob struct {
	mu       sync.Mutex
	interval time.Duration
	started  time.Time
	lastBeat time.Time
	logg     *logger.Logger
}

func NewHeartbeatJob(interval time.Duration, logg *logger.Logger) *HeartbeatJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &HeartbeatJob{
		interval: interval,
		started:  time.Now(),
		logg:     logg,
	}
}

func (j *HeartbeatJob) Name() string { return "heartbeat" }

func (j *HeartbeatJob) Run(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	if !j.lastBeat.IsZero() && now.Sub(j.lastBeat) < j.interval {
		return nil
	}
	j.lastBeat = now
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"uptime": now.Sub(j.started).String(),
	}), "sweeper heartbeat")
	return nil
}
