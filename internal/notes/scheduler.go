package notes

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = time.Minute

var errMissingService = errors.New("notes service is required")

// PublishSchedulerConfig configures the scheduled-publish sweeper.
type PublishSchedulerConfig struct {
	Service  *Service
	Interval time.Duration
	Logger   *zap.Logger
}

// PublishScheduler periodically publishes drafts whose scheduled publish time
// has passed. Each sweep goes through the normal publish transition, so the
// one-time counter effects hold regardless of who wins a race with a manual
// publish.
type PublishScheduler struct {
	service  *Service
	interval time.Duration
	logger   *zap.Logger
}

// NewPublishScheduler constructs the sweeper.
func NewPublishScheduler(cfg PublishSchedulerConfig) (*PublishScheduler, error) {
	if cfg.Service == nil {
		return nil, errMissingService
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishScheduler{
		service:  cfg.Service,
		interval: interval,
		logger:   logger,
	}, nil
}

// Start runs the sweep loop until the context is cancelled. It sweeps once
// immediately so restarts do not delay overdue drafts by a full interval.
func (p *PublishScheduler) Start(ctx context.Context) {
	p.logger.Info("publish scheduler started", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("publish scheduler stopped")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *PublishScheduler) sweep(ctx context.Context) {
	published, err := p.service.PublishDue(ctx)
	if err != nil {
		p.logger.Error("scheduled publish sweep failed", zap.Error(err))
		return
	}
	if published > 0 {
		p.logger.Info("scheduled notes published", zap.Int("count", published))
	}
}
