// Package scheduler runs periodic housekeeping: spent password reset tokens
// are deleted and temp files abandoned by interrupted artifact writes are
// swept from export storage.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/scanledger/internal/clock"
	"github.com/smallbiznis/scanledger/internal/export/storage"
	passwordresetdomain "github.com/smallbiznis/scanledger/internal/passwordreset/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobPurgeResetTokens = "purge_reset_tokens"
	jobSweepTempFiles   = "sweep_temp_files"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Resets   passwordresetdomain.Repository
	Storage  *storage.Storage
	Registry *prometheus.Registry `optional:"true"`
	Config   Config               `optional:"true"`
}

type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	resets  passwordresetdomain.Repository
	storage *storage.Storage
	metrics *jobMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Resets == nil || p.Storage == nil {
		return nil, ErrInvalidConfig
	}
	var reg prometheus.Registerer
	if p.Registry != nil {
		reg = p.Registry
	}
	return &Scheduler{
		db:      p.DB,
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		resets:  p.Resets,
		storage: p.Storage,
		metrics: newJobMetrics(reg),
	}, nil
}

// runJob runs fn under timeout. A deadline is treated as a soft timeout:
// it is counted and logged but not returned.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.incRun(name)

	err := fn(ctx)
	s.metrics.observeDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	s.metrics.incError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.incTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{jobPurgeResetTokens, s.PurgeResetTokensJob},
		{jobSweepTempFiles, s.SweepTempFilesJob},
	}
	for _, job := range jobs {
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PurgeResetTokensJob deletes reset tokens that expired or were used
// longer than the retention window ago, one batch at a time.
func (s *Scheduler) PurgeResetTokensJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	cutoff := s.clock.Now().Add(-s.cfg.ResetRetention)

	for {
		n, err := s.resets.PurgeBefore(ctx, s.db, cutoff, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		run.AddProcessed(n)
		s.metrics.addRemoved(jobPurgeResetTokens, n)
		if n < int64(s.cfg.BatchSize) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *Scheduler) SweepTempFilesJob(ctx context.Context) error {
	removed, err := s.storage.SweepTemp(s.clock.Now().Add(-s.cfg.TempFileAge))
	jobRunFromContext(ctx).AddProcessed(int64(removed))
	s.metrics.addRemoved(jobSweepTempFiles, int64(removed))
	return err
}
