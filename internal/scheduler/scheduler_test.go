package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/scanledger/internal/clock"
	"github.com/smallbiznis/scanledger/internal/export/storage"
	passwordresetdomain "github.com/smallbiznis/scanledger/internal/passwordreset/domain"
	passwordresetrepo "github.com/smallbiznis/scanledger/internal/passwordreset/repository"
	"github.com/smallbiznis/scanledger/pkg/db"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	sched    *Scheduler
	db       *gorm.DB
	fs       afero.Fs
	clock    *clock.FakeClock
	node     *snowflake.Node
	registry *prometheus.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := conn.AutoMigrate(&passwordresetdomain.ResetToken{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	fsys := afero.NewMemMapFs()
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	registry := prometheus.NewRegistry()
	sched, err := New(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Resets:   passwordresetrepo.Provide(),
		Storage:  storage.New(fsys, "/exports"),
		Registry: registry,
		Config:   cfg,
	})
	require.NoError(t, err)

	return &fixture{sched: sched, db: conn, fs: fsys, clock: fake, node: node, registry: registry}
}

func (f *fixture) insertToken(t *testing.T, expiresAt time.Time, usedAt *time.Time) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.db.Create(&passwordresetdomain.ResetToken{
		ID:        id,
		AccountID: 1,
		TokenHash: id.String(),
		ExpiresAt: expiresAt,
		UsedAt:    usedAt,
		CreatedAt: expiresAt.Add(-time.Hour),
	}).Error)
	return id
}

func (f *fixture) tokenIDs(t *testing.T) []snowflake.ID {
	t.Helper()
	var ids []snowflake.ID
	require.NoError(t, f.db.Model(&passwordresetdomain.ResetToken{}).Order("id").Pluck("id", &ids).Error)
	return ids
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPurgeResetTokensKeepsLiveAndRecentTokens(t *testing.T) {
	f := newFixture(t, Config{ResetRetention: 24 * time.Hour, BatchSize: 2})
	now := f.clock.Now()
	longAgo := now.Add(-48 * time.Hour)
	recently := now.Add(-time.Hour)

	// Three tokens past retention force more than one batch.
	f.insertToken(t, longAgo, nil)
	f.insertToken(t, longAgo, nil)
	f.insertToken(t, now.Add(time.Hour), &longAgo)
	live := f.insertToken(t, now.Add(time.Hour), nil)
	usedRecently := f.insertToken(t, now.Add(time.Hour), &recently)
	expiredRecently := f.insertToken(t, recently, nil)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Equal(t, []snowflake.ID{live, usedRecently, expiredRecently}, f.tokenIDs(t))
	assert.Equal(t, float64(3), counterValue(t, f.registry, "scanledger_scheduler_removed_total", map[string]string{
		"job": jobPurgeResetTokens,
	}))
}

func TestSweepTempFilesJob(t *testing.T) {
	f := newFixture(t, Config{TempFileAge: time.Hour})
	now := f.clock.Now()
	stale := "/exports/9/.export_x.json.1"
	require.NoError(t, afero.WriteFile(f.fs, stale, []byte("x"), 0o640))
	require.NoError(t, f.fs.Chtimes(stale, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))

	require.NoError(t, f.sched.RunOnce(context.Background()))

	exists, err := afero.Exists(f.fs, stale)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, float64(1), counterValue(t, f.registry, "scanledger_scheduler_job_runs_total", map[string]string{
		"job": jobSweepTempFiles,
	}))
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	f := newFixture(t, Config{})

	err := f.sched.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	assert.Equal(t, float64(1), counterValue(t, f.registry, "scanledger_scheduler_job_timeouts_total", map[string]string{
		"job": "timeout_job",
	}))
	assert.Equal(t, float64(1), counterValue(t, f.registry, "scanledger_scheduler_job_errors_total", map[string]string{
		"job":    "timeout_job",
		"reason": jobReasonDeadlineExceeded,
	}))
}

func TestRunJobWrapsFailures(t *testing.T) {
	f := newFixture(t, Config{})
	boom := errors.New("boom")

	err := f.sched.runJob(context.Background(), "failing_job", 0, time.Second, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing_job")
	assert.Equal(t, float64(1), counterValue(t, f.registry, "scanledger_scheduler_job_errors_total", map[string]string{
		"job":    "failing_job",
		"reason": jobReasonFailed,
	}))
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
