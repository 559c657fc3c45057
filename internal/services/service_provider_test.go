package services

import (
	"context"
	"testing"
	"time"

	"github.com/gridsense/pdmon/internal/config"
	"github.com/gridsense/pdmon/internal/events"
	"github.com/gridsense/pdmon/internal/scheduler"
	"github.com/gridsense/pdmon/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Telemetry: config.TelemetryConfig{URL: "http://telemetry.invalid", Timeout: 1},
		Sync: config.SyncConfig{
			Interval:     time.Hour,
			Workers:      2,
			DefaultStart: "2020-01-01T00:00:00Z",
		},
		Offline:    config.OfflineConfig{Interval: time.Hour},
		AlarmReset: config.AlarmResetConfig{Interval: time.Hour},
		Registry:   config.RegistryConfig{Enabled: false},
		Thresholds: config.ThresholdConfig{
			Ignore:                "0",
			Mutation:              "30",
			Level1:                "20",
			Level2:                "40",
			Level3:                "60",
			DischargeEventRatio:   "0.25",
			EventCountPeriodHours: 24,
			AlarmResetDelayHours:  24,
			OfflineJudgmentHours:  24,
		},
	}
}

func TestServiceProvider_Initialize(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	sp := NewServiceProvider(ts.Logger, testConfig(), ts.DB)

	require.NoError(t, sp.Initialize(context.Background()))

	assert.Equal(t, []string{JobAlarmReset, JobOfflineSweep, JobSampleSync}, sp.GetScheduler().Jobs())
	assert.False(t, sp.GetScheduler().Has(JobRegistrySync))
	assert.Nil(t, sp.GetKafkaManager())
	assert.NotNil(t, sp.GetMetrics())
	assert.NotNil(t, sp.GetStreamHub())
}

func TestServiceProvider_RunJob(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	sp := NewServiceProvider(ts.Logger, testConfig(), ts.DB)
	require.NoError(t, sp.Initialize(context.Background()))

	ts.SeedPoint("KKS-400")

	result, err := sp.RunJob(context.Background(), JobOfflineSweep)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Counts["offline"])

	last, ok := sp.GetScheduler().LastResult(JobOfflineSweep)
	require.True(t, ok)
	assert.Equal(t, result.RunID, last.RunID)

	_, err = sp.RunJob(context.Background(), "no_such_job")
	assert.ErrorIs(t, err, scheduler.ErrUnknownJob)
}

func TestServiceProvider_HandleJobRequest(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	sp := NewServiceProvider(ts.Logger, testConfig(), ts.DB)
	require.NoError(t, sp.Initialize(context.Background()))

	// not started yet
	err := sp.handleJobRequest(&events.JobRequest{Job: JobAlarmReset})
	assert.ErrorIs(t, err, scheduler.ErrNotStarted)

	err = sp.handleJobRequest(&events.JobRequest{Job: "no_such_job"})
	assert.ErrorIs(t, err, scheduler.ErrUnknownJob)
}
