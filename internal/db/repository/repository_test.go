package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/gridsense/pdmon/internal/db/repository"
	"github.com/gridsense/pdmon/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointRepository_UpdateSnapshot(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	ctx := context.Background()
	ts.SeedPoint("P1")

	repo := ts.Repos.Point()
	base := testutil.At(time.Now().Add(-time.Hour))

	t.Run("Should apply newer snapshot", func(t *testing.T) {
		alarmAt := base
		applied, err := repo.UpdateSnapshot(ctx, "P1", models.PointSnapshot{
			Magnitude:     testutil.Dec("42.5"),
			Status:        1,
			DischargeType: "internal",
			AlarmLevel:    2,
			AcquiredAt:    base,
			AlarmAt:       &alarmAt,
		})
		require.NoError(t, err)
		assert.True(t, applied)

		point := ts.Reload("P1")
		require.NotNil(t, point.LastAcquiredAt)
		assert.True(t, base.Equal(*point.LastAcquiredAt))
		assert.True(t, point.LastMagnitude.Decimal.Equal(testutil.Dec("42.5")))
		assert.Equal(t, 2, point.LastAlarmLevel)
		assert.Equal(t, "internal", point.LastDischargeType)
		require.NotNil(t, point.LastAlarmAt)
	})

	t.Run("Should ignore older snapshot", func(t *testing.T) {
		applied, err := repo.UpdateSnapshot(ctx, "P1", models.PointSnapshot{
			Magnitude:  testutil.Dec("1"),
			AcquiredAt: base.Add(-time.Minute),
		})
		require.NoError(t, err)
		assert.False(t, applied)

		point := ts.Reload("P1")
		assert.True(t, base.Equal(*point.LastAcquiredAt))
		assert.Equal(t, 2, point.LastAlarmLevel)
	})
}

func TestPointRepository_UpsertIdentity(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	ctx := context.Background()
	repo := ts.Repos.Point()

	created, err := repo.UpsertIdentity(ctx, &models.MonitoredPoint{KKSCode: "P1", ExternalID: "a", Name: "first"})
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, ts.DB.DB.Model(&models.MonitoredPoint{}).
		Where("kks_code = ?", "P1").
		Update("level1_threshold", testutil.NullDec("25")).Error)

	created, err = repo.UpsertIdentity(ctx, &models.MonitoredPoint{KKSCode: "P1", ExternalID: "b", Name: "renamed"})
	require.NoError(t, err)
	assert.False(t, created)

	point := ts.Reload("P1")
	assert.Equal(t, "b", point.ExternalID)
	assert.Equal(t, "renamed", point.Name)
	require.True(t, point.Level1Threshold.Valid)
	assert.True(t, point.Level1Threshold.Decimal.Equal(testutil.Dec("25")))
}

func TestPointRepository_ClearAlarmLevel(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	ctx := context.Background()
	repo := ts.Repos.Point()

	alarmAt := testutil.At(time.Now().Add(-48 * time.Hour))
	ts.SeedPoint("P1", func(p *models.MonitoredPoint) {
		p.LastAlarmLevel = 3
		p.LastAlarmAt = &alarmAt
	})

	cleared, err := repo.ClearAlarmLevel(ctx, "P1", alarmAt.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, cleared)

	cleared, err = repo.ClearAlarmLevel(ctx, "P1", alarmAt.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.Equal(t, 0, ts.Reload("P1").LastAlarmLevel)
}

func TestPointRepository_GetByCodeNotFound(t *testing.T) {
	ts := testutil.NewTestSetup(t)

	point, err := ts.Repos.Point().GetByCode(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Nil(t, point)
}

func TestPointRepository_ListKeepsContextError(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	ts.SeedPoint("P1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ts.Repos.Point().List(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrDatabase)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSampleRepository_InsertWithSnapshot(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	ctx := context.Background()
	ts.SeedPoint("P1")
	repo := ts.Repos.Sample()

	at := testutil.At(time.Now().Add(-10 * time.Minute))
	sample := &models.AcquisitionSample{
		PointCode:  "P1",
		AcquiredAt: at,
		Magnitude:  testutil.Dec("12.345"),
		StatusCode: 1,
		Payload:    []byte{1, 2, 3},
	}
	snapshot := models.PointSnapshot{Magnitude: sample.Magnitude, Status: 1, AcquiredAt: at}

	applied, err := repo.InsertWithSnapshot(ctx, sample, snapshot)
	require.NoError(t, err)
	assert.True(t, applied)

	exists, err := repo.Exists(ctx, "P1", at)
	require.NoError(t, err)
	assert.True(t, exists)

	t.Run("Should reject a second sample with the same key", func(t *testing.T) {
		dup := &models.AcquisitionSample{PointCode: "P1", AcquiredAt: at, Magnitude: testutil.Dec("1")}
		_, err := repo.InsertWithSnapshot(ctx, dup, models.PointSnapshot{AcquiredAt: at.Add(time.Hour)})
		assert.ErrorIs(t, err, repository.ErrConflict)

		// rolled back together with the sample
		point := ts.Reload("P1")
		assert.True(t, at.Equal(*point.LastAcquiredAt))
	})
}

func TestSampleRepository_QueryWindow(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	ctx := context.Background()
	repo := ts.Repos.Sample()

	now := testutil.At(time.Now())
	ts.SeedSample("P1", now.Add(-3*time.Hour), "10", 1)
	ts.SeedSample("P1", now.Add(-30*time.Hour), "10", 1)
	ts.SeedSample("P1", now.Add(-1*time.Hour), "20", 2)
	ts.SeedSample("P2", now.Add(-1*time.Hour), "20", 2)

	samples, err := repo.QueryWindow(ctx, "P1", now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.True(t, samples[0].AcquiredAt.Before(samples[1].AcquiredAt))
	assert.Equal(t, 2, samples[1].AlarmLevel)

	latest, err := repo.Latest(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, now.Add(-time.Hour).Equal(latest.AcquiredAt))

	_, err = repo.Latest(ctx, "P3")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOfflineRepository_OpenRecordUniqueness(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	ctx := context.Background()
	repo := ts.Repos.Offline()

	open, err := repo.FindOpen(ctx, "P1")
	require.NoError(t, err)
	assert.Nil(t, open)

	start := testutil.At(time.Now().Add(-25 * time.Hour))
	record := &models.OfflineRecord{PointCode: "P1", OfflineAt: start, Status: models.OfflineStatusOffline}
	require.NoError(t, repo.Insert(ctx, record))

	second := &models.OfflineRecord{PointCode: "P1", OfflineAt: start, Status: models.OfflineStatusOffline}
	assert.ErrorIs(t, repo.Insert(ctx, second), repository.ErrConflict)

	open, err = repo.FindOpen(ctx, "P1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, record.ID, open.ID)

	open.Close(start.Add(2 * time.Hour))
	require.NoError(t, repo.Update(ctx, open))

	// a closed episode does not block a new one
	third := &models.OfflineRecord{PointCode: "P1", OfflineAt: start.Add(3 * time.Hour), Status: models.OfflineStatusOffline}
	require.NoError(t, repo.Insert(ctx, third))

	records, err := repo.ListByPoint(ctx, "P1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, third.ID, records[0].ID)
	require.NotNil(t, records[1].DurationSeconds)
	assert.Equal(t, int64(7200), *records[1].DurationSeconds)
}
