package services

import (
	"context"
	"errors"
	"testing"

	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/gridsense/pdmon/internal/telemetry"
	"github.com/gridsense/pdmon/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRegistry struct {
	points []telemetry.PointDescriptor
	err    error
}

func (r *staticRegistry) ListPoints(context.Context) ([]telemetry.PointDescriptor, error) {
	return r.points, r.err
}

func TestRunRegistrySync_UpsertsIdentity(t *testing.T) {
	ctx := context.Background()
	ts := testutil.NewTestSetup(t)

	ts.SeedPoint("KKS-300", func(p *models.MonitoredPoint) {
		p.Level1Threshold = testutil.NullDec("15")
	})

	registry := &staticRegistry{points: []telemetry.PointDescriptor{
		{ID: "src-300", KKSCode: "KKS-300", EquipmentID: "GIS-1", Name: "Bay 1 phase A"},
		{ID: "src-301", KKSCode: " KKS-301 ", EquipmentID: "GIS-1", Name: "Bay 1 phase B"},
		{ID: "", KKSCode: "KKS-302"},
		{ID: "src-303", KKSCode: ""},
	}}

	svc := NewRegistryService(ts.Repos, registry, ts.Logger)
	result, err := svc.RunRegistrySync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Counts["received"])
	assert.Equal(t, 1, result.Counts["created"])
	assert.Equal(t, 1, result.Counts["updated"])
	assert.Equal(t, 2, result.Counts["invalid"])

	existing := ts.Reload("KKS-300")
	assert.Equal(t, "src-300", existing.ExternalID)
	assert.Equal(t, "GIS-1", existing.EquipmentID)
	assert.True(t, existing.Level1Threshold.Valid)
	assert.True(t, existing.Level1Threshold.Decimal.Equal(testutil.Dec("15")))

	created := ts.Reload("KKS-301")
	assert.Equal(t, "src-301", created.ExternalID)
	assert.False(t, created.Level1Threshold.Valid)
}

func TestRunRegistrySync_SourceFailure(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	svc := NewRegistryService(ts.Repos, &staticRegistry{err: errors.New("unreachable")}, ts.Logger)

	_, err := svc.RunRegistrySync(context.Background())
	assert.Error(t, err)
}
