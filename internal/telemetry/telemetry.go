// Package telemetry talks to the external acquisition source that holds the
// per-point sample index and the raw sample frames.
package telemetry

import (
	"context"
	"time"
)

// Source is the read side of the telemetry API used by the sync job
type Source interface {
	GetSampleIndex(ctx context.Context, externalID string, from, to time.Time) ([]time.Time, error)
	GetSamplePayload(ctx context.Context, externalID string, ts time.Time) ([]byte, error)
}

// Registry lists the points published by the source
type Registry interface {
	ListPoints(ctx context.Context) ([]PointDescriptor, error)
}

var (
	_ Source   = (*Client)(nil)
	_ Registry = (*Client)(nil)
)
