// Package events defines the notifications emitted by the acquisition worker.
// Delivery is best effort: a failed publish is logged and never undoes the
// state change it reports.
package events

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AlarmEvent is published for every ingested sample with a non-zero level
type AlarmEvent struct {
	ID            string    `json:"id"`
	PointCode     string    `json:"point_code"`
	EquipmentID   string    `json:"equipment_id"`
	AcquiredAt    time.Time `json:"acquired_at"`
	Level         int       `json:"level"`
	Magnitude     string    `json:"magnitude"`
	DischargeType string    `json:"discharge_type,omitempty"`
	Rules         []string  `json:"rules"`
	Ratio         string    `json:"ratio"`
	PublishedAt   time.Time `json:"published_at"`
}

// Point state transitions
const (
	TransitionOffline      = "offline"
	TransitionRecovered    = "recovered"
	TransitionRepaired     = "repaired"
	TransitionAlarmCleared = "alarm_cleared"
)

// PointStateEvent is published when the offline sweep or the alarm reset job
// changes a point
type PointStateEvent struct {
	ID              string     `json:"id"`
	PointCode       string     `json:"point_code"`
	EquipmentID     string     `json:"equipment_id"`
	Transition      string     `json:"transition"`
	Offline         bool       `json:"offline"`
	OfflineAt       *time.Time `json:"offline_at,omitempty"`
	RecoveredAt     *time.Time `json:"recovered_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	PublishedAt     time.Time  `json:"published_at"`
}

// JobRequest asks the worker to run a job immediately
type JobRequest struct {
	Job         string    `json:"job"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Publisher delivers worker events
type Publisher interface {
	PublishAlarm(event *AlarmEvent) error
	PublishPointState(event *PointStateEvent) error
}

// NopPublisher drops every event. It is used when messaging is disabled.
type NopPublisher struct{}

// PublishAlarm implements Publisher
func (NopPublisher) PublishAlarm(*AlarmEvent) error { return nil }

// PublishPointState implements Publisher
func (NopPublisher) PublishPointState(*PointStateEvent) error { return nil }

// MultiPublisher delivers every event to each of its publishers. All of them
// are attempted; the failures are joined.
type MultiPublisher []Publisher

// PublishAlarm implements Publisher
func (m MultiPublisher) PublishAlarm(event *AlarmEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishAlarm(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishPointState implements Publisher
func (m MultiPublisher) PublishPointState(event *PointStateEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishPointState(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewID returns a fresh event identifier
func NewID() string {
	return uuid.NewString()
}
