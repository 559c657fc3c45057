package models

import "time"

// OfflineStatus is the lifecycle state of an offline episode
type OfflineStatus string

const (
	// OfflineStatusOffline marks an open episode
	OfflineStatusOffline OfflineStatus = "offline"
	// OfflineStatusRecovered marks a closed episode
	OfflineStatusRecovered OfflineStatus = "recovered"
)

// OfflineRecord is one offline episode of a point. At most one record per point
// is open (status offline) at any time.
type OfflineRecord struct {
	ID                     uint          `gorm:"primarykey" json:"id"`
	PointCode              string        `gorm:"type:varchar(64);not null;index;index:idx_offline_open_point,unique,where:status = 'offline'" json:"point_code"`
	EquipmentID            string        `gorm:"type:varchar(64)" json:"equipment_id"`
	OfflineAt              time.Time     `gorm:"not null" json:"offline_at"`
	RecoveredAt            *time.Time    `json:"recovered_at,omitempty"`
	Status                 OfflineStatus `gorm:"type:varchar(16);not null" json:"status"`
	DurationSeconds        *int64        `json:"duration_seconds,omitempty"`
	JudgmentThresholdHours int           `json:"judgment_threshold_hours"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

// TableName overrides the table name for OfflineRecord
func (OfflineRecord) TableName() string {
	return "offline_records"
}

// IsOpen reports whether the episode is still ongoing
func (r *OfflineRecord) IsOpen() bool {
	return r.Status == OfflineStatusOffline
}

// Close marks the episode recovered at the given time and computes its duration
func (r *OfflineRecord) Close(at time.Time) {
	recovered := at
	duration := int64(at.Sub(r.OfflineAt) / time.Second)
	r.RecoveredAt = &recovered
	r.DurationSeconds = &duration
	r.Status = OfflineStatusRecovered
}
