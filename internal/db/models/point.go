package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MonitoredPoint is a partial-discharge test point (sensor channel) registered in
// the admin backend. Threshold columns are nullable: a NULL threshold means the
// configured default applies.
type MonitoredPoint struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	KKSCode     string `gorm:"type:varchar(64);uniqueIndex;not null" json:"kks_code"`
	ExternalID  string `gorm:"type:varchar(128);not null" json:"external_id"`
	EquipmentID string `gorm:"type:varchar(64);index" json:"equipment_id"`
	Name        string `json:"name"`

	// Threshold configuration
	IgnoreThreshold              decimal.NullDecimal `gorm:"type:decimal(12,3)" json:"ignore_threshold"`
	MutationThreshold            decimal.NullDecimal `gorm:"type:decimal(12,3)" json:"mutation_threshold"`
	Level1Threshold              decimal.NullDecimal `gorm:"type:decimal(12,3)" json:"level1_threshold"`
	Level2Threshold              decimal.NullDecimal `gorm:"type:decimal(12,3)" json:"level2_threshold"`
	Level3Threshold              decimal.NullDecimal `gorm:"type:decimal(12,3)" json:"level3_threshold"`
	DischargeEventRatioThreshold decimal.NullDecimal `gorm:"type:decimal(6,2)" json:"discharge_event_ratio_threshold"`
	EventCountThresholdPeriod    *int                `json:"event_count_threshold_period"` // hours
	AlarmResetDelay              *int                `json:"alarm_reset_delay"`            // hours
	OfflineJudgmentThreshold     *int                `json:"offline_judgment_threshold"`   // hours

	// Last known sample snapshot
	LastMagnitude     decimal.NullDecimal `gorm:"type:decimal(12,3)" json:"last_magnitude"`
	LastStatus        int                 `gorm:"default:0" json:"last_status"`
	LastDischargeType string              `gorm:"type:varchar(32)" json:"last_discharge_type"`
	LastAlarmLevel    int                 `gorm:"default:0" json:"last_alarm_level"`
	LastAcquiredAt    *time.Time          `json:"last_acquired_at"`
	LastAlarmAt       *time.Time          `json:"last_alarm_at"`

	Offline bool `gorm:"default:false" json:"offline"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the table name for MonitoredPoint
func (MonitoredPoint) TableName() string {
	return "monitored_points"
}

// Thresholds is the fully resolved threshold set used by alarm escalation and
// offline judgment. No field is ever absent.
type Thresholds struct {
	Ignore                decimal.Decimal
	Mutation              decimal.Decimal
	Level1                decimal.Decimal
	Level2                decimal.Decimal
	Level3                decimal.Decimal
	DischargeEventRatio   decimal.Decimal
	EventCountPeriodHours int
	AlarmResetDelayHours  int
	OfflineJudgmentHours  int
}

// ResolveThresholds fills every unset or invalid threshold of the point from
// defaults. It returns the names of the fields that were defaulted.
func (p *MonitoredPoint) ResolveThresholds(defaults Thresholds) (Thresholds, []string) {
	resolved := defaults
	var defaulted []string

	pick := func(name string, v decimal.NullDecimal, dst *decimal.Decimal) {
		if v.Valid {
			*dst = v.Decimal
			return
		}
		defaulted = append(defaulted, name)
	}
	pickHours := func(name string, v *int, dst *int) {
		if v != nil && *v > 0 {
			*dst = *v
			return
		}
		defaulted = append(defaulted, name)
	}

	pick("ignore_threshold", p.IgnoreThreshold, &resolved.Ignore)
	pick("mutation_threshold", p.MutationThreshold, &resolved.Mutation)
	pick("level1_threshold", p.Level1Threshold, &resolved.Level1)
	pick("level2_threshold", p.Level2Threshold, &resolved.Level2)
	pick("level3_threshold", p.Level3Threshold, &resolved.Level3)
	pick("discharge_event_ratio_threshold", p.DischargeEventRatioThreshold, &resolved.DischargeEventRatio)
	pickHours("event_count_threshold_period", p.EventCountThresholdPeriod, &resolved.EventCountPeriodHours)
	pickHours("offline_judgment_threshold", p.OfflineJudgmentThreshold, &resolved.OfflineJudgmentHours)

	// Zero is a legal reset delay (reset on the next pass)
	if p.AlarmResetDelay != nil && *p.AlarmResetDelay >= 0 {
		resolved.AlarmResetDelayHours = *p.AlarmResetDelay
	} else {
		defaulted = append(defaulted, "alarm_reset_delay")
	}

	return resolved, defaulted
}

// OfflineJudgment returns the staleness window after which the point is offline
func (t Thresholds) OfflineJudgment() time.Duration {
	return time.Duration(t.OfflineJudgmentHours) * time.Hour
}

// EventWindow returns the rolling window used for the discharge event ratio
func (t Thresholds) EventWindow() time.Duration {
	return time.Duration(t.EventCountPeriodHours) * time.Hour
}

// AlarmResetDelay returns how long an alarm stays on the snapshot without new alarms
func (t Thresholds) AlarmResetDelay() time.Duration {
	return time.Duration(t.AlarmResetDelayHours) * time.Hour
}

// PointSnapshot is the "last known" state written back to a point after ingestion
type PointSnapshot struct {
	Magnitude     decimal.Decimal
	Status        int
	DischargeType string
	AlarmLevel    int
	AcquiredAt    time.Time
	// AlarmAt is set only when the sample raised an alarm
	AlarmAt *time.Time
}
