package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AcquisitionSample is one persisted partial-discharge reading. The composite
// primary key (point_code, acquired_at) is the deduplication key.
type AcquisitionSample struct {
	PointCode      string          `gorm:"type:varchar(64);primaryKey;not null" json:"point_code"`
	AcquiredAt     time.Time       `gorm:"primaryKey;not null" json:"acquired_at"`
	Frequency      float64         `json:"frequency"`
	PulseCount     int64           `json:"pulse_count"`
	Magnitude      decimal.Decimal `gorm:"type:decimal(12,3);not null" json:"magnitude"`
	StatusCode     int             `gorm:"not null;default:0" json:"status_code"`
	DischargeType  string          `gorm:"type:varchar(32)" json:"discharge_type"`  // site diagnosis
	DiagnosisType  string          `gorm:"type:varchar(64)" json:"diagnosis_type"`  // platform classifier label
	DiagnosisRaw   string          `gorm:"type:text" json:"diagnosis_raw,omitempty"` // raw classifier response
	Payload        []byte          `json:"-"`
	DischargeEvent bool            `gorm:"not null;default:false" json:"discharge_event"`
	AlarmLevel     int             `gorm:"not null;default:0;index" json:"alarm_level"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TableName overrides the table name for AcquisitionSample
func (AcquisitionSample) TableName() string {
	return "acquisition_samples"
}

// Alarmed reports whether the sample carries a non-zero alarm level
func (s *AcquisitionSample) Alarmed() bool {
	return s.AlarmLevel != 0
}
