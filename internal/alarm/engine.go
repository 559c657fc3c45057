// Package alarm computes the discharge-event flag and the 0-5 alarm level of a
// freshly decoded sample. Evaluation is stateless: history is read from the
// record store on every call, so a sample can be re-evaluated at any time.
package alarm

import (
	"context"
	"fmt"
	"time"

	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/shopspring/decimal"
)

// WindowReader reads the persisted samples of a point in [from, to], oldest first
type WindowReader interface {
	QueryWindow(ctx context.Context, pointCode string, from, to time.Time) ([]models.AcquisitionSample, error)
}

// Input is the decoded sample being evaluated
type Input struct {
	AcquiredAt        time.Time
	Magnitude         decimal.Decimal
	Status            int
	SiteDischargeType string
	// DiagnosisLabel is the classifier label, empty when there was no hit
	DiagnosisLabel string
}

// Decision is the result of one evaluation
type Decision struct {
	Input          Input
	Level          int
	DischargeEvent bool
	Fired          []string
	WindowCount    int
	Ratio          decimal.Decimal
}

// Alarmed reports whether the decision carries a non-zero level
func (d *Decision) Alarmed() bool {
	return d.Level != LevelNone
}

// DischargeType returns the label stored on the sample and the point,
// preferring the platform diagnosis over the site one
func (d *Decision) DischargeType() string {
	if d.Input.DiagnosisLabel != "" {
		return d.Input.DiagnosisLabel
	}
	return d.Input.SiteDischargeType
}

// Snapshot builds the last-known state written back to the point
func (d *Decision) Snapshot() models.PointSnapshot {
	snapshot := models.PointSnapshot{
		Magnitude:     d.Input.Magnitude,
		Status:        d.Input.Status,
		DischargeType: d.DischargeType(),
		AlarmLevel:    d.Level,
		AcquiredAt:    d.Input.AcquiredAt,
	}
	if d.Alarmed() {
		at := d.Input.AcquiredAt
		snapshot.AlarmAt = &at
	}
	return snapshot
}

type evaluation struct {
	ctx        context.Context
	reader     WindowReader
	pointCode  string
	thresholds models.Thresholds
	input      Input
	now        time.Time

	level       int
	event       bool
	stop        bool
	fired       []string
	windowCount int
	ratio       decimal.Decimal
}

func (ev *evaluation) fire(name string) {
	ev.fired = append(ev.fired, name)
}

// Engine runs the escalation rules
type Engine struct {
	reader WindowReader
}

// NewEngine creates an engine reading history from reader
func NewEngine(reader WindowReader) *Engine {
	return &Engine{reader: reader}
}

// Evaluate runs the rule chain for one sample. now closes the rolling window.
// An error means the window could not be read and no level was decided.
func (e *Engine) Evaluate(ctx context.Context, pointCode string, thresholds models.Thresholds, input Input, now time.Time) (*Decision, error) {
	ev := &evaluation{
		ctx:        ctx,
		reader:     e.reader,
		pointCode:  pointCode,
		thresholds: thresholds,
		input:      input,
		now:        now,
		ratio:      decimal.Zero,
	}

	for _, r := range rules {
		if err := r.apply(ev); err != nil {
			return nil, fmt.Errorf("%s rule: %w", r.name, err)
		}
		if ev.stop {
			break
		}
	}

	return &Decision{
		Input:          input,
		Level:          ev.level,
		DischargeEvent: ev.event,
		Fired:          ev.fired,
		WindowCount:    ev.windowCount,
		Ratio:          ev.ratio,
	}, nil
}
