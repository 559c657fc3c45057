package alarm

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rule names recorded on a Decision
const (
	RuleDischargeEvent = "discharge_event"
	RuleIgnoreGate     = "ignore_gate"
	RuleMutation       = "mutation"
	RuleSustained      = "sustained"
)

// Alarm levels
const (
	LevelNone      = 0
	LevelEvent     = 1
	LevelMutation  = 2
	LevelSustained = 3
	LevelMax       = 5
)

// rule mutates the evaluation in place. Rules run in order and a later rule
// overwrites the level set by an earlier one. Setting stop ends the chain.
type rule struct {
	name  string
	apply func(ev *evaluation) error
}

var rules = []rule{
	{RuleDischargeEvent, dischargeEventRule},
	{RuleIgnoreGate, ignoreGateRule},
	{RuleMutation, mutationRule},
	{RuleSustained, sustainedRule},
}

func dischargeEventRule(ev *evaluation) error {
	ev.event = ev.input.Status != 0 || ev.input.DiagnosisLabel != ""
	if !ev.event {
		ev.level = LevelNone
		ev.stop = true
		return nil
	}
	ev.fire(RuleDischargeEvent)
	return nil
}

func ignoreGateRule(ev *evaluation) error {
	if ev.input.Magnitude.LessThanOrEqual(ev.thresholds.Ignore) {
		ev.level = LevelNone
		ev.stop = true
		ev.fire(RuleIgnoreGate)
		return nil
	}
	ev.level = LevelEvent
	return nil
}

func mutationRule(ev *evaluation) error {
	if ev.input.Magnitude.GreaterThan(ev.thresholds.Mutation) {
		ev.level = LevelMutation
		ev.fire(RuleMutation)
	}
	return nil
}

func sustainedRule(ev *evaluation) error {
	hours := ev.thresholds.EventCountPeriodHours
	if hours <= 0 {
		return nil
	}

	from := ev.now.Add(-ev.thresholds.EventWindow())
	samples, err := ev.reader.QueryWindow(ev.ctx, ev.pointCode, from, ev.now)
	if err != nil {
		return fmt.Errorf("query event window: %w", err)
	}

	var latest *decimal.Decimal
	count := 0
	for i := range samples {
		if samples[i].AlarmLevel == LevelNone {
			continue
		}
		count++
		// ascending order, so the last alarmed sample wins
		latest = &samples[i].Magnitude
	}

	ev.windowCount = count
	ev.ratio = decimal.NewFromInt(int64(count)).DivRound(decimal.NewFromInt(int64(hours)), 2)

	if latest == nil || ev.ratio.LessThan(ev.thresholds.DischargeEventRatio) {
		return nil
	}

	level := ev.level
	if latest.GreaterThanOrEqual(ev.thresholds.Level1) {
		level = 3
	}
	if latest.GreaterThanOrEqual(ev.thresholds.Level2) {
		level = 4
	}
	if latest.GreaterThanOrEqual(ev.thresholds.Level3) {
		level = 5
	}

	if level >= LevelSustained {
		ev.level = level
		ev.fire(RuleSustained)
	}
	return nil
}
