package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingPublisher struct {
	alarms int
	states int
	err    error
}

func (p *countingPublisher) PublishAlarm(*AlarmEvent) error {
	p.alarms++
	return p.err
}

func (p *countingPublisher) PublishPointState(*PointStateEvent) error {
	p.states++
	return p.err
}

func TestMultiPublisher(t *testing.T) {
	broken := &countingPublisher{err: errors.New("broker down")}
	healthy := &countingPublisher{}
	multi := MultiPublisher{broken, healthy, NopPublisher{}}

	err := multi.PublishAlarm(&AlarmEvent{PointCode: "KKS-A"})
	assert.ErrorContains(t, err, "broker down")
	assert.Equal(t, 1, broken.alarms)
	assert.Equal(t, 1, healthy.alarms, "a failing publisher does not stop the others")

	err = multi.PublishPointState(&PointStateEvent{PointCode: "KKS-A"})
	assert.Error(t, err)
	assert.Equal(t, 1, healthy.states)

	assert.NoError(t, MultiPublisher{healthy}.PublishAlarm(&AlarmEvent{}))
	assert.NoError(t, MultiPublisher{}.PublishPointState(&PointStateEvent{}))
}
