package jobs

import (
	"testing"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker()
	first, cancelFirst := b.Subscribe()
	second, cancelSecond := b.Subscribe()
	defer cancelSecond()

	ev := JobEvent{JobID: "j1", Kind: model.JobMatch, Status: model.JobRunning}
	b.Publish(ev)

	assert.Equal(t, Event(ev), <-first)
	assert.Equal(t, Event(ev), <-second)

	cancelFirst()
	cancelFirst()
	_, open := <-first
	assert.False(t, open)

	b.Publish(TransactionsUpdated{JobID: "j1", Count: 3})
	got := <-second
	require.IsType(t, TransactionsUpdated{}, got)
	assert.Equal(t, 3, got.(TransactionsUpdated).Count)
}

func TestBroker_DropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(JobEvent{Processed: i})
	}
	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, 0, (<-ch).(JobEvent).Processed)
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe()
	b.Close()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	late, _ := b.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
