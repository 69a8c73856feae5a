package payee

import (
	"micropay/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifierDropsWhenFull(t *testing.T) {
	n := NewNotifier(1)
	events, cancel := n.Subscribe()

	n.Publish(model.Event{Type: model.EventChannelCreated})
	n.Publish(model.Event{Type: model.EventPaymentReceived})

	ev := <-events
	assert.Equal(t, model.EventChannelCreated, ev.Type)
	assert.Len(t, events, 0)

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)

	// publishing after the last subscriber left is a no-op
	n.Publish(model.Event{Type: model.EventChannelClaimed})
}

func TestNilNotifier(t *testing.T) {
	var n *Notifier
	assert.NotPanics(t, func() {
		n.Publish(model.Event{Type: model.EventChannelCreated})
	})
}
