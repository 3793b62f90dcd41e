package usecase

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketSync/internal/domain/models"
	"MarketSync/pkg/logger"
)

func TestHubFanout(t *testing.T) {
	h := NewHub(logger.Nop())
	defer h.Close()

	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelA()
	defer cancelB()

	h.Publish(models.Event{Type: models.EventConnected})

	assert.Equal(t, models.EventConnected, (<-a).Type)
	assert.Equal(t, models.EventConnected, (<-b).Type)
}

func TestHubCoalescesForSlowSubscriber(t *testing.T) {
	h := NewHub(logger.Nop())
	defer h.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	// Overfill the buffer without reading; the hub must never block and the
	// newest events must win.
	total := defaultSubscriberBuffer + 10
	for i := 0; i < total; i++ {
		h.Publish(models.Event{Type: models.EventStockUpdate, Reason: fmt.Sprintf("%d", i)})
	}

	var got []string
	for len(ch) > 0 {
		got = append(got, (<-ch).Reason)
	}
	require.Len(t, got, defaultSubscriberBuffer)
	assert.Equal(t, fmt.Sprintf("%d", total-1), got[len(got)-1], "latest event survives coalescing")
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(logger.Nop())
	defer h.Close()

	ch, cancel := h.Subscribe()
	require.Equal(t, 1, h.SubscriberCount())

	cancel()
	assert.Equal(t, 0, h.SubscriberCount())
	_, open := <-ch
	assert.False(t, open)

	// Cancelling twice is harmless.
	cancel()
}

func TestHubPublishAfterCloseIsNoop(t *testing.T) {
	h := NewHub(logger.Nop())
	ch, _ := h.Subscribe()
	h.Close()

	h.Publish(models.Event{Type: models.EventConnected})
	_, open := <-ch
	assert.False(t, open)
}
