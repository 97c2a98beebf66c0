package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events   []string
	percents []int
}

func (r *recorder) Publish(event string, percent int) {
	r.events = append(r.events, event)
	r.percents = append(r.percents, percent)
}

func TestPublishNeverBlocksWithoutPump(t *testing.T) {
	b := NewRedisBridge(nil, "progress", &recorder{})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3*outboxSize; i++ {
			b.Publish("file-upload-progress", i%101)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish() blocked")
	}
	assert.Equal(t, int64(2*outboxSize), b.dropped.Load())
}

func TestDeliverForwardsToLocalHub(t *testing.T) {
	local := &recorder{}
	b := NewRedisBridge(nil, "progress", local)

	b.deliver(`{"event":"service-icon-upload-progress","percent":40}`)
	b.deliver(`not json`)
	b.deliver(`{"percent":10}`)
	b.deliver(`{"event":"service-icon-upload-progress","percent":100}`)

	require.Len(t, local.events, 2)
	assert.Equal(t, []int{40, 100}, local.percents)
	assert.Equal(t, "service-icon-upload-progress", local.events[0])
}
