package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/roelfdiedericks/memclaw/internal/logging"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishReachesSubscriber(t *testing.T) {
	b := New(logging.Discard())

	var mu sync.Mutex
	var got []Event
	b.Subscribe(TopicObservationCreated, func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	b.Publish(TopicObservationCreated, "payload")
	b.Publish(TopicQueueStatus, "other topic")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0].Topic != TopicObservationCreated {
		t.Errorf("topic = %q", got[0].Topic)
	}
	if got[0].Data != "payload" {
		t.Errorf("data = %v", got[0].Data)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(logging.Discard())

	var mu sync.Mutex
	count := 0
	id := b.Subscribe(TopicSummaryCreated, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Publish(TopicSummaryCreated, nil)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	if !b.Unsubscribe(id) {
		t.Fatal("Unsubscribe reported subscription missing")
	}
	if b.Unsubscribe(id) {
		t.Error("second Unsubscribe should report missing")
	}

	b.Publish(TopicSummaryCreated, nil)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("handler ran %d times after unsubscribe", count)
	}
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	b := New(logging.Discard())

	b.Subscribe(TopicQueueStatus, func(Event) {
		panic("handler bug")
	})

	var mu sync.Mutex
	delivered := false
	b.Subscribe(TopicQueueStatus, func(Event) {
		mu.Lock()
		delivered = true
		mu.Unlock()
	})

	b.Publish(TopicQueueStatus, nil)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered
	})
}
