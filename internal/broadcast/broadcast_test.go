package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	b := New[int]("test")
	ch1, cancel1 := b.Subscribe(10)
	ch2, cancel2 := b.Subscribe(10)
	defer cancel1()
	defer cancel2()

	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, 1, <-ch1)
	assert.Equal(t, 2, <-ch1)
	assert.Equal(t, 1, <-ch2)
	assert.Equal(t, 2, <-ch2)
	assert.Equal(t, uint64(2), b.Published())
}

func TestBroadcaster_PublishWithoutSubscribers(t *testing.T) {
	b := New[string]("test")
	b.Publish("nobody listens")
	assert.Equal(t, 0, b.Subscribers())
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := New[int]("test")
	slow, cancelSlow := b.Subscribe(1)
	fast, cancelFast := b.Subscribe(100)
	defer cancelSlow()
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	assert.Equal(t, 0, <-slow)
	assert.Len(t, fast, 50)
	assert.Equal(t, uint64(49), b.Dropped())
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := New[int]("test")
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())
	b.Publish(1)
}

func TestBroadcaster_PanickingHandlerIsIsolated(t *testing.T) {
	b := New[int]("test")
	var mu sync.Mutex
	var got []int

	cancelBad := b.SubscribeFunc(10, func(int) { panic("boom") })
	cancelGood := b.SubscribeFunc(10, func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	defer cancelBad()
	defer cancelGood()

	b.Publish(1)
	b.Publish(2)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_Close(t *testing.T) {
	b := New[int]("test")
	ch, cancel := b.Subscribe(1)
	b.Close()
	b.Close()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	late, _ := b.Subscribe(1)
	_, open = <-late
	assert.False(t, open)

	b.Publish(1)
	assert.Equal(t, uint64(0), b.Published())
}

func TestBroadcaster_ConcurrentPublishAndCancel(t *testing.T) {
	b := New[int]("test")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		_, cancel := b.Subscribe(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(j)
			}
		}()
		go func() {
			defer wg.Done()
			cancel()
		}()
	}
	wg.Wait()
}
