package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherPreservesPerChatOrder(t *testing.T) {
	var mu sync.Mutex
	got := make(map[int64][]string)

	d := NewDispatcher(HandlerFunc(func(_ context.Context, u Update) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		got[u.Message.ChatID] = append(got[u.Message.ChatID], u.Message.Text)
		mu.Unlock()
	}), nil)

	ctx := context.Background()
	for _, text := range []string{"a", "b", "c", "d"} {
		d.Dispatch(ctx, Update{Message: &Message{ChatID: 1, Text: text}})
		d.Dispatch(ctx, Update{Message: &Message{ChatID: 2, Text: text}})
	}
	d.Wait()

	assert.Equal(t, []string{"a", "b", "c", "d"}, got[1])
	assert.Equal(t, []string{"a", "b", "c", "d"}, got[2])
}

func TestDispatcherRunsChatsConcurrently(t *testing.T) {
	release := make(chan struct{})
	var active atomic.Int32
	var peak atomic.Int32

	d := NewDispatcher(HandlerFunc(func(_ context.Context, u Update) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
	}), nil)

	ctx := context.Background()
	d.Dispatch(ctx, Update{Message: &Message{ChatID: 1}})
	d.Dispatch(ctx, Update{Message: &Message{ChatID: 2}})

	require.Eventually(t, func() bool { return peak.Load() == 2 }, time.Second, time.Millisecond)
	close(release)
	d.Wait()
}

func TestDispatcherNeverRunsSameChatConcurrently(t *testing.T) {
	var active atomic.Int32
	var overlap atomic.Bool

	d := NewDispatcher(HandlerFunc(func(_ context.Context, u Update) {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(100 * time.Microsecond)
		active.Add(-1)
	}), nil)

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		d.Dispatch(ctx, Update{Callback: &Callback{ChatID: 7}})
	}
	d.Wait()

	assert.False(t, overlap.Load())
}

func TestDispatcherRecoversFromPanics(t *testing.T) {
	var handled atomic.Int32
	d := NewDispatcher(HandlerFunc(func(_ context.Context, u Update) {
		handled.Add(1)
		if u.Message.Text == "boom" {
			panic("boom")
		}
	}), nil)

	ctx := context.Background()
	d.Dispatch(ctx, Update{Message: &Message{ChatID: 1, Text: "boom"}})
	d.Dispatch(ctx, Update{Message: &Message{ChatID: 1, Text: "after"}})
	d.Wait()

	assert.Equal(t, int32(2), handled.Load())
}

func TestDispatcherRunStopsWhenInputCloses(t *testing.T) {
	var handled atomic.Int32
	d := NewDispatcher(HandlerFunc(func(_ context.Context, _ Update) {
		handled.Add(1)
	}), nil)

	in := make(chan Update, 3)
	in <- Update{Message: &Message{ChatID: 1}}
	in <- Update{Message: &Message{ChatID: 2}}
	in <- Update{Message: &Message{ChatID: 1}}
	close(in)

	d.Run(context.Background(), in)
	assert.Equal(t, int32(3), handled.Load())
}

func TestKeyboardEmpty(t *testing.T) {
	assert.True(t, Keyboard(nil).Empty())
	assert.True(t, Keyboard{{}, {}}.Empty())
	assert.False(t, Keyboard{{}, Row(Button{Label: "x", Data: "y"})}.Empty())
}

func TestUpdateChatID(t *testing.T) {
	assert.Equal(t, int64(5), Update{Message: &Message{ChatID: 5}}.ChatID())
	assert.Equal(t, int64(6), Update{Callback: &Callback{ChatID: 6}}.ChatID())
	assert.Equal(t, int64(0), Update{}.ChatID())
	assert.Equal(t, "5:10", MessageScope(5, 10))
}
