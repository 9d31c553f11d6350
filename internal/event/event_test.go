package event_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber should only receive the events it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published:   []event.Event{named("quiz.ended"), named("score.updated")},
					subscribers: []subscriber{{name: "archive", subscribeTo: []string{"quiz.ended"}}},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{named("quiz.ended")}, out.received["archive"])
			},
		},

		"repeated events should all be delivered": {
			arrange: func() inputs {
				return inputs{
					published:   []event.Event{named("score.updated"), named("score.updated")},
					subscribers: []subscriber{{name: "leaderboard", subscribeTo: []string{"score.updated"}}},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Len(t, out.received["leaderboard"], 2)
			},
		},

		"an event should fan out to every subscriber": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{named("session.closed")},
					subscribers: []subscriber{
						{name: "leaderboard", subscribeTo: []string{"session.closed"}},
						{name: "pubsub", subscribeTo: []string{"session.closed"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{named("session.closed")}, out.received["leaderboard"])
				assert.ElementsMatch(t, []event.Event{named("session.closed")}, out.received["pubsub"])
			},
		},

		"no subscriber should receive nothing": {
			arrange: func() inputs {
				return inputs{published: []event.Event{named("player.banned")}}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Empty(t, out.received)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := event.NewBus(event.WithPoolSize(1))

	release := make(chan struct{})
	b.Subscribe("slow", func(ctx context.Context, e event.Event) error {
		<-release
		return nil
	})

	fast := make(chan struct{}, 1)
	b.Subscribe("fast", func(ctx context.Context, e event.Event) error {
		fast <- struct{}{}
		return nil
	})

	b.Publish(context.Background(), named("slow"))
	b.Publish(context.Background(), named("fast"))

	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber was blocked by the slow one")
	}

	close(release)
	b.Stop()
}

func TestBus_HandlerPanicIsRecovered(t *testing.T) {
	b := event.NewBus()
	b.Subscribe("boom", func(ctx context.Context, e event.Event) error {
		panic("boom")
	})

	require.NotPanics(t, func() {
		b.Publish(context.Background(), named("boom"))
		b.Stop()
	})
}

type named string

func (e named) Name() string {
	return string(e)
}

type subscriber struct {
	name        string
	subscribeTo []string
}
