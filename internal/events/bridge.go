package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/chatrelay/internal/logger"
)

const channel = "chatrelay:events"

// LocalSink receives events addressed to users connected to this instance.
type LocalSink interface {
	EmitToUser(userID string, ev Event)
}

// envelope is the pub/sub frame: which user, which event.
type envelope struct {
	UserID string `json:"userId"`
	Event  Event  `json:"event"`
}

// Bridge fans events out across instances through a Redis channel. Every
// instance publishes; every instance forwards received frames to its local
// hub, which drops them when the user has no connection here.
type Bridge struct {
	rdb  *redis.Client
	sink LocalSink
}

func NewBridge(rdb *redis.Client, sink LocalSink) *Bridge {
	return &Bridge{rdb: rdb, sink: sink}
}

// EmitToUser publishes the event for all instances, this one included.
func (b *Bridge) EmitToUser(userID string, ev Event) {
	data, err := json.Marshal(envelope{UserID: userID, Event: ev})
	if err != nil {
		logger.Errorf("events: marshal %s for user=%s: %v", ev.Type, userID, err)
		return
	}
	if err := b.rdb.Publish(context.Background(), channel, data).Err(); err != nil {
		// Degrade to local delivery rather than dropping the event.
		logger.Errorf("events: publish %s: %v (delivering locally)", ev.Type, err)
		b.sink.EmitToUser(userID, ev)
	}
}

// Run subscribes and forwards frames to the local sink until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Errorf("events: bad frame on %s: %v", channel, err)
				continue
			}
			b.sink.EmitToUser(env.UserID, env.Event)
		}
	}
}
