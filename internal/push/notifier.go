package push

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/chatrelay/internal/logger"
)

// SubscriptionStore persists browser push subscriptions per user.
type SubscriptionStore interface {
	SavePushSubscription(ctx context.Context, userID, key, subscription string) error
	ListPushSubscriptions(ctx context.Context, userID string) (map[string]string, error)
	DeletePushSubscription(ctx context.Context, userID, key string) error
}

// Notifier delivers Web Push notifications to a user's subscribed browsers.
// A user may have several subscriptions (devices); all get the push. Dead
// subscriptions are pruned when the push service reports them gone.
type Notifier struct {
	store      SubscriptionStore
	keys       *VAPIDKeys
	subscriber string
}

// NewNotifier builds a notifier. An empty subscriber (the VAPID mailto:
// contact) disables push entirely.
func NewNotifier(store SubscriptionStore, keys *VAPIDKeys, subscriber string) *Notifier {
	if subscriber == "" || keys == nil {
		return &Notifier{}
	}
	return &Notifier{store: store, keys: keys, subscriber: subscriber}
}

func (n *Notifier) Enabled() bool { return n.subscriber != "" }

// PublicKey exposes the VAPID public key clients need to subscribe.
func (n *Notifier) PublicKey() string {
	if n.keys == nil {
		return ""
	}
	return n.keys.PublicKey
}

// endpointKey derives a stable hash key for a subscription endpoint, keeping
// full push URLs out of Redis hash field names.
func endpointKey(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:8])
}

// Subscribe stores a browser subscription for the user.
func (n *Notifier) Subscribe(ctx context.Context, userID string, sub webpush.Subscription) error {
	if !n.Enabled() {
		return nil
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return n.store.SavePushSubscription(ctx, userID, endpointKey(sub.Endpoint), string(data))
}

// Unsubscribe removes the subscription matching the endpoint.
func (n *Notifier) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if !n.Enabled() {
		return nil
	}
	return n.store.DeletePushSubscription(ctx, userID, endpointKey(endpoint))
}

type notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify pushes to every subscription of the user. Failures are logged, not
// returned; delivery is best effort.
func (n *Notifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if !n.Enabled() {
		return
	}
	subs, err := n.store.ListPushSubscriptions(ctx, userID)
	if err != nil {
		logger.Errorf("push: list subscriptions user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(notification{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push: marshal notification: %v", err)
		return
	}

	for key, raw := range subs {
		var sub webpush.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			logger.Errorf("push: bad subscription user=%s key=%s: %v", userID, key, err)
			_ = n.store.DeletePushSubscription(ctx, userID, key)
			continue
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
			Subscriber:      n.subscriber,
			VAPIDPublicKey:  n.keys.PublicKey,
			VAPIDPrivateKey: n.keys.PrivateKey,
			TTL:             60,
		})
		if err != nil {
			logger.Errorf("push: send user=%s: %v", userID, err)
			continue
		}
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			// Subscription expired on the push service side.
			_ = n.store.DeletePushSubscription(ctx, userID, key)
		}
		resp.Body.Close()
	}
}
