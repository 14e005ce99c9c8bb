// Package notifier delivers realtime notifications to connected users. The
// hub fans out through Redis pub/sub so a notification published on any
// instance reaches the instance holding the user's SSE connection.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// channelPattern matches every user's notification channel.
const channelPattern = "ecom:notify:*"

func channelFor(userID int64) string {
	return fmt.Sprintf("ecom:notify:%d", userID)
}

// sinkBuffer bounds one connection's pending notifications. A sink that
// stops draining loses messages rather than blocking the hub.
const sinkBuffer = 16

// Notification kinds pushed to clients.
const (
	KindConnected        = "connected"
	KindPaymentCompleted = "payment-completed"
	KindOrderCompleted   = "order-completed"
	KindCouponIssued     = "coupon-issued"
)

// Notification is one message pushed to a connected client.
type Notification struct {
	Kind   string          `json:"kind"`
	UserID int64           `json:"userId"`
	Data   json.RawMessage `json:"data,omitempty"`
	At     time.Time       `json:"at"`
}

// Hub routes notifications to the local sinks of each user.
type Hub struct {
	client redis.UniversalClient

	mu    sync.RWMutex
	sinks map[int64]map[chan Notification]struct{}
}

// NewHub creates a Hub.
func NewHub(client redis.UniversalClient) *Hub {
	return &Hub{client: client, sinks: map[int64]map[chan Notification]struct{}{}}
}

// Publish sends a notification to every connection the user holds, on any
// instance.
func (h *Hub) Publish(ctx context.Context, userID int64, kind string, data any) error {
	n := Notification{Kind: kind, UserID: userID, At: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal notification data: %w", err)
		}
		n.Data = raw
	}
	msg, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := h.client.Publish(ctx, channelFor(userID), msg).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Subscribe registers a sink for the user and returns the channel plus a
// cancel func the caller MUST invoke when the connection closes.
func (h *Hub) Subscribe(userID int64) (<-chan Notification, func()) {
	ch := make(chan Notification, sinkBuffer)

	h.mu.Lock()
	set := h.sinks[userID]
	if set == nil {
		set = map[chan Notification]struct{}{}
		h.sinks[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.sinks[userID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.sinks, userID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Connections reports how many sinks the user currently holds on this
// instance.
func (h *Hub) Connections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks[userID])
}

// Run consumes the pub/sub channel and dispatches to local sinks until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	sub := h.client.PSubscribe(ctx, channelPattern)
	defer func() { _ = sub.Close() }()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				log.Error().Err(err).Str("payload", msg.Payload).Msg("malformed notification, skipping")
				continue
			}
			h.dispatch(n)
		}
	}
}

func (h *Hub) dispatch(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.sinks[n.UserID] {
		select {
		case ch <- n:
		default:
			log.Warn().Int64("user_id", n.UserID).Str("kind", n.Kind).
				Msg("notification sink full, dropping")
		}
	}
}
