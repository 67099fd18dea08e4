package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ticketflow/realtime/internal/logging"
	"github.com/ticketflow/realtime/internal/metrics"
)

// Channel is one live duplex connection. The registry owns it for its
// lifetime; it is destroyed on Unregister. Outbound frames go through
// the send channel, drained by the transport's writer loop.
type Channel struct {
	id        string
	createdAt time.Time
	send      chan []byte

	mu            sync.RWMutex
	principal     string
	authenticated bool
	closed        bool
	subscriptions map[string]struct{}
}

// ID returns the unique connection identifier.
func (c *Channel) ID() string {
	return c.id
}

// CreatedAt returns the connection creation time.
func (c *Channel) CreatedAt() time.Time {
	return c.createdAt
}

// Principal returns the bound principal ID, or "" before the auth
// handshake completes.
func (c *Channel) Principal() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal
}

// Authenticated reports whether the auth handshake has completed.
func (c *Channel) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// IsSubscribed reports whether the channel is subscribed to a resource.
func (c *Channel) IsSubscribed(resourceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[resourceID]
	return ok
}

// Closed reports whether the channel has been unregistered.
func (c *Channel) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Outbound returns the channel the transport's writer loop drains.
func (c *Channel) Outbound() <-chan []byte {
	return c.send
}

// Send queues a frame without blocking. It returns false if the
// channel is closed or its buffer is full; the caller decides whether
// that counts as a dead connection.
func (c *Channel) Send(frame []byte) bool {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	defer c.mu.RUnlock()

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Registry tracks live channels and their principal and subscription
// associations. It is the single piece of mutable shared state on the
// server side and is safe for concurrent use. Instances are created
// with New and torn down with Shutdown; there is no package-level
// singleton so tests can run isolated instances.
type Registry struct {
	sendBufferSize int

	mu        sync.RWMutex
	channels  map[string]*Channel
	byTicket  map[string]map[string]struct{} // resourceID -> set of channel IDs
	closed    bool

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an empty registry. sendBufferSize bounds each channel's
// outbound queue.
func New(sendBufferSize int) *Registry {
	if sendBufferSize <= 0 {
		sendBufferSize = 64
	}
	return &Registry{
		sendBufferSize: sendBufferSize,
		channels:       make(map[string]*Channel),
		byTicket:       make(map[string]map[string]struct{}),
		logger:         logging.Component("registry"),
		metrics:        metrics.GetMetrics(),
	}
}

// Register adds a new channel in unauthenticated state.
func (r *Registry) Register() *Channel {
	ch := &Channel{
		id:            generateID(),
		createdAt:     time.Now(),
		send:          make(chan []byte, r.sendBufferSize),
		subscriptions: make(map[string]struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		ch.closed = true
		close(ch.send)
		return ch
	}
	r.channels[ch.id] = ch

	r.metrics.ChannelsTotal.Inc()
	r.metrics.ChannelsActive.Inc()
	r.logger.Debug().Str("channel_id", ch.id).Msg("Channel registered")
	return ch
}

// Authenticate binds a principal to a channel. Binding with the same
// principal again is idempotent; binding with a different principal
// overwrites it (last write wins).
func (r *Registry) Authenticate(ch *Channel, principalID string) {
	r.mu.RLock()
	_, live := r.channels[ch.id]
	r.mu.RUnlock()
	if !live {
		return
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.authenticated && ch.principal != principalID {
		r.logger.Warn().
			Str("channel_id", ch.id).
			Str("old_principal", ch.principal).
			Str("new_principal", principalID).
			Msg("Channel re-authenticated with a different principal")
	}
	ch.principal = principalID
	ch.authenticated = true
}

// Subscribe adds a resource subscription. A no-op if the channel has
// already been unregistered.
func (r *Registry) Subscribe(ch *Channel, resourceID string) {
	if resourceID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.channels[ch.id]; !live {
		return
	}

	ch.mu.Lock()
	_, existed := ch.subscriptions[resourceID]
	ch.subscriptions[resourceID] = struct{}{}
	ch.mu.Unlock()

	if subs, ok := r.byTicket[resourceID]; ok {
		subs[ch.id] = struct{}{}
	} else {
		r.byTicket[resourceID] = map[string]struct{}{ch.id: {}}
	}

	if !existed {
		r.metrics.SubscriptionsActive.Inc()
	}
}

// Unsubscribe removes a resource subscription. A no-op if the channel
// or subscription is absent.
func (r *Registry) Unsubscribe(ch *Channel, resourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.channels[ch.id]; !live {
		return
	}

	ch.mu.Lock()
	_, existed := ch.subscriptions[resourceID]
	delete(ch.subscriptions, resourceID)
	ch.mu.Unlock()

	r.dropTicketIndex(resourceID, ch.id)
	if existed {
		r.metrics.SubscriptionsActive.Dec()
	}
}

// Unregister removes the channel and all its subscriptions, and closes
// its outbound queue. Called exactly once per channel from the
// transport's close path; later calls are no-ops.
func (r *Registry) Unregister(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, live := r.channels[ch.id]; !live {
		return
	}
	delete(r.channels, ch.id)

	ch.mu.Lock()
	subs := make([]string, 0, len(ch.subscriptions))
	for resourceID := range ch.subscriptions {
		subs = append(subs, resourceID)
	}
	ch.subscriptions = make(map[string]struct{})
	ch.closed = true
	close(ch.send)
	ch.mu.Unlock()

	for _, resourceID := range subs {
		r.dropTicketIndex(resourceID, ch.id)
	}

	r.metrics.ChannelsActive.Dec()
	r.metrics.SubscriptionsActive.Sub(float64(len(subs)))
	r.logger.Debug().Str("channel_id", ch.id).Msg("Channel unregistered")
}

// ChannelsFor returns the channels matching a predicate over principal
// and subscription state. The result is recomputed on every call.
func (r *Registry) ChannelsFor(predicate func(*Channel) bool) []*Channel {
	r.mu.RLock()
	snapshot := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		snapshot = append(snapshot, ch)
	}
	r.mu.RUnlock()

	matched := snapshot[:0]
	for _, ch := range snapshot {
		if predicate(ch) {
			matched = append(matched, ch)
		}
	}
	return matched
}

// SubscribersOf returns the channels subscribed to a resource.
func (r *Registry) SubscribersOf(resourceID string) []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, ok := r.byTicket[resourceID]
	if !ok {
		return nil
	}
	channels := make([]*Channel, 0, len(ids))
	for id := range ids {
		if ch, live := r.channels[id]; live {
			channels = append(channels, ch)
		}
	}
	return channels
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Shutdown closes every channel and empties the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, ch := range r.channels {
		ch.mu.Lock()
		ch.closed = true
		close(ch.send)
		ch.mu.Unlock()
		delete(r.channels, id)
		r.metrics.ChannelsActive.Dec()
	}
	r.byTicket = make(map[string]map[string]struct{})
	r.closed = true
	r.logger.Info().Msg("Registry shut down")
}

// dropTicketIndex removes one channel from a resource's reverse index.
// Caller holds r.mu.
func (r *Registry) dropTicketIndex(resourceID, channelID string) {
	if subs, ok := r.byTicket[resourceID]; ok {
		delete(subs, channelID)
		if len(subs) == 0 {
			delete(r.byTicket, resourceID)
		}
	}
}

// Variable for generating unique channel IDs
// Can be replaced in tests for deterministic behavior
var generateID = func() string {
	return uuid.NewString()
}
