package dispatcher

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketflow/realtime/internal/logging"
	"github.com/ticketflow/realtime/internal/metrics"
	"github.com/ticketflow/realtime/internal/registry"
	"github.com/ticketflow/realtime/pkg/wire"
)

// Role names as stored in the user directory.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleAgent    = "agent"
	RoleCustomer = "customer"
)

// Directory answers the principal and ticket lookups routing needs.
// Implemented by the store; a lookup miss skips the personalization it
// would have fed, never fails the dispatch.
type Directory interface {
	RoleOf(principalID string) (string, bool)
	AssigneeOf(ticketID string) (string, bool)
}

// globalVisibility gates broadcast event types by role. Event types
// absent from this table are resource-scoped.
var globalVisibility = map[wire.EventType]map[string]bool{
	wire.EventTicketCreated:      {RoleAdmin: true, RoleManager: true, RoleAgent: true},
	wire.EventKnowledgeCreated:   {RoleAdmin: true, RoleManager: true, RoleAgent: true, RoleCustomer: true},
	wire.EventTeamUpdate:         {RoleAdmin: true, RoleManager: true},
	wire.EventUserUpdate:         {RoleAdmin: true, RoleManager: true},
	wire.EventSystemNotification: {RoleAdmin: true, RoleManager: true, RoleAgent: true, RoleCustomer: true},
}

// Dispatcher translates a domain mutation into zero or more channel
// pushes. Publish is best-effort: delivery failure to one channel never
// affects delivery to the others or the success of the originating
// mutation.
type Dispatcher struct {
	registry  *registry.Registry
	directory Directory
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New creates a dispatcher over the given registry and directory.
func New(reg *registry.Registry, dir Directory) *Dispatcher {
	return &Dispatcher{
		registry:  reg,
		directory: dir,
		logger:    logging.Component("dispatcher"),
		metrics:   metrics.GetMetrics(),
	}
}

// Publish fans an event out to interested channels. It never blocks on
// a slow client and never returns an error to the mutation path;
// undeliverable frames are dropped, dead channels unregistered.
func (d *Dispatcher) Publish(event wire.Event) {
	start := time.Now()
	d.metrics.EventsPublishedTotal.WithLabelValues(string(event.Type)).Inc()

	frame, err := event.Encode()
	if err != nil {
		d.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to encode event")
		return
	}

	targets := d.targetsFor(event)
	for _, ch := range targets {
		d.deliver(ch, event.Type, frame)
	}

	d.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	d.logger.Debug().
		Str("event_type", string(event.Type)).
		Int("channels", len(targets)).
		Msg("Event dispatched")
}

// targetsFor resolves the set of channels an event should reach.
func (d *Dispatcher) targetsFor(event wire.Event) []*registry.Channel {
	if allowed, global := globalVisibility[event.Type]; global {
		return d.registry.ChannelsFor(func(ch *registry.Channel) bool {
			principal := ch.Principal()
			if principal == "" {
				// Pre-handshake channels cannot be role-checked.
				return false
			}
			role, ok := d.directory.RoleOf(principal)
			return ok && allowed[role]
		})
	}

	ticketID := scopedTicketID(event)
	if ticketID == "" {
		d.logger.Warn().Str("event_type", string(event.Type)).Msg("Resource-scoped event without a ticket ID, cannot route")
		return nil
	}

	targets := d.registry.SubscribersOf(ticketID)

	// The assignee always hears about their ticket, subscribed or not.
	if assignee, ok := d.directory.AssigneeOf(ticketID); ok && assignee != "" {
		seen := make(map[string]struct{}, len(targets))
		for _, ch := range targets {
			seen[ch.ID()] = struct{}{}
		}
		for _, ch := range d.registry.ChannelsFor(func(ch *registry.Channel) bool {
			return ch.Principal() == assignee
		}) {
			if _, dup := seen[ch.ID()]; !dup {
				targets = append(targets, ch)
			}
		}
	}

	return targets
}

// deliver queues one frame on one channel. A full buffer drops the
// frame; a closed channel is treated as an implicit disconnect.
func (d *Dispatcher) deliver(ch *registry.Channel, eventType wire.EventType, frame []byte) {
	if ch.Send(frame) {
		d.metrics.EventsDeliveredTotal.WithLabelValues(string(eventType)).Inc()
		return
	}

	if ch.Closed() {
		d.metrics.EventsDroppedTotal.WithLabelValues(string(eventType), "closed").Inc()
		d.registry.Unregister(ch)
		return
	}

	d.metrics.EventsDroppedTotal.WithLabelValues(string(eventType), "buffer_full").Inc()
	d.logger.Warn().
		Str("channel_id", ch.ID()).
		Str("event_type", string(eventType)).
		Msg("Channel send buffer full, dropping event")
}

// scopedTicketID extracts the routing resource from a resource-scoped
// payload.
func scopedTicketID(event wire.Event) string {
	switch data := event.Data.(type) {
	case wire.TicketUpdatedData:
		return string(data.ID)
	case *wire.TicketUpdatedData:
		return string(data.ID)
	case wire.TicketCommentData:
		return string(data.TicketID)
	case *wire.TicketCommentData:
		return string(data.TicketID)
	case wire.AIResponseData:
		return string(data.TicketID)
	case *wire.AIResponseData:
		return string(data.TicketID)
	default:
		return ""
	}
}
