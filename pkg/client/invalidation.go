package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketflow/realtime/pkg/wire"
)

// duplicateWindow suppresses identical pushes arriving back to back,
// e.g. when a mutation triggers overlapping server-side notifications.
const duplicateWindow = time.Second

// Toaster receives the user-facing notices a subset of events raise.
type Toaster interface {
	Toast(message string)
}

// ToastFunc adapts a function to the Toaster interface.
type ToastFunc func(message string)

// Toast implements Toaster.
func (f ToastFunc) Toast(message string) { f(message) }

// InvalidationRouter maps inbound events to cache invalidations and
// optional toasts. It keeps a single-slot memo of the last message
// signature to drop duplicates arriving inside duplicateWindow; only
// the most recent message is compared, there is no dedup set.
type InvalidationRouter struct {
	cache       Cache
	toaster     Toaster
	currentUser func() string
	logger      zerolog.Logger

	lastSignature string
	lastArrival   time.Time

	// now is replaceable in tests
	now func() time.Time
}

// NewInvalidationRouter creates a router. currentUser supplies the
// authenticated principal ID for personalization checks; it may return
// "" when unauthenticated, which just skips those checks.
func NewInvalidationRouter(cache Cache, toaster Toaster, currentUser func() string, logger zerolog.Logger) *InvalidationRouter {
	if currentUser == nil {
		currentUser = func() string { return "" }
	}
	if toaster == nil {
		toaster = ToastFunc(func(string) {})
	}
	return &InvalidationRouter{
		cache:       cache,
		toaster:     toaster,
		currentUser: currentUser,
		logger:      logger,
		now:         time.Now,
	}
}

// Handle routes one inbound envelope. It never returns an error and
// never panics on unrecognized input: unknown types are logged and
// dropped so newer servers can talk to older clients.
func (r *InvalidationRouter) Handle(env wire.Envelope) {
	if r.isDuplicate(env) {
		r.logger.Debug().Str("type", string(env.Type)).Msg("Suppressed duplicate event")
		return
	}

	switch env.Type {
	case wire.EventConnected:
		// Handshake ack, nothing to invalidate.

	case wire.EventTicketCreated:
		var data wire.TicketCreatedData
		if !r.decode(env, &data) {
			return
		}
		r.cache.Invalidate("tickets")
		r.cache.InvalidatePrefix("stats")
		if me := r.currentUser(); me != "" && data.AssigneeID == me {
			r.toaster.Toast(fmt.Sprintf("Ticket %s assigned to you", data.TicketNumber))
		}

	case wire.EventTicketUpdated:
		var data wire.TicketUpdatedData
		if !r.decode(env, &data) {
			return
		}
		r.cache.Invalidate("ticket/" + data.ID.String())
		r.cache.Invalidate("tickets")
		r.cache.InvalidatePrefix("stats")
		if data.Changes.Status != "" {
			r.toaster.Toast(fmt.Sprintf("Ticket %s is now %s", data.TicketNumber, data.Changes.Status))
		}

	case wire.EventTicketComment:
		var data wire.TicketCommentData
		if !r.decode(env, &data) {
			return
		}
		r.cache.Invalidate("ticket/" + data.TicketID.String() + "/comments")
		r.cache.Invalidate("ticket/" + data.TicketID.String())
		if data.IsReply {
			r.toaster.Toast(fmt.Sprintf("New reply on ticket %s", data.TicketNumber))
		}

	case wire.EventKnowledgeCreated:
		r.cache.InvalidatePrefix("knowledge")

	case wire.EventAIResponse:
		var data wire.AIResponseData
		if !r.decode(env, &data) {
			return
		}
		r.cache.Invalidate("ticket/" + data.TicketID.String() + "/suggestions")
		if data.Confidence > 0.8 {
			r.toaster.Toast("AI suggestion ready for ticket " + data.TicketID.String())
		}

	case wire.EventTeamUpdate:
		r.cache.InvalidatePrefix("teams")

	case wire.EventUserUpdate:
		r.cache.InvalidatePrefix("users")

	case wire.EventSystemNotification:
		var data wire.SystemNotificationData
		if !r.decode(env, &data) {
			return
		}
		r.toaster.Toast(data.Message)

	default:
		r.logger.Debug().Str("type", string(env.Type)).Msg("Unknown event type, ignoring")
	}
}

// isDuplicate updates the single-slot memo and reports whether the
// envelope repeats the previous one inside the suppression window.
// Signature construction errors count as "not a duplicate".
func (r *InvalidationRouter) isDuplicate(env wire.Envelope) bool {
	data, err := json.Marshal(env.Data)
	if err != nil {
		r.lastSignature = ""
		return false
	}
	signature := string(env.Type) + ":" + string(data)

	arrived := r.now()
	duplicate := signature == r.lastSignature && arrived.Sub(r.lastArrival) < duplicateWindow

	r.lastSignature = signature
	r.lastArrival = arrived
	return duplicate
}

// decode unmarshals an envelope payload, logging and dropping the
// event on failure.
func (r *InvalidationRouter) decode(env wire.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		r.logger.Debug().Err(err).Str("type", string(env.Type)).Msg("Malformed event payload")
		return false
	}
	return true
}
