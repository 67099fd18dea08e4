package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketflow/realtime/pkg/wire"
)

// recordingCache records invalidations instead of evicting anything.
type recordingCache struct {
	keys     []string
	prefixes []string
}

func (c *recordingCache) Invalidate(key string)          { c.keys = append(c.keys, key) }
func (c *recordingCache) InvalidatePrefix(prefix string) { c.prefixes = append(c.prefixes, prefix) }

func (c *recordingCache) reset() {
	c.keys = nil
	c.prefixes = nil
}

// testRouter builds a router with a recording cache, a toast collector
// and a controllable clock.
func testRouter(currentUser string) (*InvalidationRouter, *recordingCache, *[]string, *time.Time) {
	cache := &recordingCache{}
	var toasts []string
	clock := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	router := NewInvalidationRouter(cache, ToastFunc(func(msg string) {
		toasts = append(toasts, msg)
	}), func() string { return currentUser }, zerolog.Nop())
	router.now = func() time.Time { return clock }

	return router, cache, &toasts, &clock
}

// envelope marshals a payload into a wire envelope for Handle.
func envelope(t *testing.T, typ wire.EventType, payload any) wire.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return wire.Envelope{
		Type:      typ,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// TestHandleTicketUpdated verifies the invalidation keys and the
// status-change toast for ticket:updated.
func TestHandleTicketUpdated(t *testing.T) {
	router, cache, toasts, _ := testRouter("u-1")

	router.Handle(envelope(t, wire.EventTicketUpdated, wire.TicketUpdatedData{
		ID:           "42",
		TicketNumber: "TKT-2026-0007",
		Changes:      wire.TicketChanges{Status: "resolved"},
	}))

	assert.Equal(t, []string{"ticket/42", "tickets"}, cache.keys, "ticket:updated invalidates the ticket and the list")
	assert.Equal(t, []string{"stats"}, cache.prefixes, "ticket:updated invalidates the stats prefix")
	require.Len(t, *toasts, 1, "A status change should toast")
	assert.Contains(t, (*toasts)[0], "TKT-2026-0007", "Toast should name the ticket")
	assert.Contains(t, (*toasts)[0], "resolved", "Toast should name the new status")

	// Without a status change there is no toast, keys are the same.
	cache.reset()
	*toasts = nil
	router.Handle(envelope(t, wire.EventTicketUpdated, wire.TicketUpdatedData{
		ID:           "42",
		TicketNumber: "TKT-2026-0007",
	}))
	assert.Equal(t, []string{"ticket/42", "tickets"}, cache.keys)
	assert.Empty(t, *toasts, "No toast when status did not change")
}

// TestHandleTicketCreated verifies the assignee-only toast.
func TestHandleTicketCreated(t *testing.T) {
	router, cache, toasts, _ := testRouter("u-1")

	router.Handle(envelope(t, wire.EventTicketCreated, wire.TicketCreatedData{
		ID:           "7",
		TicketNumber: "TKT-2026-0001",
		AssigneeID:   "u-1",
	}))
	assert.Equal(t, []string{"tickets"}, cache.keys)
	assert.Equal(t, []string{"stats"}, cache.prefixes)
	require.Len(t, *toasts, 1, "Assignee should be toasted")
	assert.Contains(t, (*toasts)[0], "TKT-2026-0001")

	// A ticket assigned to someone else invalidates but stays silent.
	cache.reset()
	*toasts = nil
	router.Handle(envelope(t, wire.EventTicketCreated, wire.TicketCreatedData{
		ID:           "8",
		TicketNumber: "TKT-2026-0002",
		AssigneeID:   "u-2",
	}))
	assert.Equal(t, []string{"tickets"}, cache.keys)
	assert.Empty(t, *toasts, "No toast for other assignees")
}

// TestHandleTicketComment verifies comment invalidation and the
// reply-only toast.
func TestHandleTicketComment(t *testing.T) {
	router, cache, toasts, _ := testRouter("u-1")

	router.Handle(envelope(t, wire.EventTicketComment, wire.TicketCommentData{
		TicketID:     "42",
		TicketNumber: "TKT-2026-0007",
		CommentID:    "c-1",
		IsReply:      true,
	}))
	assert.Equal(t, []string{"ticket/42/comments", "ticket/42"}, cache.keys)
	require.Len(t, *toasts, 1, "Replies should toast")

	cache.reset()
	*toasts = nil
	router.Handle(envelope(t, wire.EventTicketComment, wire.TicketCommentData{
		TicketID:  "42",
		CommentID: "c-2",
	}))
	assert.Equal(t, []string{"ticket/42/comments", "ticket/42"}, cache.keys)
	assert.Empty(t, *toasts, "Top-level comments stay silent")
}

// TestHandleAIResponse verifies the confidence threshold on the toast.
func TestHandleAIResponse(t *testing.T) {
	router, cache, toasts, _ := testRouter("u-1")

	router.Handle(envelope(t, wire.EventAIResponse, wire.AIResponseData{
		TicketID:   "42",
		Confidence: 0.42,
	}))
	assert.Equal(t, []string{"ticket/42/suggestions"}, cache.keys)
	assert.Empty(t, *toasts, "Low-confidence suggestions stay silent")

	router.Handle(envelope(t, wire.EventAIResponse, wire.AIResponseData{
		TicketID:   "42",
		Confidence: 0.85,
	}))
	require.Len(t, *toasts, 1, "High-confidence suggestions should toast")
}

// TestHandlePrefixEvents verifies the prefix-only event types.
func TestHandlePrefixEvents(t *testing.T) {
	router, cache, _, _ := testRouter("")

	router.Handle(envelope(t, wire.EventKnowledgeCreated, wire.KnowledgeCreatedData{ID: "kb-1"}))
	router.Handle(envelope(t, wire.EventTeamUpdate, wire.TeamUpdateData{ID: "team-1"}))
	router.Handle(envelope(t, wire.EventUserUpdate, wire.UserUpdateData{ID: "u-9"}))

	assert.Empty(t, cache.keys, "Prefix events touch no exact keys")
	assert.Equal(t, []string{"knowledge", "teams", "users"}, cache.prefixes)
}

// TestHandleDuplicateSuppression verifies identical events inside one
// second are dropped and identical events outside it are processed.
func TestHandleDuplicateSuppression(t *testing.T) {
	router, cache, _, clock := testRouter("")

	env := envelope(t, wire.EventTicketUpdated, wire.TicketUpdatedData{ID: "42"})
	router.Handle(env)
	require.Len(t, cache.keys, 2, "First event should be processed")

	*clock = clock.Add(500 * time.Millisecond)
	router.Handle(env)
	assert.Len(t, cache.keys, 2, "Identical event 500ms later should be suppressed")

	*clock = clock.Add(1500 * time.Millisecond)
	router.Handle(env)
	assert.Len(t, cache.keys, 4, "Identical event past the window should be processed")

	// A different payload inside the window is not a duplicate.
	*clock = clock.Add(100 * time.Millisecond)
	router.Handle(envelope(t, wire.EventTicketUpdated, wire.TicketUpdatedData{ID: "43"}))
	assert.Len(t, cache.keys, 6, "Different payload should be processed")
}

// TestHandleUnknownAndMalformed verifies forward compatibility: unknown
// types and broken payloads are dropped without effect.
func TestHandleUnknownAndMalformed(t *testing.T) {
	router, cache, toasts, _ := testRouter("u-1")

	router.Handle(wire.Envelope{Type: "ticket:archived", Data: json.RawMessage(`{"id":"42"}`)})
	router.Handle(wire.Envelope{Type: wire.EventTicketUpdated, Data: json.RawMessage(`not json`)})
	router.Handle(envelope(t, wire.EventConnected, wire.ConnectedData{ConnectionID: "c-1"}))

	assert.Empty(t, cache.keys, "Nothing should be invalidated")
	assert.Empty(t, cache.prefixes, "Nothing should be invalidated")
	assert.Empty(t, *toasts, "Nothing should be toasted")
}

// TestHandleSystemNotification verifies the passthrough toast.
func TestHandleSystemNotification(t *testing.T) {
	router, _, toasts, _ := testRouter("")

	router.Handle(envelope(t, wire.EventSystemNotification, wire.SystemNotificationData{
		Message: "Scheduled maintenance at 22:00 UTC",
	}))
	require.Len(t, *toasts, 1)
	assert.Equal(t, "Scheduled maintenance at 22:00 UTC", (*toasts)[0])
}

// TestHandleNumericIDPayload verifies routing still works when a
// server sends a bare numeric id instead of a string.
func TestHandleNumericIDPayload(t *testing.T) {
	router, cache, _, _ := testRouter("")

	router.Handle(wire.Envelope{
		Type:      wire.EventTicketUpdated,
		Data:      json.RawMessage(`{"id":42,"ticketNumber":"TKT-2026-0007","changes":{}}`),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	assert.Equal(t, []string{"ticket/42", "tickets"}, cache.keys)
	assert.Equal(t, []string{"stats"}, cache.prefixes)
}
