package dispatcher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketflow/realtime/internal/registry"
	"github.com/ticketflow/realtime/pkg/wire"
)

// fakeDirectory is an in-memory Directory for routing tests.
type fakeDirectory struct {
	roles     map[string]string
	assignees map[string]string
}

func (d *fakeDirectory) RoleOf(principalID string) (string, bool) {
	role, ok := d.roles[principalID]
	return role, ok
}

func (d *fakeDirectory) AssigneeOf(ticketID string) (string, bool) {
	assignee, ok := d.assignees[ticketID]
	return assignee, ok
}

// recvEnvelope drains one frame from a channel without blocking, or
// fails the test if none is queued.
func recvEnvelope(t *testing.T, ch *registry.Channel) wire.Envelope {
	t.Helper()
	select {
	case frame := <-ch.Outbound():
		var env wire.Envelope
		require.NoError(t, json.Unmarshal(frame, &env), "Frame should be a valid envelope")
		return env
	default:
		t.Fatal("Expected a queued frame, channel is empty")
		return wire.Envelope{}
	}
}

// assertEmpty verifies no frame was queued on a channel.
func assertEmpty(t *testing.T, ch *registry.Channel, msg string) {
	t.Helper()
	select {
	case frame := <-ch.Outbound():
		t.Fatalf("%s: got unexpected frame %s", msg, frame)
	default:
	}
}

// TestPublishGlobalRoleGating verifies global events reach only
// channels whose principal's role is allowed to see the event type.
func TestPublishGlobalRoleGating(t *testing.T) {
	reg := registry.New(4)
	dir := &fakeDirectory{roles: map[string]string{
		"u-admin":    RoleAdmin,
		"u-agent":    RoleAgent,
		"u-customer": RoleCustomer,
	}}
	disp := New(reg, dir)

	admin := reg.Register()
	agent := reg.Register()
	customer := reg.Register()
	anonymous := reg.Register()
	reg.Authenticate(admin, "u-admin")
	reg.Authenticate(agent, "u-agent")
	reg.Authenticate(customer, "u-customer")

	disp.Publish(wire.NewEvent(wire.EventTicketCreated, wire.TicketCreatedData{
		ID:           "t-1",
		TicketNumber: "TKT-2026-0001",
	}))

	env := recvEnvelope(t, admin)
	assert.Equal(t, wire.EventTicketCreated, env.Type, "Admin should receive ticket:created")
	recvEnvelope(t, agent)
	assertEmpty(t, customer, "ticket:created is not customer-visible")
	assertEmpty(t, anonymous, "Unauthenticated channels must receive nothing")

	// team:update is manager/admin only.
	disp.Publish(wire.NewEvent(wire.EventTeamUpdate, wire.TeamUpdateData{ID: "team-1"}))
	recvEnvelope(t, admin)
	assertEmpty(t, agent, "team:update is not agent-visible")
	assertEmpty(t, customer, "team:update is not customer-visible")

	// system:notification goes to every authenticated role.
	disp.Publish(wire.NewEvent(wire.EventSystemNotification, wire.SystemNotificationData{Message: "maintenance"}))
	recvEnvelope(t, admin)
	recvEnvelope(t, agent)
	recvEnvelope(t, customer)
	assertEmpty(t, anonymous, "Unauthenticated channels must receive nothing")
}

// TestPublishResourceScoped verifies scoped events reach subscribers
// plus the assignee's channels, exactly once each.
func TestPublishResourceScoped(t *testing.T) {
	reg := registry.New(4)
	dir := &fakeDirectory{
		roles:     map[string]string{"u-sub": RoleAgent, "u-assignee": RoleAgent, "u-other": RoleAgent},
		assignees: map[string]string{"t-42": "u-assignee"},
	}
	disp := New(reg, dir)

	subscriber := reg.Register()
	assignee := reg.Register()
	other := reg.Register()
	reg.Authenticate(subscriber, "u-sub")
	reg.Authenticate(assignee, "u-assignee")
	reg.Authenticate(other, "u-other")
	reg.Subscribe(subscriber, "t-42")

	disp.Publish(wire.NewEvent(wire.EventTicketUpdated, wire.TicketUpdatedData{
		ID:           "t-42",
		TicketNumber: "TKT-2026-0007",
		Changes:      wire.TicketChanges{Status: "resolved"},
	}))

	env := recvEnvelope(t, subscriber)
	assert.Equal(t, wire.EventTicketUpdated, env.Type, "Subscriber should receive the update")

	var data wire.TicketUpdatedData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.EqualValues(t, "t-42", data.ID, "Payload should carry the ticket ID")
	assert.Equal(t, "resolved", data.Changes.Status, "Payload should carry the changed status")

	recvEnvelope(t, assignee)
	assertEmpty(t, assignee, "Assignee should receive the update exactly once")
	assertEmpty(t, other, "Non-subscriber, non-assignee should receive nothing")
}

// TestPublishAssigneeSubscribedOnce verifies a subscribed assignee is
// not delivered to twice.
func TestPublishAssigneeSubscribedOnce(t *testing.T) {
	reg := registry.New(4)
	dir := &fakeDirectory{
		roles:     map[string]string{"u-assignee": RoleAgent},
		assignees: map[string]string{"t-1": "u-assignee"},
	}
	disp := New(reg, dir)

	ch := reg.Register()
	reg.Authenticate(ch, "u-assignee")
	reg.Subscribe(ch, "t-1")

	disp.Publish(wire.NewEvent(wire.EventTicketComment, wire.TicketCommentData{
		TicketID:  "t-1",
		CommentID: "c-1",
	}))

	recvEnvelope(t, ch)
	assertEmpty(t, ch, "Subscribed assignee should receive exactly one frame")
}

// TestPublishFullBufferIsolated verifies a slow channel's full buffer
// never blocks delivery to the others.
func TestPublishFullBufferIsolated(t *testing.T) {
	reg := registry.New(1)
	dir := &fakeDirectory{roles: map[string]string{"u-1": RoleAdmin, "u-2": RoleAdmin}}
	disp := New(reg, dir)

	slow := reg.Register()
	healthy := reg.Register()
	reg.Authenticate(slow, "u-1")
	reg.Authenticate(healthy, "u-2")
	require.True(t, slow.Send([]byte("backlog")), "Priming frame should fill the buffer")

	disp.Publish(wire.NewEvent(wire.EventSystemNotification, wire.SystemNotificationData{Message: "hello"}))

	env := recvEnvelope(t, healthy)
	assert.Equal(t, wire.EventSystemNotification, env.Type, "Healthy channel should still be delivered to")
	assert.False(t, slow.Closed(), "A full buffer is a drop, not a disconnect")
	assert.Equal(t, 2, reg.Len(), "Both channels should remain registered")
}

// TestPublishClosedChannelUnregistered verifies delivery to a closed
// channel unregisters it as an implicit disconnect.
func TestPublishClosedChannelUnregistered(t *testing.T) {
	reg := registry.New(4)
	dir := &fakeDirectory{assignees: map[string]string{"t-1": ""}}
	disp := New(reg, dir)

	ch := reg.Register()
	reg.Authenticate(ch, "u-1")
	reg.Subscribe(ch, "t-1")

	// The ws close path normally does this; simulate a transport that
	// closed the channel before the registry heard about it.
	reg.Unregister(ch)
	require.Equal(t, 0, reg.Len())

	disp.Publish(wire.NewEvent(wire.EventTicketUpdated, wire.TicketUpdatedData{ID: "t-1"}))
	assert.Equal(t, 0, reg.Len(), "Publish to a closed subscriber must not resurrect it")
}

// TestPublishScopedWithoutTicketID verifies a scoped event with no
// routable resource is dropped without panicking.
func TestPublishScopedWithoutTicketID(t *testing.T) {
	reg := registry.New(4)
	disp := New(reg, &fakeDirectory{})

	ch := reg.Register()
	reg.Authenticate(ch, "u-1")
	reg.Subscribe(ch, "t-1")

	disp.Publish(wire.NewEvent(wire.EventTicketUpdated, map[string]string{"bogus": "payload"}))
	assertEmpty(t, ch, "Unroutable scoped events should reach nobody")
}
