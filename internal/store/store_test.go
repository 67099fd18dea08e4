package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketflow/realtime/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	config := DefaultConfig()
	config.DataDir = t.TempDir()
	config.CacheExpiration = time.Minute

	s, err := NewStore(config)
	require.NoError(t, err, "Store should open on an empty directory")
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
	})
	return s
}

// TestCreateAndGetTicket verifies ID and number assignment and
// round-trip retrieval.
func TestCreateAndGetTicket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateTicket(ctx, &model.Ticket{
		Title:       "Printer on fire",
		RequesterID: "u-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID, "Ticket ID should be assigned")
	assert.Regexp(t, `^TKT-\d{4}-\d{4}$`, created.Number, "Ticket number should be formatted")
	assert.Equal(t, model.StatusOpen, created.Status, "New tickets default to open")
	assert.False(t, created.CreatedAt.IsZero(), "CreatedAt should be stamped")

	got, err := s.GetTicket(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, got.Title)
	assert.Equal(t, created.Number, got.Number)

	_, err = s.GetTicket(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestTicketNumbersIncrease verifies consecutive tickets get distinct,
// increasing numbers.
func TestTicketNumbersIncrease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateTicket(ctx, &model.Ticket{Title: "a", RequesterID: "u-1"})
	require.NoError(t, err)
	second, err := s.CreateTicket(ctx, &model.Ticket{Title: "b", RequesterID: "u-1"})
	require.NoError(t, err)

	assert.NotEqual(t, first.Number, second.Number, "Ticket numbers must be unique")
	assert.Greater(t, second.Number, first.Number, "Ticket numbers should increase")
}

// TestUpdateTicket verifies partial updates touch only the provided
// fields.
func TestUpdateTicket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateTicket(ctx, &model.Ticket{
		Title:       "Slow VPN",
		Priority:    "low",
		RequesterID: "u-1",
	})
	require.NoError(t, err)

	status := model.StatusResolved
	assignee := "u-2"
	updated, err := s.UpdateTicket(ctx, created.ID, model.TicketUpdate{
		Status:     &status,
		AssigneeID: &assignee,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, updated.Status)
	assert.Equal(t, "u-2", updated.AssigneeID)
	assert.Equal(t, "Slow VPN", updated.Title, "Unset fields should be untouched")
	assert.Equal(t, "low", updated.Priority, "Unset fields should be untouched")

	_, err = s.UpdateTicket(ctx, "missing", model.TicketUpdate{Status: &status})
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestListTickets verifies listing returns everything, newest first.
func TestListTickets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older, err := s.CreateTicket(ctx, &model.Ticket{Title: "older", RequesterID: "u-1"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	newer, err := s.CreateTicket(ctx, &model.Ticket{Title: "newer", RequesterID: "u-1"})
	require.NoError(t, err)

	tickets, err := s.ListTickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, newer.ID, tickets[0].ID, "Newest ticket should come first")
	assert.Equal(t, older.ID, tickets[1].ID)
}

// TestComments verifies comments require a live ticket and come back
// in creation order.
func TestComments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ticket, err := s.CreateTicket(ctx, &model.Ticket{Title: "t", RequesterID: "u-1"})
	require.NoError(t, err)

	_, err = s.AddComment(ctx, &model.Comment{TicketID: "missing", AuthorID: "u-1", Body: "hi"})
	assert.ErrorIs(t, err, ErrNotFound, "Comments on unknown tickets are rejected")

	first, err := s.AddComment(ctx, &model.Comment{TicketID: ticket.ID, AuthorID: "u-1", Body: "first"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = s.AddComment(ctx, &model.Comment{TicketID: ticket.ID, AuthorID: "u-2", Body: "second", IsReply: true})
	require.NoError(t, err)

	comments, err := s.ListComments(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Body, "Comments should be in creation order")
	assert.True(t, comments[1].IsReply)
}

// TestUsersAndDirectory verifies user persistence and the Directory
// lookups the dispatcher uses.
func TestUsersAndDirectory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutUser(ctx, &model.User{ID: "u-1", Name: "Ada", Role: "agent"}))

	user, err := s.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.Name)

	role, ok := s.RoleOf("u-1")
	assert.True(t, ok)
	assert.Equal(t, "agent", role)

	_, ok = s.RoleOf("missing")
	assert.False(t, ok, "Unknown principals have no role")

	ticket, err := s.CreateTicket(ctx, &model.Ticket{Title: "t", RequesterID: "u-9", AssigneeID: "u-1"})
	require.NoError(t, err)

	assignee, ok := s.AssigneeOf(ticket.ID)
	assert.True(t, ok)
	assert.Equal(t, "u-1", assignee)

	unassigned, err := s.CreateTicket(ctx, &model.Ticket{Title: "t2", RequesterID: "u-9"})
	require.NoError(t, err)
	_, ok = s.AssigneeOf(unassigned.ID)
	assert.False(t, ok, "Unassigned tickets have no assignee")
}

// TestStats verifies per-status counting.
func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateTicket(ctx, &model.Ticket{Title: "a", RequesterID: "u-1"})
	require.NoError(t, err)
	created, err := s.CreateTicket(ctx, &model.Ticket{Title: "b", RequesterID: "u-1"})
	require.NoError(t, err)

	status := model.StatusResolved
	_, err = s.UpdateTicket(ctx, created.ID, model.TicketUpdate{Status: &status})
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[model.StatusOpen])
	assert.Equal(t, 1, stats.ByStatus[model.StatusResolved])
}

// TestArticlesAndTeams covers the remaining record types.
func TestArticlesAndTeams(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	article, err := s.CreateArticle(ctx, &model.Article{Title: "How to reset a password"})
	require.NoError(t, err)
	got, err := s.GetArticle(ctx, article.ID)
	require.NoError(t, err)
	assert.Equal(t, article.Title, got.Title)

	require.NoError(t, s.PutTeam(ctx, &model.Team{ID: "team-1", Name: "Support"}))
	team, err := s.GetTeam(ctx, "team-1")
	require.NoError(t, err)
	assert.Equal(t, "Support", team.Name)
}
