package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ticketflow/realtime/internal/logging"
	"github.com/ticketflow/realtime/internal/store"
	"github.com/ticketflow/realtime/pkg/model"
	"github.com/ticketflow/realtime/pkg/wire"
)

// createTicketRequest is the POST /api/tickets body.
type createTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	RequesterID string `json:"requester_id"`
	AssigneeID  string `json:"assignee_id"`
	TeamID      string `json:"team_id"`
}

// addCommentRequest is the POST /api/tickets/:id/comments body.
type addCommentRequest struct {
	AuthorID string `json:"author_id"`
	Body     string `json:"body"`
	IsReply  bool   `json:"is_reply"`
}

// createArticleRequest is the POST /api/articles body.
type createArticleRequest struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	AuthorID string `json:"author_id"`
}

// addSuggestionRequest is the POST /api/tickets/:id/suggestions body,
// posted by the AI worker after inference completes.
type addSuggestionRequest struct {
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
}

// notificationRequest is the POST /api/notifications body.
type notificationRequest struct {
	Message string `json:"message"`
}

func (a *API) createTicket(c *fiber.Ctx) error {
	var req createTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Title == "" || req.RequesterID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title and requester_id are required")
	}

	ticket, err := a.store.CreateTicket(c.UserContext(), &model.Ticket{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		RequesterID: req.RequesterID,
		AssigneeID:  req.AssigneeID,
		TeamID:      req.TeamID,
	})
	if err != nil {
		return a.internalError(c, "create_ticket", err)
	}

	a.publisher.Publish(wire.NewEvent(wire.EventTicketCreated, wire.TicketCreatedData{
		ID:           wire.ResourceID(ticket.ID),
		TicketNumber: ticket.Number,
		Title:        ticket.Title,
		AssigneeID:   ticket.AssigneeID,
	}))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ticket": ticket})
}

func (a *API) getTicket(c *fiber.Ctx) error {
	ticket, err := a.store.GetTicket(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "ticket not found")
	}
	if err != nil {
		return a.internalError(c, "get_ticket", err)
	}
	return c.JSON(fiber.Map{"ticket": ticket})
}

func (a *API) listTickets(c *fiber.Ctx) error {
	tickets, err := a.store.ListTickets(c.UserContext())
	if err != nil {
		return a.internalError(c, "list_tickets", err)
	}
	return c.JSON(fiber.Map{"tickets": tickets})
}

func (a *API) updateTicket(c *fiber.Ctx) error {
	var update model.TicketUpdate
	if err := c.BodyParser(&update); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	ticket, err := a.store.UpdateTicket(c.UserContext(), c.Params("id"), update)
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "ticket not found")
	}
	if err != nil {
		return a.internalError(c, "update_ticket", err)
	}

	changes := wire.TicketChanges{}
	if update.Status != nil {
		changes.Status = *update.Status
	}
	a.publisher.Publish(wire.NewEvent(wire.EventTicketUpdated, wire.TicketUpdatedData{
		ID:           wire.ResourceID(ticket.ID),
		TicketNumber: ticket.Number,
		Changes:      changes,
	}))

	return c.JSON(fiber.Map{"ticket": ticket})
}

func (a *API) addComment(c *fiber.Ctx) error {
	var req addCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Body == "" || req.AuthorID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "author_id and body are required")
	}

	ticketID := c.Params("id")
	comment, err := a.store.AddComment(c.UserContext(), &model.Comment{
		TicketID: ticketID,
		AuthorID: req.AuthorID,
		Body:     req.Body,
		IsReply:  req.IsReply,
	})
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "ticket not found")
	}
	if err != nil {
		return a.internalError(c, "add_comment", err)
	}

	ticket, err := a.store.GetTicket(c.UserContext(), ticketID)
	if err != nil {
		return a.internalError(c, "add_comment", err)
	}

	a.publisher.Publish(wire.NewEvent(wire.EventTicketComment, wire.TicketCommentData{
		TicketID:     wire.ResourceID(ticketID),
		TicketNumber: ticket.Number,
		CommentID:    comment.ID,
		AuthorID:     comment.AuthorID,
		IsReply:      comment.IsReply,
	}))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"comment": comment})
}

func (a *API) listComments(c *fiber.Ctx) error {
	comments, err := a.store.ListComments(c.UserContext(), c.Params("id"))
	if err != nil {
		return a.internalError(c, "list_comments", err)
	}
	return c.JSON(fiber.Map{"comments": comments})
}

func (a *API) addSuggestion(c *fiber.Ctx) error {
	var req addSuggestionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return fiber.NewError(fiber.StatusBadRequest, "confidence must be in 0..1")
	}

	ticketID := c.Params("id")
	if _, err := a.store.GetTicket(c.UserContext(), ticketID); errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "ticket not found")
	} else if err != nil {
		return a.internalError(c, "add_suggestion", err)
	}

	a.publisher.Publish(wire.NewEvent(wire.EventAIResponse, wire.AIResponseData{
		TicketID:   wire.ResourceID(ticketID),
		Confidence: req.Confidence,
		Summary:    req.Summary,
	}))

	return c.SendStatus(fiber.StatusAccepted)
}

func (a *API) createArticle(c *fiber.Ctx) error {
	var req createArticleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Title == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title is required")
	}

	article, err := a.store.CreateArticle(c.UserContext(), &model.Article{
		Title:    req.Title,
		Body:     req.Body,
		AuthorID: req.AuthorID,
	})
	if err != nil {
		return a.internalError(c, "create_article", err)
	}

	a.publisher.Publish(wire.NewEvent(wire.EventKnowledgeCreated, wire.KnowledgeCreatedData{
		ID:    article.ID,
		Title: article.Title,
	}))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"article": article})
}

func (a *API) getArticle(c *fiber.Ctx) error {
	article, err := a.store.GetArticle(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "article not found")
	}
	if err != nil {
		return a.internalError(c, "get_article", err)
	}
	return c.JSON(fiber.Map{"article": article})
}

func (a *API) putUser(c *fiber.Ctx) error {
	var user model.User
	if err := c.BodyParser(&user); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	user.ID = c.Params("id")
	if user.Role == "" {
		return fiber.NewError(fiber.StatusBadRequest, "role is required")
	}

	if err := a.store.PutUser(c.UserContext(), &user); err != nil {
		return a.internalError(c, "put_user", err)
	}

	a.publisher.Publish(wire.NewEvent(wire.EventUserUpdate, wire.UserUpdateData{ID: user.ID}))
	return c.JSON(fiber.Map{"user": user})
}

func (a *API) getUser(c *fiber.Ctx) error {
	user, err := a.store.GetUser(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "user not found")
	}
	if err != nil {
		return a.internalError(c, "get_user", err)
	}
	return c.JSON(fiber.Map{"user": user})
}

func (a *API) putTeam(c *fiber.Ctx) error {
	var team model.Team
	if err := c.BodyParser(&team); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	team.ID = c.Params("id")
	if team.Name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name is required")
	}

	if err := a.store.PutTeam(c.UserContext(), &team); err != nil {
		return a.internalError(c, "put_team", err)
	}

	a.publisher.Publish(wire.NewEvent(wire.EventTeamUpdate, wire.TeamUpdateData{ID: team.ID}))
	return c.JSON(fiber.Map{"team": team})
}

func (a *API) getTeam(c *fiber.Ctx) error {
	team, err := a.store.GetTeam(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "team not found")
	}
	if err != nil {
		return a.internalError(c, "get_team", err)
	}
	return c.JSON(fiber.Map{"team": team})
}

func (a *API) stats(c *fiber.Ctx) error {
	stats, err := a.store.Stats(c.UserContext())
	if err != nil {
		return a.internalError(c, "stats", err)
	}
	return c.JSON(fiber.Map{"stats": stats})
}

func (a *API) broadcastNotification(c *fiber.Ctx) error {
	var req notificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return fiber.NewError(fiber.StatusBadRequest, "message is required")
	}

	a.publisher.Publish(wire.NewEvent(wire.EventSystemNotification, wire.SystemNotificationData{
		Message: req.Message,
	}))
	return c.SendStatus(fiber.StatusAccepted)
}

// internalError logs the cause, with trace identifiers when the
// request carries a span, and returns an opaque 500 to the client.
func (a *API) internalError(c *fiber.Ctx, operation string, err error) error {
	logger := logging.FromContext(c.UserContext())
	logger.Error().
		Err(err).
		Str("component", "api").
		Str("operation", operation).
		Msg("Request failed")
	a.metrics.APIErrorsTotal.WithLabelValues(c.Method(), c.Route().Path, operation).Inc()
	return fiber.NewError(fiber.StatusInternalServerError, "internal error")
}
