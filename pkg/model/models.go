package model

import "time"

// Ticket status values.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusPending    = "pending"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// Ticket is a helpdesk ticket.
type Ticket struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority,omitempty"`
	RequesterID string    `json:"requester_id"`
	AssigneeID  string    `json:"assignee_id,omitempty"`
	TeamID      string    `json:"team_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Comment is a note or reply on a ticket.
type Comment struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	IsReply   bool      `json:"is_reply"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a helpdesk principal with a role.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	TeamID string `json:"team_id,omitempty"`
}

// Team groups agents.
type Team struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	UserIDs []string `json:"user_ids,omitempty"`
}

// Article is a knowledge-base article.
type Article struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	AuthorID  string    `json:"author_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TicketStats backs the dashboard stat cards.
type TicketStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// TicketUpdate carries the mutable fields of a ticket update; nil
// pointers mean "leave unchanged".
type TicketUpdate struct {
	Title      *string `json:"title,omitempty"`
	Status     *string `json:"status,omitempty"`
	Priority   *string `json:"priority,omitempty"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	TeamID     *string `json:"team_id,omitempty"`
}
