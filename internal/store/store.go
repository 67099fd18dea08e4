package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ticketflow/realtime/internal/logging"
	"github.com/ticketflow/realtime/internal/metrics"
	"github.com/ticketflow/realtime/pkg/model"
)

// Key prefixes for the different record types
const (
	prefixTicket  = "ticket:"
	prefixComment = "comment:"
	prefixUser    = "user:"
	prefixTeam    = "team:"
	prefixArticle = "kb:"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Config contains store configuration
type Config struct {
	// Base directory for data files
	DataDir string

	// Cache settings
	CacheEnabled    bool
	TicketCacheSize int
	UserCacheSize   int
	CacheExpiration time.Duration

	// Value log GC interval
	GCInterval time.Duration
}

// DefaultConfig returns a default store configuration
func DefaultConfig() Config {
	return Config{
		DataDir:         "./data",
		CacheEnabled:    true,
		TicketCacheSize: 10000,
		UserCacheSize:   1000,
		CacheExpiration: 30 * time.Second,
		GCInterval:      10 * time.Minute,
	}
}

// Store persists tickets, users, teams, and knowledge articles in
// Badger. It also answers the role and assignee lookups the dispatcher
// needs for routing.
type Store struct {
	config    Config
	db        *badger.DB
	ticketSeq *badger.Sequence
	cache     *Cache
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewStore opens the database under config.DataDir.
func NewStore(config Config) (*Store, error) {
	logger := logging.Component("store")

	if config.CacheExpiration <= 0 {
		config.CacheExpiration = DefaultConfig().CacheExpiration
	}
	if config.GCInterval <= 0 {
		config.GCInterval = DefaultConfig().GCInterval
	}

	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	opts := badger.DefaultOptions(config.DataDir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte("seq:ticket"), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open ticket sequence: %w", err)
	}

	s := &Store{
		config:    config,
		db:        db,
		ticketSeq: seq,
		logger:    logger,
		metrics:   metrics.GetMetrics(),
	}

	if config.CacheEnabled {
		cache, err := NewCache(config.TicketCacheSize, config.UserCacheSize, config.CacheExpiration)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

// Start runs background maintenance until the context is canceled.
func (s *Store) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Badger returns ErrNoRewrite when there is nothing to collect.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn().Err(err).Msg("Value log GC failed")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Shutdown releases the sequence and closes the database.
func (s *Store) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down store")
	if err := s.ticketSeq.Release(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to release ticket sequence")
	}
	return s.db.Close()
}

// CreateTicket persists a new ticket, assigning its ID and number.
func (s *Store) CreateTicket(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error) {
	defer s.timeOp("create_ticket")()

	n, err := s.ticketSeq.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate ticket number: %w", err)
	}

	now := time.Now().UTC()
	ticket.ID = uuid.NewString()
	ticket.Number = fmt.Sprintf("TKT-%d-%04d", now.Year(), n+1)
	if ticket.Status == "" {
		ticket.Status = model.StatusOpen
	}
	ticket.CreatedAt = now
	ticket.UpdatedAt = now

	if err := s.put(prefixTicket+ticket.ID, ticket); err != nil {
		s.metrics.StoreOperations.WithLabelValues("create_ticket", "false").Inc()
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetTicket(ticket)
	}
	s.metrics.StoreOperations.WithLabelValues("create_ticket", "true").Inc()
	s.metrics.TicketsTotal.Inc()
	return ticket, nil
}

// GetTicket retrieves a ticket by ID.
func (s *Store) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	defer s.timeOp("get_ticket")()

	if s.cache != nil {
		if ticket, ok := s.cache.GetTicket(id); ok {
			return ticket, nil
		}
	}

	var ticket model.Ticket
	if err := s.get(prefixTicket+id, &ticket); err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetTicket(&ticket)
	}
	return &ticket, nil
}

// UpdateTicket applies an update to an existing ticket and returns the
// new version.
func (s *Store) UpdateTicket(ctx context.Context, id string, update model.TicketUpdate) (*model.Ticket, error) {
	defer s.timeOp("update_ticket")()

	var updated *model.Ticket
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixTicket + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var ticket model.Ticket
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ticket)
		}); err != nil {
			return err
		}

		if update.Title != nil {
			ticket.Title = *update.Title
		}
		if update.Status != nil {
			ticket.Status = *update.Status
		}
		if update.Priority != nil {
			ticket.Priority = *update.Priority
		}
		if update.AssigneeID != nil {
			ticket.AssigneeID = *update.AssigneeID
		}
		if update.TeamID != nil {
			ticket.TeamID = *update.TeamID
		}
		ticket.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(&ticket)
		if err != nil {
			return err
		}
		updated = &ticket
		return txn.Set([]byte(prefixTicket+id), data)
	})
	if err != nil {
		s.metrics.StoreOperations.WithLabelValues("update_ticket", "false").Inc()
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetTicket(updated)
	}
	s.metrics.StoreOperations.WithLabelValues("update_ticket", "true").Inc()
	return updated, nil
}

// ListTickets returns every ticket, newest first.
func (s *Store) ListTickets(ctx context.Context) ([]*model.Ticket, error) {
	defer s.timeOp("list_tickets")()

	var tickets []*model.Ticket
	err := s.scan(prefixTicket, func(val []byte) error {
		var ticket model.Ticket
		if err := json.Unmarshal(val, &ticket); err != nil {
			return err
		}
		tickets = append(tickets, &ticket)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys are UUIDs, so sort by creation time instead
	sortTicketsByCreated(tickets)
	return tickets, nil
}

// AddComment persists a comment on a ticket.
func (s *Store) AddComment(ctx context.Context, comment *model.Comment) (*model.Comment, error) {
	defer s.timeOp("add_comment")()

	if _, err := s.GetTicket(ctx, comment.TicketID); err != nil {
		return nil, err
	}

	comment.ID = uuid.NewString()
	comment.CreatedAt = time.Now().UTC()

	key := fmt.Sprintf("%s%s:%020d:%s", prefixComment, comment.TicketID, comment.CreatedAt.UnixNano(), comment.ID)
	if err := s.put(key, comment); err != nil {
		s.metrics.StoreOperations.WithLabelValues("add_comment", "false").Inc()
		return nil, err
	}
	s.metrics.StoreOperations.WithLabelValues("add_comment", "true").Inc()
	return comment, nil
}

// ListComments returns a ticket's comments in creation order.
func (s *Store) ListComments(ctx context.Context, ticketID string) ([]*model.Comment, error) {
	defer s.timeOp("list_comments")()

	var comments []*model.Comment
	err := s.scan(prefixComment+ticketID+":", func(val []byte) error {
		var comment model.Comment
		if err := json.Unmarshal(val, &comment); err != nil {
			return err
		}
		comments = append(comments, &comment)
		return nil
	})
	return comments, err
}

// PutUser creates or replaces a user.
func (s *Store) PutUser(ctx context.Context, user *model.User) error {
	defer s.timeOp("put_user")()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if err := s.put(prefixUser+user.ID, user); err != nil {
		s.metrics.StoreOperations.WithLabelValues("put_user", "false").Inc()
		return err
	}
	if s.cache != nil {
		s.cache.SetUser(user)
	}
	s.metrics.StoreOperations.WithLabelValues("put_user", "true").Inc()
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	defer s.timeOp("get_user")()

	if s.cache != nil {
		if user, ok := s.cache.GetUser(id); ok {
			return user, nil
		}
	}

	var user model.User
	if err := s.get(prefixUser+id, &user); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetUser(&user)
	}
	return &user, nil
}

// PutTeam creates or replaces a team.
func (s *Store) PutTeam(ctx context.Context, team *model.Team) error {
	defer s.timeOp("put_team")()
	if team.ID == "" {
		team.ID = uuid.NewString()
	}
	return s.put(prefixTeam+team.ID, team)
}

// GetTeam retrieves a team by ID.
func (s *Store) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	defer s.timeOp("get_team")()
	var team model.Team
	if err := s.get(prefixTeam+id, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

// CreateArticle persists a knowledge-base article.
func (s *Store) CreateArticle(ctx context.Context, article *model.Article) (*model.Article, error) {
	defer s.timeOp("create_article")()

	article.ID = uuid.NewString()
	article.CreatedAt = time.Now().UTC()
	if err := s.put(prefixArticle+article.ID, article); err != nil {
		return nil, err
	}
	return article, nil
}

// GetArticle retrieves a knowledge-base article by ID.
func (s *Store) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	defer s.timeOp("get_article")()
	var article model.Article
	if err := s.get(prefixArticle+id, &article); err != nil {
		return nil, err
	}
	return &article, nil
}

// Stats computes ticket counts by status.
func (s *Store) Stats(ctx context.Context) (*model.TicketStats, error) {
	defer s.timeOp("stats")()

	stats := &model.TicketStats{ByStatus: make(map[string]int)}
	err := s.scan(prefixTicket, func(val []byte) error {
		var ticket model.Ticket
		if err := json.Unmarshal(val, &ticket); err != nil {
			return err
		}
		stats.Total++
		stats.ByStatus[ticket.Status]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// RoleOf implements dispatcher.Directory.
func (s *Store) RoleOf(principalID string) (string, bool) {
	user, err := s.GetUser(context.Background(), principalID)
	if err != nil {
		return "", false
	}
	return user.Role, true
}

// AssigneeOf implements dispatcher.Directory.
func (s *Store) AssigneeOf(ticketID string) (string, bool) {
	ticket, err := s.GetTicket(context.Background(), ticketID)
	if err != nil || ticket.AssigneeID == "" {
		return "", false
	}
	return ticket.AssigneeID, true
}

// put marshals a record and writes it under key.
func (s *Store) put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// get reads and unmarshals the record under key.
func (s *Store) get(key string, value any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, value)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// scan iterates all values under a key prefix in key order.
func (s *Store) scan(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// timeOp records the duration of a store operation.
func (s *Store) timeOp(operation string) func() {
	start := time.Now()
	return func() {
		s.metrics.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

func sortTicketsByCreated(tickets []*model.Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
	})
}
