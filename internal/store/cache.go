package store

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ticketflow/realtime/internal/metrics"
	"github.com/ticketflow/realtime/pkg/model"
)

// Cache is a read-through caching layer for frequently accessed records
type Cache struct {
	tickets    *lru.TwoQueueCache
	users      *lru.TwoQueueCache
	mutex      sync.RWMutex
	metrics    *metrics.Metrics
	expiration time.Duration
}

// cacheItem represents an item in the cache with an expiration time
type cacheItem struct {
	value      interface{}
	expiration time.Time
}

// NewCache creates a new cache with the given capacities
func NewCache(ticketCapacity, userCapacity int, expiration time.Duration) (*Cache, error) {
	ticketsCache, err := lru.New2Q(ticketCapacity)
	if err != nil {
		return nil, err
	}

	usersCache, err := lru.New2Q(userCapacity)
	if err != nil {
		return nil, err
	}

	return &Cache{
		tickets:    ticketsCache,
		users:      usersCache,
		metrics:    metrics.GetMetrics(),
		expiration: expiration,
	}, nil
}

// GetTicket retrieves a ticket from the cache
func (c *Cache) GetTicket(id string) (*model.Ticket, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	value, found := c.tickets.Get(id)
	if !found {
		c.metrics.StoreOperations.WithLabelValues("cache_miss_ticket", "true").Inc()
		return nil, false
	}

	item := value.(cacheItem)
	if time.Now().After(item.expiration) {
		c.tickets.Remove(id)
		c.metrics.StoreOperations.WithLabelValues("cache_expired_ticket", "true").Inc()
		return nil, false
	}

	c.metrics.StoreOperations.WithLabelValues("cache_hit_ticket", "true").Inc()
	return item.value.(*model.Ticket), true
}

// SetTicket adds a ticket to the cache
func (c *Cache) SetTicket(ticket *model.Ticket) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.tickets.Add(ticket.ID, cacheItem{
		value:      ticket,
		expiration: time.Now().Add(c.expiration),
	})
}

// RemoveTicket evicts a ticket from the cache
func (c *Cache) RemoveTicket(id string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.tickets.Remove(id)
}

// GetUser retrieves a user from the cache
func (c *Cache) GetUser(id string) (*model.User, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	value, found := c.users.Get(id)
	if !found {
		c.metrics.StoreOperations.WithLabelValues("cache_miss_user", "true").Inc()
		return nil, false
	}

	item := value.(cacheItem)
	if time.Now().After(item.expiration) {
		c.users.Remove(id)
		c.metrics.StoreOperations.WithLabelValues("cache_expired_user", "true").Inc()
		return nil, false
	}

	c.metrics.StoreOperations.WithLabelValues("cache_hit_user", "true").Inc()
	return item.value.(*model.User), true
}

// SetUser adds a user to the cache
func (c *Cache) SetUser(user *model.User) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.users.Add(user.ID, cacheItem{
		value:      user,
		expiration: time.Now().Add(c.expiration),
	})
}

// RemoveUser evicts a user from the cache
func (c *Cache) RemoveUser(id string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.users.Remove(id)
}

// Purge clears the cache entirely
func (c *Cache) Purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.tickets.Purge()
	c.users.Purge()
}
