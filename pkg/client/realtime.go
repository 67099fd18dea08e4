package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ticketflow/realtime/pkg/wire"
)

// errorNoticeInterval throttles user-visible connectivity notices while
// reconnection is in progress.
const errorNoticeInterval = 5 * time.Second

// NoticeFunc receives throttled, non-blocking connectivity notices.
// The message is framed as transient; automatic recovery is already
// underway when it fires.
type NoticeFunc func(message string)

// Realtime maintains at most one live connection to the server's /ws
// endpoint, re-establishes it with capped exponential backoff after an
// unannounced closure, and feeds inbound events to the invalidation
// router. All methods are safe for concurrent use.
type Realtime struct {
	wsURL  string
	dialer *websocket.Dialer
	router *InvalidationRouter
	notice NoticeFunc
	logger zerolog.Logger

	mu            sync.Mutex
	userID        string
	conn          *websocket.Conn
	connecting    bool
	state         ReconnectState
	retryTimer    *time.Timer
	generation    int
	subscriptions map[string]struct{}
	lastNotice    time.Time

	writeMu sync.Mutex
}

// NewRealtime creates a realtime client for the given base HTTP URL
// (e.g. "http://ticketflow.local:8080"). The scheme is mirrored onto
// the socket: http becomes ws, https becomes wss.
func NewRealtime(baseURL string, router *InvalidationRouter, notice NoticeFunc, logger zerolog.Logger) (*Realtime, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a socket URL
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"

	if notice == nil {
		notice = func(string) {}
	}

	return &Realtime{
		wsURL:         u.String(),
		dialer:        websocket.DefaultDialer,
		router:        router,
		notice:        notice,
		logger:        logger,
		subscriptions: make(map[string]struct{}),
	}, nil
}

// SetAuthenticated updates the authentication state. A non-empty user
// ID opens the connection (resetting the reconnect budget); an empty
// one disconnects. Toggling off and on is also how a caller recovers
// after the client has given up reconnecting.
func (r *Realtime) SetAuthenticated(userID string) {
	if userID == "" {
		r.Disconnect()
		return
	}

	r.mu.Lock()
	r.userID = userID
	r.state = ReconnectState{}
	shouldConnect := r.conn == nil && !r.connecting
	if shouldConnect {
		r.connecting = true
		r.generation++
	}
	gen := r.generation
	r.mu.Unlock()

	if shouldConnect {
		go r.connect(gen)
	}
}

// Disconnect cancels any pending retry, closes the transport if open,
// and resets the attempt counter. Safe to call in any state.
func (r *Realtime) Disconnect() {
	r.mu.Lock()
	r.userID = ""
	r.state = ReconnectState{}
	r.generation++
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	conn := r.conn
	r.conn = nil
	r.connecting = false
	r.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
}

// Subscribe asks the server for updates scoped to a ticket. The
// subscription survives reconnects until Unsubscribe.
func (r *Realtime) Subscribe(ticketID string) {
	r.mu.Lock()
	r.subscriptions[ticketID] = struct{}{}
	conn := r.conn
	r.mu.Unlock()

	if conn != nil {
		r.send(conn, wire.MessageSubscribe, wire.SubscriptionData{TicketID: ticketID})
	}
}

// Unsubscribe drops a ticket-scoped subscription.
func (r *Realtime) Unsubscribe(ticketID string) {
	r.mu.Lock()
	delete(r.subscriptions, ticketID)
	conn := r.conn
	r.mu.Unlock()

	if conn != nil {
		r.send(conn, wire.MessageUnsubscribe, wire.SubscriptionData{TicketID: ticketID})
	}
}

// connect dials the server once. Dial failure and a later read failure
// take the same path into scheduleRetry, so a synchronous constructor
// failure behaves exactly like an async close.
func (r *Realtime) connect(gen int) {
	conn, _, err := r.dialer.Dial(r.wsURL, nil)

	r.mu.Lock()
	if gen != r.generation {
		// Disconnect or a newer connect won the race.
		r.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		r.connecting = false
		r.mu.Unlock()
		r.logger.Debug().Err(err).Msg("WebSocket dial failed")
		r.scheduleRetry(gen, err)
		return
	}

	r.conn = conn
	r.connecting = false
	r.state = r.state.Opened()
	userID := r.userID
	subs := make([]string, 0, len(r.subscriptions))
	for id := range r.subscriptions {
		subs = append(subs, id)
	}
	r.mu.Unlock()

	r.logger.Debug().Str("url", r.wsURL).Msg("WebSocket connected")

	// Application-level handshake, then replay live subscriptions.
	r.send(conn, wire.MessageAuth, wire.AuthData{UserID: userID})
	for _, id := range subs {
		r.send(conn, wire.MessageSubscribe, wire.SubscriptionData{TicketID: id})
	}

	r.readLoop(conn, gen)
}

// readLoop consumes envelopes until the connection dies.
func (r *Realtime) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			stale := gen != r.generation
			if !stale {
				r.conn = nil
			}
			r.mu.Unlock()

			if !stale {
				conn.Close()
				r.logger.Debug().Err(err).Msg("WebSocket closed")
				r.scheduleRetry(gen, err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			r.logger.Debug().Err(err).Msg("Malformed server message")
			continue
		}
		r.router.Handle(env)
	}
}

// scheduleRetry arms the backoff timer, provided the client is still
// authenticated and the attempt budget is not exhausted.
func (r *Realtime) scheduleRetry(gen int, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.generation || r.userID == "" {
		return
	}

	next, delay, ok := r.state.Schedule()
	if !ok {
		// Silent give-up; the next auth toggle starts a fresh budget.
		r.logger.Warn().Int("attempts", r.state.Attempts).Msg("Reconnect budget exhausted")
		return
	}
	r.state = next

	r.notifyLocked(fmt.Sprintf("Connection lost, retrying automatically (%v)", cause))
	r.logger.Debug().
		Int("attempt", next.Attempts).
		Dur("delay", delay).
		Msg("Scheduling reconnect")

	r.retryTimer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		// The timer may fire after a Disconnect already stopped it.
		if gen != r.generation || r.userID == "" {
			r.mu.Unlock()
			return
		}
		r.connecting = true
		r.retryTimer = nil
		current := r.generation
		r.mu.Unlock()

		r.connect(current)
	})
}

// notifyLocked emits a throttled connectivity notice. Caller holds r.mu.
func (r *Realtime) notifyLocked(message string) {
	now := time.Now()
	if now.Sub(r.lastNotice) < errorNoticeInterval {
		return
	}
	r.lastNotice = now
	go r.notice(message)
}

// send writes one envelope; write errors are left for the read loop to
// observe as a closed connection.
func (r *Realtime) send(conn *websocket.Conn, t wire.EventType, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		r.logger.Error().Err(err).Str("type", string(t)).Msg("Failed to encode message")
		return
	}
	frame, err := json.Marshal(wire.Envelope{
		Type:      t,
		Data:      payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		r.logger.Debug().Err(err).Str("type", string(t)).Msg("WebSocket write failed")
	}
}
