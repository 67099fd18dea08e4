package ws

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/ticketflow/realtime/internal/logging"
	"github.com/ticketflow/realtime/internal/metrics"
	"github.com/ticketflow/realtime/internal/registry"
	"github.com/ticketflow/realtime/pkg/wire"
)

// Config contains WebSocket transport configuration
type Config struct {
	// Upgrade path, conventionally /ws
	Path string

	// Interval between server ping frames
	HeartbeatInterval time.Duration

	// A connection that stays silent this long is dropped
	MaxIdleTime time.Duration

	// Upper bound on concurrent connections; 0 means unlimited
	MaxConnections int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Path:              "/ws",
		HeartbeatInterval: 25 * time.Second,
		MaxIdleTime:       5 * time.Minute,
		MaxConnections:    10000,
	}
}

// Handler owns the WebSocket endpoint: it upgrades connections,
// registers a channel per connection, feeds inbound messages to the
// registry, and drains each channel's outbound queue onto its socket.
type Handler struct {
	config   Config
	registry *registry.Registry
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewHandler creates a WebSocket handler over the given registry.
func NewHandler(config Config, reg *registry.Registry) *Handler {
	if config.Path == "" {
		config.Path = DefaultConfig().Path
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if config.MaxIdleTime <= 0 {
		config.MaxIdleTime = DefaultConfig().MaxIdleTime
	}

	return &Handler{
		config:   config,
		registry: reg,
		logger:   logging.Component("ws"),
		metrics:  metrics.GetMetrics(),
	}
}

// Register mounts the upgrade path on a Fiber app.
func (h *Handler) Register(app *fiber.App) {
	app.Use(h.config.Path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get(h.config.Path, websocket.New(func(conn *websocket.Conn) {
		h.handleConnection(conn)
	}))
}

// handleConnection runs for the lifetime of one socket.
func (h *Handler) handleConnection(conn *websocket.Conn) {
	if h.config.MaxConnections > 0 && h.registry.Len() >= h.config.MaxConnections {
		h.logger.Warn().Int("limit", h.config.MaxConnections).Msg("Connection limit reached, rejecting")
		conn.Close()
		return
	}

	ch := h.registry.Register()
	defer h.registry.Unregister(ch)

	h.logger.Debug().Str("channel_id", ch.ID()).Msg("Connection established")

	// Handshake ack
	ack := wire.NewEvent(wire.EventConnected, wire.ConnectedData{ConnectionID: ch.ID()})
	if frame, err := ack.Encode(); err == nil {
		ch.Send(frame)
	}

	done := make(chan struct{})
	go h.writeLoop(conn, ch, done)

	h.readLoop(conn, ch)

	// Unregister closes the outbound queue, which stops the writer.
	h.registry.Unregister(ch)
	<-done
}

// readLoop consumes inbound envelopes until the socket closes.
func (h *Handler) readLoop(conn *websocket.Conn, ch *registry.Channel) {
	conn.SetReadDeadline(time.Now().Add(h.config.MaxIdleTime))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.config.MaxIdleTime))
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug().Err(err).Str("channel_id", ch.ID()).Msg("WebSocket read error")
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.config.MaxIdleTime))

		if messageType != websocket.TextMessage {
			continue
		}
		h.processMessage(ch, message)
	}
}

// writeLoop drains the channel's outbound queue onto the socket and
// interleaves heartbeat pings. A write error abandons the connection;
// the read loop then fails and unregisters the channel.
func (h *Handler) writeLoop(conn *websocket.Conn, ch *registry.Channel, done chan<- struct{}) {
	defer close(done)
	defer conn.Close()

	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-ch.Outbound():
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug().Err(err).Str("channel_id", ch.ID()).Msg("WebSocket write error")
				return
			}

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage handles one client envelope. Malformed or unknown
// messages are logged and dropped; they never close the connection.
func (h *Handler) processMessage(ch *registry.Channel, message []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		h.logger.Debug().Err(err).Str("channel_id", ch.ID()).Msg("Malformed client message")
		return
	}

	switch env.Type {
	case wire.MessageAuth:
		var data wire.AuthData
		if err := json.Unmarshal(env.Data, &data); err != nil || data.UserID == "" {
			h.logger.Debug().Str("channel_id", ch.ID()).Msg("Auth message without userId")
			return
		}
		h.registry.Authenticate(ch, data.UserID)
		h.logger.Debug().
			Str("channel_id", ch.ID()).
			Str("principal", data.UserID).
			Msg("Channel authenticated")

	case wire.MessageSubscribe:
		var data wire.SubscriptionData
		if err := json.Unmarshal(env.Data, &data); err != nil || data.TicketID == "" {
			return
		}
		h.registry.Subscribe(ch, data.TicketID)

	case wire.MessageUnsubscribe:
		var data wire.SubscriptionData
		if err := json.Unmarshal(env.Data, &data); err != nil || data.TicketID == "" {
			return
		}
		h.registry.Unsubscribe(ch, data.TicketID)

	default:
		h.logger.Debug().
			Str("channel_id", ch.ID()).
			Str("type", string(env.Type)).
			Msg("Unknown client message type")
	}
}
