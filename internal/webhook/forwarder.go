package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketflow/realtime/internal/logging"
	"github.com/ticketflow/realtime/internal/metrics"
	"github.com/ticketflow/realtime/pkg/wire"
)

// Config contains chat webhook forwarding configuration
type Config struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	}
}

// forwarded lists the event types worth a chat message.
var forwarded = map[wire.EventType]bool{
	wire.EventTicketCreated:      true,
	wire.EventSystemNotification: true,
}

// Forwarder posts selected events to a team-chat webhook URL.
// Delivery is best-effort with capped exponential backoff and never
// blocks or fails the publishing mutation.
type Forwarder struct {
	config  Config
	client  *http.Client
	queue   chan wire.Event
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewForwarder creates a forwarder. URL must be non-empty.
func NewForwarder(config Config) *Forwarder {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}

	return &Forwarder{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		queue:   make(chan wire.Event, 100),
		logger:  logging.Component("webhook"),
		metrics: metrics.GetMetrics(),
	}
}

// Offer enqueues an event for forwarding if its type is of interest.
// A full queue drops the event.
func (f *Forwarder) Offer(event wire.Event) {
	if !forwarded[event.Type] {
		return
	}
	select {
	case f.queue <- event:
	default:
		f.metrics.WebhookDeliveriesTotal.WithLabelValues("queue_full").Inc()
		f.logger.Warn().Str("event_type", string(event.Type)).Msg("Webhook queue full, dropping event")
	}
}

// Start drains the queue until the context is canceled.
func (f *Forwarder) Start(ctx context.Context) error {
	f.logger.Info().Str("url", f.config.URL).Msg("Starting chat webhook forwarder")

	for {
		select {
		case event := <-f.queue:
			f.send(ctx, event)
		case <-ctx.Done():
			return nil
		}
	}
}

// send posts one event, retrying transient failures with capped
// exponential backoff.
func (f *Forwarder) send(ctx context.Context, event wire.Event) {
	body, err := json.Marshal(map[string]string{
		"text": chatText(event),
	})
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to encode webhook payload")
		return
	}

	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * time.Second
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.config.URL, bytes.NewReader(body))
		if err != nil {
			f.logger.Error().Err(err).Msg("Failed to build webhook request")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				f.metrics.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
				return
			}
			// 4xx will not improve on retry
			if resp.StatusCode < 500 {
				f.metrics.WebhookDeliveriesTotal.WithLabelValues("rejected").Inc()
				f.logger.Warn().Int("status", resp.StatusCode).Msg("Webhook rejected delivery")
				return
			}
		}

		f.logger.Debug().Err(err).Int("attempt", attempt).Msg("Webhook delivery attempt failed")
	}

	f.metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
	f.logger.Warn().Str("event_type", string(event.Type)).Msg("Webhook delivery gave up")
}

// chatText renders a human-readable line for the chat channel.
func chatText(event wire.Event) string {
	switch data := event.Data.(type) {
	case wire.TicketCreatedData:
		return fmt.Sprintf("New ticket %s: %s", data.TicketNumber, data.Title)
	case wire.SystemNotificationData:
		return data.Message
	default:
		return string(event.Type)
	}
}
