package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"skillswap/internal/config"
	"skillswap/internal/domain"
	"skillswap/internal/metrics"
)

const (
	defaultWebhookTimeout   = 5 * time.Second
	defaultWebhookQueueSize = 256
)

// ErrQueueFull is returned by Notify when the delivery queue has no room.
var ErrQueueFull = errors.New("webhook queue full")

// ErrDispatcherClosed is returned by Notify after Close.
var ErrDispatcherClosed = errors.New("webhook dispatcher closed")

// WebhookDispatcher is an events.Sink that delivers events to configured
// webhooks from a bounded queue drained by a single worker. Enqueueing never
// blocks the caller.
type WebhookDispatcher struct {
	webhooks []config.WebhookConfig
	client   *http.Client
	log      *zap.Logger
	metrics  *metrics.Manager

	queue  chan domain.Event
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type DispatcherOption func(*WebhookDispatcher)

func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *WebhookDispatcher) {
		if c != nil {
			d.client = c
		}
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *WebhookDispatcher) {
		if n > 0 {
			d.queue = make(chan domain.Event, n)
		}
	}
}

func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(d *WebhookDispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func WithDispatcherMetrics(m *metrics.Manager) DispatcherOption {
	return func(d *WebhookDispatcher) {
		d.metrics = m
	}
}

// NewWebhookDispatcher starts the delivery worker. Call Close to stop it.
func NewWebhookDispatcher(hooks []config.WebhookConfig, opts ...DispatcherOption) *WebhookDispatcher {
	d := &WebhookDispatcher{
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		log:      zap.NewNop(),
		queue:    make(chan domain.Event, defaultWebhookQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.Named("webhooks")
	go d.run()
	return d
}

// Notify enqueues evt for delivery.
func (d *WebhookDispatcher) Notify(_ context.Context, evt domain.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- evt:
		return nil
	default:
		d.metrics.RecordNotifyDropped()
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to expire.
func (d *WebhookDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook dispatcher shutdown: %w", ctx.Err())
	}
}

func (d *WebhookDispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		d.dispatch(evt)
	}
}

func (d *WebhookDispatcher) dispatch(evt domain.Event) {
	for _, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if !newEventFilter(hook.Events).match(evt.Type) {
			continue
		}
		if err := d.postEvent(context.Background(), hook, evt); err != nil {
			d.metrics.RecordNotifyFailure()
			d.log.Warn("delivery failed", zap.String("url", hook.URL),
				zap.String("type", evt.Type), zap.Int64("event_id", evt.ID), zap.Error(err))
		}
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Skillswap-Event", evt.Type)
	req.Header.Set("X-Skillswap-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Skillswap-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
