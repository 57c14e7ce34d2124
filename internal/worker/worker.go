// Package worker implements the webhook delivery pool: signed POST
// attempts, exponential retry with cancellable timers, and the startup
// sweep that re-arms retries persisted across restarts.
package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/akmhq/akm-api/internal/crypto"
	"github.com/akmhq/akm-api/internal/events"
	"github.com/akmhq/akm-api/internal/metrics"
	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
	"github.com/akmhq/akm-api/internal/service"
)

// SignatureHeader carries the hex HMAC-SHA256 of the exact payload bytes.
const SignatureHeader = "X-AKM-Signature"

// DefaultBackoff is the retry delay schedule. Index n is the delay before
// attempt n+2 (the first attempt runs immediately).
var DefaultBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}

// Config holds pool configuration.
type Config struct {
	Concurrency    int
	QueueSize      int
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	SweepInterval  time.Duration
	// Backoff overrides DefaultBackoff; tests use millisecond schedules.
	Backoff []time.Duration
}

// Pool delivers webhook payloads with bounded concurrency. It satisfies
// the service layer's DeliveryQueue.
type Pool struct {
	webhookRepo  repository.WebhookRepository
	deliveryRepo repository.WebhookDeliveryRepository
	encryptor    *crypto.Encryptor
	bus          *events.Bus
	metrics      *metrics.Metrics
	client       *http.Client
	logger       *slog.Logger

	queue          chan *models.WebhookDelivery
	backoff        []time.Duration
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	sweepInterval  time.Duration
	concurrency    int

	mu       sync.Mutex
	timers   map[string]*retryTimer // delivery id -> armed timer
	inflight map[string]struct{}    // delivery ids with a running attempt

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type retryTimer struct {
	timer     *time.Timer
	webhookID string
}

// New creates a delivery pool.
func New(webhookRepo repository.WebhookRepository, deliveryRepo repository.WebhookDeliveryRepository, encryptor *crypto.Encryptor, bus *events.Bus, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 60 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		webhookRepo:  webhookRepo,
		deliveryRepo: deliveryRepo,
		encryptor:    encryptor,
		bus:          bus,
		metrics:      m,
		// Per-attempt timeouts come from the request context.
		client:         &http.Client{},
		logger:         logger.With("component", "delivery-pool"),
		queue:          make(chan *models.WebhookDelivery, cfg.QueueSize),
		backoff:        cfg.Backoff,
		defaultTimeout: cfg.DefaultTimeout,
		maxTimeout:     cfg.MaxTimeout,
		sweepInterval:  cfg.SweepInterval,
		concurrency:    cfg.Concurrency,
		timers:         make(map[string]*retryTimer),
		inflight:       make(map[string]struct{}),
		stop:           make(chan struct{}),
	}
}

// Start launches the workers and the retry sweep.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("starting", "concurrency", p.concurrency)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}

	p.wg.Add(1)
	go p.runSweep(ctx)
}

// Stop drains the pool: timers are cancelled, workers exit after their
// current attempt. Pending deliveries stay persisted with next_retry_at
// and are re-armed by the sweep on next start.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping")
		close(p.stop)

		p.mu.Lock()
		for id, rt := range p.timers {
			rt.timer.Stop()
			delete(p.timers, id)
		}
		p.mu.Unlock()

		p.wg.Wait()
		p.logger.Info("stopped")
	})
}

// Enqueue hands a delivery to the pool. Returns false when the queue is
// full.
func (p *Pool) Enqueue(delivery *models.WebhookDelivery) bool {
	select {
	case p.queue <- delivery:
		return true
	default:
		return false
	}
}

// CancelDelivery stops the armed retry timer for one delivery.
func (p *Pool) CancelDelivery(deliveryID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rt, ok := p.timers[deliveryID]; ok {
		rt.timer.Stop()
		delete(p.timers, deliveryID)
	}
}

// CancelWebhook stops every armed retry timer belonging to a webhook.
func (p *Pool) CancelWebhook(webhookID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, rt := range p.timers {
		if rt.webhookID == webhookID {
			rt.timer.Stop()
			delete(p.timers, id)
		}
	}
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case delivery := <-p.queue:
			p.attempt(ctx, delivery)
		}
	}
}

// runSweep periodically re-enqueues persisted deliveries whose retry time
// has passed. The first sweep runs immediately, picking up retries left
// over from a previous process.
func (p *Pool) runSweep(ctx context.Context) {
	defer p.wg.Done()

	p.sweep(ctx)

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Pool) sweep(ctx context.Context) {
	due, err := p.deliveryRepo.GetPendingRetries(ctx, time.Now().UTC(), 100)
	if err != nil {
		p.logger.Error("retry sweep failed", "error", err)
		return
	}

	for _, delivery := range due {
		// Skip deliveries with an armed in-process timer or a running
		// attempt; their outcome has not been persisted yet.
		p.mu.Lock()
		_, armed := p.timers[delivery.ID]
		_, busy := p.inflight[delivery.ID]
		p.mu.Unlock()
		if armed || busy {
			continue
		}
		if !p.Enqueue(delivery) {
			return
		}
	}
}

// begin marks a delivery in flight. Returns false when another attempt
// for the same record is already running; attempts never overlap per
// record.
func (p *Pool) begin(deliveryID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[deliveryID]; busy {
		return false
	}
	p.inflight[deliveryID] = struct{}{}
	return true
}

func (p *Pool) end(deliveryID string) {
	p.mu.Lock()
	delete(p.inflight, deliveryID)
	p.mu.Unlock()
}

// attempt runs one POST against the webhook endpoint and persists the
// outcome. A duplicate copy of a record already being attempted (the
// sweep and a firing retry timer can both enqueue it) is dropped.
func (p *Pool) attempt(ctx context.Context, delivery *models.WebhookDelivery) {
	if !p.begin(delivery.ID) {
		return
	}
	defer p.end(delivery.ID)

	webhook, err := p.webhookRepo.GetByID(ctx, delivery.WebhookID)
	if err != nil {
		p.logger.Error("failed to load webhook for delivery",
			"delivery_id", delivery.ID, "error", err)
		return
	}
	if webhook == nil || !webhook.IsActive {
		// Deleted or disabled since the delivery was created; leave the
		// record as is.
		return
	}

	if p.metrics != nil {
		p.metrics.RecordDeliveryAttempt()
	}

	now := time.Now().UTC()
	delivery.AttemptCount++
	delivery.LastAttemptAt = &now

	statusCode, postErr := p.post(ctx, webhook, delivery)
	if statusCode > 0 {
		delivery.LastResponseCode = &statusCode
	}
	var attemptErr error
	if postErr != nil {
		attemptErr = &service.DeliveryError{
			DeliveryID: delivery.ID,
			WebhookID:  webhook.ID,
			StatusCode: statusCode,
			Err:        postErr,
		}
	}

	if attemptErr == nil {
		delivery.Status = models.DeliveryDelivered
		delivery.DeliveredAt = &now
		delivery.LastError = ""
		delivery.NextRetryAt = nil
		if err := p.deliveryRepo.Update(ctx, delivery); err != nil {
			p.logger.Error("failed to persist delivered state",
				"delivery_id", delivery.ID, "error", err)
		}
		if p.metrics != nil {
			p.metrics.RecordDeliveryOutcome("delivered")
		}
		p.logger.Info("delivered",
			"delivery_id", delivery.ID,
			"webhook_id", webhook.ID,
			"attempts", delivery.AttemptCount)
		return
	}

	delivery.LastError = attemptErr.Error()
	p.logger.Warn("delivery attempt failed",
		"delivery_id", delivery.ID,
		"webhook_id", webhook.ID,
		"attempt", delivery.AttemptCount,
		"error", attemptErr)

	if delivery.AttemptCount <= delivery.MaxRetries {
		p.scheduleRetry(ctx, delivery)
		return
	}
	p.fail(ctx, delivery, webhook)
}

// post sends the signed payload. A nil error means a 2xx response.
func (p *Pool) post(ctx context.Context, webhook *models.Webhook, delivery *models.WebhookDelivery) (int, error) {
	secret, err := p.encryptor.Decrypt(webhook.SecretEncrypted)
	if err != nil {
		return 0, fmt.Errorf("decrypting webhook secret: %w", err)
	}

	body := []byte(delivery.PayloadJSON)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	timeout := time.Duration(webhook.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	if timeout > p.maxTimeout {
		timeout = p.maxTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, delivery.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set("X-AKM-Event", delivery.EventType)
	req.Header.Set("X-AKM-Delivery", delivery.ID)
	for _, h := range webhook.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// scheduleRetry persists the retry time and arms a cancellable timer.
func (p *Pool) scheduleRetry(ctx context.Context, delivery *models.WebhookDelivery) {
	delay := p.retryDelay(delivery.AttemptCount)
	retryAt := time.Now().UTC().Add(delay)
	delivery.NextRetryAt = &retryAt

	if err := p.deliveryRepo.Update(ctx, delivery); err != nil {
		p.logger.Error("failed to persist retry state",
			"delivery_id", delivery.ID, "error", err)
		return
	}

	deliveryID := delivery.ID
	rt := &retryTimer{webhookID: delivery.WebhookID}
	rt.timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, deliveryID)
		_, busy := p.inflight[deliveryID]
		p.mu.Unlock()
		if busy {
			// An attempt for this record is still running; the persisted
			// next_retry_at keeps the sweep as fallback.
			return
		}

		select {
		case <-p.stop:
			return
		default:
		}
		if !p.Enqueue(delivery) {
			// Queue full; next_retry_at is persisted, the sweep will
			// pick it up.
			p.logger.Warn("queue full on retry, deferring to sweep",
				"delivery_id", deliveryID)
		}
	})

	p.mu.Lock()
	p.timers[deliveryID] = rt
	p.mu.Unlock()
}

// retryDelay returns the backoff delay before the next attempt.
// attemptCount is the number of attempts already made.
func (p *Pool) retryDelay(attemptCount int) time.Duration {
	idx := attemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.backoff) {
		idx = len(p.backoff) - 1
	}
	return p.backoff[idx]
}

// fail marks the delivery terminally failed and publishes the failure
// event. The event carries the origin webhook so the dispatcher never
// routes it back to the endpoint that just failed.
func (p *Pool) fail(ctx context.Context, delivery *models.WebhookDelivery, webhook *models.Webhook) {
	delivery.Status = models.DeliveryFailed
	delivery.NextRetryAt = nil
	if err := p.deliveryRepo.Update(ctx, delivery); err != nil {
		p.logger.Error("failed to persist failed state",
			"delivery_id", delivery.ID, "error", err)
	}
	if p.metrics != nil {
		p.metrics.RecordDeliveryOutcome("failed")
	}

	p.logger.Error("delivery failed permanently",
		"delivery_id", delivery.ID,
		"webhook_id", webhook.ID,
		"attempts", delivery.AttemptCount,
		"last_error", delivery.LastError)

	p.bus.Publish(models.Event{
		Type:            models.EventDeliveryFailed,
		ProjectID:       webhook.ProjectID,
		KeyID:           webhook.KeyID,
		OriginWebhookID: webhook.ID,
		Data: map[string]any{
			"delivery_id":   delivery.ID,
			"webhook_id":    webhook.ID,
			"event_id":      delivery.EventID,
			"event_type":    delivery.EventType,
			"attempt_count": delivery.AttemptCount,
			"last_error":    delivery.LastError,
		},
	})
}
