package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/michaelbeckers79/attendee/internal/metrics"
)

const defaultUserAgent = "AttendeeTranscriptionBot/1.0"

// Config contains webhook dispatcher configuration
type Config struct {
	TimeoutSeconds int  // per-attempt timeout
	RetryCount     int  // retries after the first attempt
	AllowHTTP      bool // debug override, https otherwise required

	// HTTPClient overrides the default client, used by tests
	HTTPClient *http.Client
}

// Envelope is the wire format wrapping every delivered event
type Envelope struct {
	EventType string         `json:"event_type"`
	BotID     string         `json:"bot_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// TranscriptionEvent carries the data fields of a transcription webhook
type TranscriptionEvent struct {
	SpeakerID   string
	SpeakerName string
	Text        string
	TimestampMS int64
	DurationMS  int64
	IsFinal     bool
	Metadata    map[string]any
}

// DispatcherStats represents dispatcher statistics
type DispatcherStats struct {
	Delivered     uint64  `json:"delivered"`
	Failed        uint64  `json:"failed"`
	Rejected      uint64  `json:"rejected"`
	TotalAttempts uint64  `json:"total_attempts"`
	SuccessRate   float64 `json:"success_rate"`
}

// Dispatcher delivers JSON events to webhook URLs with bounded retry
type Dispatcher struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics // optional, nil disables instrumentation

	// Statistics
	delivered     uint64
	failed        uint64
	rejected      uint64
	totalAttempts uint64

	mu sync.RWMutex
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(config Config, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 30
	}

	if config.RetryCount < 0 {
		config.RetryCount = 3
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Dispatcher{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
	}
}

// blockedHosts are loopback and any-interface hostnames never accepted as
// webhook destinations
var blockedHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
	"::1":       true,
}

// Validate reports whether a webhook URL is safe to call. Only http/https
// schemes are accepted, https is required unless AllowHTTP is set, and
// loopback hosts plus the 10. and 192.168. private prefixes are rejected.
//
// This is a best-effort blocklist, not an exhaustive SSRF defense:
// 172.16/12, IPv6 unique-local addresses and DNS rebinding are not covered.
func (d *Dispatcher) Validate(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		d.logger.Warn("Webhook URL is not parseable",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return false
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		d.logger.Warn("Webhook URL has invalid scheme",
			slog.String("url", rawURL),
			slog.String("scheme", parsed.Scheme),
		)
		return false
	}

	if !d.config.AllowHTTP && parsed.Scheme != "https" {
		d.logger.Warn("Webhook URL must use HTTPS", slog.String("url", rawURL))
		return false
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		d.logger.Warn("Webhook URL missing hostname", slog.String("url", rawURL))
		return false
	}

	if blockedHosts[hostname] {
		d.logger.Warn("Webhook URL points to blocked host",
			slog.String("url", rawURL),
			slog.String("hostname", hostname),
		)
		return false
	}

	if strings.HasPrefix(hostname, "10.") || strings.HasPrefix(hostname, "192.168.") {
		d.logger.Warn("Webhook URL points to private network",
			slog.String("url", rawURL),
			slog.String("hostname", hostname),
		)
		return false
	}

	return true
}

// Deliver posts an event envelope to the webhook URL, attempting up to
// RetryCount+1 times with no inter-attempt delay. Delivery is advisory:
// the result reports success but failures never surface as errors.
func (d *Dispatcher) Deliver(ctx context.Context, webhookURL, eventType, botID string, data map[string]any) bool {
	if !d.Validate(webhookURL) {
		d.logger.Error("Webhook URL validation failed",
			slog.String("url", webhookURL),
			slog.String("event_type", eventType),
			slog.String("bot_id", botID),
		)
		d.recordRejected()
		return false
	}

	envelope := Envelope{
		EventType: eventType,
		BotID:     botID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		d.logger.Error("Failed to encode webhook payload",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		d.recordDelivery(false, 0, 0)
		return false
	}

	maxAttempts := d.config.RetryCount + 1
	startTime := time.Now()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := d.doAttempt(ctx, webhookURL, body); err != nil {
			d.logger.Warn("Webhook delivery attempt failed",
				slog.String("url", webhookURL),
				slog.String("event_type", eventType),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", maxAttempts),
				slog.String("error", err.Error()),
			)
			continue
		}

		d.logger.Debug("Webhook delivered",
			slog.String("url", webhookURL),
			slog.String("event_type", eventType),
			slog.Int("attempt", attempt),
		)
		d.recordDelivery(true, attempt, time.Since(startTime).Seconds())
		return true
	}

	d.logger.Error("Webhook delivery abandoned after all attempts",
		slog.String("url", webhookURL),
		slog.String("event_type", eventType),
		slog.Int("attempts", maxAttempts),
	)
	d.recordDelivery(false, maxAttempts, time.Since(startTime).Seconds())
	return false
}

// doAttempt performs a single POST of the payload
func (d *Dispatcher) doAttempt(ctx context.Context, webhookURL string, body []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(d.config.TimeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP error %d", resp.StatusCode)
	}

	return nil
}

// SendTranscriptionEvent delivers a transcription event to the webhook URL
func (d *Dispatcher) SendTranscriptionEvent(ctx context.Context, webhookURL, botID string, event TranscriptionEvent) bool {
	data := map[string]any{
		"speaker_id":   event.SpeakerID,
		"text":         event.Text,
		"timestamp_ms": event.TimestampMS,
		"duration_ms":  event.DurationMS,
		"is_final":     event.IsFinal,
	}

	if event.SpeakerName != "" {
		data["speaker_name"] = event.SpeakerName
	}

	if len(event.Metadata) > 0 {
		data["metadata"] = event.Metadata
	}

	if d.metrics != nil {
		d.metrics.RecordTranscript(event.IsFinal)
	}

	return d.Deliver(ctx, webhookURL, "transcription", botID, data)
}

// SendBotStatusEvent delivers a bot status event to the webhook URL
func (d *Dispatcher) SendBotStatusEvent(ctx context.Context, webhookURL, botID, status, message string, metadata map[string]any) bool {
	data := map[string]any{
		"status": status,
	}

	if message != "" {
		data["message"] = message
	}

	if len(metadata) > 0 {
		data["metadata"] = metadata
	}

	return d.Deliver(ctx, webhookURL, "bot_status", botID, data)
}

// Statistics methods
func (d *Dispatcher) recordDelivery(success bool, attempts int, durationSeconds float64) {
	d.mu.Lock()
	if success {
		d.delivered++
	} else {
		d.failed++
	}
	d.totalAttempts += uint64(attempts)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordWebhookDelivery(success, attempts, durationSeconds)
	}
}

func (d *Dispatcher) recordRejected() {
	d.mu.Lock()
	d.rejected++
	d.failed++
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordWebhookRejected()
	}
}

// Stats returns current dispatcher statistics
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	total := d.delivered + d.failed
	successRate := float64(0)
	if total > 0 {
		successRate = float64(d.delivered) / float64(total) * 100
	}

	return DispatcherStats{
		Delivered:     d.delivered,
		Failed:        d.failed,
		Rejected:      d.rejected,
		TotalAttempts: d.totalAttempts,
		SuccessRate:   successRate,
	}
}
