package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/metrics"
)

// Kind categorizes the notification for cooldown and metric labels.
type Kind string

const (
	KindRejectionWarning Kind = "REJECTION_WARNING"
	KindBlacklisted      Kind = "BLACKLISTED"
	KindWhitelisted      Kind = "WHITELISTED"
	KindTokenIssued      Kind = "TOKEN_ISSUED"
	KindTokenShared      Kind = "TOKEN_SHARED"
)

// Notification is a single SMS-sized message for one recipient. Delivery
// is best-effort: failures are logged and counted, never propagated into
// the operation that triggered them.
type Notification struct {
	Kind            Kind
	RecipientMobile string
	Message         string
}

// Notifier is the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// MultiNotifier fans out to multiple channels with a per-recipient-and-
// kind cooldown so a retried operation cannot spam the same citizen.
type MultiNotifier struct {
	notifiers []Notifier
	cooldown  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewMultiNotifier(cooldown time.Duration, logger *slog.Logger, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{
		notifiers: notifiers,
		cooldown:  cooldown,
		logger:    logger.With("component", "notifier"),
		lastSent:  make(map[string]time.Time),
	}
}

func cooldownKey(n Notification) string {
	return fmt.Sprintf("%s:%s", n.Kind, n.RecipientMobile)
}

// Send dispatches to all channels, respecting cooldown. The first channel
// error is returned for logging by the caller; callers must not let it
// fail the surrounding operation.
func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	key := cooldownKey(n)

	m.mu.Lock()
	if last, ok := m.lastSent[key]; ok && time.Since(last) < m.cooldown {
		m.mu.Unlock()
		m.logger.Debug("notification suppressed by cooldown", "key", key)
		for _, nt := range m.notifiers {
			metrics.NotificationsCooldownSkipped.WithLabelValues(notifierName(nt), string(n.Kind)).Inc()
		}
		return nil
	}
	m.lastSent[key] = time.Now()
	m.mu.Unlock()

	var firstErr error
	for _, nt := range m.notifiers {
		if err := nt.Send(ctx, n); err != nil {
			m.logger.Warn("notification send failed",
				"channel", notifierName(nt),
				"kind", n.Kind,
				"error", err,
			)
			metrics.NotificationFailures.WithLabelValues(notifierName(nt), string(n.Kind)).Inc()
			if firstErr == nil {
				firstErr = err
			}
		} else {
			metrics.NotificationsSent.WithLabelValues(notifierName(nt), string(n.Kind)).Inc()
		}
	}
	return firstErr
}

func notifierName(n Notifier) string {
	switch n.(type) {
	case *SMSNotifier:
		return "sms"
	case *LogNotifier:
		return "log"
	default:
		return "unknown"
	}
}

// SMSNotifier posts messages to an SMS gateway webhook (MSG91-shaped
// payload).
type SMSNotifier struct {
	webhookURL string
	senderID   string
	authKey    string
	client     *http.Client
}

func NewSMSNotifier(webhookURL, senderID, authKey string) *SMSNotifier {
	return &SMSNotifier{
		webhookURL: webhookURL,
		senderID:   senderID,
		authKey:    authKey,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SMSNotifier) Send(ctx context.Context, n Notification) error {
	payload := map[string]any{
		"sender": s.senderID,
		"route":  "4",
		"sms": []map[string]any{
			{"message": n.Message, "to": []string{n.RecipientMobile}},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authkey", s.authKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes notifications to the log. Used in development and
// as the fallback when no SMS gateway is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "sms_log")}
}

func (l *LogNotifier) Send(_ context.Context, n Notification) error {
	l.logger.Info("notification",
		"kind", n.Kind,
		"recipient", n.RecipientMobile,
		"message", n.Message,
	)
	return nil
}

// NoopNotifier does nothing. Used in tests.
type NoopNotifier struct{}

func (NoopNotifier) Send(_ context.Context, _ Notification) error { return nil }
