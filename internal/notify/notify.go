package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/gridsight/gridsight/pkg/telemetry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds notification settings for both channels.
type Config struct {
	Email   EmailConfig   `mapstructure:"email"`
	Webhook WebhookConfig `mapstructure:"webhook"`

	// MinInterval spaces outbound alerts; Burst allows a short initial run.
	MinInterval time.Duration `mapstructure:"min_interval"`
	Burst       int           `mapstructure:"burst"`
}

// DefaultConfig returns notification defaults: both channels disabled, alerts
// spaced a minute apart with a burst of five.
func DefaultConfig() Config {
	return Config{
		Email:       EmailConfig{Port: 587},
		Webhook:     WebhookConfig{Timeout: 10 * time.Second},
		MinInterval: time.Minute,
		Burst:       5,
	}
}

// Notifier fans one alert payload out to the configured channels. Delivery is
// best-effort per channel: a webhook failure does not block the email and
// vice versa; failures are logged and the first one is returned.
type Notifier struct {
	logger  *zap.Logger
	cfg     Config
	sender  Sender
	webhook *WebhookClient
	limiter *rate.Limiter
}

// New creates a Notifier. A nil sender disables email even when cfg.Email is
// enabled.
func New(logger *zap.Logger, cfg Config, sender Sender) *Notifier {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	n := &Notifier{
		logger:  logger,
		cfg:     cfg,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), cfg.Burst),
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		n.webhook = NewWebhookClient(cfg.Webhook)
	}
	return n
}

// SendAlert delivers one alert. Alerts beyond the rate limit are dropped with
// a log line rather than queued: by the time a backlog would drain, the
// operator has already seen the dashboard.
func (n *Notifier) SendAlert(ctx context.Context, p telemetry.AlertPayload) error {
	if !n.limiter.Allow() {
		n.logger.Warn("alert notification dropped by rate limit",
			zap.String("meter_id", p.MeterID),
			zap.String("pattern", string(p.Pattern)),
		)
		return nil
	}

	var firstErr error

	if n.cfg.Email.Enabled && n.sender != nil && len(n.cfg.Email.To) > 0 {
		msg, err := renderAlertEmail(n.cfg.Email, p)
		if err == nil {
			err = n.sender.Send(ctx, n.cfg.Email.From, n.cfg.Email.To, msg)
		}
		if err != nil {
			n.logger.Error("alert email failed", zap.Error(err), zap.String("meter_id", p.MeterID))
			firstErr = err
		}
	}

	if n.webhook != nil {
		if err := n.webhook.Post(ctx, p); err != nil {
			n.logger.Error("alert webhook failed", zap.Error(err), zap.String("meter_id", p.MeterID))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// SendDailySummary emails the day's aggregate numbers.
func (n *Notifier) SendDailySummary(ctx context.Context, totalReadings, totalAlerts, meters, critical int) error {
	if !n.cfg.Email.Enabled || n.sender == nil || len(n.cfg.Email.To) == 0 {
		return fmt.Errorf("notify: email channel not configured")
	}

	var pct float64
	if totalReadings > 0 {
		pct = float64(totalAlerts) / float64(totalReadings) * 100
	}
	msg, err := renderSummaryEmail(n.cfg.Email, summaryData{
		Date:           time.Now().Format("2006-01-02"),
		TotalReadings:  totalReadings,
		TotalAlerts:    totalAlerts,
		AlertPct:       pct,
		Meters:         meters,
		CriticalAlerts: critical,
	})
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, n.cfg.Email.From, n.cfg.Email.To, msg)
}
