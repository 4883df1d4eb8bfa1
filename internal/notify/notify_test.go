package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gridsight/gridsight/pkg/telemetry"
	"go.uber.org/zap"
)

// fakeSender records messages instead of speaking SMTP.
type fakeSender struct {
	sent [][]byte
	to   [][]string
	err  error
}

func (f *fakeSender) Send(_ context.Context, _ string, to []string, msg []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	f.to = append(f.to, to)
	return nil
}

func ptr(v float64) *float64 { return &v }

func alertPayload() telemetry.AlertPayload {
	return telemetry.AlertPayload{
		MeterID:     "MTR-001",
		Pattern:     telemetry.PatternTheft,
		Timestamp:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		RiskScore:   0.9,
		Power:       ptr(2.3),
		Voltage:     ptr(190.0),
		Current:     ptr(14.2),
		Explanation: "Voltage drop (190.0V < 195.5V) with high current (14.2A > 13.0A)",
	}
}

func emailConfig() Config {
	cfg := DefaultConfig()
	cfg.Email.Enabled = true
	cfg.Email.From = "alerts@gridsight.local"
	cfg.Email.To = []string{"ops@gridsight.local"}
	return cfg
}

func TestSendAlert_Email(t *testing.T) {
	sender := &fakeSender{}
	n := New(zap.NewNop(), emailConfig(), sender)

	if err := n.SendAlert(context.Background(), alertPayload()); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}

	msg := string(sender.sent[0])
	for _, want := range []string{
		"Subject: CRITICAL ALERT - THEFT DETECTED",
		"MTR-001",
		"HIGH (0.90)",
		"190.0 V",
		"14.2 A",
		"2.3 kW",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendAlert_MissingFieldsRenderPlaceholder(t *testing.T) {
	sender := &fakeSender{}
	n := New(zap.NewNop(), emailConfig(), sender)

	p := alertPayload()
	p.Voltage = nil
	p.Current = nil
	if err := n.SendAlert(context.Background(), p); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}

	msg := string(sender.sent[0])
	if strings.Count(msg, "N/A") != 2 {
		t.Errorf("expected two N/A placeholders, message:\n%s", msg)
	}
	if !strings.Contains(msg, "2.3 kW") {
		t.Error("present field not rendered")
	}
}

func TestSendAlert_RateLimitDropsExcess(t *testing.T) {
	cfg := emailConfig()
	cfg.MinInterval = time.Hour
	cfg.Burst = 2
	sender := &fakeSender{}
	n := New(zap.NewNop(), cfg, sender)

	for i := 0; i < 5; i++ {
		if err := n.SendAlert(context.Background(), alertPayload()); err != nil {
			t.Fatalf("SendAlert %d: %v", i, err)
		}
	}
	if len(sender.sent) != 2 {
		t.Errorf("sent %d messages, want burst of 2", len(sender.sent))
	}
}

func TestSendAlert_Webhook(t *testing.T) {
	var gotBody string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotContentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Webhook.Enabled = true
	cfg.Webhook.URL = srv.URL
	n := New(zap.NewNop(), cfg, nil)

	if err := n.SendAlert(context.Background(), alertPayload()); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q", gotContentType)
	}
	for _, want := range []string{`"meter_id":"MTR-001"`, `"pattern":"theft"`, `"risk_score":0.9`} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("webhook body missing %q in %s", want, gotBody)
		}
	}
}

func TestSendAlert_WebhookErrorReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Webhook.Enabled = true
	cfg.Webhook.URL = srv.URL
	n := New(zap.NewNop(), cfg, nil)

	if err := n.SendAlert(context.Background(), alertPayload()); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestSendAlert_EmailFailureDoesNotBlockWebhook(t *testing.T) {
	webhookHit := false
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		webhookHit = true
	}))
	defer srv.Close()

	cfg := emailConfig()
	cfg.Webhook.Enabled = true
	cfg.Webhook.URL = srv.URL
	sender := &fakeSender{err: errors.New("smtp down")}
	n := New(zap.NewNop(), cfg, sender)

	err := n.SendAlert(context.Background(), alertPayload())
	if err == nil {
		t.Fatal("expected email error to surface")
	}
	if !webhookHit {
		t.Error("webhook skipped after email failure")
	}
}

func TestSendDailySummary(t *testing.T) {
	sender := &fakeSender{}
	n := New(zap.NewNop(), emailConfig(), sender)

	if err := n.SendDailySummary(context.Background(), 1440, 72, 30, 9); err != nil {
		t.Fatalf("SendDailySummary: %v", err)
	}
	msg := string(sender.sent[0])
	for _, want := range []string{
		"Subject: Daily Smart Grid Summary",
		"<b>1440</b>",
		"<b>72</b> (5.0%)",
		"<b>30</b>",
		"<b>9</b>",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("summary missing %q", want)
		}
	}
}

func TestSendDailySummary_NotConfigured(t *testing.T) {
	n := New(zap.NewNop(), DefaultConfig(), nil)
	if err := n.SendDailySummary(context.Background(), 1, 0, 1, 0); err == nil {
		t.Fatal("expected error when email channel disabled")
	}
}
