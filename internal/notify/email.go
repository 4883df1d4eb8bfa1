// Package notify delivers alert notifications: templated HTML email over an
// SMTP transport and JSON webhooks, with rate limiting so an alert storm
// cannot flood either channel.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/gridsight/gridsight/pkg/telemetry"
)

// EmailConfig holds SMTP delivery settings.
type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// Sender delivers a rendered message. The production implementation speaks
// SMTP; tests substitute a recording fake.
type Sender interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// SMTPSender delivers mail via net/smtp with PLAIN auth and STARTTLS when the
// server offers it.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Send implements Sender.
func (s *SMTPSender) Send(_ context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	if err := smtp.SendMail(addr, auth, from, to, msg); err != nil {
		return fmt.Errorf("notify: smtp send via %s: %w", addr, err)
	}
	return nil
}

// placeholder is rendered for any payload field the reading did not carry.
const placeholder = "N/A"

var templateFuncs = template.FuncMap{
	// optional renders a possibly-absent measurement with its unit.
	"optional": func(v *float64, unit string) string {
		if v == nil {
			return placeholder
		}
		return fmt.Sprintf("%.1f %s", *v, unit)
	},
	"riskBand": func(risk float64) string {
		switch {
		case risk >= 0.7:
			return "HIGH"
		case risk >= 0.5:
			return "MEDIUM"
		default:
			return "LOW"
		}
	},
	"upper": strings.ToUpper,
}

var alertTemplate = template.Must(template.New("alert").Funcs(templateFuncs).Parse(`<html>
<body style="font-family: Arial, sans-serif;">
<h2 style="color:#c0392b;">GridSight Alert: {{upper (printf "%s" .Pattern)}}</h2>
<table cellpadding="6">
<tr><td><b>Meter</b></td><td>{{.MeterID}}</td></tr>
<tr><td><b>Time</b></td><td>{{.Timestamp.Format "2006-01-02 15:04:05 MST"}}</td></tr>
<tr><td><b>Risk</b></td><td>{{riskBand .RiskScore}} ({{printf "%.2f" .RiskScore}})</td></tr>
<tr><td><b>Power</b></td><td>{{optional .Power "kW"}}</td></tr>
<tr><td><b>Voltage</b></td><td>{{optional .Voltage "V"}}</td></tr>
<tr><td><b>Current</b></td><td>{{optional .Current "A"}}</td></tr>
<tr><td><b>Explanation</b></td><td><i>{{.Explanation}}</i></td></tr>
</table>
<p style="color:#888; font-size:12px;">Automated alert from GridSight. Log in to the dashboard for details.</p>
</body>
</html>
`))

// summaryData feeds the daily summary template.
type summaryData struct {
	Date           string
	TotalReadings  int
	TotalAlerts    int
	AlertPct       float64
	Meters         int
	CriticalAlerts int
}

var summaryTemplate = template.Must(template.New("summary").Parse(`<html>
<body style="font-family: Arial, sans-serif;">
<h2>GridSight Daily Summary - {{.Date}}</h2>
<ul>
<li>Total readings: <b>{{.TotalReadings}}</b></li>
<li>Total alerts: <b>{{.TotalAlerts}}</b> ({{printf "%.1f" .AlertPct}}%)</li>
<li>Meters monitored: <b>{{.Meters}}</b></li>
<li>Critical alerts (risk &gt; 0.7): <b>{{.CriticalAlerts}}</b></li>
</ul>
<p style="color:#888; font-size:12px;">Automated report from GridSight.</p>
</body>
</html>
`))

// renderAlertEmail builds the full RFC 822 message for one alert payload.
func renderAlertEmail(cfg EmailConfig, p telemetry.AlertPayload) ([]byte, error) {
	var body bytes.Buffer
	if err := alertTemplate.Execute(&body, p); err != nil {
		return nil, fmt.Errorf("notify: render alert: %w", err)
	}
	subject := fmt.Sprintf("CRITICAL ALERT - %s DETECTED", strings.ToUpper(string(p.Pattern)))
	return buildMessage(cfg.From, cfg.To, subject, body.Bytes()), nil
}

// renderSummaryEmail builds the daily summary message.
func renderSummaryEmail(cfg EmailConfig, d summaryData) ([]byte, error) {
	var body bytes.Buffer
	if err := summaryTemplate.Execute(&body, d); err != nil {
		return nil, fmt.Errorf("notify: render summary: %w", err)
	}
	subject := "Daily Smart Grid Summary - " + d.Date
	return buildMessage(cfg.From, cfg.To, subject, body.Bytes()), nil
}

func buildMessage(from string, to []string, subject string, body []byte) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.Write(body)
	return msg.Bytes()
}
