package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

// Config holds SMTP configuration
type Config struct {
	Host       string
	Port       string
	Username   string
	Password   string
	From       string
	FromName   string
	Recipients []string
}

// sendFunc matches smtp.SendMail
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer e-mails anomaly alerts to the configured operators
type Mailer struct {
	config Config
	send   sendFunc
	logger *slog.Logger
}

// New creates a new Mailer instance. It returns nil (mail disabled) when no
// SMTP host or no recipients are configured.
func New(cfg Config, logger *slog.Logger) *Mailer {
	if cfg.Host == "" || len(cfg.Recipients) == 0 {
		logger.Warn("smtp host or alert recipients not provided, alert e-mail disabled")
		return nil
	}
	return &Mailer{config: cfg, send: smtp.SendMail, logger: logger}
}

// Name identifies the notifier in logs
func (m *Mailer) Name() string { return "email" }

// NotifyAnomaly e-mails alert to every recipient
func (m *Mailer) NotifyAnomaly(_ context.Context, alert model.AlertEvent) error {
	if m == nil {
		return nil
	}

	subject := "Fleetwatch - " + alert.Title
	body, err := renderAnomalyTemplate(alert)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return m.deliver(m.config.Recipients, subject, body)
}

// deliver sends an HTML email via SMTP
func (m *Mailer) deliver(to []string, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%s", m.config.Host, m.config.Port)

	headers := [][2]string{
		{"From", fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From)},
		{"To", strings.Join(to, ", ")},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=\"utf-8\""},
	}

	var msg bytes.Buffer
	for _, h := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", h[0], h[1]))
	}
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	var auth smtp.Auth
	if m.config.Username != "" && m.config.Password != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	if err := m.send(addr, auth, m.config.From, to, msg.Bytes()); err != nil {
		m.logger.Error("failed to send alert email", "recipients", len(to), "error", err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("alert email sent", "recipients", len(to), "subject", subject)
	return nil
}

var anomalyTemplate = template.Must(template.New("anomaly").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin:0;padding:0;background-color:#f4f4f7;font-family:'Segoe UI',Tahoma,Geneva,Verdana,sans-serif;">
    <div style="max-width:520px;margin:40px auto;background:#ffffff;border-radius:12px;overflow:hidden;border:1px solid #fecaca;">
        <div style="background:#dc2626;padding:24px;text-align:center;">
            <h1 style="color:#fff;margin:0;font-size:22px;">{{.Title}}</h1>
        </div>
        <div style="padding:24px;">
            <p style="color:#1f2937;font-size:15px;line-height:1.6;margin:0 0 16px;">{{.Message}}</p>
            {{if .Details}}<table style="width:100%;border-collapse:collapse;font-size:13px;color:#4b5563;">
                {{range .Details}}<tr><td style="padding:4px 0;font-weight:600;">{{.Key}}</td><td style="padding:4px 0;">{{.Value}}</td></tr>
                {{end}}
            </table>{{end}}
            <p style="color:#9ca3af;font-size:12px;margin:16px 0 0;">Raised {{.When}}</p>
        </div>
    </div>
</body>
</html>`))

type detailRow struct {
	Key   string
	Value string
}

// renderAnomalyTemplate returns the HTML body for an anomaly alert email
func renderAnomalyTemplate(alert model.AlertEvent) (string, error) {
	rows := make([]detailRow, 0, len(alert.Detail))
	for _, k := range []string{"device1_zone", "device2_zone", "distance", "confidence"} {
		if v, ok := alert.Detail[k]; ok {
			rows = append(rows, detailRow{Key: k, Value: fmt.Sprint(v)})
		}
	}

	var buf bytes.Buffer
	err := anomalyTemplate.Execute(&buf, map[string]interface{}{
		"Title":   alert.Title,
		"Message": alert.Message,
		"Details": rows,
		"When":    alert.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"),
	})
	return buf.String(), err
}
