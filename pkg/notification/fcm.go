package notification

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/quocanhngo/fleetwatch/internal/model"
	"google.golang.org/api/option"
)

// AnomalyPusher sends anomaly alerts to the operators' devices through FCM
type AnomalyPusher struct {
	client *messaging.Client
	tokens []string
	logger *slog.Logger
}

// NewAnomalyPusher creates an FCM pusher. It returns nil (push disabled)
// when no credentials or no operator tokens are configured, or Firebase
// cannot be initialized.
func NewAnomalyPusher(credentialsFile string, tokens []string, logger *slog.Logger) *AnomalyPusher {
	if credentialsFile == "" || len(tokens) == 0 {
		logger.Warn("firebase credentials or operator tokens not provided, push notifications disabled")
		return nil
	}

	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		// Warn instead of failing so the agent still starts
		logger.Warn("failed to initialize firebase app, push notifications disabled", "error", err)
		return nil
	}

	client, err := app.Messaging(context.Background())
	if err != nil {
		logger.Warn("failed to get messaging client", "error", err)
		return nil
	}

	logger.Info("firebase fcm initialized", "tokens", len(tokens))
	return &AnomalyPusher{client: client, tokens: tokens, logger: logger}
}

// Name identifies the notifier in logs
func (p *AnomalyPusher) Name() string { return "fcm" }

// NotifyAnomaly pushes alert to every configured operator device
func (p *AnomalyPusher) NotifyAnomaly(ctx context.Context, alert model.AlertEvent) error {
	if p == nil || p.client == nil {
		return nil
	}

	message := &messaging.MulticastMessage{
		Tokens: p.tokens,
		Notification: &messaging.Notification{
			Title: alert.Title,
			Body:  alert.Message,
		},
		Data: map[string]string{
			"type":     "anomaly_alert",
			"alert_id": alert.ID.String(),
			"kind":     string(alert.Kind),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}

	br, err := p.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	if br.FailureCount > 0 {
		for idx, resp := range br.Responses {
			if !resp.Success {
				p.logger.Warn("fcm delivery failed", "token_index", idx, "error", resp.Error)
			}
		}
	}

	return nil
}
