package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/rryowa/authsession/internal/models"
)

const (
	defaultHTTPStatusThreshold = 300

	EventSessionAuthenticated = "session.authenticated"
	EventSessionCleared       = "session.cleared"
)

// WebhookService posts session transitions to an external listener so other
// processes sharing the persisted record can react to them.
type WebhookService struct {
	client     Doer
	log        *zap.SugaredLogger
	webhookURL string
}

func NewWebhookService(client Doer, log *zap.SugaredLogger, webhookURL string) *WebhookService {
	return &WebhookService{
		client:     client,
		log:        log,
		webhookURL: webhookURL,
	}
}

func (s *WebhookService) SessionAuthenticated(ctx context.Context, identity models.Identity) {
	s.send(ctx, models.SessionEvent{
		Event:    EventSessionAuthenticated,
		UserID:   identity.ID,
		Username: identity.Username,
	})
}

func (s *WebhookService) SessionCleared(ctx context.Context, reason string) {
	s.send(ctx, models.SessionEvent{Event: EventSessionCleared, Reason: reason})
}

func (s *WebhookService) send(ctx context.Context, event models.SessionEvent) {
	if s.webhookURL == "" {
		return
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		payload, err := json.Marshal(event)
		if err != nil {
			s.log.Errorw("failed to marshal webhook payload", "error", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(payload))
		if err != nil {
			s.log.Errorw("failed to create webhook request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Errorw("failed to send webhook", "event", event.Event, "error", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= defaultHTTPStatusThreshold {
			s.log.Warnw("webhook returned non-2xx status", "event", event.Event, "status", resp.StatusCode)
		}
	}()
}
