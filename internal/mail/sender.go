package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tlr.org/internal/obs"
)

// LogSender writes emails to the structured log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(_ context.Context, e Email) error {
	obs.Info("mail sent", map[string]any{
		"template_id": e.TemplateID,
		"to":          e.To,
		"subject":     e.Subject,
		"body":        e.Body(),
	})
	return nil
}

// NotifySender posts emails to a GOV.UK Notify compatible endpoint.
type NotifySender struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewNotifySender(baseURL, apiKey string) *NotifySender {
	return &NotifySender{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type notifyRequest struct {
	EmailAddress    string            `json:"email_address"`
	TemplateID      string            `json:"template_id"`
	Personalisation map[string]string `json:"personalisation,omitempty"`
	Reference       string            `json:"reference,omitempty"`
}

func (s *NotifySender) Send(ctx context.Context, e Email) error {
	payload, err := json.Marshal(notifyRequest{
		EmailAddress:    e.To,
		TemplateID:      e.TemplateID,
		Personalisation: e.Values,
		Reference:       e.DedupKey,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/notifications/email", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notify status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
