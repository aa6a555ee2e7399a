// Package notify delivers reminder messages through the external notification
// gateway.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"example.com/scheduling/internal/domain"
)

// Gateway implements domain.NotificationChannel over the HTTP notification
// service.
type Gateway struct {
	client *resty.Client
}

// NewGateway constructs a Gateway for the given base URL and API key.
func NewGateway(baseURL, apiKey string, timeout time.Duration) *Gateway {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")
	return &Gateway{client: client}
}

type emailRequest struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
}

type whatsappRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// SendEmail posts an email to the gateway.
func (g *Gateway) SendEmail(ctx context.Context, to, subject, body string) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(emailRequest{Recipient: to, Subject: subject, HTML: body}).
		Post("/v1/email")
	if err != nil {
		return domain.Wrap(domain.KindReminderDeliveryFailed, "email gateway unreachable", err)
	}
	if resp.IsError() {
		return domain.E(domain.KindReminderDeliveryFailed, fmt.Sprintf("email gateway responded %d", resp.StatusCode()))
	}
	return nil
}

// SendWhatsApp posts a WhatsApp message to the gateway.
func (g *Gateway) SendWhatsApp(ctx context.Context, to, body string) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(whatsappRequest{Phone: to, Message: body}).
		Post("/v1/whatsapp")
	if err != nil {
		return domain.Wrap(domain.KindReminderDeliveryFailed, "whatsapp gateway unreachable", err)
	}
	if resp.IsError() {
		return domain.E(domain.KindReminderDeliveryFailed, fmt.Sprintf("whatsapp gateway responded %d", resp.StatusCode()))
	}
	return nil
}
