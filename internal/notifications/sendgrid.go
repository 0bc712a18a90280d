package notifications

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/angelmondragon/safetransit/pkg/config"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGridTransport delivers email through the SendGrid v3 API.
type SendGridTransport struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendGridTransport builds a transport from the SendGrid config section.
func NewSendGridTransport(cfg config.SendgridConfig) (*SendGridTransport, error) {
	return newSendGridTransport(cfg.APIKey, cfg.DefaultFrom, sendgridHost)
}

func newSendGridTransport(apiKey, from, host string) (*SendGridTransport, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("sendgrid api key required")
	}
	if from == "" {
		return nil, fmt.Errorf("sendgrid from address required")
	}
	request := sendgrid.GetRequest(apiKey, sendgridEndpoint, host)
	request.Method = "POST"
	return &SendGridTransport{
		client: &sendgrid.Client{Request: request},
		from:   mail.NewEmail(brandName, from),
	}, nil
}

func (t *SendGridTransport) Deliver(ctx context.Context, msg Message) error {
	email := mail.NewSingleEmail(t.from, msg.Subject, mail.NewEmail("", msg.To), msg.Text, msg.HTML)
	resp, err := t.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func (t *SendGridTransport) Live() bool   { return true }
func (t *SendGridTransport) Name() string { return config.NotificationTransportSendgrid }
