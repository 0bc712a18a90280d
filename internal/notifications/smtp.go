package notifications

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"

	"github.com/angelmondragon/safetransit/pkg/config"
)

// SMTPTransport delivers email through an SMTP relay.
type SMTPTransport struct {
	client *gomail.Client
	from   string
}

// NewSMTPTransport builds a transport from the SMTP config section.
func NewSMTPTransport(cfg config.SMTPConfig) (*SMTPTransport, error) {
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address required")
	}
	opts := []gomail.Option{gomail.WithPort(cfg.Port)}
	if cfg.Secure {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPTransport{client: client, from: cfg.From}, nil
}

func (t *SMTPTransport) Deliver(ctx context.Context, msg Message) error {
	m, err := buildSMTPMessage(t.from, msg)
	if err != nil {
		return err
	}
	if err := t.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (t *SMTPTransport) Live() bool   { return true }
func (t *SMTPTransport) Name() string { return config.NotificationTransportSMTP }

func buildSMTPMessage(from string, msg Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("smtp recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}
