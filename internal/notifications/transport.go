package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/safetransit/pkg/config"
	"github.com/angelmondragon/safetransit/pkg/logger"
)

// Message is one outbound delivery.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Transport delivers messages. Live reports whether a real downstream service
// is on the other end, which is what send pacing keys off.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
	Live() bool
	Name() string
}

// LogTransport writes messages to the structured log instead of sending them.
type LogTransport struct {
	logg *logger.Logger
}

// NewLogTransport returns the fallback sink used when no email service is configured.
func NewLogTransport(logg *logger.Logger) *LogTransport {
	return &LogTransport{logg: logg}
}

func (t *LogTransport) Deliver(ctx context.Context, msg Message) error {
	if t.logg == nil {
		return nil
	}
	ctx = t.logg.WithFields(ctx, map[string]any{
		"recipient": msg.To,
		"subject":   msg.Subject,
		"body":      msg.Text,
	})
	t.logg.Info(ctx, "notification sent to log sink")
	return nil
}

func (t *LogTransport) Live() bool   { return false }
func (t *LogTransport) Name() string { return config.NotificationTransportLog }

// NewTransport selects the configured transport. Missing credentials for the
// selected service downgrade to the log sink rather than failing startup.
func NewTransport(cfg config.Config, logg *logger.Logger) (Transport, error) {
	fallback := NewLogTransport(logg)
	switch strings.ToLower(strings.TrimSpace(cfg.Notifications.Transport)) {
	case config.NotificationTransportSendgrid:
		if cfg.Sendgrid.APIKey == "" || cfg.Sendgrid.DefaultFrom == "" {
			warnFallback(logg, config.NotificationTransportSendgrid)
			return fallback, nil
		}
		return NewSendGridTransport(cfg.Sendgrid)
	case config.NotificationTransportSMTP:
		if cfg.SMTP.Host == "" || cfg.SMTP.From == "" {
			warnFallback(logg, config.NotificationTransportSMTP)
			return fallback, nil
		}
		return NewSMTPTransport(cfg.SMTP)
	case config.NotificationTransportLog, "":
		return fallback, nil
	default:
		return nil, fmt.Errorf("unknown notification transport %q", cfg.Notifications.Transport)
	}
}

func warnFallback(logg *logger.Logger, name string) {
	if logg == nil {
		return
	}
	logg.Warn(logg.WithField(context.Background(), "transport", name), "email transport not configured, using log sink")
}
