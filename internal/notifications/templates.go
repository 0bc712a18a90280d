package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/angelmondragon/safetransit/pkg/db/models"
	"github.com/angelmondragon/safetransit/pkg/enums"
)

const (
	brandName       = "Safe Transit"
	timeLimitLayout = "Jan 2, 2006 3:04 PM MST"
	shortIDLength   = 8
)

// Content is the rendered text of one notification.
type Content struct {
	Subject string
	Text    string
	HTML    string
}

var emailLayout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Brand}} Notification</title>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.header { background: #667eea; color: white; padding: 20px; text-align: center; }
.content { background: #f9f9f9; padding: 20px; border-radius: 5px; }
.footer { text-align: center; padding: 20px; color: #666; font-size: 12px; }
</style>
</head>
<body>
<div class="container">
<div class="header"><h1>{{.Brand}}</h1><p>Secure Deposit Management System</p></div>
<div class="content">
<h2>{{.Subject}}</h2>
<p>{{.Message}}</p>
<p><strong>Deposit ID:</strong> {{.DepositID}}</p>
<p><strong>Timestamp:</strong> {{.Timestamp}}</p>
</div>
<div class="footer"><p>This is an automated message from {{.Brand}}. Please do not reply to this email.</p></div>
</div>
</body>
</html>`))

// Render builds the subject, plain text and HTML body for a deposit notification.
func Render(d *models.Deposit, kind enums.NotificationType, now time.Time) (Content, error) {
	short := ShortID(d)
	amount := "$" + d.Amount.StringFixed(2)
	deadline := d.TimeLimit.UTC().Format(timeLimitLayout)

	var subject, text string
	switch kind {
	case enums.NotificationTypeExpired:
		subject = fmt.Sprintf("%s: Deposit %s Has Expired", brandName, short)
		text = fmt.Sprintf("Your deposit of %s (ID: %s) has expired as of %s. The deposit status has been automatically updated to 'expired'. If you believe this is an error, please contact support.", amount, short, deadline)
	case enums.NotificationTypeExpiringSoon:
		subject = fmt.Sprintf("%s: Deposit %s Expires Soon", brandName, short)
		text = fmt.Sprintf("Your deposit of %s (ID: %s) will expire soon. The time limit is %s. Please ensure the requirements are fulfilled before expiration to avoid automatic cancellation.", amount, short, deadline)
	case enums.NotificationTypePaymentFailed:
		subject = fmt.Sprintf("%s: Payment Failed for Deposit %s", brandName, short)
		text = fmt.Sprintf("The payment for your deposit of %s (ID: %s) has failed. Please update your payment information or contact support to resolve this issue.", amount, short)
	case enums.NotificationTypeFulfilled:
		subject = fmt.Sprintf("%s: Deposit %s Fulfilled", brandName, short)
		text = fmt.Sprintf("The requirement for your deposit of %s (ID: %s) has been marked as fulfilled.", amount, short)
	default:
		subject = fmt.Sprintf("%s: Notification for Deposit %s", brandName, short)
		text = fmt.Sprintf("This is a notification regarding your deposit of %s (ID: %s).", amount, short)
	}

	var body bytes.Buffer
	if err := emailLayout.Execute(&body, map[string]string{
		"Brand":     brandName,
		"Subject":   subject,
		"Message":   text,
		"DepositID": d.ID.String(),
		"Timestamp": now.UTC().Format(time.RFC1123),
	}); err != nil {
		return Content{}, fmt.Errorf("render email body: %w", err)
	}
	return Content{Subject: subject, Text: text, HTML: body.String()}, nil
}

// ShortID returns the first characters of the deposit id followed by an ellipsis.
func ShortID(d *models.Deposit) string {
	return d.ID.String()[:shortIDLength] + "..."
}
