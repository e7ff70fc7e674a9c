package identity

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/goliatone/go-print"
)

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, msg MailMessage) error

// Send implements Mailer.
func (f MailerFunc) Send(ctx context.Context, msg MailMessage) error {
	return f(ctx, msg)
}

// LogMailer writes messages to a Logger instead of delivering them. Useful
// for local development where no SMTP relay exists.
type LogMailer struct {
	From   string
	Logger Logger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, msg MailMessage) error {
	normalizeLogger(m.Logger).Info("mail from=%s\n%s", m.From, print.MaybePrettyJSON(msg))
	return nil
}

// ActivationMessage renders the email carrying an activation code.
func ActivationMessage(to, name, code string, ttl time.Duration) MailMessage {
	minutes := int(ttl.Round(time.Minute) / time.Minute)
	if name == "" {
		name = to
	}

	text := fmt.Sprintf(
		"Hi %s,\n\nYour activation code is %s.\nIt expires in %d minutes.\n\nIf you did not sign up you can ignore this message.\n",
		name, code, minutes,
	)
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your activation code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p><p>If you did not sign up you can ignore this message.</p>",
		html.EscapeString(name), code, minutes,
	)

	return MailMessage{
		To:      to,
		Subject: "Your activation code",
		HTML:    body,
		Text:    text,
	}
}
