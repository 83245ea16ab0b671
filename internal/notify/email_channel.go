package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

// Directory resolves a recipient to a mail address.
type Directory interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*appointment.User, error)
}

// EmailChannel is the deferred channel when emails are sent inline.
type EmailChannel struct {
	directory Directory
	sender    EmailSender
}

func NewEmailChannel(directory Directory, sender EmailSender) *EmailChannel {
	return &EmailChannel{directory: directory, sender: sender}
}

func (c *EmailChannel) Name() string { return "email" }

// Send looks up the recipient and mails the payload. Recipients without an
// address are skipped.
func (c *EmailChannel) Send(ctx context.Context, recipientID uuid.UUID, p Payload) error {
	u, err := c.directory.GetUserByID(ctx, recipientID)
	if err != nil {
		if errors.Is(err, appointment.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if u.Email == nil || strings.TrimSpace(*u.Email) == "" {
		return nil
	}
	return c.sender.Send(ctx, composeEmail(u, p))
}

func composeEmail(u *appointment.User, p Payload) EmailMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n%s\n\n", u.Name, p.Message)
	fmt.Fprintf(&b, "Date: %s\nTime: %s (%d minutes)\nPractitioner: %s\nPatient: %s\nStatus: %s\n",
		p.Date, p.Time, p.DurationMinutes, p.PractitionerName, p.PatientName, p.Status)
	if p.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", p.Reason)
	}
	body := b.String()

	return EmailMessage{
		To:      *u.Email,
		ToName:  u.Name,
		Subject: p.Title,
		Body:    body,
		HTML:    "<pre>" + html.EscapeString(body) + "</pre>",
	}
}

var _ Channel = (*EmailChannel)(nil)
