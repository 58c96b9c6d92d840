// Package notify delivers booking notices and reminders on the in-app,
// email and SMS channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
)

const defaultFromName = "Clinic Appointments"

var (
	ErrChannelDisabled = errors.New("notify: channel not configured")
	ErrNoAddress       = errors.New("notify: recipient has no address for channel")
)

// ContactBook resolves a patient or doctor id to delivery addresses.
type ContactBook interface {
	FindContact(ctx context.Context, userID uuid.UUID) (*appointment.Contact, error)
}

type DispatcherConfig struct {
	Inbox    appointment.NotificationStore
	Contacts ContactBook
	Email    EmailSender
	SMS      SMSSender
	Logger   zerolog.Logger
}

// Dispatcher routes a notification to the sender of its channel. A nil
// sender disables that channel.
type Dispatcher struct {
	inbox    appointment.NotificationStore
	contacts ContactBook
	email    EmailSender
	sms      SMSSender
	logger   zerolog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		inbox:    cfg.Inbox,
		contacts: cfg.Contacts,
		email:    cfg.Email,
		sms:      cfg.SMS,
		logger:   cfg.Logger,
	}
}

func (d *Dispatcher) Notify(ctx context.Context, n appointment.Notification) error {
	switch n.Channel {
	case appointment.ChannelInApp:
		if d.inbox == nil {
			return fmt.Errorf("%w: %s", ErrChannelDisabled, n.Channel)
		}
		return d.inbox.InsertNotification(ctx, n)

	case appointment.ChannelEmail:
		if d.email == nil {
			return fmt.Errorf("%w: %s", ErrChannelDisabled, n.Channel)
		}
		c, err := d.contact(ctx, n.UserID)
		if err != nil {
			return err
		}
		if c.Email == nil || *c.Email == "" {
			return fmt.Errorf("%w: %s for %s", ErrNoAddress, n.Channel, n.UserID)
		}
		return d.email.Send(ctx, EmailMessage{
			To:      *c.Email,
			ToName:  c.Name,
			Subject: n.Title,
			Body:    n.Message,
			HTML:    "<p>" + html.EscapeString(n.Message) + "</p>",
		})

	case appointment.ChannelSMS:
		if d.sms == nil {
			return fmt.Errorf("%w: %s", ErrChannelDisabled, n.Channel)
		}
		c, err := d.contact(ctx, n.UserID)
		if err != nil {
			return err
		}
		if c.Phone == nil || *c.Phone == "" {
			return fmt.Errorf("%w: %s for %s", ErrNoAddress, n.Channel, n.UserID)
		}
		return d.sms.SendSMS(ctx, *c.Phone, n.Title+": "+n.Message)
	}

	return fmt.Errorf("notify: unknown channel %q", n.Channel)
}

func (d *Dispatcher) contact(ctx context.Context, userID uuid.UUID) (*appointment.Contact, error) {
	if d.contacts == nil {
		return nil, fmt.Errorf("%w: no contact book", ErrChannelDisabled)
	}
	c, err := d.contacts.FindContact(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve contact %s: %w", userID, err)
	}
	return c, nil
}

var _ appointment.Notifier = (*Dispatcher)(nil)
