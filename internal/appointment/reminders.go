package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-appointment-booking/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
)

const DefaultReminderWindow = 24 * time.Hour

type SweeperDeps struct {
	Appointments AppointmentStore
	Notifier     Notifier
	Locker       redisclient.Locker // optional, keeps replicas from sweeping at once
	Channels     []Channel
	Window       time.Duration
	Location     *time.Location
	Metrics      *metrics.BookingMetrics
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Sweeper sends pre-visit reminders. An appointment is due when it is
// scheduled and starts in (now, now+window]. Each channel is sent at most
// once per appointment; only successful sends are recorded, so failed ones
// are retried by the next run.
type Sweeper struct {
	appts    AppointmentStore
	notifier Notifier
	locker   redisclient.Locker
	channels []Channel
	window   time.Duration
	loc      *time.Location
	metrics  *metrics.BookingMetrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewSweeper(d SweeperDeps) *Sweeper {
	if d.Window <= 0 {
		d.Window = DefaultReminderWindow
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if len(d.Channels) == 0 {
		d.Channels = []Channel{ChannelEmail, ChannelInApp}
	}
	return &Sweeper{
		appts:    d.Appointments,
		notifier: d.Notifier,
		locker:   d.Locker,
		channels: d.Channels,
		window:   d.Window,
		loc:      d.Location,
		metrics:  d.Metrics,
		logger:   d.Logger,
		now:      d.Now,
	}
}

// Sweep runs one reminder pass and returns how many appointments got at
// least one reminder. It returns 0 without error when another replica holds
// the sweep lock.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "appointment.reminder_sweep")
	defer span.End()

	started := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(started).Seconds()) }()

	if s.locker == nil {
		sent, err := s.sweep(ctx)
		span.SetAttributes(attribute.Int("reminded", sent))
		return sent, err
	}

	var sent int
	err := s.locker.WithLock(ctx, redisclient.SweepLockKey, func(ctx context.Context) error {
		var err error
		sent, err = s.sweep(ctx)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		s.logger.Debug().Msg("reminder sweep already running elsewhere, skipping")
		return 0, nil
	}
	span.SetAttributes(attribute.Int("reminded", sent))
	return sent, err
}

func (s *Sweeper) sweep(ctx context.Context) (int, error) {
	now := s.now().In(s.loc)
	until := now.Add(s.window)

	candidates, err := s.appts.ListReminderCandidates(ctx, now.Format(dateLayout), until.Format(dateLayout))
	if err != nil {
		return 0, fmt.Errorf("list reminder candidates: %w", err)
	}

	reminded := 0
	for _, appt := range candidates {
		if err := ctx.Err(); err != nil {
			return reminded, err
		}
		if appt.Status != StatusScheduled {
			continue
		}

		starts, err := appt.StartsAt(s.loc)
		if err != nil {
			s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("unreadable appointment start, skipping")
			continue
		}
		if !starts.After(now) || starts.After(until) {
			continue
		}

		if s.remind(ctx, appt, starts) {
			reminded++
		}
	}

	s.logger.Info().
		Int("candidates", len(candidates)).
		Int("reminded", reminded).
		Msg("reminder sweep finished")

	return reminded, nil
}

func (s *Sweeper) remind(ctx context.Context, appt Appointment, starts time.Time) bool {
	dispatched := false
	apptID := appt.ID

	for _, ch := range s.channels {
		if appt.ReminderSentVia(ch) {
			continue
		}

		n := Notification{
			ID:            uuid.New(),
			UserID:        appt.PatientID,
			AppointmentID: &apptID,
			Type:          NotificationReminder,
			Channel:       ch,
			Title:         "Appointment reminder",
			Message:       fmt.Sprintf("Reminder: your %s appointment is on %s at %s.", appt.Type, appt.Date, appt.StartTime),
			CreatedAt:     s.now(),
		}

		log := s.logger.With().
			Str("appointment_id", appt.ID.String()).
			Str("channel", string(ch)).
			Time("starts_at", starts).
			Logger()

		if err := s.notifier.Notify(ctx, n); err != nil {
			log.Error().Err(err).Msg("reminder send failed")
			s.metrics.ObserveReminder(string(ch), ReminderFailed)
			continue
		}

		entry := ReminderEntry{Channel: ch, SentAt: s.now(), Status: ReminderSent}
		if err := s.appts.AppendReminder(ctx, appt.ID, entry); err != nil {
			// the reminder went out but is not on record; the next run may repeat it
			log.Error().Err(err).Msg("reminder sent but not recorded")
			s.metrics.ObserveReminder(string(ch), "unrecorded")
			dispatched = true
			continue
		}

		s.metrics.ObserveReminder(string(ch), ReminderSent)
		dispatched = true
	}

	return dispatched
}
