// Package meeting creates Google Meet video visits on a doctor's Google calendar.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
)

const defaultCalendarID = "primary"

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	CalendarID   string

	// Endpoint and TokenURL point the client at a fake server in tests.
	Endpoint string
	TokenURL string
}

// GoogleCalendar implements appointment.MeetingProvider. Events are created
// on the organizing doctor's calendar with that doctor's OAuth token.
type GoogleCalendar struct {
	oauth      *oauth2.Config
	tokens     TokenStore
	calendarID string
	endpoint   string
	logger     zerolog.Logger
}

func NewGoogleCalendar(cfg GoogleConfig, tokens TokenStore, logger zerolog.Logger) *GoogleCalendar {
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = defaultCalendarID
	}
	return &GoogleCalendar{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{calendar.CalendarEventsScope},
		},
		tokens:     tokens,
		calendarID: cfg.CalendarID,
		endpoint:   cfg.Endpoint,
		logger:     logger,
	}
}

// AuthURL is where a doctor grants calendar access. The state carries the doctor id.
func (g *GoogleCalendar) AuthURL(doctorID uuid.UUID) string {
	return g.oauth.AuthCodeURL(doctorID.String(), oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Connect exchanges the consent code and stores the doctor's token.
func (g *GoogleCalendar) Connect(ctx context.Context, doctorID uuid.UUID, code string) error {
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("meeting: exchange code: %w", err)
	}
	if err := g.tokens.SaveToken(ctx, doctorID, tok); err != nil {
		return err
	}
	g.logger.Info().Str("doctor_id", doctorID.String()).Msg("google calendar connected")
	return nil
}

type preparedKey struct{}

type preparedToken struct {
	doctorID uuid.UUID
	tok      *oauth2.Token
}

// PrepareMeeting loads the doctor's token, refreshing and saving it when it
// has expired, and returns a context carrying it. Call it before opening a
// transaction; CreateMeeting then makes no token store round trip.
func (g *GoogleCalendar) PrepareMeeting(ctx context.Context, doctorID uuid.UUID) (context.Context, error) {
	tok, err := g.tokens.Token(ctx, doctorID)
	if err != nil {
		return ctx, err
	}
	src := g.source(ctx, doctorID, tok)
	fresh, err := src.Token()
	if err != nil {
		return ctx, fmt.Errorf("meeting: refresh token: %w", err)
	}
	return context.WithValue(ctx, preparedKey{}, preparedToken{doctorID: doctorID, tok: fresh}), nil
}

func (g *GoogleCalendar) token(ctx context.Context, doctorID uuid.UUID) (*oauth2.Token, error) {
	if p, ok := ctx.Value(preparedKey{}).(preparedToken); ok && p.doctorID == doctorID {
		return p.tok, nil
	}
	return g.tokens.Token(ctx, doctorID)
}

func (g *GoogleCalendar) source(ctx context.Context, doctorID uuid.UUID, tok *oauth2.Token) oauth2.TokenSource {
	return &persistingSource{
		base:     g.oauth.TokenSource(context.WithoutCancel(ctx), tok),
		store:    g.tokens,
		doctorID: doctorID,
		logger:   g.logger,
		last:     tok.AccessToken,
	}
}

func (g *GoogleCalendar) service(ctx context.Context, doctorID uuid.UUID) (*calendar.Service, error) {
	tok, err := g.token(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	client := oauth2.NewClient(ctx, g.source(ctx, doctorID, tok))
	client.Timeout = 15 * time.Second

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("meeting: calendar client: %w", err)
	}
	return svc, nil
}

func (g *GoogleCalendar) CreateMeeting(ctx context.Context, req appointment.MeetingRequest) (*appointment.Meeting, error) {
	svc, err := g.service(ctx, req.OrganizerID)
	if err != nil {
		return nil, err
	}

	ev := event(req)
	ev.ConferenceData = &calendar.ConferenceData{
		CreateRequest: &calendar.CreateConferenceRequest{
			RequestId:             req.AppointmentID.String(),
			ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
		},
	}

	created, err := svc.Events.Insert(g.calendarID, ev).
		ConferenceDataVersion(1).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("meeting: insert event: %w", err)
	}

	link := created.HangoutLink
	if link == "" && created.ConferenceData != nil {
		for _, ep := range created.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				link = ep.Uri
				break
			}
		}
	}

	g.logger.Info().
		Str("appointment_id", req.AppointmentID.String()).
		Str("event_id", created.Id).
		Msg("google meet created")

	return &appointment.Meeting{EventID: created.Id, MeetLink: link}, nil
}

func (g *GoogleCalendar) UpdateMeeting(ctx context.Context, eventID string, req appointment.MeetingRequest) error {
	svc, err := g.service(ctx, req.OrganizerID)
	if err != nil {
		return err
	}
	_, err = svc.Events.Patch(g.calendarID, eventID, event(req)).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("meeting: patch event %s: %w", eventID, err)
	}
	return nil
}

// DeleteMeeting treats an event that is already gone as deleted.
func (g *GoogleCalendar) DeleteMeeting(ctx context.Context, organizerID uuid.UUID, eventID string) error {
	svc, err := g.service(ctx, organizerID)
	if err != nil {
		return err
	}
	err = svc.Events.Delete(g.calendarID, eventID).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return nil
		}
		return fmt.Errorf("meeting: delete event %s: %w", eventID, err)
	}
	return nil
}

func event(req appointment.MeetingRequest) *calendar.Event {
	ev := &calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       &calendar.EventDateTime{DateTime: req.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: req.End.Format(time.RFC3339)},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{"appointment_id": req.AppointmentID.String()},
		},
	}
	for _, email := range req.Attendees {
		ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: email})
	}
	return ev
}

var (
	_ appointment.MeetingProvider = (*GoogleCalendar)(nil)
	_ appointment.MeetingPreparer = (*GoogleCalendar)(nil)
)
