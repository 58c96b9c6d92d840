package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/memstore"
)

type captureEmail struct{ got []EmailMessage }

func (c *captureEmail) Send(_ context.Context, msg EmailMessage) error {
	c.got = append(c.got, msg)
	return nil
}

type captureSMS struct{ to, body []string }

func (c *captureSMS) SendSMS(_ context.Context, to, body string) error {
	c.to = append(c.to, to)
	c.body = append(c.body, body)
	return nil
}

func TestDispatcher_RoutesByChannel(t *testing.T) {
	store := memstore.New()
	email, phone := "ann@example.com", "+15550100"
	patient := appointment.Patient{ID: uuid.New(), Name: "Ann", Email: &email, Phone: &phone}
	store.PutPatient(patient)
	bare := appointment.Patient{ID: uuid.New(), Name: "No Contact"}
	store.PutPatient(bare)

	mails, texts := &captureEmail{}, &captureSMS{}
	d := NewDispatcher(DispatcherConfig{Inbox: store, Contacts: store, Email: mails, SMS: texts, Logger: zerolog.Nop()})
	ctx := context.Background()

	notice := func(user uuid.UUID, ch appointment.Channel) appointment.Notification {
		return appointment.Notification{ID: uuid.New(), UserID: user, Channel: ch, Title: "Appointment reminder", Message: "See you at 09:00 <tomorrow>"}
	}

	require.NoError(t, d.Notify(ctx, notice(patient.ID, appointment.ChannelInApp)))
	inbox, err := store.ListNotifications(ctx, patient.ID, 10)
	require.NoError(t, err)
	assert.Len(t, inbox, 1)

	require.NoError(t, d.Notify(ctx, notice(patient.ID, appointment.ChannelEmail)))
	require.Len(t, mails.got, 1)
	assert.Equal(t, email, mails.got[0].To)
	assert.Equal(t, "Ann", mails.got[0].ToName)
	assert.Equal(t, "Appointment reminder", mails.got[0].Subject)
	assert.Contains(t, mails.got[0].HTML, "&lt;tomorrow&gt;")

	require.NoError(t, d.Notify(ctx, notice(patient.ID, appointment.ChannelSMS)))
	assert.Equal(t, []string{phone}, texts.to)
	assert.Equal(t, "Appointment reminder: See you at 09:00 <tomorrow>", texts.body[0])

	assert.ErrorIs(t, d.Notify(ctx, notice(bare.ID, appointment.ChannelEmail)), ErrNoAddress)
	assert.ErrorIs(t, d.Notify(ctx, notice(bare.ID, appointment.ChannelSMS)), ErrNoAddress)
	assert.ErrorIs(t, d.Notify(ctx, notice(uuid.New(), appointment.ChannelEmail)), appointment.ErrContactNotFound)
	assert.Error(t, d.Notify(ctx, notice(patient.ID, "pigeon")))
}

func TestDispatcher_DisabledChannels(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Logger: zerolog.Nop()})
	for _, ch := range []appointment.Channel{appointment.ChannelInApp, appointment.ChannelEmail, appointment.ChannelSMS} {
		err := d.Notify(context.Background(), appointment.Notification{UserID: uuid.New(), Channel: ch})
		assert.ErrorIs(t, err, ErrChannelDisabled, ch)
	}
}

func TestSendGridSender(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSendGridSender(SendGridConfig{APIKey: "sg-key", FromEmail: "front-desk@clinic.test", Host: srv.URL}, zerolog.Nop())
	require.NotNil(t, s)

	err := s.Send(context.Background(), EmailMessage{To: "ann@example.com", ToName: "Ann", Subject: "Booked", Body: "You are booked."})
	require.NoError(t, err)
	assert.Equal(t, "Booked", body["subject"])
	from := body["from"].(map[string]any)
	assert.Equal(t, "front-desk@clinic.test", from["email"])
	assert.Equal(t, defaultFromName, from["name"])
}

func TestSendGridSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	s := NewSendGridSender(SendGridConfig{APIKey: "wrong", Host: srv.URL}, zerolog.Nop())
	err := s.Send(context.Background(), EmailMessage{To: "ann@example.com", Subject: "x", Body: "y"})
	assert.ErrorContains(t, err, "status 401")
}

func TestNewSendGridSender_NoKey(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{}, zerolog.Nop()))
}

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender(t *testing.T) {
	api := &fakeSES{}
	s := NewSESSender(api, SESConfig{FromEmail: "front-desk@clinic.test", FromName: "Main Street Clinic"}, zerolog.Nop())

	require.NoError(t, s.Send(context.Background(), EmailMessage{To: "ann@example.com", Subject: "Booked", Body: "text", HTML: "<p>text</p>"}))
	assert.Equal(t, "Main Street Clinic <front-desk@clinic.test>", aws.ToString(api.in.FromEmailAddress))
	assert.Equal(t, []string{"ann@example.com"}, api.in.Destination.ToAddresses)
	assert.Equal(t, "text", aws.ToString(api.in.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>text</p>", aws.ToString(api.in.Content.Simple.Body.Html.Data))

	api.err = errors.New("throttled")
	assert.ErrorContains(t, s.Send(context.Background(), EmailMessage{To: "x@example.com"}), "throttled")

	assert.Nil(t, NewSESSender(nil, SESConfig{}, zerolog.Nop()))
}

func TestTwilioSender_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)

		raw, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(raw))
		require.NoError(t, err)
		assert.Equal(t, "+15550100", form.Get("To"))
		assert.Equal(t, "+15559999", form.Get("From"))

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender(TwilioConfig{AccountSID: "AC123", AuthToken: "secret", From: "+15559999", BaseURL: srv.URL}, zerolog.Nop())
	s.backoff = time.Millisecond

	require.NoError(t, s.SendSMS(context.Background(), "+15550100", "Reminder"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestTwilioSender_ClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender(TwilioConfig{AccountSID: "AC123", AuthToken: "secret", BaseURL: srv.URL}, zerolog.Nop())
	s.backoff = time.Millisecond

	err := s.SendSMS(context.Background(), "nope", "Reminder")
	assert.ErrorContains(t, err, "21211 Invalid 'To' Phone Number")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTwilioSender_Validation(t *testing.T) {
	s := NewTwilioSender(TwilioConfig{}, zerolog.Nop())
	assert.ErrorContains(t, s.SendSMS(context.Background(), "+1", "x"), "credentials")

	s = NewTwilioSender(TwilioConfig{AccountSID: "a", AuthToken: "b"}, zerolog.Nop())
	assert.ErrorContains(t, s.SendSMS(context.Background(), "", "x"), "recipient")
	assert.ErrorContains(t, s.SendSMS(context.Background(), "+1", "  "), "body")
}
