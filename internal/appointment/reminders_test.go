package appointment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
)

// flakyNotifier fails every send on the listed channels.
type flakyNotifier struct {
	mu      sync.Mutex
	failing map[appointment.Channel]bool
	sent    map[uuid.UUID][]appointment.Channel
}

func newFlakyNotifier(failing ...appointment.Channel) *flakyNotifier {
	n := &flakyNotifier{failing: map[appointment.Channel]bool{}, sent: map[uuid.UUID][]appointment.Channel{}}
	for _, ch := range failing {
		n.failing[ch] = true
	}
	return n
}

func (n *flakyNotifier) Notify(_ context.Context, msg appointment.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failing[msg.Channel] {
		return errors.New("provider unavailable")
	}
	n.sent[*msg.AppointmentID] = append(n.sent[*msg.AppointmentID], msg.Channel)
	return nil
}

func (n *flakyNotifier) heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failing = map[appointment.Channel]bool{}
}

func (n *flakyNotifier) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, chs := range n.sent {
		c += len(chs)
	}
	return c
}

func (f *fixture) bookAt(t *testing.T, date, start string) uuid.UUID {
	t.Helper()
	begin, err := time.Parse("15:04", start)
	require.NoError(t, err)
	s, err := f.mgr.Slots().CreateSlot(context.Background(), f.doctor, date, start, begin.Add(15*time.Minute).Format("15:04"))
	require.NoError(t, err)
	return f.book(t, s.ID).ID
}

func newSweeper(f *fixture, n appointment.Notifier, opts ...func(*appointment.SweeperDeps)) *appointment.Sweeper {
	deps := appointment.SweeperDeps{
		Appointments: f.store,
		Notifier:     n,
		Channels:     []appointment.Channel{appointment.ChannelEmail, appointment.ChannelInApp},
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return fixedNow },
	}
	for _, o := range opts {
		o(&deps)
	}
	return appointment.NewSweeper(deps)
}

func TestSweep_WindowBoundaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startingNow := f.bookAt(t, "2025-06-01", "08:00")
	inAnHour := f.bookAt(t, "2025-06-01", "09:00")
	exactlyADay := f.bookAt(t, "2025-06-02", "08:00")
	justPastADay := f.bookAt(t, "2025-06-02", "08:15")
	checkedIn := f.bookAt(t, "2025-06-01", "10:00")
	status := appointment.StatusCheckedIn
	_, err := f.mgr.UpdateAppointment(ctx, checkedIn, appointment.UpdatePatch{Status: &status}, f.actor)
	require.NoError(t, err)

	n := newFlakyNotifier()
	reminded, err := newSweeper(f, n).Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, reminded)
	assert.ElementsMatch(t, []appointment.Channel{appointment.ChannelEmail, appointment.ChannelInApp}, n.sent[inAnHour])
	assert.Len(t, n.sent[exactlyADay], 2)
	assert.Empty(t, n.sent[startingNow])
	assert.Empty(t, n.sent[justPastADay])
	assert.Empty(t, n.sent[checkedIn])

	a, err := f.store.FindAppointmentByID(ctx, inAnHour)
	require.NoError(t, err)
	assert.True(t, a.ReminderSentVia(appointment.ChannelEmail))
	assert.True(t, a.ReminderSentVia(appointment.ChannelInApp))
}

func TestSweep_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.bookAt(t, "2025-06-01", "12:00")

	n := newFlakyNotifier()
	s := newSweeper(f, n)

	first, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second)
	assert.Equal(t, 2, n.total())
}

func TestSweep_FailedChannelIsRetriedNextRun(t *testing.T) {
	f := newFixture(t)
	id := f.bookAt(t, "2025-06-01", "12:00")
	other := f.bookAt(t, "2025-06-01", "13:00")

	reg := prometheus.NewRegistry()
	m := metrics.NewBookingMetrics(reg)

	n := newFlakyNotifier(appointment.ChannelEmail)
	s := newSweeper(f, n, func(d *appointment.SweeperDeps) { d.Metrics = m })

	reminded, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, reminded)
	assert.Equal(t, []appointment.Channel{appointment.ChannelInApp}, n.sent[id])
	assert.Equal(t, []appointment.Channel{appointment.ChannelInApp}, n.sent[other])
	assert.Equal(t, 2, testutil.CollectAndCount(reg, "clinic_reminders_dispatched_total"))

	a, err := f.store.FindAppointmentByID(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, a.ReminderSentVia(appointment.ChannelEmail))

	n.heal()
	reminded, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, reminded)
	assert.Equal(t, []appointment.Channel{appointment.ChannelInApp, appointment.ChannelEmail}, n.sent[id])
}

func TestSweep_SkipsWhileAnotherReplicaHoldsTheLock(t *testing.T) {
	f := newFixture(t)
	f.bookAt(t, "2025-06-01", "12:00")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := redisclient.NewRedisLocker(client, time.Minute)

	n := newFlakyNotifier()
	s := newSweeper(f, n, func(d *appointment.SweeperDeps) { d.Locker = locker })

	require.NoError(t, mr.Set(redisclient.SweepLockKey, "busy"))
	reminded, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reminded)
	assert.Zero(t, n.total())

	mr.Del(redisclient.SweepLockKey)
	reminded, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reminded)
}

func TestSweep_UsesClinicTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	f := newFixture(t)
	// 08:00 UTC is 04:00 in New York, so a 03:30 local visit on June 2nd is
	// inside the window and a 05:00 one is not.
	inside := f.bookAt(t, "2025-06-02", "03:30")
	outside := f.bookAt(t, "2025-06-02", "05:00")

	n := newFlakyNotifier()
	s := newSweeper(f, n, func(d *appointment.SweeperDeps) { d.Location = loc })

	reminded, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reminded)
	assert.NotEmpty(t, n.sent[inside])
	assert.Empty(t, n.sent[outside])
}
