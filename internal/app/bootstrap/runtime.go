// Package bootstrap wires the booking core to its stores, locks and
// delivery channels from config. api-server and reminder-worker share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/config"
	"github.com/hackgods/clinic-appointment-booking/internal/db"
	"github.com/hackgods/clinic-appointment-booking/internal/meeting"
	"github.com/hackgods/clinic-appointment-booking/internal/memstore"
	"github.com/hackgods/clinic-appointment-booking/internal/notify"
	"github.com/hackgods/clinic-appointment-booking/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
)

// store is everything the booking core reads and writes.
type store interface {
	appointment.Transactor
	appointment.SlotStore
	appointment.AppointmentStore
	appointment.Directory
	appointment.AuditSink
	appointment.AuditReader
	appointment.NotificationStore
}

type pgStore struct {
	*appointment.PgRepository
	*db.TxManager
}

// Runtime holds the wired services and the connections behind them.
type Runtime struct {
	Config  config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool // nil on the memory backend
	Redis   *redis.Client // nil when Redis is unreachable and not required
	Memory  *memstore.Store
	Store   store
	Manager *appointment.Manager
	Sweeper *appointment.Sweeper

	Calendar *meeting.GoogleCalendar // nil unless Google credentials are set
	Metrics  *metrics.BookingMetrics
	Registry *prometheus.Registry

	closers []func()
}

// Build connects every dependency the config asks for. On error anything
// already opened is closed.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	var tokens meeting.TokenStore
	switch cfg.StoreBackend {
	case config.BackendMemory:
		rt.Memory = memstore.New()
		rt.Store = rt.Memory
		tokens = meeting.NewMemoryTokenStore()
		logger.Warn().Msg("using in-memory store, data is lost on restart")
	default:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
		if err != nil {
			return rt, err
		}
		rt.Pool = pool
		rt.closers = append(rt.closers, pool.Close)
		rt.Store = pgStore{
			PgRepository: appointment.NewPgRepository(pool),
			TxManager:    db.NewTxManager(pool, cfg.TxTimeout),
		}
		tokens = meeting.NewPgTokenStore(pool)
		logger.Info().Msg("connected to Postgres")
	}

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.ClientOptions{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: int(cfg.PostgresMaxConn),
	})
	switch {
	case err == nil:
		rt.Redis = rdb
		rt.closers = append(rt.closers, func() { _ = rdb.Close() })
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	case cfg.SlotLockEnabled:
		return rt, fmt.Errorf("slot locks need redis: %w", err)
	default:
		logger.Warn().Err(err).Msg("redis unavailable, running without distributed locks")
	}

	rt.Registry = prometheus.NewRegistry()
	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.Metrics = metrics.NewBookingMetrics(rt.Registry)

	email, err := emailSender(ctx, cfg, logger)
	if err != nil {
		return rt, err
	}
	var sms notify.SMSSender
	if cfg.TwilioEnabled() {
		sms = notify.NewTwilioSender(notify.TwilioConfig{
			AccountSID: cfg.TwilioAccountID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioFrom,
		}, logger)
	}
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Inbox:    rt.Store,
		Contacts: rt.Store,
		Email:    email,
		SMS:      sms,
		Logger:   logger,
	})

	var meetings appointment.MeetingProvider
	if cfg.GoogleCalendarEnabled() {
		rt.Calendar = meeting.NewGoogleCalendar(meeting.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			CalendarID:   cfg.GoogleCalendarID,
		}, tokens, logger)
		meetings = rt.Calendar
	}

	channels := Channels(cfg.ReminderChannels, logger)
	if sms == nil {
		channels = without(channels, appointment.ChannelSMS, logger)
	}

	var slotLocker, sweepLocker redisclient.Locker
	if rt.Redis != nil {
		sweepLocker = redisclient.NewRedisLocker(rt.Redis, cfg.WorkerInterval)
		if cfg.SlotLockEnabled {
			slotLocker = redisclient.NewRedisLocker(rt.Redis, cfg.LockTTL)
		}
	}

	loc := cfg.Location()
	rt.Manager = appointment.NewManager(appointment.Deps{
		Tx:             rt.Store,
		Slots:          rt.Store,
		Appointments:   rt.Store,
		Directory:      rt.Store,
		Audit:          rt.Store,
		Inbox:          rt.Store,
		Notifier:       dispatcher,
		Meetings:       meetings,
		Locker:         slotLocker,
		Metrics:        rt.Metrics,
		Logger:         logger.With().Str("component", "appointments").Logger(),
		Location:       loc,
		NoticeChannels: channels,
		MeetingTimeout: cfg.MeetingTimeout,
	})
	rt.Sweeper = appointment.NewSweeper(appointment.SweeperDeps{
		Appointments: rt.Store,
		Notifier:     dispatcher,
		Locker:       sweepLocker,
		Channels:     channels,
		Window:       cfg.ReminderWindow,
		Location:     loc,
		Metrics:      rt.Metrics,
		Logger:       logger.With().Str("component", "reminders").Logger(),
	})

	return rt, nil
}

// MetricsHandler serves the runtime's registry.
func (rt *Runtime) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{})
}

// Close releases connections in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func emailSender(ctx context.Context, cfg config.Config, logger zerolog.Logger) (notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
		if s == nil {
			return nil, errors.New("EMAIL_PROVIDER=sendgrid needs SENDGRID_API_KEY")
		}
		return s, nil
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger), nil
	case "stub", "":
		return notify.NewStubEmailSender(logger), nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown EMAIL_PROVIDER %q", cfg.EmailProvider)
}

// Channels parses channel names, dropping the ones it does not know.
func Channels(names []string, logger zerolog.Logger) []appointment.Channel {
	var out []appointment.Channel
	for _, name := range names {
		ch := appointment.Channel(name)
		if !ch.Valid() {
			logger.Warn().Str("channel", name).Msg("ignoring unknown reminder channel")
			continue
		}
		out = append(out, ch)
	}
	return out
}

func without(channels []appointment.Channel, drop appointment.Channel, logger zerolog.Logger) []appointment.Channel {
	out := channels[:0:0]
	for _, ch := range channels {
		if ch == drop {
			logger.Warn().Str("channel", string(ch)).Msg("channel configured but no sender available, skipping")
			continue
		}
		out = append(out, ch)
	}
	return out
}
