package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-appointment-booking/internal/config"
	"github.com/hackgods/clinic-appointment-booking/internal/db"
	"github.com/hackgods/clinic-appointment-booking/internal/logging"
)

type seedOptions struct {
	doctors     int
	patients    int
	clinics     int
	days        int
	slotMinutes int
	dayStart    string
	dayEnd      string
	timezone    string
}

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := seedOptions{}
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Fill the booking database with fake patients, doctors, clinics and open slots",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreBackend != config.BackendPostgres {
				return fmt.Errorf("seed writes to postgres, STORE_BACKEND is %q", cfg.StoreBackend)
			}
			if opts.timezone == "" {
				opts.timezone = cfg.ClinicTimezone
			}
			logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "seed").Logger()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 4)
			cancel()
			if err != nil {
				return err
			}
			defer pool.Close()

			return run(cmd.Context(), pool, opts, logger)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.doctors, "doctors", 25, "number of doctors")
	f.IntVar(&opts.patients, "patients", 2000, "number of patients")
	f.IntVar(&opts.clinics, "clinics", 3, "number of clinics")
	f.IntVar(&opts.days, "days", 14, "days of slots to open, starting tomorrow")
	f.IntVar(&opts.slotMinutes, "slot-minutes", 30, "slot length in minutes")
	f.StringVar(&opts.dayStart, "day-start", "09:00", "first slot of the day (HH:MM)")
	f.StringVar(&opts.dayEnd, "day-end", "17:00", "end of the last slot (HH:MM)")
	f.StringVar(&opts.timezone, "timezone", "", "clinic timezone, defaults to CLINIC_TIMEZONE")
	return cmd
}

func run(ctx context.Context, pool *pgxpool.Pool, opts seedOptions, logger zerolog.Logger) error {
	times, err := slotTimes(opts.dayStart, opts.dayEnd, opts.slotMinutes)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedClinics(ctx, pool, faker, opts.clinics, opts.timezone, logger); err != nil {
		return fmt.Errorf("seed clinics: %w", err)
	}
	doctors, err := seedDoctors(ctx, pool, faker, opts.doctors, logger)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	if err := seedPatients(ctx, pool, faker, opts.patients, logger); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	if err := seedSlots(ctx, pool, doctors, slotDates(time.Now().In(loc), opts.days), times, logger); err != nil {
		return fmt.Errorf("seed slots: %w", err)
	}

	logger.Info().Msg("seed complete")
	return nil
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, tz string, logger zerolog.Logger) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			addr := faker.Address()
			_, err := tx.Exec(ctx, `
				INSERT INTO clinics (id, name, address, timezone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), faker.Company()+" Clinic", addr.Address, tz)
			if err != nil {
				return err
			}
		}
		logger.Info().Int("count", count).Msg("clinics seeded")
		return nil
	})
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO doctors (id, name, email, phone, specialty, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, now(), now())
			`, id, "Dr. "+faker.Name(), faker.Email(), faker.Phone(), specialties[faker.Number(0, len(specialties)-1)])
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Int("count", count).Msg("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		rows := make([][]any, 0, end-offset)
		now := time.Now()
		for i := offset; i < end; i++ {
			rows = append(rows, []any{uuid.New(), faker.Name(), faker.Email(), faker.Phone(), now, now})
		}

		_, err := pool.CopyFrom(ctx,
			pgx.Identifier{"patients"},
			[]string{"id", "name", "email", "phone", "created_at", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return err
		}
		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}
	return nil
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctors []uuid.UUID, dates []time.Time, times [][2]string, logger zerolog.Logger) error {
	now := time.Now()
	total := 0
	for _, doctor := range doctors {
		rows := make([][]any, 0, len(dates)*len(times))
		for _, d := range dates {
			for _, t := range times {
				start, _ := time.Parse("15:04", t[0])
				end, _ := time.Parse("15:04", t[1])
				rows = append(rows, []any{uuid.New(), doctor, d, pgTime(start), pgTime(end), "available", now, now})
			}
		}

		n, err := pool.CopyFrom(ctx,
			pgx.Identifier{"time_slots"},
			[]string{"id", "doctor_id", "slot_date", "start_time", "end_time", "status", "created_at", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return err
		}
		total += int(n)
	}
	logger.Info().Int("count", total).Msg("slots seeded")
	return nil
}

// slotTimes splits [dayStart, dayEnd) into back to back slots.
func slotTimes(dayStart, dayEnd string, minutes int) ([][2]string, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("slot length must be positive, got %d", minutes)
	}
	start, err := time.Parse("15:04", dayStart)
	if err != nil {
		return nil, fmt.Errorf("day-start: %w", err)
	}
	end, err := time.Parse("15:04", dayEnd)
	if err != nil {
		return nil, fmt.Errorf("day-end: %w", err)
	}

	step := time.Duration(minutes) * time.Minute
	var out [][2]string
	for t := start; !t.Add(step).After(end); t = t.Add(step) {
		out = append(out, [2]string{t.Format("15:04"), t.Add(step).Format("15:04")})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no %d minute slot fits between %s and %s", minutes, dayStart, dayEnd)
	}
	return out, nil
}

// pgTime converts a clock reading to a TIME value. COPY runs in binary
// format so the text form is not accepted.
func pgTime(t time.Time) pgtype.Time {
	us := int64(t.Hour())*int64(time.Hour/time.Microsecond) + int64(t.Minute())*int64(time.Minute/time.Microsecond)
	return pgtype.Time{Microseconds: us, Valid: true}
}

// slotDates returns the next n weekdays after today.
func slotDates(today time.Time, n int) []time.Time {
	var out []time.Time
	for d := today.AddDate(0, 0, 1); len(out) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		out = append(out, time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC))
	}
	return out
}
