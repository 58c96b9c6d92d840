package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-appointment-booking/internal/config"
	"github.com/hackgods/clinic-appointment-booking/internal/db"
	"github.com/hackgods/clinic-appointment-booking/internal/logging"
)

type globalOptions struct {
	baseURL      string
	patientLimit int
	slotLimit    int
	timeout      time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:          "simulate",
		Short:        "Drive traffic at a running api-server using seeded data",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.baseURL, "api", "http://localhost:8080", "api-server base URL")
	pf.IntVar(&opts.patientLimit, "patients", 4000, "max patients to load")
	pf.IntVar(&opts.slotLimit, "slots", 2400, "max open slots to load")
	pf.DurationVar(&opts.timeout, "http-timeout", 10*time.Second, "per request timeout")

	root.AddCommand(newLoadCmd(opts), newContentionCmd(opts))
	return root
}

// setup loads config, logger and the seeded data every subcommand needs.
func setup(ctx context.Context, opts *globalOptions, name string) (*client, *dataPool, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "simulate").Str("mode", name).Logger()

	if cfg.PostgresDSN == "" {
		return nil, nil, logger, fmt.Errorf("POSTGRES_DSN is required to load seeded data")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, 2)
	if err != nil {
		return nil, nil, logger, err
	}
	defer pool.Close()

	data, err := loadDataPool(connectCtx, pool, opts.patientLimit, opts.slotLimit)
	if err != nil {
		return nil, nil, logger, err
	}
	logger.Info().Int("patients", len(data.patients)).Int("slots", len(data.slots)).Msg("seed data loaded")

	c := &client{
		base:  opts.baseURL,
		http:  &http.Client{Timeout: opts.timeout},
		actor: uuid.New(),
	}
	return c, data, logger, nil
}

type openSlot struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, patientLimit, slotLimit int) (*dataPool, error) {
	data := &dataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, patientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		data.patients = append(data.patients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	rows, err = pool.Query(ctx, `
		SELECT id, doctor_id FROM time_slots
		WHERE status = 'available' AND slot_date > current_date
		ORDER BY slot_date, start_time
		LIMIT $1
	`, slotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	for rows.Next() {
		var s openSlot
		if err := rows.Scan(&s.ID, &s.DoctorID); err != nil {
			rows.Close()
			return nil, err
		}
		data.slots = append(data.slots, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	if len(data.patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run seed first")
	}
	if len(data.slots) == 0 {
		return nil, fmt.Errorf("no open slots loaded, run seed first")
	}
	return data, nil
}
