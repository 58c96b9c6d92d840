package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type loadOptions struct {
	duration time.Duration
	workers  int
	book     float64
	cancel   float64
	checkIn  float64
	read     float64
}

type loadMetrics struct {
	Book          opStats
	Cancel        opStats
	CheckIn       opStats
	ReadByID      opStats
	ListByPatient opStats
	ListByDoctor  opStats
	Upcoming      opStats
}

type loadRunner struct {
	opts    loadOptions
	client  *client
	data    *dataPool
	logger  zerolog.Logger
	metrics loadMetrics
}

func newLoadCmd(global *globalOptions) *cobra.Command {
	opts := loadOptions{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run a mixed booking, lifecycle and read workload for a fixed duration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.workers <= 0 || opts.duration <= 0 {
				return fmt.Errorf("--workers and --duration must be positive")
			}
			if err := opts.normalize(); err != nil {
				return err
			}

			c, data, logger, err := setup(cmd.Context(), global, "load")
			if err != nil {
				return err
			}

			r := &loadRunner{opts: opts, client: c, data: data, logger: logger}
			r.run(cmd.Context())
			r.report(os.Stdout)
			return nil
		},
	}

	f := cmd.Flags()
	f.DurationVar(&opts.duration, "duration", 30*time.Second, "how long to run")
	f.IntVar(&opts.workers, "workers", 10, "concurrent workers")
	f.Float64Var(&opts.book, "book-ratio", 0.4, "share of bookings")
	f.Float64Var(&opts.cancel, "cancel-ratio", 0.1, "share of cancellations")
	f.Float64Var(&opts.checkIn, "checkin-ratio", 0.1, "share of check-ins")
	f.Float64Var(&opts.read, "read-ratio", 0.4, "share of reads")
	return cmd
}

func (o *loadOptions) normalize() error {
	total := o.book + o.cancel + o.checkIn + o.read
	if total <= 0 {
		return fmt.Errorf("operation ratios must add up to more than zero")
	}
	o.book /= total
	o.cancel /= total
	o.checkIn /= total
	o.read /= total
	return nil
}

func (r *loadRunner) run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, r.opts.duration)
	defer cancel()

	r.logger.Info().Dur("duration", r.opts.duration).Int("workers", r.opts.workers).Msg("starting load")

	var wg sync.WaitGroup
	for i := 0; i < r.opts.workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r.worker(ctx, rand.New(rand.NewSource(seed)))
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()

	r.logger.Info().Msg("load complete")
}

func (r *loadRunner) worker(ctx context.Context, rng *rand.Rand) {
	for ctx.Err() == nil {
		x := rng.Float64()
		switch {
		case x < r.opts.book:
			r.doBook(ctx, rng)
		case x < r.opts.book+r.opts.cancel:
			r.doCancel(ctx, rng)
		case x < r.opts.book+r.opts.cancel+r.opts.checkIn:
			r.doCheckIn(ctx, rng)
		default:
			r.doRead(ctx, rng)
		}
	}
}

func (r *loadRunner) doBook(ctx context.Context, rng *rand.Rand) {
	slot := r.data.slots[rng.Intn(len(r.data.slots))]
	patient := r.data.patients[rng.Intn(len(r.data.patients))]

	start := time.Now()
	res, err := r.client.book(ctx, patient, slot)
	if ctx.Err() != nil {
		return
	}
	o := classify(res.Status, err)
	r.metrics.Book.record(time.Since(start), o)
	if o == outcomeOK {
		r.data.addBooked(res.ID)
	}
}

func (r *loadRunner) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := r.data.takeBooked(rng)
	if !ok {
		return
	}
	r.timed(ctx, &r.metrics.Cancel, http.MethodPost, "/appointments/"+id.String()+"/cancel",
		map[string]string{"reason": "simulated cancellation"})
}

func (r *loadRunner) doCheckIn(ctx context.Context, rng *rand.Rand) {
	id, ok := r.data.randomBooked(rng)
	if !ok {
		return
	}
	r.timed(ctx, &r.metrics.CheckIn, http.MethodPatch, "/appointments/"+id.String(),
		map[string]string{"status": "checked-in"})
}

func (r *loadRunner) doRead(ctx context.Context, rng *rand.Rand) {
	patient := r.data.patients[rng.Intn(len(r.data.patients))]
	switch rng.Intn(4) {
	case 0:
		id, ok := r.data.randomBooked(rng)
		if !ok {
			return
		}
		r.timed(ctx, &r.metrics.ReadByID, http.MethodGet, "/appointments/"+id.String(), nil)
	case 1:
		r.timed(ctx, &r.metrics.ListByPatient, http.MethodGet,
			"/appointments?patient_id="+patient.String()+"&limit=20&offset=0", nil)
	case 2:
		doctor := r.data.slots[rng.Intn(len(r.data.slots))].DoctorID
		r.timed(ctx, &r.metrics.ListByDoctor, http.MethodGet,
			"/appointments?doctor_id="+doctor.String()+"&limit=20", nil)
	case 3:
		r.timed(ctx, &r.metrics.Upcoming, http.MethodGet,
			"/patients/"+patient.String()+"/appointments/upcoming", nil)
	}
}

func (r *loadRunner) timed(ctx context.Context, s *opStats, method, path string, body any) {
	start := time.Now()
	status, err := r.client.status(ctx, method, path, body)
	if ctx.Err() != nil {
		return
	}
	s.record(time.Since(start), classify(status, err))
}

func (r *loadRunner) report(w io.Writer) {
	banner(w, "LOAD REPORT")
	fmt.Fprintf(w, "Duration: %s\nWorkers: %d\n\n", r.opts.duration, r.opts.workers)

	writeOpReport(w, "Book", &r.metrics.Book)
	writeOpReport(w, "Cancel", &r.metrics.Cancel)
	writeOpReport(w, "Check in", &r.metrics.CheckIn)
	writeOpReport(w, "Read by ID", &r.metrics.ReadByID)
	writeOpReport(w, "List by patient", &r.metrics.ListByPatient)
	writeOpReport(w, "List by doctor", &r.metrics.ListByDoctor)
	writeOpReport(w, "Upcoming by patient", &r.metrics.Upcoming)
}
