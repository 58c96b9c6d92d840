package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type contentionResult struct {
	Winners  []uuid.UUID
	Codes    map[string]int
	Failures int
	Stats    opStats
}

func newContentionCmd(global *globalOptions) *cobra.Command {
	var (
		racers int
		rounds int
	)
	cmd := &cobra.Command{
		Use:   "contention",
		Short: "Race concurrent bookings at the same slot and check only one wins",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if racers < 2 {
				return fmt.Errorf("--racers must be at least 2")
			}
			c, data, logger, err := setup(cmd.Context(), global, "contention")
			if err != nil {
				return err
			}
			rounds = min(rounds, len(data.slots))

			banner(os.Stdout, "CONTENTION REPORT")
			var doubles int
			for i := 0; i < rounds; i++ {
				slot := data.slots[i]
				res := race(cmd.Context(), c, slot, data.patients, racers)
				writeRound(os.Stdout, i+1, slot, res)
				if len(res.Winners) > 1 {
					doubles++
					logger.Error().Str("slot_id", slot.ID.String()).Int("winners", len(res.Winners)).Msg("slot double booked")
				}
			}
			if doubles > 0 {
				return fmt.Errorf("%d of %d slots were double booked", doubles, rounds)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&racers, "racers", 20, "concurrent bookings per slot")
	f.IntVar(&rounds, "rounds", 5, "number of slots to race on")
	return cmd
}

// race releases n bookings for slot at once, each for a different patient.
func race(ctx context.Context, c *client, slot openSlot, patients []uuid.UUID, n int) *contentionResult {
	res := &contentionResult{Codes: map[string]int{}}
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		start = make(chan struct{})
	)

	for i := 0; i < n; i++ {
		patient := patients[i%len(patients)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			began := time.Now()
			r, err := c.book(ctx, patient, slot)
			o := classify(r.Status, err)
			res.Stats.record(time.Since(began), o)

			mu.Lock()
			defer mu.Unlock()
			switch o {
			case outcomeOK:
				res.Winners = append(res.Winners, r.ID)
			case outcomeConflict:
				res.Codes[r.Code]++
			default:
				res.Failures++
			}
		}()
	}
	close(start)
	wg.Wait()
	return res
}

func writeRound(w io.Writer, round int, slot openSlot, res *contentionResult) {
	fmt.Fprintf(w, "Round %d slot=%s winners=%d failures=%d\n", round, slot.ID, len(res.Winners), res.Failures)
	for code, n := range res.Codes {
		fmt.Fprintf(w, "  409 %s: %d\n", code, n)
	}
	writeOpReport(w, "  Bookings", &res.Stats)
}
