package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/observability/metrics"
)

// Best-effort steps. The names are used as log fields and metric labels.
const (
	StepMeetingPrepare = "meeting_prepare"
	StepMeetingCreate  = "meeting_create"
	StepMeetingUpdate  = "meeting_update"
	StepMeetingDelete  = "meeting_delete"
	StepMeetingRevert  = "meeting_compensate"
	StepNotifyPatient  = "notify_patient"
	StepNotifyDoctor   = "notify_doctor"
)

// BestEffort runs side effects whose failure must not change the outcome of
// the booking. A failure is logged, counted and handed back wrapped in
// ErrExternalService so callers can inspect it, but callers never return it.
type BestEffort struct {
	logger  zerolog.Logger
	metrics *metrics.BookingMetrics
}

func NewBestEffort(logger zerolog.Logger, m *metrics.BookingMetrics) BestEffort {
	return BestEffort{logger: logger, metrics: m}
}

func (b BestEffort) Run(ctx context.Context, step string, fields map[string]any, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrExternalService) {
		err = fmt.Errorf("%w: %s: %w", ErrExternalService, step, err)
	}

	b.logger.Warn().
		Err(err).
		Str("step", step).
		Fields(fields).
		Msg("best-effort step failed, continuing")
	b.metrics.ObserveSideEffectFailure(step)

	return err
}
