package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fabrica-erp/fabrica/internal/bom"
	"github.com/fabrica-erp/fabrica/internal/shared"
)

// Recalculator processes BOM recalculation tasks.
type Recalculator struct {
	service *bom.Service
	idem    *shared.IdempotencyStore
	logger  *slog.Logger
}

// NewRecalculator constructs the task processor.
func NewRecalculator(service *bom.Service, idem *shared.IdempotencyStore, logger *slog.Logger) *Recalculator {
	return &Recalculator{service: service, idem: idem, logger: logger}
}

// HandleRecalc processes TaskBOMRecalc tasks.
func (r *Recalculator) HandleRecalc(ctx context.Context, t *asynq.Task) error {
	var payload BOMRecalcPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RefreshItemCosts {
		if err := r.service.RefreshItemCosts(ctx, payload.BOMID); err != nil {
			if errors.Is(err, bom.ErrNotFound) {
				return asynq.SkipRetry
			}
			return err
		}
		return nil
	}
	if _, err := r.service.Recalculate(ctx, payload.BOMID); err != nil {
		if errors.Is(err, bom.ErrNotFound) {
			return asynq.SkipRetry
		}
		return err
	}
	return nil
}

// HandleRecalcAll processes the nightly sweep. Individual BOM failures are
// logged and skipped so one bad document does not stall the rest.
func (r *Recalculator) HandleRecalcAll(ctx context.Context, t *asynq.Task) error {
	var payload BOMRecalcAllPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	started := time.Now()
	// At most one sweep per day, whether triggered by cron or by hand.
	if r.idem != nil {
		key := "bom:recalc_all:" + started.UTC().Format("2006-01-02")
		if err := r.idem.CheckAndInsert(ctx, key, "jobs"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				r.logger.Info("nightly recalc already ran today, skipping")
				return nil
			}
			return err
		}
	}
	ids, err := r.service.ListBOMIDs(ctx)
	if err != nil {
		return err
	}
	var failed int
	for _, id := range ids {
		if err := r.service.RefreshItemCosts(ctx, id); err != nil {
			failed++
			r.logger.Warn("nightly recalc failed",
				slog.String("bom_id", id),
				slog.Any("error", err))
		}
	}
	r.logger.Info("nightly recalc finished",
		slog.Int("total", len(ids)),
		slog.Int("failed", failed),
		slog.Duration("took", time.Since(started)))
	return nil
}
