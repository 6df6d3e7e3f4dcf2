// Package jobs hosts the background task definitions and the Asynq worker.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBOMRecalc recomputes one BOM's item costs and summary.
	TaskBOMRecalc = "bom:recalc"
	// TaskBOMRecalcAll walks every BOM and repairs cost drift nightly.
	TaskBOMRecalcAll = "bom:recalc_all"
)

// BOMRecalcPayload identifies the BOM to recompute.
type BOMRecalcPayload struct {
	BOMID            string `json:"bom_id"`
	RefreshItemCosts bool   `json:"refresh_item_costs"`
}

// NewBOMRecalcTask constructs an Asynq task for one BOM.
func NewBOMRecalcTask(payload BOMRecalcPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBOMRecalc, body, asynq.Queue(QueueDefault)), nil
}

// BOMRecalcAllPayload carries scheduling metadata.
type BOMRecalcAllPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewBOMRecalcAllTask constructs the nightly sweep task.
func NewBOMRecalcAllTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(BOMRecalcAllPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBOMRecalcAll, body, asynq.Queue(QueueDefault)), nil
}
