package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskTypeExpireQuotations is the periodic sweep flipping overdue
// quotations to EXPIRED.
const TaskTypeExpireQuotations = "quotations:expire"

// QuotationExpirer is implemented by the quotation service.
type QuotationExpirer interface {
	ExpireDue(ctx context.Context, asOf time.Time, limit int) (int64, error)
}

type expirePayload struct {
	Batch int `json:"batch"`
}

// NewExpireQuotationsTask constructs the sweep task with a batch cap.
func NewExpireQuotationsTask(batch int) (*asynq.Task, error) {
	data, err := json.Marshal(expirePayload{Batch: batch})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeExpireQuotations, data), nil
}

// HandleExpireQuotations builds the handler for the sweep task. Reads
// on expired quotations already report ErrExpired before the sweep
// runs; the sweep only reconciles the stored status for listings and
// reporting.
func HandleExpireQuotations(expirer QuotationExpirer, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload expirePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Batch <= 0 {
			payload.Batch = 500
		}
		n, err := expirer.ExpireDue(ctx, time.Now().UTC(), payload.Batch)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("expired overdue quotations", slog.Int64("count", n))
		}
		return nil
	}
}
