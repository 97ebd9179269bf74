// Package maintenance holds the background sweeps run through River.
package maintenance

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

type ExpirePurchasesJobArgs struct{}

func (ExpirePurchasesJobArgs) Kind() string { return "expire_overdue_purchases" }

// PurchaseExpirer is the contract the worker needs to run the sweep.
type PurchaseExpirer interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

// ExpirePurchasesWorker transitions overdue pending/processing purchase
// requests to expired. Scheduled as a River periodic job.
type ExpirePurchasesWorker struct {
	river.WorkerDefaults[ExpirePurchasesJobArgs]
	purchases PurchaseExpirer
	log       *slog.Logger
}

func NewExpirePurchasesWorker(purchases PurchaseExpirer, log *slog.Logger) *ExpirePurchasesWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ExpirePurchasesWorker{purchases: purchases, log: log}
}

func (w *ExpirePurchasesWorker) Work(ctx context.Context, job *river.Job[ExpirePurchasesJobArgs]) error {
	n, err := w.purchases.ExpireOverdue(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info("expired overdue purchase requests", "count", n)
	}
	return nil
}
