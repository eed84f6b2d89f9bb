package reconcile

import (
	"context"
	"errors"
	"time"

	"florahub-be/internal/auth"
	"florahub-be/internal/escrow"
	"florahub-be/internal/logger"
	"florahub-be/internal/order"
	"florahub-be/internal/wallet"

	"go.uber.org/zap"
)

const autoCompleteBatch = 100

// Job runs the periodic housekeeping passes: delivered orders past the
// dispute window are completed (releasing any escrow a crash left held),
// and cached wallet balances are checked against the ledger replay.
type Job struct {
	orders           order.Repository
	escrow           escrow.Service
	wallets          wallet.Repository
	autoCompleteDays int
	interval         time.Duration
}

func NewJob(orders order.Repository, esc escrow.Service, wallets wallet.Repository, autoCompleteDays int) *Job {
	return &Job{
		orders:           orders,
		escrow:           esc,
		wallets:          wallets,
		autoCompleteDays: autoCompleteDays,
		interval:         time.Hour,
	}
}

func (j *Job) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.RunAutoComplete(ctx)
				j.RunWalletAudit(ctx)
			}
		}
	}()
}

// RunAutoComplete completes delivered orders that sat undisputed past
// the window. Completion goes through the escrow service so a release
// lost to a crash is retried here.
func (j *Job) RunAutoComplete(ctx context.Context) {
	ctx = auth.SetUserContext(ctx, 0, "", auth.RoleSystem)
	cutoff := time.Now().AddDate(0, 0, -j.autoCompleteDays)

	ids, err := j.orders.ListAutoCompletable(ctx, cutoff, autoCompleteBatch)
	if err != nil {
		logger.L().Error("failed to list auto-completable orders", zap.Error(err))
		return
	}

	var completed int
	for _, id := range ids {
		err := j.escrow.Complete(ctx, id, "auto-completed after dispute window")
		if err != nil {
			// A buyer completing or disputing concurrently is expected;
			// anything else is worth surfacing.
			var invalid *order.InvalidTransitionError
			if errors.As(err, &invalid) {
				continue
			}
			logger.L().Error("auto-complete failed",
				zap.Int64("order_id", id),
				zap.Error(err),
			)
			continue
		}
		completed++
	}

	if len(ids) > 0 {
		logger.L().Info("auto-complete pass finished",
			zap.Int("candidates", len(ids)),
			zap.Int("completed", completed),
		)
	}
}

// RunWalletAudit replays every wallet ledger and reports balances that
// drifted from the cached value. Drift means a bug; the audit only ever
// reads.
func (j *Job) RunWalletAudit(ctx context.Context) {
	ids, err := j.wallets.ListFarmerIDs(ctx)
	if err != nil {
		logger.L().Error("failed to list wallets for audit", zap.Error(err))
		return
	}

	for _, farmerID := range ids {
		w, err := j.wallets.GetWallet(ctx, farmerID)
		if err != nil {
			logger.L().Error("wallet audit read failed",
				zap.Int64("farmer_id", farmerID),
				zap.Error(err),
			)
			continue
		}

		replayed, err := j.wallets.ReplayBalance(ctx, farmerID)
		if err != nil {
			logger.L().Error("wallet ledger replay failed",
				zap.Int64("farmer_id", farmerID),
				zap.Error(err),
			)
			continue
		}

		if replayed != w.Balance {
			logger.L().Error("wallet balance drift detected",
				zap.Int64("farmer_id", farmerID),
				zap.Int64("cached_balance", w.Balance),
				zap.Int64("replayed_balance", replayed),
			)
		}
	}
}
