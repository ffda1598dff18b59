package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// WeeklyBackup stages, verifies, and ships the database archive. Without
// backup configuration the job skips rather than errors: a dev box with no
// bucket is not a failing system.
func (r *Runner) WeeklyBackup(ctx context.Context) Result {
	return r.run(ctx, JobWeeklyBackup, false, func(ctx context.Context, res *Result) error {
		if r.backup == nil {
			res.Status = StatusSkipped
			r.log.Warn().Msg("Backup not configured, skipping")
			return nil
		}
		snap, err := r.backup.Run(ctx)
		if err != nil {
			return err
		}
		res.Counts["pruned"] = snap.Pruned
		res.Counts["size_bytes"] = int(snap.SizeBytes)
		return nil
	})
}

// WeeklyCleanup prunes expired cache rows, stale IV observations, and
// calendar entries past retention. Each step runs even if an earlier one
// failed; partial cleanup beats none.
func (r *Runner) WeeklyCleanup(ctx context.Context) Result {
	return r.run(ctx, JobWeeklyCleanup, false, func(ctx context.Context, res *Result) error {
		var errs []error
		now := r.now()

		expired, err := r.kv.CleanupExpired()
		if err != nil {
			errs = append(errs, fmt.Errorf("cache cleanup: %w", err))
		} else {
			res.Counts["cache_expired"] = int(expired)
		}

		ivCutoff := now.AddDate(0, 0, -ivLogRetentionDays)
		ivPruned, err := r.ivs.Prune(ctx, ivCutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("iv log prune: %w", err))
		} else {
			res.Counts["iv_pruned"] = int(ivPruned)
		}

		calCutoff := domain.FormatDate(now.AddDate(0, 0, -calendarRetentionDays))
		calPruned, err := r.calStore.Prune(ctx, calCutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("calendar prune: %w", err))
		} else {
			res.Counts["calendar_pruned"] = int(calPruned)
		}

		return errors.Join(errs...)
	})
}
