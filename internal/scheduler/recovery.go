package scheduler

import (
	"context"
	"errors"

	"github.com/EF-corp/AgroBotTg/internal/gateway"
	paymentdomain "github.com/EF-corp/AgroBotTg/internal/payment/domain"
	"go.uber.org/zap"
)

// RecoverySweepJob resolves pending payments whose poller is gone, for
// example after a crash. Captured charges are settled; the rest are dropped
// so the user can pay again.
func (s *Scheduler) RecoverySweepJob(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.RecoveryThreshold)
	stale, err := s.repo.ListOlderThan(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	for _, p := range stale {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if s.locks.Busy(p.UserID) {
			continue
		}
		if err := s.recover(ctx, p); err != nil {
			jobErr = errors.Join(jobErr, err)
		}
	}
	return jobErr
}

func (s *Scheduler) recover(ctx context.Context, p paymentdomain.PendingPayment) error {
	log := s.log.With(zap.Int64("user_id", p.UserID), zap.String("reg_pay_num", p.RegPayNum))

	report, err := s.gateway.PollStatus(ctx, p.RegPayNum)
	if err == nil && (report.Status == gateway.StatusPaid || report.Status == gateway.StatusProcessed) {
		outcome, err := s.payments.SettleByRegPayNum(ctx, p.RegPayNum, report.TotalAmount)
		switch {
		case err == nil:
			log.Info("recovered captured payment", zap.Bool("granted", outcome.Granted))
			s.metrics.RecordSettlement(ctx, "recovery", paymentdomain.OutcomeCaptured)
			return nil
		case errors.Is(err, paymentdomain.ErrAmountMismatch):
			// The amount came from the provider itself, so the charge cannot be granted.
			if _, err := s.repo.DeleteByRegPayNum(ctx, s.db, p.RegPayNum); err != nil {
				return err
			}
			log.Warn("dropped stale payment with mismatched amount", zap.Int64("captured", report.TotalAmount))
			s.metrics.RecordSettlement(ctx, "recovery", paymentdomain.OutcomeAmountMismatch)
			return nil
		default:
			return err
		}
	}
	if err != nil {
		log.Warn("status unavailable for stale payment", zap.Error(err))
	}

	rows, err := s.repo.DeleteByRegPayNum(ctx, s.db, p.RegPayNum)
	if err != nil {
		return err
	}
	if rows > 0 {
		log.Info("dropped stale pending payment", zap.String("status", string(report.Status)))
		s.metrics.RecordSettlement(ctx, "recovery", paymentdomain.OutcomeTimedOut)
	}
	return nil
}
