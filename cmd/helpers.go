package cmd

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// tolerate decides a stage error's fate. Store failures and cancellation are
// returned; anything else is a fetch or extraction problem that is logged.
func tolerate(logger *zap.Logger, stage string, err error) error {
	if err == nil {
		return nil
	}
	if catalog.IsStoreError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Warn(stage+" incomplete", zap.Error(err))
	return nil
}

func logTally(logger *zap.Logger, msg string, t catalog.Tally) {
	logger.Info(msg,
		zap.Int("succeeded", t.Succeeded),
		zap.Int("failed", t.Failed),
		zap.Int("skipped", t.Skipped),
	)
}
