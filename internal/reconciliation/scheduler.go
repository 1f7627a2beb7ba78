package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/mkumbo/billing-gateway/internal"
)

// Scheduler fires the daily reconciliation sweep. Each tick requests
// the settlement report for the previous day, then walks the backfill
// window re-requesting any date whose run errored or was never started.
// Dates with a healthy or closed run are skipped.
type Scheduler struct {
	engine       *Engine
	cron         *cron.Cron
	spec         string
	backfillDays int
	logger       *slog.Logger
}

func NewScheduler(engine *Engine, spec string, backfillDays int, logger *slog.Logger) *Scheduler {
	if spec == "" {
		spec = "0 2 * * *"
	}
	if backfillDays <= 0 {
		backfillDays = 7
	}
	return &Scheduler{
		engine:       engine,
		cron:         cron.New(),
		spec:         spec,
		backfillDays: backfillDays,
		logger:       logger,
	}
}

func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.Sweep(context.Background(), time.Now())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("reconciliation scheduler started",
		"cron", s.spec, "backfill_days", s.backfillDays)
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("reconciliation scheduler stopped")
}

// Sweep requests the report for every date in the backfill window that
// still needs one, most recent first.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) {
	for i := 1; i <= s.backfillDays; i++ {
		date := now.AddDate(0, 0, -i)
		if _, err := s.engine.Request(ctx, date); err != nil {
			if errors.Is(err, apperrors.ErrRunClosed) {
				continue
			}
			s.logger.Error("reconciliation sweep failed for date",
				"business_date", date.Format(businessDateLayout), "error", err)
		}
	}
}
