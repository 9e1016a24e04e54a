package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/time/rate"

	"threadbox/pkg/config"
	"threadbox/pkg/logger"
	"threadbox/pkg/models"
	"threadbox/pkg/store"
)

const tombPrefix = "tomb:"

// Rows is the slice of the row store the sweeper needs.
type Rows interface {
	Scan(prefix, startExclusive string, limit int, descending bool) ([]store.Entry, string, error)
	Delete(key string) error
	PurgeExpired(now time.Time, batch int) (int, error)
}

// Stats reports what a single sweep removed.
type Stats struct {
	ExpiredRows int
	Tombstones  int
}

// Sweeper periodically purges expired contribution rows and aged
// hard-delete tombstones from the row store.
type Sweeper struct {
	rows   Rows
	cfg    config.SweeperConfig
	period time.Duration
	pace   *rate.Limiter
	now    func() time.Time
}

// New builds a sweeper from config. TombstonePeriod must parse as a Go
// duration when set; empty keeps tombstones forever.
func New(rows Rows, cfg config.SweeperConfig) (*Sweeper, error) {
	var period time.Duration
	if cfg.TombstonePeriod != "" {
		d, err := time.ParseDuration(cfg.TombstonePeriod)
		if err != nil {
			return nil, fmt.Errorf("parse tombstone_period %q: %w", cfg.TombstonePeriod, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("tombstone_period must not be negative: %q", cfg.TombstonePeriod)
		}
		period = d
	}
	pace := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		pace = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return &Sweeper{rows: rows, cfg: cfg, period: period, pace: pace, now: time.Now}, nil
}

// Start launches the cron scheduler if the sweeper is enabled. The
// returned cancel func stops the scheduler; when disabled it is a no-op.
func (s *Sweeper) Start(ctx context.Context) (context.CancelFunc, error) {
	if !s.cfg.Enabled {
		logger.Info("sweeper_disabled")
		return func() {}, nil
	}

	// map empty cron to default daily @02:00
	cronExpr := s.cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("sweeper_invalid_cron", "cron", s.cfg.Cron)
		return nil, fmt.Errorf("invalid sweeper cron expression: %s", s.cfg.Cron)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go s.runScheduler(ctx2, cronExpr)

	logger.Info("sweeper_started", "cron", cronExpr, "tombstone_period", s.cfg.TombstonePeriod)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured
// cron expression and sleeps until that time.
func (s *Sweeper) runScheduler(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper_scheduler_stopping")
			return
		default:
		}

		now := s.now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("sweeper_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("sweeper_scheduler_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if _, err := s.RunOnce(ctx); err != nil {
				logger.Error("sweeper_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("sweeper_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single sweep: expired TTL rows first, then
// tombstones older than the configured period.
func (s *Sweeper) RunOnce(ctx context.Context) (Stats, error) {
	var st Stats
	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		n, err := s.rows.PurgeExpired(s.now(), batch)
		if err != nil {
			return st, fmt.Errorf("purge expired rows: %w", err)
		}
		st.ExpiredRows += n
		if n < batch {
			break
		}
		if err := s.pace.WaitN(ctx, n); err != nil {
			return st, err
		}
	}

	if s.period > 0 {
		n, err := s.sweepTombstones(ctx, batch)
		st.Tombstones = n
		if err != nil {
			return st, err
		}
	}

	logger.Info("sweeper_run_complete", "expired_rows", st.ExpiredRows, "tombstones", st.Tombstones)
	return st, nil
}

func (s *Sweeper) sweepTombstones(ctx context.Context, batch int) (int, error) {
	cutoff := s.now().Add(-s.period).UnixMilli()
	var removed int
	var token string
	for {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		entries, next, err := s.rows.Scan(tombPrefix, token, batch, false)
		if err != nil {
			return removed, fmt.Errorf("scan tombstones: %w", err)
		}
		for _, e := range entries {
			var tomb models.Tombstone
			if err := json.Unmarshal(e.Value, &tomb); err != nil {
				logger.Warn("sweeper_bad_tombstone", "key", e.Key, "error", err)
				continue
			}
			if tomb.DeletedAt >= cutoff {
				continue
			}
			if err := s.pace.Wait(ctx); err != nil {
				return removed, err
			}
			if err := s.rows.Delete(e.Key); err != nil {
				return removed, fmt.Errorf("delete tombstone %s: %w", e.Key, err)
			}
			removed++
		}
		if next == "" {
			break
		}
		token = next
	}
	return removed, nil
}
