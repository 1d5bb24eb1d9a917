package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/respectlytics/respectaso/internal/config"
	"github.com/respectlytics/respectaso/internal/research"
	"github.com/respectlytics/respectaso/internal/store"
	"github.com/respectlytics/respectaso/pkg/alert"
	"github.com/respectlytics/respectaso/pkg/logger"
	"github.com/respectlytics/respectaso/pkg/metrics"
	"github.com/respectlytics/respectaso/pkg/trend"
)

// ErrRunning is returned when a refresh is already in progress.
var ErrRunning = errors.New("refresh already running")

// Refresher re-runs one stored keyword+country pair.
type Refresher interface {
	RefreshPair(ctx context.Context, p store.Pair) (*research.Outcome, error)
}

// Config controls the refresh job.
type Config struct {
	Cron         string
	RunOnStart   bool
	RequestDelay time.Duration
	Retention    config.RetentionConfig
}

// Status reports refresh progress.
type Status struct {
	Running         bool       `json:"running"`
	Total           int        `json:"total"`
	Completed       int        `json:"completed"`
	Failed          int        `json:"failed"`
	CurrentKeyword  string     `json:"current_keyword,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// RunResult summarizes one refresh run.
type RunResult struct {
	Refreshed int
	Failed    int
	Purged    int64
	Movements []trend.Movement
}

// Scheduler refreshes stale history once a day and purges expired rows.
type Scheduler struct {
	store      store.Store
	refresher  Refresher
	alerts     *alert.Manager
	thresholds trend.Thresholds
	cfg        Config
	log        *logger.Logger
	metrics    *metrics.Manager
	now        func() time.Time

	mu     sync.RWMutex
	status Status
}

// New creates a new scheduler.
func New(
	s store.Store,
	refresher Refresher,
	alerts *alert.Manager,
	thresholds trend.Thresholds,
	cfg Config,
	log *logger.Logger,
	m *metrics.Manager,
) *Scheduler {
	if cfg.Cron == "" {
		cfg.Cron = "@hourly"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		store:      s,
		refresher:  refresher,
		alerts:     alerts,
		thresholds: thresholds,
		cfg:        cfg,
		log:        log.Named("scheduler"),
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Status returns a snapshot of refresh progress.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Run checks for stale pairs on the cron schedule. Blocks until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(s.cfg.Cron, func() {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunning) {
			s.log.WithError(err).Error("scheduled refresh failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule refresh %q: %w", s.cfg.Cron, err)
	}

	if s.cfg.RunOnStart {
		go func() {
			if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunning) {
				s.log.WithError(err).Error("initial refresh failed")
			}
		}()
	}

	s.log.WithField("schedule", s.cfg.Cron).Info("scheduler running")
	c.Start()
	<-ctx.Done()

	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Running {
		return false
	}
	started := s.now()
	s.status.Running = true
	s.status.Total = 0
	s.status.Completed = 0
	s.status.Failed = 0
	s.status.CurrentKeyword = ""
	s.status.StartedAt = &started
	s.status.Error = ""
	return true
}

func (s *Scheduler) update(fn func(st *Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

// RunOnce purges expired history, refreshes every pair with no result
// today and alerts on significant movements.
func (s *Scheduler) RunOnce(ctx context.Context) (*RunResult, error) {
	if !s.begin() {
		return nil, ErrRunning
	}

	res, err := s.refresh(ctx)

	s.update(func(st *Status) {
		st.Running = false
		st.CurrentKeyword = ""
		if err != nil {
			st.Error = err.Error()
			return
		}
		done := s.now()
		st.LastCompletedAt = &done
	})
	s.metrics.ObserveRefresh(res.Refreshed, res.Purged, err)
	return res, err
}

func (s *Scheduler) refresh(ctx context.Context) (*RunResult, error) {
	res := &RunResult{}
	now := s.now()

	if cutoff, ok := s.cfg.Retention.Cutoff(now); ok {
		purged, err := s.store.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("purge history: %w", err)
		}
		res.Purged = purged
		if purged > 0 {
			s.log.Infof("purged %d results older than %d days", purged, s.cfg.Retention.Days)
		}
	}

	pairs, err := s.store.StalePairs(ctx, now)
	if err != nil {
		return res, fmt.Errorf("find stale pairs: %w", err)
	}
	s.update(func(st *Status) { st.Total = len(pairs) })
	if len(pairs) == 0 {
		return res, nil
	}
	s.log.Infof("refreshing %d keyword pairs", len(pairs))

	for i, p := range pairs {
		if i > 0 && s.cfg.RequestDelay > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(s.cfg.RequestDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s.update(func(st *Status) { st.CurrentKeyword = fmt.Sprintf("%s (%s)", p.Keyword, p.Country) })

		out, err := s.refresher.RefreshPair(ctx, p)
		if err != nil {
			res.Failed++
			s.log.WithFields(map[string]any{"keyword": p.Keyword, "country": p.Country}).
				WithError(err).Warn("refresh failed")
			s.update(func(st *Status) { st.Failed++ })
			continue
		}
		res.Refreshed++
		s.update(func(st *Status) { st.Completed++ })

		if out.Movement != nil && s.thresholds.Significant(*out.Movement) {
			res.Movements = append(res.Movements, *out.Movement)
		}
	}

	s.notify(ctx, res.Movements)
	if res.Refreshed == 0 && res.Failed > 0 {
		return res, fmt.Errorf("all %d refreshes failed", res.Failed)
	}
	return res, nil
}

func (s *Scheduler) notify(ctx context.Context, movements []trend.Movement) {
	if len(movements) == 0 || !s.alerts.HasNotifiers() {
		return
	}
	n := alert.NewMovementNotification(movements)
	if err := s.alerts.Broadcast(ctx, n); err != nil {
		s.log.WithError(err).Warn("alert delivery failed")
		return
	}
	s.log.Infof("alerted on %d movements", len(movements))
}
