package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var ErrUnauthorized = errors.New("reconciliation not authorized")

type SyncResult struct {
	Success     bool   `json:"success"`
	SyncedCount int    `json:"synced_count"`
	Error       string `json:"error,omitempty"`
}

// Syncer asks the secondary source to backfill readings the live feed missed.
type Syncer interface {
	TriggerSync(ctx context.Context) (SyncResult, error)
}

type Outcome string

const (
	OutcomeSynced   Outcome = "synced"
	OutcomeNoop     Outcome = "nothing_new"
	OutcomeFailed   Outcome = "failed"
	OutcomeBusy     Outcome = "busy"
	OutcomeTooSoon  Outcome = "too_soon"
	OutcomeDisabled Outcome = "disabled"
)

type Options struct {
	MinInterval time.Duration
	Timeout     time.Duration
	Now         func() time.Time
}

type Stats struct {
	Attempts    uint64    `json:"attempts"`
	Synced      uint64    `json:"rows_synced"`
	Failures    uint64    `json:"failures"`
	Disabled    bool      `json:"disabled"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
}

// Scheduler runs at most one sync at a time and at most one per MinInterval.
// The first authorization failure disables it for the life of the process.
type Scheduler struct {
	syncer   Syncer
	onSynced func(ctx context.Context) error
	opts     Options
	logger   *slog.Logger
	trigger  chan struct{}

	disabled atomic.Bool
	inflight atomic.Bool

	mu          sync.Mutex
	lastAttempt time.Time
	stats       Stats
}

// NewScheduler calls onSynced after a sync that reported new rows.
func NewScheduler(syncer Syncer, onSynced func(ctx context.Context) error, opts Options, logger *slog.Logger) *Scheduler {
	if opts.MinInterval <= 0 {
		opts.MinInterval = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{
		syncer:   syncer,
		onSynced: onSynced,
		opts:     opts,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Start attempts a sync every MinInterval and whenever Trigger is called.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.opts.MinInterval)
		defer ticker.Stop()
		for {
			if s.Disabled() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-s.trigger:
			}
			s.TryRun(ctx)
		}
	}()
}

// Trigger requests an attempt without blocking. Extra triggers coalesce.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Disabled() bool {
	return s.disabled.Load()
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Disabled = s.Disabled()
	return st
}

func (s *Scheduler) TryRun(ctx context.Context) Outcome {
	if s.Disabled() {
		return OutcomeDisabled
	}
	if !s.inflight.CompareAndSwap(false, true) {
		return OutcomeBusy
	}
	defer s.inflight.Store(false)

	now := s.opts.Now()
	s.mu.Lock()
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.opts.MinInterval {
		s.mu.Unlock()
		return OutcomeTooSoon
	}
	s.lastAttempt = now
	s.stats.Attempts++
	s.stats.LastAttempt = now
	s.mu.Unlock()

	callCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	res, err := s.syncer.TriggerSync(callCtx)
	if err == nil && !res.Success {
		err = errors.New(res.Error)
		if IsAuthorizationMessage(res.Error) {
			err = ErrUnauthorized
		}
	}
	if err != nil {
		if errors.Is(err, ErrUnauthorized) || IsAuthorizationMessage(err.Error()) {
			if s.disabled.CompareAndSwap(false, true) && s.logger != nil {
				s.logger.Info("reconciliation disabled, caller lacks authorization", "error", err)
			}
			return OutcomeDisabled
		}
		s.mu.Lock()
		s.stats.Failures++
		s.mu.Unlock()
		if s.logger != nil {
			s.logger.Warn("reconciliation failed", "error", err)
		}
		return OutcomeFailed
	}

	if res.SyncedCount <= 0 {
		return OutcomeNoop
	}
	s.mu.Lock()
	s.stats.Synced += uint64(res.SyncedCount)
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.Info("reconciliation synced readings", "synced_count", res.SyncedCount)
	}
	if s.onSynced != nil {
		if err := s.onSynced(ctx); err != nil && s.logger != nil {
			s.logger.Warn("refresh after reconciliation failed", "error", err)
		}
	}
	return OutcomeSynced
}

func IsAuthorizationMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "admin required")
}
