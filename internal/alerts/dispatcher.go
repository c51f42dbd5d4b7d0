package alerts

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"doorguard/internal/model"
	"doorguard/internal/notify"
)

const DefaultCooldown = 5 * time.Minute

type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeCoolingDown Outcome = "cooling_down"
	OutcomeInFlight    Outcome = "in_flight"
	OutcomeFailed      Outcome = "failed"
)

// Trigger carries what is known about the event that raised the alert.
type Trigger struct {
	Kind         model.AlertKind
	ReadingID    int64
	DoorOpenedAt *time.Time
	Source       string
}

type DispatcherOptions struct {
	Cooldown time.Duration
	// Timeout bounds one notification call. Zero leaves it to the caller's context.
	Timeout time.Duration
	Now     func() time.Time
}

// Dispatcher is the only component that sends notifications. Cooldown is
// measured from the last successful send of the same kind, so failures are
// retried on the next trigger.
type Dispatcher struct {
	notifier notify.Notifier
	throttle Throttle
	store    *Store
	inflight *inFlight
	opts     DispatcherOptions
	logger   *slog.Logger

	cooldown atomic.Int64
}

func NewDispatcher(notifier notify.Notifier, throttle Throttle, store *Store, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if throttle == nil {
		throttle = NewMemoryThrottle()
	}
	d := &Dispatcher{
		notifier: notifier,
		throttle: throttle,
		store:    store,
		inflight: newInFlight(),
		opts:     opts,
		logger:   logger,
	}
	d.cooldown.Store(int64(opts.Cooldown))
	return d
}

func (d *Dispatcher) Cooldown() time.Duration {
	return time.Duration(d.cooldown.Load())
}

// SetCooldown changes the cooldown for subsequent sends. Non-positive values
// restore the default.
func (d *Dispatcher) SetCooldown(c time.Duration) {
	if c <= 0 {
		c = DefaultCooldown
	}
	d.cooldown.Store(int64(c))
}

// ResetCooldowns re-arms every alert kind.
func (d *Dispatcher) ResetCooldowns(ctx context.Context) error {
	return d.throttle.Reset(ctx)
}

// MaybeSend never returns an error; every outcome is logged.
func (d *Dispatcher) MaybeSend(ctx context.Context, tr Trigger) Outcome {
	now := d.opts.Now()
	key := string(tr.Kind) + "|" + strconv.FormatInt(tr.ReadingID, 10)
	if !d.inflight.acquire(key, now, d.inflightTTL()) {
		d.debug("alert suppressed, dispatch in flight", tr)
		return OutcomeInFlight
	}
	defer d.inflight.release(key)

	last, ok, err := d.throttle.LastSent(ctx, tr.Kind)
	if err != nil && d.logger != nil {
		d.logger.Warn("alert throttle read failed, sending anyway", "alert_type", tr.Kind, "error", err)
	}
	if err == nil && ok && now.Sub(last) < d.Cooldown() {
		d.debug("alert suppressed by cooldown", tr)
		return OutcomeCoolingDown
	}

	sendCtx := ctx
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}
	resp, err := d.notifier.SendAlert(sendCtx, notify.NewAlertRequest(tr.Kind, tr.ReadingID, tr.DoorOpenedAt))
	if err == nil && !resp.OK() {
		err = notify.ErrDispatchFailed
	}
	if err != nil {
		if d.logger != nil {
			d.logger.Error("alert dispatch failed", "alert_type", tr.Kind, "reading_id", tr.ReadingID, "error", err)
		}
		return OutcomeFailed
	}

	sentAt := d.opts.Now()
	// The notification went out; record it even if the caller has gone away.
	if err := d.throttle.MarkSent(context.WithoutCancel(ctx), tr.Kind, sentAt); err != nil && d.logger != nil {
		d.logger.Warn("alert throttle write failed", "alert_type", tr.Kind, "error", err)
	}
	alert := model.Alert{
		ID:           uuid.NewString(),
		Timestamp:    sentAt,
		Kind:         tr.Kind,
		ReadingID:    tr.ReadingID,
		DoorOpenedAt: tr.DoorOpenedAt,
		Source:       tr.Source,
	}
	if d.store != nil {
		d.store.Add(alert)
	}
	if d.logger != nil {
		d.logger.Warn("security alert sent",
			"alert_id", alert.ID,
			"alert_type", alert.Kind,
			"reading_id", alert.ReadingID,
			"source", alert.Source,
		)
	}
	return OutcomeSent
}

func (d *Dispatcher) inflightTTL() time.Duration {
	if d.opts.Timeout > 0 {
		return 2 * d.opts.Timeout
	}
	return time.Minute
}

func (d *Dispatcher) debug(msg string, tr Trigger) {
	if d.logger != nil {
		d.logger.Debug(msg, "alert_type", tr.Kind, "reading_id", tr.ReadingID, "source", tr.Source)
	}
}
