package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"doorguard/internal/alerts"
	"doorguard/internal/metrics"
	"doorguard/internal/model"
	"doorguard/internal/security"
)

// ReadingSource is the query side of the reading store.
type ReadingSource interface {
	LatestReading(ctx context.Context, since time.Time) (*model.Reading, error)
	ReadingsInWindow(ctx context.Context, since time.Time, pageSize, offset int) ([]model.Reading, error)
}

type SettingsSource interface {
	Current() security.Config
}

type AlertSink interface {
	MaybeSend(ctx context.Context, tr alerts.Trigger) alerts.Outcome
}

type Options struct {
	Window             time.Duration
	PageSize           int
	MaxRows            int
	FetchTimeout       time.Duration
	PollInterval       time.Duration
	AlertOnOpenTooLong bool
	Location           *time.Location
	Now                func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Window <= 0 {
		o.Window = 24 * time.Hour
	}
	if o.PageSize <= 0 {
		o.PageSize = 1000
	}
	if o.MaxRows <= 0 {
		o.MaxRows = 20000
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Orchestrator keeps the live door snapshot current. Refresh may run
// concurrently from the poll loop, push events and reconciliation; each run
// computes a complete snapshot and the newest computation is kept.
type Orchestrator struct {
	source    ReadingSource
	settings  SettingsSource
	alerts    AlertSink
	snapshots *metrics.Store
	opts      Options
	logger    *slog.Logger

	mu         sync.Mutex
	lastPushed model.DoorStatus

	alertOnOpenTooLong atomic.Bool
}

func NewOrchestrator(source ReadingSource, settings SettingsSource, sink AlertSink, snapshots *metrics.Store, opts Options, logger *slog.Logger) *Orchestrator {
	opts.applyDefaults()
	if snapshots == nil {
		snapshots = metrics.NewStore()
	}
	o := &Orchestrator{
		source:    source,
		settings:  settings,
		alerts:    sink,
		snapshots: snapshots,
		opts:      opts,
		logger:    logger,
	}
	o.alertOnOpenTooLong.Store(opts.AlertOnOpenTooLong)
	return o
}

func (o *Orchestrator) AlertOnOpenTooLong() bool {
	return o.alertOnOpenTooLong.Load()
}

// SetAlertOnOpenTooLong switches door_open_too_long notifications on or off.
func (o *Orchestrator) SetAlertOnOpenTooLong(v bool) {
	o.alertOnOpenTooLong.Store(v)
}

// Start runs an initial refresh, then refreshes on every poll tick and every
// pushed reading until ctx is cancelled or push is closed.
func (o *Orchestrator) Start(ctx context.Context, push <-chan model.Reading) {
	go o.run(ctx, push)
}

func (o *Orchestrator) run(ctx context.Context, push <-chan model.Reading) {
	o.refreshLogged(ctx, "startup")
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.refreshLogged(ctx, "poll")
		case r, ok := <-push:
			if !ok {
				push = nil
				continue
			}
			o.HandlePush(ctx, r)
		}
	}
}

// HandlePush reacts to one inserted reading. A change into OPEN is checked
// against night mode right away, before the refresh round trip.
func (o *Orchestrator) HandlePush(ctx context.Context, r model.Reading) {
	o.mu.Lock()
	prev := o.lastPushed
	o.lastPushed = r.DoorStatus
	o.mu.Unlock()
	if prev == "" {
		if snap, ok := o.snapshots.Get(); ok {
			prev = snap.CurrentDoorStatus
		}
	}

	if r.DoorStatus == model.DoorOpen && prev != model.DoorOpen {
		now := o.opts.Now()
		if o.settings.Current().InNightMode(now.In(o.opts.Location)) {
			opened := r.RecordedAt
			o.dispatch(ctx, alerts.Trigger{
				Kind:         model.AlertIntrusion,
				ReadingID:    r.ID,
				DoorOpenedAt: &opened,
				Source:       "push",
			})
		}
	}
	o.refreshLogged(ctx, "push")
}

// Refresh fetches the latest reading and the whole window, recomputes the
// snapshot and raises alerts for red postures. On error the previous snapshot
// is kept.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	_, err := o.refresh(ctx, "refresh")
	return err
}

func (o *Orchestrator) refreshLogged(ctx context.Context, trigger string) {
	if _, err := o.refresh(ctx, trigger); err != nil && o.logger != nil && ctx.Err() == nil {
		o.logger.Warn("door metrics refresh failed", "trigger", trigger, "error", err)
	}
}

func (o *Orchestrator) refresh(ctx context.Context, trigger string) (model.Snapshot, error) {
	now := o.opts.Now()
	since := now.Add(-o.opts.Window)

	fetchCtx := ctx
	if o.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, o.opts.FetchTimeout)
		defer cancel()
	}

	latest, err := o.source.LatestReading(fetchCtx, since)
	if err != nil {
		err = fmt.Errorf("fetch latest reading: %w", err)
		o.snapshots.RecordFailure(err, now)
		return model.Snapshot{}, err
	}
	readings, incomplete, err := o.fetchWindow(fetchCtx, since)
	if err != nil {
		err = fmt.Errorf("fetch window: %w", err)
		o.snapshots.RecordFailure(err, now)
		return model.Snapshot{}, err
	}

	snap := BuildSnapshot(latest, readings, now)
	snap.PossiblyIncomplete = incomplete
	if incomplete && o.logger != nil {
		o.logger.Warn("reading window hit row cap, counts are best effort",
			"max_rows", o.opts.MaxRows,
			"readings", len(readings),
		)
	}
	o.snapshots.Update(snap)

	var readingID int64
	if latest != nil {
		readingID = latest.ID
	}
	if n := len(readings); n > 0 && readings[n-1].ID > readingID {
		readingID = readings[n-1].ID
	}
	o.alertOn(ctx, snap, now, readingID, trigger)
	return snap, nil
}

func (o *Orchestrator) fetchWindow(ctx context.Context, since time.Time) ([]model.Reading, bool, error) {
	out := make([]model.Reading, 0, o.opts.PageSize)
	offset := 0
	for {
		page, err := o.source.ReadingsInWindow(ctx, since, o.opts.PageSize, offset)
		if err != nil {
			return nil, false, err
		}
		out = append(out, page...)
		if len(page) < o.opts.PageSize {
			return out, false, nil
		}
		offset += len(page)
		if len(out) >= o.opts.MaxRows {
			// A window of exactly MaxRows rows is complete; look one row further.
			more, err := o.source.ReadingsInWindow(ctx, since, 1, offset)
			if err != nil {
				return nil, false, err
			}
			return out, len(more) > 0, nil
		}
	}
}

// BuildSnapshot combines the cheap latest-reading lookup with the counted
// window. Whichever of the two is newer decides the current status, and
// DoorOpenedAt is set exactly when that status is OPEN.
func BuildSnapshot(latest *model.Reading, window []model.Reading, now time.Time) model.Snapshot {
	stats := CountTransitions(window)
	snap := model.Snapshot{
		TotalEntriesInWindow: stats.Entries,
		CurrentDoorStatus:    stats.Latest,
		LastUpdated:          now,
		ReadingsInWindow:     stats.Readings,
	}
	if latest != nil {
		n := len(window)
		if n == 0 || latest.RecordedAt.After(window[n-1].RecordedAt) {
			snap.CurrentDoorStatus = latest.DoorStatus
		}
	}
	if snap.CurrentDoorStatus != model.DoorOpen {
		return snap
	}
	switch {
	case stats.Latest == model.DoorOpen && stats.OpenedAt != nil:
		opened := *stats.OpenedAt
		snap.DoorOpenedAt = &opened
	case latest != nil:
		opened := latest.RecordedAt
		snap.DoorOpenedAt = &opened
	}
	return snap
}

// Evaluate classifies snap at now using the current security settings.
func (o *Orchestrator) Evaluate(snap model.Snapshot, now time.Time) model.Evaluation {
	return security.Evaluate(snap.CurrentDoorStatus, snap.OpenDuration(now), now.In(o.opts.Location), o.settings.Current())
}

// Current returns the live snapshot and its posture as of now.
func (o *Orchestrator) Current() (model.Snapshot, model.Evaluation, bool) {
	snap, ok := o.snapshots.Get()
	if !ok {
		return snap, model.Evaluation{Status: model.PostureSecure}, false
	}
	return snap, o.Evaluate(snap, o.opts.Now()), true
}

func (o *Orchestrator) alertOn(ctx context.Context, snap model.Snapshot, now time.Time, readingID int64, trigger string) {
	ev := o.Evaluate(snap, now)
	kind, ok := security.AlertFor(ev.Status)
	if !ok {
		return
	}
	if kind == model.AlertDoorOpenTooLong && !o.alertOnOpenTooLong.Load() {
		return
	}
	o.dispatch(ctx, alerts.Trigger{
		Kind:         kind,
		ReadingID:    readingID,
		DoorOpenedAt: snap.DoorOpenedAt,
		Source:       trigger,
	})
}

func (o *Orchestrator) dispatch(ctx context.Context, tr alerts.Trigger) {
	if o.alerts == nil {
		return
	}
	o.alerts.MaybeSend(ctx, tr)
}
