package enforcement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/unplug/internal/limits"
	"github.com/goodtune/unplug/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	effectTimeout   = 10 * time.Second
	evaluateTimeout = time.Second
	notifyQueueSize = 256
)

// Options configures a Coordinator.
type Options struct {
	WarningThreshold time.Duration
	// Evaluator defaults to ThresholdEvaluator.
	Evaluator Evaluator
}

type appState struct {
	state    State
	warnedOn limits.Date
}

// Coordinator turns ledger events into at-most-once notifications and
// blocked-set updates. It is registered as a ledger observer, so it sees
// events in mutation order. Side effects run on a single worker goroutine and
// never block the caller: blocked-set pushes are coalesced so only the newest
// set is applied, and notifications are dropped when the queue is full.
// Effect failures are logged and dropped.
type Coordinator struct {
	mu      sync.Mutex
	apps    map[string]*appState
	blocked map[string]bool
	closed  bool

	evaluator Evaluator
	threshold time.Duration
	actuator  Actuator
	notifier  Notifier
	gate      AuthorizationGate
	logger    zerolog.Logger

	pendingMu    sync.Mutex
	pending      []string
	pendingDirty bool

	kick    chan struct{}
	notes   chan Notification
	syncReq chan chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewCoordinator creates a coordinator and starts its effect worker.
// A nil notifier disables notifications.
func NewCoordinator(actuator Actuator, notifier Notifier, gate AuthorizationGate, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.Evaluator == nil {
		opts.Evaluator = ThresholdEvaluator{}
	}
	c := &Coordinator{
		apps:      make(map[string]*appState),
		blocked:   make(map[string]bool),
		evaluator: opts.Evaluator,
		threshold: opts.WarningThreshold,
		actuator:  actuator,
		notifier:  notifier,
		gate:      gate,
		logger:    logger.With().Str("component", "enforcement").Logger(),
		kick:      make(chan struct{}, 1),
		notes:     make(chan Notification, notifyQueueSize),
		syncReq:   make(chan chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.run()
	return c
}

// OnLedgerEvent implements limits.Observer.
func (c *Coordinator) OnLedgerEvent(e limits.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	switch e.Kind {
	case limits.EventRemoved:
		c.remove(e.Record.AppIdentifier)
	case limits.EventRestored:
		c.evaluate(e.Record, true)
	default:
		c.evaluate(e.Record, false)
	}
}

// evaluate moves the app to its target state. Restored records update state
// without notifying, since those alerts were already sent before a restart.
func (c *Coordinator) evaluate(rec limits.LimitRecord, restored bool) {
	id := rec.AppIdentifier
	st, ok := c.apps[id]
	if !ok {
		st = &appState{state: Unrestricted}
		c.apps[id] = st
	}

	target := c.target(rec)
	wasBlocked := st.state == Blocked

	switch {
	case target == Blocked && !wasBlocked:
		c.blocked[id] = true
		metrics.LimitsExceeded.WithLabelValues(id).Inc()
		c.logger.Info().
			Str("app", id).
			Str("from", st.state.String()).
			Int64("used_seconds", rec.UsedSecondsToday).
			Int64("daily_limit_seconds", rec.DailyLimitSeconds).
			Msg("Daily limit reached, blocking app")
		if !restored {
			c.enqueueNotify(Notification{Kind: KindExceeded, AppIdentifier: id, DisplayName: rec.DisplayName})
		}
		c.enqueueBlocked()

	case target != Blocked && wasBlocked:
		delete(c.blocked, id)
		c.logger.Info().Str("app", id).Str("to", target.String()).Msg("App back under limit, unblocking")
		c.enqueueBlocked()
	}

	if target == Warned && st.warnedOn != rec.LastResetDate {
		st.warnedOn = rec.LastResetDate
		if !restored {
			c.logger.Info().Str("app", id).Int64("remaining_seconds", rec.RemainingSeconds()).Msg("App approaching daily limit")
			c.enqueueNotify(Notification{
				Kind:             KindWarning,
				AppIdentifier:    id,
				DisplayName:      rec.DisplayName,
				RemainingSeconds: rec.RemainingSeconds(),
			})
		}
	}

	st.state = target
}

func (c *Coordinator) target(rec limits.LimitRecord) State {
	facts := FactsFor(rec, c.threshold)

	ctx, cancel := context.WithTimeout(context.Background(), evaluateTimeout)
	defer cancel()

	state, err := c.evaluator.Evaluate(ctx, facts)
	if err != nil {
		c.logger.Error().Err(err).Str("app", rec.AppIdentifier).Msg("Evaluator failed, using threshold rules")
		metrics.CollaboratorErrors.WithLabelValues("evaluator").Inc()
		return evaluateThreshold(facts)
	}
	return state
}

func (c *Coordinator) remove(id string) {
	delete(c.apps, id)
	delete(c.blocked, id)
	c.logger.Info().Str("app", id).Msg("Limit removed, clearing block")
	c.enqueueBlocked()
}

// CheckAuthorization reports ErrAuthorizationRequired until authorization is
// granted. Once granted it re-applies the current blocked set, which may have
// been withheld while unauthorized.
func (c *Coordinator) CheckAuthorization(ctx context.Context) error {
	if c.gate != nil && !c.gate.IsAuthorized(ctx) {
		return ErrAuthorizationRequired
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.enqueueBlocked()
	c.mu.Unlock()

	return c.Sync(ctx)
}

// State returns the app's current enforcement state.
func (c *Coordinator) State(appID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.apps[appID]; ok {
		return st.state
	}
	return Unrestricted
}

// Blocked returns the sorted blocked set.
func (c *Coordinator) Blocked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockedList()
}

func (c *Coordinator) blockedList() []string {
	ids := make([]string, 0, len(c.blocked))
	for id := range c.blocked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// enqueueBlocked marks the current blocked set for pushing, replacing any
// set still pending. Callers hold c.mu.
func (c *Coordinator) enqueueBlocked() {
	ids := c.blockedList()
	metrics.BlockedApps.Set(float64(len(ids)))

	c.pendingMu.Lock()
	c.pending = ids
	c.pendingDirty = true
	c.pendingMu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// enqueueNotify queues a notification, dropping it when the queue is full.
// Callers hold c.mu.
func (c *Coordinator) enqueueNotify(n Notification) {
	if c.notifier == nil {
		return
	}
	select {
	case c.notes <- n:
	default:
		metrics.NotificationsDropped.WithLabelValues(n.Kind.String()).Inc()
		c.logger.Warn().
			Str("app", n.AppIdentifier).
			Str("kind", n.Kind.String()).
			Msg("Notification queue full, dropping notification")
	}
}

func (c *Coordinator) authorized(ctx context.Context) bool {
	if c.gate == nil || c.gate.IsAuthorized(ctx) {
		return true
	}
	metrics.SkippedUnauthorized.Inc()
	c.logger.Debug().Msg("Not authorized, skipping enforcement side effect")
	return false
}

// applyBlocked pushes the pending blocked set, if any.
func (c *Coordinator) applyBlocked() {
	c.pendingMu.Lock()
	ids, dirty := c.pending, c.pendingDirty
	c.pendingDirty = false
	c.pendingMu.Unlock()

	if !dirty {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
	defer cancel()

	if !c.authorized(ctx) {
		return
	}
	var err error
	if len(ids) == 0 {
		err = c.actuator.ClearBlocked(ctx)
	} else {
		err = c.actuator.SetBlocked(ctx, ids)
	}
	if err != nil {
		metrics.CollaboratorErrors.WithLabelValues("actuator").Inc()
		c.logger.Error().Err(err).Strs("blocked", ids).Msg("Failed to apply blocked set")
	}
}

func (c *Coordinator) deliver(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
	defer cancel()

	if !c.authorized(ctx) {
		return
	}
	if err := c.notifier.Notify(ctx, n); err != nil {
		metrics.CollaboratorErrors.WithLabelValues("notifier").Inc()
		c.logger.Error().Err(err).
			Str("app", n.AppIdentifier).
			Str("kind", n.Kind.String()).
			Msg("Failed to deliver notification")
		return
	}
	metrics.NotificationsSent.WithLabelValues(n.Kind.String()).Inc()
}

// drain applies the pending blocked set, then delivers every queued
// notification. Restrictions go out before the notifications about them.
func (c *Coordinator) drain() {
	c.applyBlocked()
	for {
		select {
		case n := <-c.notes:
			c.deliver(n)
		default:
			return
		}
	}
}

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		select {
		case <-c.kick:
			c.applyBlocked()
		case n := <-c.notes:
			c.applyBlocked()
			c.deliver(n)
		case reply := <-c.syncReq:
			c.drain()
			close(reply)
		case <-c.stop:
			c.drain()
			return
		}
	}
}

// Sync waits until every side effect queued so far has run.
func (c *Coordinator) Sync(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case c.syncReq <- reply:
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for enforcement effects: %w", ctx.Err())
	}

	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for enforcement effects: %w", ctx.Err())
	}
}

// Close runs the remaining queued effects and stops the worker. Events
// received afterwards are ignored.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.stop)
	}
	c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
