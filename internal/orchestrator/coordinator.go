// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/paper-census/internal/checkpoint"
	"github.com/pdiddy/paper-census/internal/state"
	"github.com/pdiddy/paper-census/pkg/types"
)

// errStopped reports that Stop was called while waiting for a worker slot.
var errStopped = errors.New("coordinator stopped")

// Deps bundles the collaborators a Coordinator drives. All fields are
// required except Progress.
type Deps struct {
	API     CollectionAPI
	Health  HealthMonitor
	Limiter RateLimiter
	Quality QualityMonitor
	Sink    PaperSink
	Manager *checkpoint.Manager
	Store   *state.Store

	// Progress receives one human-readable line per pair outcome, separate
	// from the engine log. Nil discards them.
	Progress io.Writer
}

func (d Deps) validate() error {
	switch {
	case d.API == nil:
		return fmt.Errorf("collection API is nil")
	case d.Health == nil:
		return fmt.Errorf("health monitor is nil")
	case d.Limiter == nil:
		return fmt.Errorf("rate limiter is nil")
	case d.Quality == nil:
		return fmt.Errorf("quality monitor is nil")
	case d.Sink == nil:
		return fmt.Errorf("paper sink is nil")
	case d.Manager == nil:
		return fmt.Errorf("checkpoint manager is nil")
	case d.Store == nil:
		return fmt.Errorf("state store is nil")
	}
	return nil
}

// Coordinator runs collection sessions against a set of collaborators.
// A coordinator is single-use with respect to stopping: once Stop has been
// called it refuses new work, so create a fresh one per run.
type Coordinator struct {
	deps   Deps
	cfg    types.OrchestratorConfig
	logger *zap.Logger

	mu            sync.Mutex
	phase         Phase
	maxConcurrent int
	inFlight      int

	stopped atomic.Bool
}

// NewCoordinator validates the dependency set and returns a coordinator.
// Zero config fields fall back to the defaults.
func NewCoordinator(deps Deps, cfg types.OrchestratorConfig, logger *zap.Logger) (*Coordinator, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("new coordinator: %w", err)
	}
	if deps.Progress == nil {
		deps.Progress = io.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = normalizeConfig(cfg)
	return &Coordinator{
		deps:          deps,
		cfg:           cfg,
		logger:        logger,
		phase:         PhaseInitialization,
		maxConcurrent: cfg.MaxConcurrentVenues,
	}, nil
}

// normalizeConfig fills unset fields from the defaults. MaxRetryAttempts
// keeps an explicit zero: that means one attempt and no retries.
func normalizeConfig(cfg types.OrchestratorConfig) types.OrchestratorConfig {
	def := types.DefaultOrchestratorConfig()
	if cfg.MaxConcurrentVenues <= 0 {
		cfg.MaxConcurrentVenues = def.MaxConcurrentVenues
	}
	if cfg.MaxRetryAttempts < 0 {
		cfg.MaxRetryAttempts = def.MaxRetryAttempts
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = def.CheckpointInterval
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = def.HealthCheckInterval
	}
	if cfg.OptimizeInterval <= 0 {
		cfg.OptimizeInterval = def.OptimizeInterval
	}
	if cfg.SlotPollInterval <= 0 {
		cfg.SlotPollInterval = def.SlotPollInterval
	}
	if cfg.SlowResponseThreshold <= 0 {
		cfg.SlowResponseThreshold = def.SlowResponseThreshold
	}
	if cfg.FastResponseThreshold <= 0 {
		cfg.FastResponseThreshold = def.FastResponseThreshold
	}
	if cfg.ConcurrencyFloor <= 0 {
		cfg.ConcurrencyFloor = def.ConcurrencyFloor
	}
	if cfg.ConcurrencyCeiling <= 0 {
		cfg.ConcurrencyCeiling = def.ConcurrencyCeiling
	}
	if cfg.StopJoinTimeout <= 0 {
		cfg.StopJoinTimeout = def.StopJoinTimeout
	}
	return cfg
}

// CoordinateSession runs the full collection workflow for an active session
// and blocks until every pending pair has completed, exhausted its retries,
// or the run was stopped or cancelled. No single pair failure aborts the
// run: failures are recorded per pair and reflected in the results. The
// results are non-nil whenever the collection phase ran, even if the run
// finished with an error.
func (c *Coordinator) CoordinateSession(ctx context.Context, sess *types.CollectionSession) (*SessionResults, error) {
	if sess == nil {
		return nil, fmt.Errorf("coordinate session: session is nil")
	}
	if sess.Status != types.SessionActive {
		return nil, fmt.Errorf("coordinate session %s: status is %q, want %q",
			sess.ID, sess.Status, types.SessionActive)
	}

	start := time.Now()
	units := c.pendingUnits(sess)

	c.setPhase(PhaseInitialization)
	c.logger.Info("coordinating session",
		zap.String("session_id", sess.ID),
		zap.String("api", c.deps.API.Name()),
		zap.Int("pending_pairs", len(units)),
		zap.Int("max_concurrent", c.limit()))

	if _, err := c.deps.Manager.CreateSessionStarted(sess, c.health(), c.limits()); err != nil {
		return nil, c.escalate(sess, "session_start_failed", err)
	}

	c.setPhase(PhaseAPISetup)
	c.logger.Info("api setup",
		zap.String("api", c.deps.API.Name()),
		zap.String("health", c.deps.Health.HealthStatus(c.deps.API.Name()).Status))

	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()
	loopsDone := c.startLoops(loopCtx, sess)

	c.setPhase(PhaseCollection)
	acc := newResultsAccum()
	var wg sync.WaitGroup
	for _, key := range units {
		if err := c.acquireSlot(ctx); err != nil {
			c.logger.Info("collection submissions stopped",
				zap.String("next_pair", key.String()), zap.Error(err))
			break
		}
		wg.Add(1)
		go func(key types.VenueKey) {
			defer wg.Done()
			defer c.releaseSlot()
			c.runUnit(ctx, sess, key, acc)
		}(key)
	}
	wg.Wait()

	c.setPhase(PhaseQualityCheck)
	completed, failed, papers := acc.counts()
	c.logger.Info("collection phase done",
		zap.Int("completed", completed),
		zap.Int("failed", failed),
		zap.Int("papers", papers))

	c.setPhase(PhaseCompletion)
	stopLoops()
	c.joinLoops(loopsDone)

	status := c.finalStatus(ctx, sess)
	results := acc.results(sess.ID, start, PhaseCompletion)
	if _, err := c.deps.Manager.FinishSession(sess, status, c.health(), c.limits()); err != nil {
		results.FinalPhase = PhaseErrorRecovery
		return results, c.escalate(sess, "session_finish_failed", err)
	}

	c.logger.Info("session finished",
		zap.String("session_id", sess.ID),
		zap.String("status", string(status)),
		zap.Int("completed", len(results.CompletedVenues)),
		zap.Int("failed", len(results.FailedVenues)),
		zap.Int("papers", results.TotalPapers),
		zap.Duration("duration", results.Duration))
	return results, nil
}

// Stop prevents new collection units from being submitted and stops the
// background loops at their next tick. In-flight units finish naturally and
// their results are still recorded.
func (c *Coordinator) Stop() {
	c.stopped.Store(true)
}

// Phase returns the coordinator's current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	prev := c.phase
	c.phase = p
	c.mu.Unlock()
	if prev != p {
		c.logger.Debug("phase transition",
			zap.String("from", string(prev)), zap.String("to", string(p)))
	}
}

func (c *Coordinator) limit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxConcurrent
}

func (c *Coordinator) health() map[string]types.APIHealthSnapshot {
	return c.deps.Health.Snapshot()
}

func (c *Coordinator) limits() map[string]types.RateLimitSnapshot {
	return c.deps.Limiter.Snapshot()
}

// pendingUnits returns the target pairs this run still has to collect, in
// priority order. Completed pairs are skipped; previously failed pairs get
// another chance.
func (c *Coordinator) pendingUnits(sess *types.CollectionSession) []types.VenueKey {
	var out []types.VenueKey
	for _, key := range sess.Targets() {
		if sess.Completed.Has(key) {
			continue
		}
		out = append(out, key)
	}
	return out
}

// escalate records a failure the run could not contain: the phase moves to
// error recovery and an error_occurred checkpoint captures the context
// before the cause is handed back to the caller.
func (c *Coordinator) escalate(sess *types.CollectionSession, errType string, cause error) error {
	c.setPhase(PhaseErrorRecovery)
	errCtx := &types.ErrorContext{
		Type:        errType,
		Message:     cause.Error(),
		Operation:   "coordinate",
		Recoverable: true,
		OccurredAt:  time.Now().UTC(),
	}
	if _, err := c.deps.Manager.CreateErrorOccurred(sess, errCtx, c.health(), c.limits()); err != nil {
		c.logger.Error("recording error checkpoint", zap.Error(err))
	}
	return cause
}

// finalStatus maps how the run ended onto the session status: cancellation
// means interrupted, an explicit stop means paused, otherwise the failure
// set decides between failed and completed.
func (c *Coordinator) finalStatus(ctx context.Context, sess *types.CollectionSession) types.SessionStatus {
	switch {
	case ctx.Err() != nil:
		return types.SessionInterrupted
	case c.stopped.Load():
		return types.SessionPaused
	case sess.Failed.Len() > 0:
		return types.SessionFailed
	default:
		return types.SessionCompleted
	}
}

// --- worker slots ---

// acquireSlot blocks until a worker slot frees up, polling at the
// configured interval. The concurrency bound is read on every probe so
// optimizer adjustments apply to waiting units too.
func (c *Coordinator) acquireSlot(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.stopped.Load() {
			return errStopped
		}
		c.mu.Lock()
		if c.inFlight < c.maxConcurrent {
			c.inFlight++
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.SlotPollInterval):
		}
	}
}

func (c *Coordinator) releaseSlot() {
	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
}

// --- collection units ---

// runUnit drives one venue/year pair to completion or recorded failure.
// Every retry is a fresh invocation of the unit.
func (c *Coordinator) runUnit(ctx context.Context, sess *types.CollectionSession, key types.VenueKey, acc *resultsAccum) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying collection unit",
				zap.String("pair", key.String()),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
		}
		count, err := c.attemptVenue(ctx, sess, key)
		if err == nil {
			fmt.Fprintf(c.deps.Progress, "collected: %s (%d papers)\n", key, count)
			acc.complete(key, count)
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			// Interrupted, not failed: the pair stays in progress so the
			// recovery engine can classify it after a restart.
			c.logger.Warn("collection unit interrupted",
				zap.String("pair", key.String()), zap.Error(err))
			fmt.Fprintf(c.deps.Progress, "interrupted: %s\n", key)
			return
		}
		if c.stopped.Load() {
			break
		}
	}

	// Retries exhausted. The failure is recorded and the run continues
	// with the remaining pairs.
	if _, err := c.deps.Manager.CreateVenueFailed(sess, key, lastErr, c.health(), c.limits()); err != nil {
		c.logger.Error("recording venue failure",
			zap.String("pair", key.String()), zap.Error(err))
	}
	fmt.Fprintf(c.deps.Progress, "failed:    %s (%v)\n", key, lastErr)
	acc.fail(key, lastErr)
}

// attemptVenue shields the run from a panicking unit: the panic becomes an
// ordinary unit failure handled by the retry loop.
func (c *Coordinator) attemptVenue(ctx context.Context, sess *types.CollectionSession, key types.VenueKey) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in collection unit %s: %v", key, r)
		}
	}()
	return c.collectVenue(ctx, sess, key)
}

// collectVenue is one collection unit: rate-limit wait, API call, progress
// checkpoint, quality check, durable store, completion checkpoint.
func (c *Coordinator) collectVenue(ctx context.Context, sess *types.CollectionSession, key types.VenueKey) (int, error) {
	api := c.deps.API.Name()

	if !c.deps.Limiter.CanMakeRequest(api) {
		c.logger.Debug("rate limited",
			zap.String("api", api), zap.String("pair", key.String()))
	}
	waited, err := c.deps.Limiter.WaitIfNeeded(ctx, api)
	if err != nil {
		return 0, fmt.Errorf("rate limit wait for %s: %w", key, err)
	}
	if waited > 0 {
		c.logger.Debug("rate limit wait",
			zap.String("api", api), zap.Duration("waited", waited))
	}

	if err := c.deps.Manager.MarkVenueInProgress(sess, key); err != nil {
		return 0, err
	}

	start := time.Now()
	papers, err := c.deps.API.Collect(ctx, key.Venue, key.Year, sess.PaperCap(key))
	latency := time.Since(start)
	c.deps.Health.Record(api, err == nil, latency)
	c.deps.Limiter.RecordRequest(api, err == nil, latency)
	if err != nil {
		return 0, fmt.Errorf("collecting %s: %w", key, err)
	}

	if _, err := c.deps.Manager.CreateAPICallCompleted(sess, key, len(papers), c.health(), c.limits()); err != nil {
		return 0, err
	}

	report := c.deps.Quality.CheckCollectionQuality(papers, key.Venue, key.Year)
	if !report.Passed {
		return 0, fmt.Errorf("quality check failed for %s: %s", key, strings.Join(report.Issues, "; "))
	}

	if err := c.deps.Sink.StorePapers(ctx, sess.ID, key, papers); err != nil {
		return 0, fmt.Errorf("storing papers for %s: %w", key, err)
	}

	if _, err := c.deps.Manager.CreateVenueCompleted(sess, key, len(papers), c.health(), c.limits()); err != nil {
		return 0, err
	}

	// The artifact is advisory; a write failure does not fail the unit.
	artifact := venueArtifact{
		Venue:       key.Venue,
		Year:        key.Year,
		API:         api,
		Papers:      len(papers),
		APILatency:  latency.String(),
		CollectedAt: time.Now().UTC(),
	}
	if err := c.deps.Store.SaveVenueArtifact(sess.ID, key, artifact); err != nil {
		c.logger.Warn("saving venue artifact",
			zap.String("pair", key.String()), zap.Error(err))
	}

	c.logger.Info("venue collected",
		zap.String("pair", key.String()),
		zap.Int("papers", len(papers)),
		zap.Duration("api_latency", latency))
	return len(papers), nil
}

// venueArtifact is the per-pair summary written into the session's venues
// directory after a pair completes.
type venueArtifact struct {
	Venue       string    `json:"venue"`
	Year        int       `json:"year"`
	API         string    `json:"api"`
	Papers      int       `json:"papers"`
	APILatency  string    `json:"api_latency"`
	CollectedAt time.Time `json:"collected_at"`
}

// --- background loops ---

// startLoops launches the health-check, periodic-checkpoint and
// resource-optimization loops and returns a channel closed once all three
// have exited.
func (c *Coordinator) startLoops(ctx context.Context, sess *types.CollectionSession) <-chan struct{} {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(3)
	go c.healthLoop(ctx, &wg)
	go c.checkpointLoop(ctx, &wg, sess)
	go c.optimizeLoop(ctx, &wg)
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// joinLoops waits for the background loops with a bounded timeout.
func (c *Coordinator) joinLoops(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(c.cfg.StopJoinTimeout):
		c.logger.Warn("background loops did not stop within timeout",
			zap.Duration("timeout", c.cfg.StopJoinTimeout))
	}
}

// healthLoop periodically logs APIs whose health has degraded.
func (c *Coordinator) healthLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.stopped.Load() {
				return
			}
			for api, snap := range c.deps.Health.Snapshot() {
				switch snap.Status {
				case types.APIDegraded, types.APIUnhealthy:
					c.logger.Warn("api health degraded",
						zap.String("api", api),
						zap.String("status", snap.Status),
						zap.Float64("success_rate", snap.SuccessRate),
						zap.Int("consecutive_errors", snap.ConsecutiveErrors))
				}
			}
		}
	}
}

// checkpointLoop writes a batch_completed checkpoint at the configured
// interval so a crash loses at most one interval of progress detail.
func (c *Coordinator) checkpointLoop(ctx context.Context, wg *sync.WaitGroup, sess *types.CollectionSession) {
	defer wg.Done()
	ticker := time.NewTicker(c.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.stopped.Load() {
				return
			}
			if _, err := c.deps.Manager.CreateBatchCompleted(sess, "periodic checkpoint", c.health(), c.limits()); err != nil {
				c.logger.Error("periodic checkpoint failed", zap.Error(err))
			}
		}
	}
}

// optimizeLoop adapts the concurrency bound to the API's average response
// time: slow responses shrink the pool, fast ones grow it, within the
// configured floor and ceiling.
func (c *Coordinator) optimizeLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(c.cfg.OptimizeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.stopped.Load() {
				return
			}
			snap := c.deps.Health.HealthStatus(c.deps.API.Name())
			if snap.Status == types.APIUnknown || snap.AvgResponseMillis == 0 {
				continue
			}
			c.mu.Lock()
			before := c.maxConcurrent
			switch {
			case snap.AvgResponseMillis > float64(c.cfg.SlowResponseThreshold.Milliseconds()):
				if c.maxConcurrent > c.cfg.ConcurrencyFloor {
					c.maxConcurrent--
				}
			case snap.AvgResponseMillis < float64(c.cfg.FastResponseThreshold.Milliseconds()):
				if c.maxConcurrent < c.cfg.ConcurrencyCeiling {
					c.maxConcurrent++
				}
			}
			after := c.maxConcurrent
			c.mu.Unlock()
			if after != before {
				c.logger.Info("adjusted concurrency",
					zap.Float64("avg_response_ms", snap.AvgResponseMillis),
					zap.Int("max_concurrent", after))
			}
		}
	}
}

// --- results ---

// resultsAccum collects per-unit outcomes from concurrent workers.
type resultsAccum struct {
	mu        sync.Mutex
	completed []types.VenueKey
	failed    map[string]string
	papers    types.PaperCounts
}

func newResultsAccum() *resultsAccum {
	return &resultsAccum{
		failed: make(map[string]string),
		papers: make(types.PaperCounts),
	}
}

func (a *resultsAccum) complete(key types.VenueKey, papers int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completed = append(a.completed, key)
	a.papers.Set(key, papers)
}

func (a *resultsAccum) fail(key types.VenueKey, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed[key.String()] = err.Error()
}

func (a *resultsAccum) counts() (completed, failed, papers int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.completed), len(a.failed), a.papers.Total()
}

func (a *resultsAccum) results(sessionID string, start time.Time, phase Phase) *SessionResults {
	a.mu.Lock()
	defer a.mu.Unlock()

	completed := make([]types.VenueKey, len(a.completed))
	copy(completed, a.completed)
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].String() < completed[j].String()
	})
	failed := make(map[string]string, len(a.failed))
	for k, v := range a.failed {
		failed[k] = v
	}
	return &SessionResults{
		SessionID:       sessionID,
		CompletedVenues: completed,
		FailedVenues:    failed,
		PapersByVenue:   a.papers.Clone(),
		TotalPapers:     a.papers.Total(),
		Duration:        time.Since(start),
		FinalPhase:      phase,
	}
}
