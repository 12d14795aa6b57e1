package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/catalog_sync/config"
	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/mmdatafocus/catalog_sync/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

var errRunCancelled = errors.New("sync run cancelled")

// Orchestrator drives reconciliation passes. It is the only writer of the error log,
// the ledger and the health monitor during a pass.
type Orchestrator struct {
	provider  FulfillmentProvider
	catalog   CatalogStore
	errors    *ErrorLog
	ledger    *InventoryLedger
	conflicts *ConflictRegister
	health    *HealthMonitor
	journal   Journal
	logger    *logrus.Logger
	tracer    trace.Tracer
	settings  config.ReconcileSettings

	allSem    *semaphore.Weighted
	allLocker ScopeLocker
	products  *keyedLocks

	runsMu   sync.RWMutex
	runs     map[string]*models.SyncRun
	runOrder []string

	now func() time.Time
}

// runState is the bookkeeping of one pass.
type runState struct {
	id        string
	scope     string
	failed    bool
	cancelled bool
	reason    string
	// since is the product write sequence taken before fetching
	since uint64
}

// productPlan holds what diffing decided for one product until it is applied.
type productPlan struct {
	productID string
	local     models.LocalSnapshot
	items     []applyItem
	release   func()
}

type applyItem struct {
	change   models.InventoryChange
	field    models.CatalogField
	value    any
	hasLocal bool
}

func newOrchestrator(opts Options, errs *ErrorLog, ledger *InventoryLedger, conflicts *ConflictRegister, health *HealthMonitor, products *keyedLocks) *Orchestrator {
	return &Orchestrator{
		provider:  opts.Provider,
		catalog:   opts.Catalog,
		errors:    errs,
		ledger:    ledger,
		conflicts: conflicts,
		health:    health,
		journal:   opts.Journal,
		logger:    opts.Logger,
		tracer:    otel.Tracer("catalog-sync/reconcile"),
		settings:  opts.Settings,
		allSem:    semaphore.NewWeighted(1),
		allLocker: opts.ScopeLocker,
		products:  products,
		runs:      make(map[string]*models.SyncRun),
		now:       time.Now,
	}
}

// RunSync performs one pass and returns the finished run. A concurrent pass over the same
// scope or product is waited for; ErrSyncInProgress means ctx ended while still queued.
func (o *Orchestrator) RunSync(ctx context.Context, scope string, trigger models.SyncTrigger) (models.SyncRun, error) {
	scope, err := normalizeScope(scope)
	if err != nil {
		return models.SyncRun{}, err
	}
	run := o.newRun(ctx, scope, trigger)
	return o.execute(ctx, run.ID, scope)
}

// Start queues a pass in the background and returns the pending run.
func (o *Orchestrator) Start(ctx context.Context, scope string, trigger models.SyncTrigger) (models.SyncRun, error) {
	scope, err := normalizeScope(scope)
	if err != nil {
		return models.SyncRun{}, err
	}
	run := o.newRun(ctx, scope, trigger)
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := o.execute(bg, run.ID, scope); err != nil {
			config.LogError(o.logger, "reconcile", "Orchestrator.Start", "execute", run.ID, err)
		}
	}()
	return run, nil
}

func normalizeScope(scope string) (string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return "", ErrInvalidScope
	}
	return scope, nil
}

func (o *Orchestrator) newRun(ctx context.Context, scope string, trigger models.SyncTrigger) models.SyncRun {
	if trigger == "" {
		trigger = models.SyncTriggerManual
	}
	run := &models.SyncRun{
		ID:        uuid.NewString(),
		Scope:     scope,
		Trigger:   trigger,
		Status:    models.RunStatusPending,
		CreatedAt: o.now().UTC(),
	}

	o.runsMu.Lock()
	o.runs[run.ID] = run
	o.runOrder = append(o.runOrder, run.ID)
	limit := o.settings.RunHistory
	if limit <= 0 {
		limit = 50
	}
	for len(o.runOrder) > limit {
		oldest := o.runOrder[0]
		if r, ok := o.runs[oldest]; ok && !r.Status.IsTerminal() {
			break
		}
		delete(o.runs, oldest)
		o.runOrder = o.runOrder[1:]
	}
	snapshot := *run
	o.runsMu.Unlock()

	o.saveRun(ctx, snapshot)
	return snapshot
}

func (o *Orchestrator) GetRun(id string) (models.SyncRun, bool) {
	o.runsMu.RLock()
	defer o.runsMu.RUnlock()
	r, ok := o.runs[id]
	if !ok {
		return models.SyncRun{}, false
	}
	return *r, true
}

// ListRuns returns up to limit runs, newest first.
func (o *Orchestrator) ListRuns(limit int) []models.SyncRun {
	o.runsMu.RLock()
	defer o.runsMu.RUnlock()
	out := make([]models.SyncRun, 0, len(o.runOrder))
	for i := len(o.runOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *o.runs[o.runOrder[i]])
	}
	return out
}

func (o *Orchestrator) updateRun(id string, fn func(r *models.SyncRun)) models.SyncRun {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()
	r := o.runs[id]
	fn(r)
	return *r
}

func (o *Orchestrator) setPhase(id string, status models.RunStatus, progress int) {
	o.updateRun(id, func(r *models.SyncRun) {
		r.Status = status
		r.Progress = progress
	})
}

func (o *Orchestrator) setProgress(id string, progress int) {
	o.updateRun(id, func(r *models.SyncRun) { r.Progress = progress })
}

// acquire waits for the scope's lock. "all" passes are serialized in-process and, when configured,
// across instances; product passes hold the product's lock for the whole pass.
func (o *Orchestrator) acquire(ctx context.Context, scope string) (func(), error) {
	if scope != models.ScopeAll {
		return o.products.Lock(ctx, scope)
	}
	if err := o.allSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if o.allLocker == nil {
		return func() { o.allSem.Release(1) }, nil
	}
	unlock, err := o.allLocker.Lock(ctx, models.ScopeAll)
	if err != nil {
		o.allSem.Release(1)
		return nil, err
	}
	return func() {
		unlock()
		o.allSem.Release(1)
	}, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID, scope string) (models.SyncRun, error) {
	release, err := o.acquire(ctx, scope)
	if err != nil {
		rs := &runState{id: runID, scope: scope, failed: true}
		if ctx.Err() != nil {
			rs.cancelled = true
			rs.reason = "cancelled while waiting for a running sync"
			return o.finishQueued(ctx, rs), ErrSyncInProgress
		}
		rs.reason = "could not acquire sync lock: " + err.Error()
		return o.finishQueued(ctx, rs), fmt.Errorf("acquire sync lock: %w", err)
	}
	defer release()

	ctx = utils.SetRunIdInContext(ctx, runID)
	ctx, span := o.tracer.Start(ctx, "reconcile.RunSync", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("scope", scope),
	))
	defer span.End()

	started := o.now().UTC()
	o.updateRun(runID, func(r *models.SyncRun) { r.StartedAt = &started })
	o.health.MarkPending()
	rs := &runState{id: runID, scope: scope, since: o.products.sequence()}

	snaps, ok := o.fetch(ctx, rs)
	if ok {
		plans := o.diff(ctx, rs, snaps)
		o.apply(ctx, rs, plans)
		if scope != models.ScopeAll {
			// still under the product lock
			o.products.touch(scope)
		}
	}

	run := o.finish(ctx, rs, started, ok)
	span.SetAttributes(attribute.String("status", string(run.Status)), attribute.Int("changes", run.ChangeCount))
	if run.Status == models.RunStatusFailed {
		span.SetStatus(codes.Error, run.FailureReason)
	}
	return run, nil
}

// fetch runs the fetching phase. It reports false when the pass must stop.
func (o *Orchestrator) fetch(ctx context.Context, rs *runState) ([]models.ProviderSnapshot, bool) {
	o.setPhase(rs.id, models.RunStatusFetching, 10)
	ctx, span := o.tracer.Start(ctx, "reconcile.fetch")
	defer span.End()

	if ctx.Err() != nil {
		o.markCancelled(rs)
		return nil, false
	}

	timeout := o.settings.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	snaps, err := o.provider.FetchCatalogState(fetchCtx, rs.scope)
	timedOut := errors.Is(fetchCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err == nil {
		span.SetAttributes(attribute.Int("variants", len(snaps)))
		return o.validate(ctx, rs, snaps), true
	}
	span.RecordError(err)

	switch {
	case ctx.Err() != nil:
		o.markCancelled(rs)
	case timedOut || IsConnectionError(err):
		severity := SeverityFor(models.SyncErrorTypeConnection, o.health.ConsecutiveConnectionFailures()+1, o.settings.CriticalAfter)
		msg := "could not reach fulfillment provider"
		if timedOut {
			msg = fmt.Sprintf("fulfillment provider did not answer within %s", timeout)
		}
		o.recordError(ctx, rs, ErrorInput{
			Type:     models.SyncErrorTypeConnection,
			Severity: severity,
			Message:  msg,
			Details:  err.Error(),
		})
		rs.reason = msg
		o.health.Observe(Attempt{At: o.now().UTC(), ConnectionFailure: true})
	default:
		o.recordError(ctx, rs, ErrorInput{
			Type:     models.SyncErrorTypeData,
			Severity: models.SeverityHigh,
			Message:  "fulfillment provider returned an unreadable catalog",
			Details:  err.Error(),
		})
		rs.reason = "unreadable provider payload"
		o.health.Observe(Attempt{At: o.now().UTC()})
	}
	rs.failed = true
	return nil, false
}

// validate drops snapshots that cannot be reconciled and records why.
func (o *Orchestrator) validate(ctx context.Context, rs *runState, snaps []models.ProviderSnapshot) []models.ProviderSnapshot {
	out := make([]models.ProviderSnapshot, 0, len(snaps))
	for _, s := range snaps {
		switch {
		case s.ProductID == "" || s.VariantID == "":
			o.recordError(ctx, rs, ErrorInput{
				Type:      models.SyncErrorTypeData,
				Severity:  models.SeverityMedium,
				Message:   "provider returned a variant without identifiers",
				Details:   fmt.Sprintf("product=%q variant=%q sku=%q", s.ProductID, s.VariantID, s.SKU),
				ProductID: s.ProductID,
			})
		case s.Values.Stock < 0 || s.Values.Price.IsNegative():
			o.recordError(ctx, rs, ErrorInput{
				Type:      models.SyncErrorTypeData,
				Severity:  models.SeverityMedium,
				Message:   fmt.Sprintf("provider returned negative values for variant %s", s.VariantID),
				Details:   fmt.Sprintf("stock=%d price=%s", s.Values.Stock, s.Values.Price),
				ProductID: s.ProductID,
			})
		case rs.scope != models.ScopeAll && s.ProductID != rs.scope:
			o.recordError(ctx, rs, ErrorInput{
				Type:      models.SyncErrorTypeData,
				Severity:  models.SeverityLow,
				Message:   fmt.Sprintf("provider returned variant %s outside the requested product", s.VariantID),
				ProductID: s.ProductID,
			})
		default:
			out = append(out, s)
		}
	}
	o.updateRun(rs.id, func(r *models.SyncRun) { r.VariantCount = len(out) })
	return out
}

// diff raises changes and conflicts per product, in provider order.
func (o *Orchestrator) diff(ctx context.Context, rs *runState, snaps []models.ProviderSnapshot) []*productPlan {
	o.setPhase(rs.id, models.RunStatusDiffing, 30)
	ctx, span := o.tracer.Start(ctx, "reconcile.diff")
	defer span.End()

	order, groups := groupByProduct(snaps)
	if rs.scope != models.ScopeAll && len(groups) == 0 {
		// the provider no longer reports the product at all
		order = []string{rs.scope}
		groups = map[string][]models.ProviderSnapshot{rs.scope: nil}
	}

	plans := make([]*productPlan, 0, len(order))
	for i, productID := range order {
		if ctx.Err() != nil {
			o.markCancelled(rs)
			break
		}
		plan := &productPlan{productID: productID, release: func() {}}
		if rs.scope == models.ScopeAll {
			release, err := o.products.Lock(ctx, productID)
			if err != nil {
				o.markCancelled(rs)
				break
			}
			plan.release = release
			if o.products.touchedSince(productID, rs.since) {
				// a product pass or conflict resolution wrote it after this fetch started
				o.logger.WithFields(logrus.Fields{"run_id": rs.id, "product_id": productID}).
					Info("skipping product updated since this pass fetched it")
				release()
				o.setProgress(rs.id, 30+30*(i+1)/len(order))
				continue
			}
		}

		if o.diffProduct(ctx, rs, plan, groups[productID]) {
			plans = append(plans, plan)
		} else {
			plan.release()
		}
		o.setProgress(rs.id, 30+30*(i+1)/len(order))
	}
	return plans
}

func groupByProduct(snaps []models.ProviderSnapshot) ([]string, map[string][]models.ProviderSnapshot) {
	var order []string
	groups := make(map[string][]models.ProviderSnapshot)
	for _, s := range snaps {
		if _, ok := groups[s.ProductID]; !ok {
			order = append(order, s.ProductID)
		}
		groups[s.ProductID] = append(groups[s.ProductID], s)
	}
	return order, groups
}

// diffProduct reports false when the product cannot be reconciled in this pass.
func (o *Orchestrator) diffProduct(ctx context.Context, rs *runState, plan *productPlan, snaps []models.ProviderSnapshot) bool {
	local, err := o.catalog.GetLocalMirror(ctx, plan.productID)
	if err != nil {
		if errors.Is(err, models.ErrProductNotFound) {
			o.recordError(ctx, rs, ErrorInput{
				Type:      models.SyncErrorTypeData,
				Severity:  models.SeverityMedium,
				Message:   fmt.Sprintf("product %s is not in the catalog", plan.productID),
				Details:   fmt.Sprintf("%d provider variants skipped", len(snaps)),
				ProductID: plan.productID,
			})
			return false
		}
		o.recordError(ctx, rs, ErrorInput{
			Type:      models.SyncErrorTypeInventory,
			Severity:  models.SeverityMedium,
			Message:   fmt.Sprintf("could not read local catalog for product %s", plan.productID),
			Details:   err.Error(),
			ProductID: plan.productID,
		})
		return false
	}
	plan.local = local

	seen := make(map[string]bool, len(snaps))
	for _, snap := range snaps {
		seen[snap.VariantID] = true
		lv, known := local.Variants[snap.VariantID]

		for _, ch := range DiffVariant(lv.Mirror, snap) {
			rec := o.ledger.RecordChange(ctx, plan.productID, snap.VariantID, ch.Type, ch.Old, ch.New)
			item := applyItem{change: rec, field: ch.Field, value: ch.New, hasLocal: lv.Local != nil}
			if ch.Type == models.ChangeTypeNewVariant {
				item.value = snap
			}
			plan.items = append(plan.items, item)
			o.updateRun(rs.id, func(r *models.SyncRun) { r.ChangeCount++ })
		}

		if known {
			for _, in := range DetectConflicts(lv, snap) {
				o.recordConflict(ctx, rs, in)
			}
		}
	}

	missing := make([]string, 0)
	for id, lv := range local.Variants {
		if !seen[id] && lv.Mirror != nil && lv.Local != nil && lv.Local.Available {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		o.recordConflict(ctx, rs, MissingVariantConflict(plan.productID, local.Variants[id]))
	}
	return true
}

func (o *Orchestrator) recordConflict(ctx context.Context, rs *runState, in ConflictInput) {
	if _, created := o.conflicts.Record(ctx, in); created {
		o.updateRun(rs.id, func(r *models.SyncRun) { r.ConflictCount++ })
	}
}

// apply mirrors changes into the catalog, best effort per item. Product locks taken while diffing
// are released as each product finishes.
func (o *Orchestrator) apply(ctx context.Context, rs *runState, plans []*productPlan) {
	defer func() {
		for _, p := range plans {
			p.release()
		}
	}()
	if rs.cancelled {
		return
	}
	o.setPhase(rs.id, models.RunStatusApplying, 60)
	ctx, span := o.tracer.Start(ctx, "reconcile.apply")
	defer span.End()

	for i, plan := range plans {
		for _, item := range plan.items {
			if ctx.Err() != nil {
				o.markCancelled(rs)
				return
			}
			o.applyItem(ctx, rs, plan.productID, item)
		}
		plan.release()
		o.setProgress(rs.id, 60+35*(i+1)/len(plans))
	}
}

func (o *Orchestrator) applyItem(ctx context.Context, rs *runState, productID string, item applyItem) {
	ch := item.change
	var err error
	switch {
	case AutoApplicable(ch.ChangeType) && item.hasLocal:
		err = o.catalog.ApplyProviderValue(ctx, productID, ch.VariantID, item.field, item.value)
	default:
		// price changes and new variants only advance the last known provider state
		err = o.catalog.MirrorProviderValue(ctx, productID, ch.VariantID, item.field, item.value)
	}
	if err != nil {
		errType := models.SyncErrorTypeInventory
		if errors.Is(err, models.ErrProductNotFound) {
			errType = models.SyncErrorTypeData
		}
		o.recordError(ctx, rs, ErrorInput{
			Type:      errType,
			Severity:  SeverityFor(errType, 0, o.settings.CriticalAfter),
			Message:   fmt.Sprintf("could not apply %s for variant %s", ch.ChangeType, ch.VariantID),
			Details:   err.Error(),
			ProductID: productID,
		})
		return
	}
	if AutoApplicable(ch.ChangeType) {
		if err := o.ledger.MarkProcessed(ctx, ch.ID); err != nil {
			config.LogError(o.logger, "reconcile", "Orchestrator.applyItem", "mark processed", ch.ID, err)
		}
	}
}

func (o *Orchestrator) recordError(ctx context.Context, rs *runState, in ErrorInput) {
	rec := o.errors.Record(ctx, in)
	if rec.Severity.FailsRun() {
		rs.failed = true
		if rs.reason == "" {
			rs.reason = rec.Message
		}
	}
	o.updateRun(rs.id, func(r *models.SyncRun) { r.ErrorCount++ })
}

func (o *Orchestrator) markCancelled(rs *runState) {
	rs.cancelled = true
	rs.failed = true
	if rs.reason == "" {
		rs.reason = errRunCancelled.Error()
	}
}

// finish settles the run. Health and lastSync are updated whatever happened to individual items;
// a cancelled pass says nothing about the provider and is not fed to the health window.
func (o *Orchestrator) finish(ctx context.Context, rs *runState, started time.Time, fetched bool) models.SyncRun {
	finished := o.now().UTC()
	status := models.RunStatusSuccess
	syncStatus := models.SyncStatusSuccess
	if rs.failed {
		status = models.RunStatusFailed
		syncStatus = models.SyncStatusFailed
	}
	if fetched && !rs.cancelled {
		o.health.Observe(Attempt{At: finished, Succeeded: !rs.failed})
	}
	o.health.RecordSync(finished, syncStatus)

	run := o.updateRun(rs.id, func(r *models.SyncRun) {
		r.Status = status
		r.Progress = 100
		r.FinishedAt = &finished
		r.DurationMs = finished.Sub(started).Milliseconds()
		r.Cancelled = rs.cancelled
		r.FailureReason = rs.reason
	})

	// the caller may already be gone, the audit trail must still land
	persistCtx := context.WithoutCancel(ctx)
	o.saveConnection(persistCtx)
	o.saveRun(persistCtx, run)

	if o.logger != nil {
		o.logger.WithFields(logrus.Fields{
			"run_id":    run.ID,
			"scope":     run.Scope,
			"status":    run.Status,
			"changes":   run.ChangeCount,
			"conflicts": run.ConflictCount,
			"errors":    run.ErrorCount,
			"cancelled": run.Cancelled,
		}).Info("sync run finished")
	}
	return run
}

// finishQueued closes a run that never got its lock.
func (o *Orchestrator) finishQueued(ctx context.Context, rs *runState) models.SyncRun {
	finished := o.now().UTC()
	run := o.updateRun(rs.id, func(r *models.SyncRun) {
		r.Status = models.RunStatusFailed
		r.Progress = 100
		r.FinishedAt = &finished
		r.Cancelled = rs.cancelled
		r.FailureReason = rs.reason
	})
	o.saveRun(context.WithoutCancel(ctx), run)
	return run
}

// Heartbeat pings the provider and feeds the health window without starting a pass.
func (o *Orchestrator) Heartbeat(ctx context.Context) error {
	timeout := o.settings.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	err := o.provider.Ping(pingCtx)
	cancel()

	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	attempt := Attempt{At: o.now().UTC(), Succeeded: err == nil, ConnectionFailure: IsConnectionError(err)}
	health := o.health.Observe(attempt)
	o.saveConnection(ctx)

	if err != nil {
		if o.logger != nil {
			o.logger.WithFields(logrus.Fields{"health": health}).Warnf("provider heartbeat failed: %v", err)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) saveRun(ctx context.Context, run models.SyncRun) {
	if o.journal == nil {
		return
	}
	if err := o.journal.SaveRun(ctx, run); err != nil {
		config.LogError(o.logger, "reconcile", "Orchestrator.saveRun", "journal", run.ID, err)
	}
}

func (o *Orchestrator) saveConnection(ctx context.Context) {
	if o.journal == nil {
		return
	}
	if err := o.journal.SaveConnection(ctx, o.health.Snapshot()); err != nil {
		config.LogError(o.logger, "reconcile", "Orchestrator.saveConnection", "journal", nil, err)
	}
}

func (o *Orchestrator) restoreRuns(runs []models.SyncRun) {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()
	for i := range runs {
		r := runs[i]
		if _, ok := o.runs[r.ID]; ok {
			continue
		}
		// a pass interrupted by a restart will never finish
		if !r.Status.IsTerminal() {
			r.Status = models.RunStatusFailed
			r.Cancelled = true
			r.FailureReason = "interrupted by service restart"
		}
		o.runs[r.ID] = &r
		o.runOrder = append(o.runOrder, r.ID)
	}
}
