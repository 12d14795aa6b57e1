package reconcile

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/catalog_sync/config"
	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// NOTE: these tests are DB-free. The provider, catalog and journal are in-memory fakes.

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func vals(stock int, price string, available bool) *models.VariantValues {
	return &models.VariantValues{Stock: stock, Price: dec(price), Available: available}
}

func snap(productID, variantID string, stock int, price string, available bool) models.ProviderSnapshot {
	return models.ProviderSnapshot{
		ProductID: productID,
		VariantID: variantID,
		Values:    *vals(stock, price, available),
	}
}

// fakeProvider serves a fixed catalog. Setting gate makes "all" fetches wait for it;
// with captureOnEntry they answer with the catalog as it was when the request arrived.
type fakeProvider struct {
	mu       sync.Mutex
	snaps    []models.ProviderSnapshot
	err      error
	pingErr  error
	calls    int
	inflight int
	maxSeen  int

	gate           chan struct{}
	entered        chan string
	hang           bool
	captureOnEntry bool
}

func (p *fakeProvider) set(snaps ...models.ProviderSnapshot) {
	p.mu.Lock()
	p.snaps = snaps
	p.mu.Unlock()
}

func (p *fakeProvider) FetchCatalogState(ctx context.Context, scope string) ([]models.ProviderSnapshot, error) {
	p.mu.Lock()
	p.calls++
	p.inflight++
	if p.inflight > p.maxSeen {
		p.maxSeen = p.inflight
	}
	gate, entered, hang := p.gate, p.entered, p.hang
	var captured []models.ProviderSnapshot
	if p.captureOnEntry {
		captured = p.matching(scope)
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inflight--
		p.mu.Unlock()
	}()

	if entered != nil {
		entered <- scope
	}
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if gate != nil && scope == models.ScopeAll {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if captured != nil {
		return captured, nil
	}
	return p.matching(scope), nil
}

// matching must be called with mu held.
func (p *fakeProvider) matching(scope string) []models.ProviderSnapshot {
	var out []models.ProviderSnapshot
	for _, s := range p.snaps {
		if scope == models.ScopeAll || s.ProductID == scope {
			out = append(out, s)
		}
	}
	return out
}

func (p *fakeProvider) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pingErr
}

func (p *fakeProvider) maxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSeen
}

// failingCatalog rejects writes for chosen variants.
type failingCatalog struct {
	*MemoryCatalog
	mu         sync.Mutex
	failApply  map[string]error
	failAccept error
}

func newFailingCatalog() *failingCatalog {
	return &failingCatalog{MemoryCatalog: NewMemoryCatalog(), failApply: map[string]error{}}
}

func (c *failingCatalog) failFor(variantID string, err error) {
	c.mu.Lock()
	c.failApply[variantID] = err
	c.mu.Unlock()
}

func (c *failingCatalog) ApplyProviderValue(ctx context.Context, productID, variantID string, field models.CatalogField, value any) error {
	c.mu.Lock()
	err := c.failApply[variantID]
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.MemoryCatalog.ApplyProviderValue(ctx, productID, variantID, field, value)
}

func (c *failingCatalog) MirrorProviderValue(ctx context.Context, productID, variantID string, field models.CatalogField, value any) error {
	c.mu.Lock()
	err := c.failApply[variantID]
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.MemoryCatalog.MirrorProviderValue(ctx, productID, variantID, field, value)
}

func (c *failingCatalog) SetLocalValue(ctx context.Context, productID, variantID string, field models.CatalogField, value any) error {
	c.mu.Lock()
	err := c.failApply[variantID]
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.MemoryCatalog.SetLocalValue(ctx, productID, variantID, field, value)
}

func (c *failingCatalog) RecordOverrideAcceptance(ctx context.Context, a models.OverrideAcceptance) error {
	if c.failAccept != nil {
		return c.failAccept
	}
	return c.MemoryCatalog.RecordOverrideAcceptance(ctx, a)
}

// memJournal keeps the last saved version of every record, in first-save order.
type memJournal struct {
	mu        sync.Mutex
	errs      []models.SyncError
	changes   []models.InventoryChange
	conflicts []models.DataConflict
	runs      []models.SyncRun
	conn      *models.SyncConnection
}

func upsert[T any](list []T, rec T, same func(a, b T) bool) []T {
	for i := range list {
		if same(list[i], rec) {
			list[i] = rec
			return list
		}
	}
	return append(list, rec)
}

func (j *memJournal) SaveError(ctx context.Context, rec models.SyncError) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errs = upsert(j.errs, rec, func(a, b models.SyncError) bool { return a.ID == b.ID })
	return nil
}

func (j *memJournal) SaveChange(ctx context.Context, rec models.InventoryChange) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.changes = upsert(j.changes, rec, func(a, b models.InventoryChange) bool { return a.ID == b.ID })
	return nil
}

func (j *memJournal) SaveConflict(ctx context.Context, rec models.DataConflict) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.conflicts = upsert(j.conflicts, rec, func(a, b models.DataConflict) bool { return a.ID == b.ID })
	return nil
}

func (j *memJournal) SaveRun(ctx context.Context, rec models.SyncRun) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = upsert(j.runs, rec, func(a, b models.SyncRun) bool { return a.ID == b.ID })
	return nil
}

func (j *memJournal) SaveConnection(ctx context.Context, rec models.SyncConnection) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.conn = &rec
	return nil
}

func (j *memJournal) LoadErrors(ctx context.Context) ([]models.SyncError, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.SyncError(nil), j.errs...), nil
}

func (j *memJournal) LoadChanges(ctx context.Context) ([]models.InventoryChange, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.InventoryChange(nil), j.changes...), nil
}

func (j *memJournal) LoadConflicts(ctx context.Context) ([]models.DataConflict, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.DataConflict(nil), j.conflicts...), nil
}

func (j *memJournal) LoadRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	runs := j.runs
	if limit > 0 && len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}
	return append([]models.SyncRun(nil), runs...), nil
}

func (j *memJournal) LoadConnection(ctx context.Context) (*models.SyncConnection, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.conn, nil
}

func testSettings() config.ReconcileSettings {
	s := config.DefaultReconcileSettings()
	s.Schedule = ""
	s.HeartbeatInterval = 0
	return s
}

func newTestService(t *testing.T, provider FulfillmentProvider, catalog CatalogStore, journal Journal) *Service {
	t.Helper()
	return newTestServiceWithSettings(t, provider, catalog, journal, testSettings())
}

func newTestServiceWithSettings(t *testing.T, provider FulfillmentProvider, catalog CatalogStore, journal Journal, settings config.ReconcileSettings) *Service {
	t.Helper()
	opts := Options{Provider: provider, Catalog: catalog, Logger: quietLogger(), Settings: settings}
	if journal != nil {
		opts.Journal = journal
	}
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	return svc
}

func waitForRun(t *testing.T, svc *Service, id string) models.SyncRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := svc.GetSyncRun(id)
		if err != nil {
			t.Fatalf("GetSyncRun(%s) error: %v", id, err)
		}
		if run.Status.IsTerminal() {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish in time", id)
	return models.SyncRun{}
}

var errCatalogDown = errors.New("catalog write rejected")
