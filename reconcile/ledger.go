package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/catalog_sync/config"
	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/mmdatafocus/catalog_sync/utils"
	"github.com/sirupsen/logrus"
)

type ChangeFilter struct {
	ProductID  string
	ChangeType models.ChangeType
	Processed  *bool
	RunID      string
}

func (f ChangeFilter) match(c models.InventoryChange) bool {
	if f.ProductID != "" && c.ProductID != f.ProductID {
		return false
	}
	if f.ChangeType != "" && c.ChangeType != f.ChangeType {
		return false
	}
	if f.Processed != nil && c.Processed != *f.Processed {
		return false
	}
	if f.RunID != "" && c.RunID != f.RunID {
		return false
	}
	return true
}

// FieldChange is one provider field that moved away from the last known provider value.
type FieldChange struct {
	Type  models.ChangeType
	Field models.CatalogField
	Old   any
	New   any
}

// DiffVariant compares the provider's values with the mirror in the fixed order stock, price, availability.
// A nil mirror means the provider variant has never been seen and yields a single new_variant change.
func DiffVariant(mirror *models.VariantValues, provider models.ProviderSnapshot) []FieldChange {
	if mirror == nil {
		return []FieldChange{{
			Type:  models.ChangeTypeNewVariant,
			Field: models.FieldVariant,
			New:   provider.Values,
		}}
	}
	var out []FieldChange
	pv := provider.Values
	if mirror.Stock != pv.Stock {
		out = append(out, FieldChange{Type: models.ChangeTypeStockUpdate, Field: models.FieldStock, Old: mirror.Stock, New: pv.Stock})
	}
	if !mirror.Price.Equal(pv.Price) {
		out = append(out, FieldChange{Type: models.ChangeTypePriceChange, Field: models.FieldPrice, Old: mirror.Price, New: pv.Price})
	}
	if mirror.Available != pv.Available {
		out = append(out, FieldChange{Type: models.ChangeTypeAvailabilityChange, Field: models.FieldAvailability, Old: mirror.Available, New: pv.Available})
	}
	return out
}

// AutoApplicable reports whether the provider is authoritative for this kind of change.
func AutoApplicable(t models.ChangeType) bool {
	return t == models.ChangeTypeStockUpdate || t == models.ChangeTypeAvailabilityChange
}

// InventoryLedger is the append-only record of detected provider drift.
type InventoryLedger struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	entries []models.InventoryChange
	index   map[string]int

	journal Journal
	logger  *logrus.Logger
	now     func() time.Time
}

func NewInventoryLedger(journal Journal, logger *logrus.Logger) *InventoryLedger {
	return &InventoryLedger{
		index:   make(map[string]int),
		journal: journal,
		logger:  logger,
		now:     time.Now,
	}
}

func (l *InventoryLedger) RecordChange(ctx context.Context, productID, variantID string, changeType models.ChangeType, oldValue, newValue any) models.InventoryChange {
	runID, _ := utils.GetRunIdFromContext(ctx)
	rec := models.InventoryChange{
		ID:         uuid.NewString(),
		Timestamp:  l.now().UTC(),
		ProductID:  productID,
		VariantID:  variantID,
		ChangeType: changeType,
		OldValue:   oldValue,
		NewValue:   newValue,
		RunID:      runID,
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	l.index[rec.ID] = len(l.entries)
	l.entries = append(l.entries, rec)
	l.mu.Unlock()

	l.persist(ctx, rec, "InventoryLedger.RecordChange")
	return rec
}

// List returns matching changes, newest first.
func (l *InventoryLedger) List(filter ChangeFilter) []models.InventoryChange {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.InventoryChange, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		if filter.match(l.entries[i]) {
			out = append(out, l.entries[i])
		}
	}
	return out
}

func (l *InventoryLedger) Get(id string) (models.InventoryChange, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return models.InventoryChange{}, false
	}
	return l.entries[i], true
}

func (l *InventoryLedger) MarkProcessed(ctx context.Context, id string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	i, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return ErrNotFound
	}
	if l.entries[i].Processed {
		l.mu.Unlock()
		return nil
	}
	now := l.now().UTC()
	l.entries[i].Processed = true
	l.entries[i].ProcessedAt = &now
	rec := l.entries[i]
	l.mu.Unlock()

	l.persist(ctx, rec, "InventoryLedger.MarkProcessed")
	return nil
}

func (l *InventoryLedger) persist(ctx context.Context, rec models.InventoryChange, fn string) {
	if l.journal == nil {
		return
	}
	if err := l.journal.SaveChange(ctx, rec); err != nil {
		config.LogError(l.logger, "reconcile", fn, "journal", rec.ID, err)
	}
}

func (l *InventoryLedger) restore(recs []models.InventoryChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range recs {
		if _, ok := l.index[rec.ID]; ok {
			continue
		}
		l.index[rec.ID] = len(l.entries)
		l.entries = append(l.entries, rec)
	}
}
