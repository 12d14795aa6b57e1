package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/catalog_sync/config"
	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/mmdatafocus/catalog_sync/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Value bag keys used in conflict snapshots.
const (
	bagStock     = "stock"
	bagPrice     = "price"
	bagAvailable = "available"
	bagSKU       = "sku"
	bagPresent   = "present"
)

type ConflictInput struct {
	ProductID string
	VariantID string
	Type      models.ConflictType
	Provider  map[string]any
	Local     map[string]any
}

type ConflictFilter struct {
	ProductID    string
	ConflictType models.ConflictType
	Resolution   models.Resolution
	RunID        string
}

func (f ConflictFilter) match(c models.DataConflict) bool {
	if f.ProductID != "" && c.ProductID != f.ProductID {
		return false
	}
	if f.ConflictType != "" && c.ConflictType != f.ConflictType {
		return false
	}
	if f.Resolution != "" && c.Resolution != f.Resolution {
		return false
	}
	if f.RunID != "" && c.RunID != f.RunID {
		return false
	}
	return true
}

type conflictKey struct {
	productID    string
	variantID    string
	conflictType models.ConflictType
}

// DetectConflicts compares a provider variant with the shop's own values.
// Variants the shop does not carry never conflict. A SKU disagreement short-circuits the other checks.
func DetectConflicts(lv models.LocalVariant, provider models.ProviderSnapshot) []ConflictInput {
	if lv.Local == nil {
		return nil
	}
	base := ConflictInput{ProductID: provider.ProductID, VariantID: provider.VariantID}

	if lv.SKU != "" && provider.SKU != "" && lv.SKU != provider.SKU {
		in := base
		in.Type = models.ConflictTypeDataCorruption
		in.Provider = map[string]any{bagSKU: provider.SKU}
		in.Local = map[string]any{bagSKU: lv.SKU}
		return []ConflictInput{in}
	}

	var out []ConflictInput
	pv, local, mirror := provider.Values, lv.Local, lv.Mirror
	if !local.Price.Equal(pv.Price) {
		in := base
		in.Type = models.ConflictTypePriceMismatch
		in.Provider = map[string]any{bagPrice: pv.Price.String()}
		in.Local = map[string]any{bagPrice: local.Price.String()}
		out = append(out, in)
	}

	// Provider-side moves are auto-applied as changes; only local drift from an unchanged provider value conflicts.
	provBag, localBag := map[string]any{}, map[string]any{}
	if (mirror == nil || mirror.Stock == pv.Stock) && local.Stock != pv.Stock {
		provBag[bagStock] = pv.Stock
		localBag[bagStock] = local.Stock
	}
	if (mirror == nil || mirror.Available == pv.Available) && local.Available != pv.Available {
		provBag[bagAvailable] = pv.Available
		localBag[bagAvailable] = local.Available
	}
	if len(provBag) > 0 {
		in := base
		in.Type = models.ConflictTypeInventoryMismatch
		in.Provider = provBag
		in.Local = localBag
		out = append(out, in)
	}
	return out
}

// MissingVariantConflict describes a variant the shop carries that the provider stopped reporting.
func MissingVariantConflict(productID string, lv models.LocalVariant) ConflictInput {
	local := map[string]any{bagPresent: true}
	if lv.Local != nil {
		local[bagStock] = lv.Local.Stock
		local[bagAvailable] = lv.Local.Available
	}
	return ConflictInput{
		ProductID: productID,
		VariantID: lv.VariantID,
		Type:      models.ConflictTypeVariantMismatch,
		Provider:  map[string]any{bagPresent: false},
		Local:     local,
	}
}

// ConflictRegister holds data conflicts and applies the resolution policy.
type ConflictRegister struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	entries []models.DataConflict
	index   map[string]int
	// accepted maps a conflict key to the provider fingerprint an operator kept local values against.
	accepted map[conflictKey]string

	catalog   CatalogStore
	products  *keyedLocks
	tolerance decimal.Decimal
	journal   Journal
	logger    *logrus.Logger
	now       func() time.Time
}

func NewConflictRegister(catalog CatalogStore, tolerance float64, journal Journal, logger *logrus.Logger) *ConflictRegister {
	return &ConflictRegister{
		index:     make(map[string]int),
		accepted:  make(map[conflictKey]string),
		catalog:   catalog,
		products:  newKeyedLocks(),
		tolerance: decimal.NewFromFloat(tolerance),
		journal:   journal,
		logger:    logger,
		now:       time.Now,
	}
}

// Record creates a conflict unless the same divergence is already known.
// The bool is false when the input was suppressed; the returned conflict is then the one that suppressed it, if any.
func (r *ConflictRegister) Record(ctx context.Context, in ConflictInput) (models.DataConflict, bool) {
	key := conflictKey{in.ProductID, in.VariantID, in.Type}
	providerFP := Fingerprint(in.Provider)
	localFP := Fingerprint(in.Local)

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	if fp, ok := r.accepted[key]; ok {
		if fp == providerFP {
			r.mu.Unlock()
			return models.DataConflict{}, false
		}
		// provider moved on, the accepted decision no longer applies
		delete(r.accepted, key)
	}
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.ProductID != in.ProductID || e.VariantID != in.VariantID || e.ConflictType != in.Type {
			continue
		}
		if Fingerprint(e.ProviderSnapshot) != providerFP {
			continue
		}
		if e.Resolution.IsOpen() {
			r.mu.Unlock()
			return e, false
		}
		if e.Resolution == models.ResolutionAutoResolved && Fingerprint(e.LocalSnapshot) == localFP {
			r.mu.Unlock()
			return e, false
		}
	}

	runID, _ := utils.GetRunIdFromContext(ctx)
	rec := models.DataConflict{
		ID:               uuid.NewString(),
		Timestamp:        r.now().UTC(),
		ProductID:        in.ProductID,
		VariantID:        in.VariantID,
		ConflictType:     in.Type,
		ProviderSnapshot: datatypes.JSONMap(in.Provider),
		LocalSnapshot:    datatypes.JSONMap(in.Local),
		Resolution:       models.ResolutionPending,
		RunID:            runID,
	}
	if in.Type == models.ConflictTypePriceMismatch && r.withinTolerance(in.Provider, in.Local) {
		rec.Resolution = models.ResolutionAutoResolved
		rec.AutoResolutionNote = models.AutoResolutionNoteWithinTolerance
		rec.ResolvedAt = &rec.Timestamp
		rec.ResolvedBy = "system"
	}
	r.index[rec.ID] = len(r.entries)
	r.entries = append(r.entries, rec)
	r.mu.Unlock()

	r.persist(ctx, rec, "ConflictRegister.Record")
	return rec, true
}

func (r *ConflictRegister) withinTolerance(provider, local map[string]any) bool {
	p, ok := bagDecimal(provider, bagPrice)
	if !ok {
		return false
	}
	l, ok := bagDecimal(local, bagPrice)
	if !ok || !l.IsPositive() {
		return false
	}
	return p.Sub(l).Abs().Div(l).LessThanOrEqual(r.tolerance)
}

// List returns matching conflicts, newest first.
func (r *ConflictRegister) List(filter ConflictFilter) []models.DataConflict {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.DataConflict, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		if filter.match(r.entries[i]) {
			out = append(out, r.entries[i])
		}
	}
	return out
}

func (r *ConflictRegister) Get(id string) (models.DataConflict, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return models.DataConflict{}, false
	}
	return r.entries[i], true
}

// Resolve applies an operator decision. A failed catalog write is returned and leaves the conflict as it was.
func (r *ConflictRegister) Resolve(ctx context.Context, id string, choice models.ResolutionChoice) (models.DataConflict, error) {
	if !choice.IsValid() {
		return models.DataConflict{}, ErrInvalidResolution
	}

	rec, ok := r.Get(id)
	if !ok {
		return models.DataConflict{}, ErrNotFound
	}
	if choice == models.ResolutionChoiceAcceptProvider {
		// product lock before writeMu, the order sync passes take them in
		unlock, err := r.products.Lock(ctx, rec.ProductID)
		if err != nil {
			return rec, err
		}
		defer unlock()
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	rec, _ = r.Get(id)
	if !rec.Resolution.IsOpen() {
		return rec, ErrAlreadyResolved
	}

	operator := utils.OperatorOrSystem(ctx)
	key := conflictKey{rec.ProductID, rec.VariantID, rec.ConflictType}
	switch choice {
	case models.ResolutionChoiceManual:
		if rec.Resolution == models.ResolutionManualReview {
			return rec, ErrAlreadyInReview
		}
		rec.Resolution = models.ResolutionManualReview
	case models.ResolutionChoiceAcceptProvider:
		if err := r.applyProvider(ctx, rec); err != nil {
			return rec, err
		}
		rec.Resolution = models.ResolutionResolved
	case models.ResolutionChoiceAcceptLocal:
		fp := Fingerprint(rec.ProviderSnapshot)
		err := r.catalog.RecordOverrideAcceptance(ctx, models.OverrideAcceptance{
			ProductID:           rec.ProductID,
			VariantID:           rec.VariantID,
			ConflictType:        rec.ConflictType,
			ProviderFingerprint: fp,
			AcceptedBy:          operator,
			AcceptedAt:          r.now().UTC(),
		})
		if err != nil {
			return rec, fmt.Errorf("record override acceptance: %w", err)
		}
		r.mu.Lock()
		r.accepted[key] = fp
		r.mu.Unlock()
		rec.Resolution = models.ResolutionResolved
	}
	if rec.Resolution == models.ResolutionResolved {
		now := r.now().UTC()
		rec.ResolvedAt = &now
		rec.ResolvedBy = operator
	}

	r.mu.Lock()
	r.entries[r.index[id]] = rec
	r.mu.Unlock()

	r.persist(ctx, rec, "ConflictRegister.Resolve")
	return rec, nil
}

// applyProvider writes the provider side of a conflict into the shop's own values. The caller holds the
// product lock. Entries the mirror tracks take the mirror's current value, so a conflict resolved after
// the provider moved applies the newer value. The mirror itself is only advanced by sync passes.
func (r *ConflictRegister) applyProvider(ctx context.Context, rec models.DataConflict) error {
	local, err := r.catalog.GetLocalMirror(ctx, rec.ProductID)
	if err != nil {
		return fmt.Errorf("read local catalog: %w", err)
	}
	defer r.products.touch(rec.ProductID)

	bag := currentProviderBag(rec.ProviderSnapshot, local.Variants[rec.VariantID].Mirror)
	if Fingerprint(bag) != Fingerprint(rec.ProviderSnapshot) {
		r.logger.WithFields(logrus.Fields{"conflict_id": rec.ID, "product_id": rec.ProductID, "variant_id": rec.VariantID}).
			Info("provider moved since the conflict was raised, applying its current values")
	}

	keys := make([]string, 0, len(bag))
	for k := range bag {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		field, value, err := bagField(bag, k)
		if err != nil {
			return err
		}
		if err := r.catalog.SetLocalValue(ctx, rec.ProductID, rec.VariantID, field, value); err != nil {
			return fmt.Errorf("apply provider %s: %w", k, err)
		}
	}
	return nil
}

// currentProviderBag refreshes the mirror-tracked entries of a provider bag.
func currentProviderBag(bag map[string]any, mirror *models.VariantValues) map[string]any {
	out := make(map[string]any, len(bag))
	for k, v := range bag {
		out[k] = v
	}
	if mirror == nil {
		return out
	}
	if v, ok := out[bagStock]; ok && normalizeBagValue(v) != strconv.Itoa(mirror.Stock) {
		out[bagStock] = mirror.Stock
	}
	if _, ok := out[bagPrice]; ok {
		if d, _ := bagDecimal(out, bagPrice); !d.Equal(mirror.Price) {
			out[bagPrice] = mirror.Price.String()
		}
	}
	if v, ok := out[bagAvailable]; ok && v != mirror.Available {
		out[bagAvailable] = mirror.Available
	}
	return out
}

// LoadAcceptances restores remembered accept-local decisions from the catalog store.
func (r *ConflictRegister) LoadAcceptances(ctx context.Context) error {
	list, err := r.catalog.ListOverrideAcceptances(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range list {
		r.accepted[conflictKey{a.ProductID, a.VariantID, a.ConflictType}] = a.ProviderFingerprint
	}
	return nil
}

func (r *ConflictRegister) persist(ctx context.Context, rec models.DataConflict, fn string) {
	if r.journal == nil {
		return
	}
	if err := r.journal.SaveConflict(ctx, rec); err != nil {
		config.LogError(r.logger, "reconcile", fn, "journal", rec.ID, err)
	}
}

func (r *ConflictRegister) restore(recs []models.DataConflict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		if _, ok := r.index[rec.ID]; ok {
			continue
		}
		r.index[rec.ID] = len(r.entries)
		r.entries = append(r.entries, rec)
	}
}

// Fingerprint is a stable digest of a value bag. Numbers compare equal before and after a JSON round trip.
func Fingerprint(bag map[string]any) string {
	keys := make([]string, 0, len(bag))
	for k := range bag {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(normalizeBagValue(bag[k]))
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

func normalizeBagValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case decimal.Decimal:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func bagDecimal(bag map[string]any, key string) (decimal.Decimal, bool) {
	v, ok := bag[key]
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(normalizeBagValue(v))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// bagField turns a snapshot entry back into a typed catalog write.
func bagField(bag map[string]any, key string) (models.CatalogField, any, error) {
	raw := bag[key]
	switch key {
	case bagStock:
		n, err := strconv.Atoi(normalizeBagValue(raw))
		if err != nil {
			return "", nil, fmt.Errorf("stock %v: %w", raw, err)
		}
		return models.FieldStock, n, nil
	case bagPrice:
		d, ok := bagDecimal(bag, key)
		if !ok {
			return "", nil, fmt.Errorf("invalid price %v", raw)
		}
		return models.FieldPrice, d, nil
	case bagAvailable:
		b, ok := raw.(bool)
		if !ok {
			return "", nil, fmt.Errorf("invalid availability %v", raw)
		}
		return models.FieldAvailability, b, nil
	case bagPresent:
		// accepting the provider's "variant gone" means the shop stops offering it
		b, ok := raw.(bool)
		if !ok {
			return "", nil, fmt.Errorf("invalid presence %v", raw)
		}
		return models.FieldAvailability, b, nil
	case bagSKU:
		s, ok := raw.(string)
		if !ok {
			return "", nil, fmt.Errorf("invalid sku %v", raw)
		}
		return models.FieldSKU, s, nil
	}
	return "", nil, fmt.Errorf("unknown snapshot field %q", key)
}
