package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/catalog_sync/models"
)

// MemoryCatalog is an in-process CatalogStore for tests and local runs without MySQL.
type MemoryCatalog struct {
	mu          sync.RWMutex
	products    map[string]map[string]models.LocalVariant
	acceptances map[conflictKey]models.OverrideAcceptance
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		products:    make(map[string]map[string]models.LocalVariant),
		acceptances: make(map[conflictKey]models.OverrideAcceptance),
	}
}

// AddProduct creates or replaces a product with the given variants.
func (c *MemoryCatalog) AddProduct(productID string, variants ...models.LocalVariant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vs := make(map[string]models.LocalVariant, len(variants))
	for _, v := range variants {
		vs[v.VariantID] = cloneVariant(v)
	}
	c.products[productID] = vs
}

func (c *MemoryCatalog) RemoveProduct(productID string) {
	c.mu.Lock()
	delete(c.products, productID)
	c.mu.Unlock()
}

func (c *MemoryCatalog) ProductIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.products))
	for id := range c.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Variant returns a copy of one stored variant.
func (c *MemoryCatalog) Variant(productID, variantID string) (models.LocalVariant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vs, ok := c.products[productID]
	if !ok {
		return models.LocalVariant{}, false
	}
	v, ok := vs[variantID]
	if !ok {
		return models.LocalVariant{}, false
	}
	return cloneVariant(v), true
}

func (c *MemoryCatalog) GetLocalMirror(ctx context.Context, productID string) (models.LocalSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.LocalSnapshot{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	vs, ok := c.products[productID]
	if !ok {
		return models.LocalSnapshot{}, models.ErrProductNotFound
	}
	snap := models.LocalSnapshot{ProductID: productID, Variants: make(map[string]models.LocalVariant, len(vs))}
	for id, v := range vs {
		snap.Variants[id] = cloneVariant(v)
	}
	return snap, nil
}

func (c *MemoryCatalog) ApplyProviderValue(ctx context.Context, productID, variantID string, field models.CatalogField, value any) error {
	return c.update(ctx, productID, variantID, func(v *models.LocalVariant) error {
		if field == models.FieldSKU {
			return setVariantSKU(v, value)
		}
		mirror := valuesOrZero(v.Mirror)
		if err := mirror.SetField(field, value); err != nil {
			return err
		}
		if v.Local == nil && field != models.FieldVariant {
			v.Mirror = &mirror
			return nil
		}
		local := valuesOrZero(v.Local)
		if err := local.SetField(field, value); err != nil {
			return err
		}
		if snap, ok := value.(models.ProviderSnapshot); ok && snap.SKU != "" {
			v.SKU = snap.SKU
		}
		v.Mirror = &mirror
		v.Local = &local
		return nil
	})
}

func (c *MemoryCatalog) MirrorProviderValue(ctx context.Context, productID, variantID string, field models.CatalogField, value any) error {
	return c.update(ctx, productID, variantID, func(v *models.LocalVariant) error {
		if field == models.FieldSKU {
			return setVariantSKU(v, value)
		}
		mirror := valuesOrZero(v.Mirror)
		if err := mirror.SetField(field, value); err != nil {
			return err
		}
		if snap, ok := value.(models.ProviderSnapshot); ok && snap.SKU != "" && v.SKU == "" {
			v.SKU = snap.SKU
		}
		v.Mirror = &mirror
		return nil
	})
}

func (c *MemoryCatalog) SetLocalValue(ctx context.Context, productID, variantID string, field models.CatalogField, value any) error {
	return c.update(ctx, productID, variantID, func(v *models.LocalVariant) error {
		if field == models.FieldSKU {
			return setVariantSKU(v, value)
		}
		local := valuesOrZero(v.Local)
		if err := local.SetField(field, value); err != nil {
			return err
		}
		v.Local = &local
		return nil
	})
}

func (c *MemoryCatalog) RecordOverrideAcceptance(ctx context.Context, acceptance models.OverrideAcceptance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if acceptance.AcceptedAt.IsZero() {
		acceptance.AcceptedAt = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acceptances[conflictKey{acceptance.ProductID, acceptance.VariantID, acceptance.ConflictType}] = acceptance
	return nil
}

func (c *MemoryCatalog) ListOverrideAcceptances(ctx context.Context) ([]models.OverrideAcceptance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.OverrideAcceptance, 0, len(c.acceptances))
	for _, a := range c.acceptances {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcceptedAt.Before(out[j].AcceptedAt) })
	return out, nil
}

func (c *MemoryCatalog) update(ctx context.Context, productID, variantID string, fn func(v *models.LocalVariant) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	vs, ok := c.products[productID]
	if !ok {
		return models.ErrProductNotFound
	}
	v, ok := vs[variantID]
	if !ok {
		v = models.LocalVariant{VariantID: variantID}
	}
	if err := fn(&v); err != nil {
		return err
	}
	vs[variantID] = v
	return nil
}

func setVariantSKU(v *models.LocalVariant, value any) error {
	sku, ok := value.(string)
	if !ok {
		return fmt.Errorf("sku value must be string, got %T", value)
	}
	v.SKU = sku
	return nil
}

func valuesOrZero(v *models.VariantValues) models.VariantValues {
	if v == nil {
		return models.VariantValues{}
	}
	return *v
}

func cloneVariant(v models.LocalVariant) models.LocalVariant {
	if v.Mirror != nil {
		m := *v.Mirror
		v.Mirror = &m
	}
	if v.Local != nil {
		l := *v.Local
		v.Local = &l
	}
	return v
}
