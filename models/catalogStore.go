package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCatalog is the MySQL-backed catalog store.
type GormCatalog struct {
	DB *gorm.DB
}

func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{DB: db}
}

func (c *GormCatalog) GetLocalMirror(ctx context.Context, productID string) (LocalSnapshot, error) {
	db := c.DB.WithContext(ctx)

	var product CatalogProduct
	if err := db.Where("id = ?", productID).Take(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LocalSnapshot{}, ErrProductNotFound
		}
		return LocalSnapshot{}, err
	}

	var variants []CatalogVariant
	if err := db.Where("product_id = ?", productID).Order("variant_id").Find(&variants).Error; err != nil {
		return LocalSnapshot{}, err
	}

	snap := LocalSnapshot{ProductID: productID, Variants: make(map[string]LocalVariant, len(variants))}
	for _, v := range variants {
		snap.Variants[v.VariantID] = v.toLocalVariant()
	}
	return snap, nil
}

// ApplyProviderValue copies a provider value into both the mirror and the local columns.
// Local columns of a variant the shop does not carry are only created by FieldVariant.
func (c *GormCatalog) ApplyProviderValue(ctx context.Context, productID, variantID string, field CatalogField, value any) error {
	return c.updateVariant(ctx, productID, variantID, func(v *CatalogVariant) error {
		if field == FieldSKU {
			return setSKU(v, value)
		}
		lv := v.toLocalVariant()
		mirror := VariantValues{}
		if lv.Mirror != nil {
			mirror = *lv.Mirror
		}
		if err := mirror.SetField(field, value); err != nil {
			return err
		}
		setMirror(v, mirror)

		if lv.Local == nil && field != FieldVariant {
			return nil
		}
		local := VariantValues{}
		if lv.Local != nil {
			local = *lv.Local
		}
		if err := local.SetField(field, value); err != nil {
			return err
		}
		if snap, ok := value.(ProviderSnapshot); ok && snap.SKU != "" {
			v.SKU = snap.SKU
		}
		setLocal(v, local)
		return nil
	})
}

// MirrorProviderValue advances only the last known provider value.
func (c *GormCatalog) MirrorProviderValue(ctx context.Context, productID, variantID string, field CatalogField, value any) error {
	return c.updateVariant(ctx, productID, variantID, func(v *CatalogVariant) error {
		if field == FieldSKU {
			return setSKU(v, value)
		}
		mirror := v.toLocalVariant().Mirror
		if mirror == nil {
			mirror = &VariantValues{}
		}
		if err := mirror.SetField(field, value); err != nil {
			return err
		}
		if snap, ok := value.(ProviderSnapshot); ok && snap.SKU != "" && v.SKU == "" {
			v.SKU = snap.SKU
		}
		setMirror(v, *mirror)
		return nil
	})
}

// SetLocalValue writes only the local columns. Operator resolutions use it; the mirror belongs to sync passes.
func (c *GormCatalog) SetLocalValue(ctx context.Context, productID, variantID string, field CatalogField, value any) error {
	return c.updateVariant(ctx, productID, variantID, func(v *CatalogVariant) error {
		if field == FieldSKU {
			return setSKU(v, value)
		}
		local := VariantValues{}
		if lv := v.toLocalVariant(); lv.Local != nil {
			local = *lv.Local
		}
		if err := local.SetField(field, value); err != nil {
			return err
		}
		setLocal(v, local)
		return nil
	})
}

func (c *GormCatalog) RecordOverrideAcceptance(ctx context.Context, acceptance OverrideAcceptance) error {
	if acceptance.AcceptedAt.IsZero() {
		acceptance.AcceptedAt = time.Now()
	}
	return c.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}, {Name: "variant_id"}, {Name: "conflict_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"provider_fingerprint", "accepted_by", "accepted_at"}),
		}).
		Create(&acceptance).Error
}

func (c *GormCatalog) ListOverrideAcceptances(ctx context.Context) ([]OverrideAcceptance, error) {
	var out []OverrideAcceptance
	err := c.DB.WithContext(ctx).Order("id").Find(&out).Error
	return out, err
}

func (c *GormCatalog) updateVariant(ctx context.Context, productID, variantID string, fn func(v *CatalogVariant) error) error {
	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product CatalogProduct
		if err := tx.Where("id = ?", productID).Take(&product).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProductNotFound
			}
			return err
		}

		var variant CatalogVariant
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("product_id = ? AND variant_id = ?", productID, variantID).
			Take(&variant).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			variant = CatalogVariant{ProductID: productID, VariantID: variantID}
		}
		if err := fn(&variant); err != nil {
			return err
		}
		return tx.Save(&variant).Error
	})
}

func setMirror(v *CatalogVariant, values VariantValues) {
	v.MirrorKnown = true
	v.MirrorStock = values.Stock
	v.MirrorPrice = values.Price
	v.MirrorAvailable = values.Available
}

func setLocal(v *CatalogVariant, values VariantValues) {
	v.LocalPresent = true
	v.LocalStock = values.Stock
	v.LocalPrice = values.Price
	v.LocalAvailable = values.Available
}

func setSKU(v *CatalogVariant, value any) error {
	sku, ok := value.(string)
	if !ok {
		return fmt.Errorf("sku value must be string, got %T", value)
	}
	v.SKU = sku
	return nil
}
