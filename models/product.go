package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CatalogProduct struct {
	ID        string         `gorm:"primaryKey;size:128" json:"id"`
	Name      string         `gorm:"size:255" json:"name"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// CatalogVariant keeps the provider mirror and the local values side by side.
type CatalogVariant struct {
	ID              uint            `gorm:"primary_key" json:"-"`
	ProductID       string          `gorm:"uniqueIndex:idx_catalog_variant,priority:1;size:128;not null" json:"productId"`
	VariantID       string          `gorm:"uniqueIndex:idx_catalog_variant,priority:2;size:128;not null" json:"variantId"`
	SKU             string          `gorm:"size:128" json:"sku"`
	MirrorKnown     bool            `gorm:"default:false" json:"mirrorKnown"`
	MirrorStock     int             `json:"mirrorStock"`
	MirrorPrice     decimal.Decimal `gorm:"type:decimal(20,4)" json:"mirrorPrice"`
	MirrorAvailable bool            `json:"mirrorAvailable"`
	LocalPresent    bool            `gorm:"default:false" json:"localPresent"`
	LocalStock      int             `json:"localStock"`
	LocalPrice      decimal.Decimal `gorm:"type:decimal(20,4)" json:"localPrice"`
	LocalAvailable  bool            `json:"localAvailable"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (v CatalogVariant) toLocalVariant() LocalVariant {
	lv := LocalVariant{VariantID: v.VariantID, SKU: v.SKU}
	if v.MirrorKnown {
		lv.Mirror = &VariantValues{Stock: v.MirrorStock, Price: v.MirrorPrice, Available: v.MirrorAvailable}
	}
	if v.LocalPresent {
		lv.Local = &VariantValues{Stock: v.LocalStock, Price: v.LocalPrice, Available: v.LocalAvailable}
	}
	return lv
}
