package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrProductNotFound = errors.New("product not found in catalog")

type CatalogField string

const (
	FieldStock        CatalogField = "stock"
	FieldPrice        CatalogField = "price"
	FieldAvailability CatalogField = "available"
	// FieldSKU carries a string and only touches the variant's SKU.
	FieldSKU CatalogField = "sku"
	// FieldVariant carries a whole ProviderSnapshot, used to start mirroring a new variant.
	FieldVariant CatalogField = "variant"
)

type VariantValues struct {
	Stock     int             `json:"stock"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
}

// ProviderSnapshot is one variant as reported by the fulfillment provider.
type ProviderSnapshot struct {
	ProductID string        `json:"productId"`
	VariantID string        `json:"variantId"`
	SKU       string        `json:"sku"`
	Values    VariantValues `json:"values"`
}

// LocalVariant pairs the last known provider values (Mirror) with what the shop actually uses (Local).
// Mirror is nil when the provider never reported the variant; Local is nil when the shop does not carry it.
type LocalVariant struct {
	VariantID string         `json:"variantId"`
	SKU       string         `json:"sku"`
	Mirror    *VariantValues `json:"mirror,omitempty"`
	Local     *VariantValues `json:"local,omitempty"`
}

type LocalSnapshot struct {
	ProductID string                  `json:"productId"`
	Variants  map[string]LocalVariant `json:"variants"`
}

// SetField writes a typed provider value into v.
func (v *VariantValues) SetField(field CatalogField, value any) error {
	switch field {
	case FieldStock:
		n, ok := value.(int)
		if !ok {
			return fmt.Errorf("stock value must be int, got %T", value)
		}
		v.Stock = n
	case FieldPrice:
		d, ok := value.(decimal.Decimal)
		if !ok {
			return fmt.Errorf("price value must be decimal, got %T", value)
		}
		v.Price = d
	case FieldAvailability:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("availability value must be bool, got %T", value)
		}
		v.Available = b
	case FieldVariant:
		snap, ok := value.(ProviderSnapshot)
		if !ok {
			return fmt.Errorf("variant value must be ProviderSnapshot, got %T", value)
		}
		*v = snap.Values
	default:
		return fmt.Errorf("unknown catalog field %q", field)
	}
	return nil
}
