package models

import "time"

// InventoryChange is one field-level divergence between the provider and the last known provider state.
// Only Processed ever changes after creation.
type InventoryChange struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Timestamp   time.Time  `gorm:"index;not null" json:"timestamp"`
	ProductID   string     `gorm:"index;size:128;not null" json:"productId"`
	VariantID   string     `gorm:"index;size:128;not null" json:"variantId"`
	ChangeType  ChangeType `gorm:"size:32;not null" json:"changeType"`
	OldValue    any        `gorm:"type:json;serializer:json" json:"oldValue,omitempty"`
	NewValue    any        `gorm:"type:json;serializer:json" json:"newValue,omitempty"`
	Processed   bool       `gorm:"index;default:false" json:"processed"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	RunID       string     `gorm:"index;size:36" json:"runId,omitempty"`
}
