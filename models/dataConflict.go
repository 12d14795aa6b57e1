package models

import (
	"time"

	"gorm.io/datatypes"
)

const AutoResolutionNoteWithinTolerance = "difference within tolerance, local price retained"

// DataConflict records a divergence where neither side is unconditionally authoritative.
// Resolution only moves forward: pending -> auto_resolved | manual_review, manual_review -> resolved.
type DataConflict struct {
	ID                 string            `gorm:"primaryKey;size:36" json:"id"`
	Timestamp          time.Time         `gorm:"index;not null" json:"timestamp"`
	ProductID          string            `gorm:"index;size:128;not null" json:"productId"`
	VariantID          string            `gorm:"index;size:128" json:"variantId,omitempty"`
	ConflictType       ConflictType      `gorm:"size:32;not null" json:"conflictType"`
	ProviderSnapshot   datatypes.JSONMap `gorm:"type:json" json:"providerSnapshot"`
	LocalSnapshot      datatypes.JSONMap `gorm:"type:json" json:"localSnapshot"`
	Resolution         Resolution        `gorm:"index;size:20;not null" json:"resolution"`
	AutoResolutionNote string            `gorm:"type:text" json:"autoResolutionNote,omitempty"`
	ResolvedAt         *time.Time        `json:"resolvedAt,omitempty"`
	ResolvedBy         string            `gorm:"size:128" json:"resolvedBy,omitempty"`
	RunID              string            `gorm:"index;size:36" json:"runId,omitempty"`
}

// OverrideAcceptance remembers that an operator kept the local value for a conflict.
// It holds until the provider snapshot (by fingerprint) changes.
type OverrideAcceptance struct {
	ID                  uint         `gorm:"primary_key" json:"-"`
	ProductID           string       `gorm:"uniqueIndex:idx_override_acceptance,priority:1;size:128;not null" json:"productId"`
	VariantID           string       `gorm:"uniqueIndex:idx_override_acceptance,priority:2;size:128;not null" json:"variantId"`
	ConflictType        ConflictType `gorm:"uniqueIndex:idx_override_acceptance,priority:3;size:32;not null" json:"conflictType"`
	ProviderFingerprint string       `gorm:"size:64;not null" json:"providerFingerprint"`
	AcceptedBy          string       `gorm:"size:128" json:"acceptedBy"`
	AcceptedAt          time.Time    `json:"acceptedAt"`
}
