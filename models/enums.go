package models

type ConnectionHealth string

const (
	ConnectionHealthExcellent    ConnectionHealth = "excellent"
	ConnectionHealthGood         ConnectionHealth = "good"
	ConnectionHealthPoor         ConnectionHealth = "poor"
	ConnectionHealthDisconnected ConnectionHealth = "disconnected"
)

type SyncStatus string

const (
	SyncStatusUnknown SyncStatus = "unknown"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
)

type SyncErrorType string

const (
	SyncErrorTypeConnection SyncErrorType = "connection"
	SyncErrorTypeInventory  SyncErrorType = "inventory"
	SyncErrorTypeData       SyncErrorType = "data"
	SyncErrorTypeWebhook    SyncErrorType = "webhook"
	SyncErrorTypeValidation SyncErrorType = "validation"
)

func (t SyncErrorType) IsValid() bool {
	switch t {
	case SyncErrorTypeConnection, SyncErrorTypeInventory, SyncErrorTypeData, SyncErrorTypeWebhook, SyncErrorTypeValidation:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// FailsRun reports whether an error of this severity marks the sync run as failed.
func (s Severity) FailsRun() bool {
	return s == SeverityHigh || s == SeverityCritical
}

type ChangeType string

const (
	ChangeTypeStockUpdate        ChangeType = "stock_update"
	ChangeTypePriceChange        ChangeType = "price_change"
	ChangeTypeAvailabilityChange ChangeType = "availability_change"
	ChangeTypeNewVariant         ChangeType = "new_variant"
)

func (t ChangeType) IsValid() bool {
	switch t {
	case ChangeTypeStockUpdate, ChangeTypePriceChange, ChangeTypeAvailabilityChange, ChangeTypeNewVariant:
		return true
	}
	return false
}

type ConflictType string

const (
	ConflictTypePriceMismatch     ConflictType = "price_mismatch"
	ConflictTypeInventoryMismatch ConflictType = "inventory_mismatch"
	ConflictTypeVariantMismatch   ConflictType = "variant_mismatch"
	ConflictTypeDataCorruption    ConflictType = "data_corruption"
)

func (t ConflictType) IsValid() bool {
	switch t {
	case ConflictTypePriceMismatch, ConflictTypeInventoryMismatch, ConflictTypeVariantMismatch, ConflictTypeDataCorruption:
		return true
	}
	return false
}

type Resolution string

const (
	ResolutionPending      Resolution = "pending"
	ResolutionAutoResolved Resolution = "auto_resolved"
	ResolutionManualReview Resolution = "manual_review"
	ResolutionResolved     Resolution = "resolved"
)

func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionPending, ResolutionAutoResolved, ResolutionManualReview, ResolutionResolved:
		return true
	}
	return false
}

// IsOpen is true while an operator may still act on the conflict.
func (r Resolution) IsOpen() bool {
	return r == ResolutionPending || r == ResolutionManualReview
}

// ResolutionChoice is what an operator asks for when resolving a conflict.
type ResolutionChoice string

const (
	ResolutionChoiceAcceptProvider ResolutionChoice = "accept_provider"
	ResolutionChoiceAcceptLocal    ResolutionChoice = "accept_local"
	ResolutionChoiceManual         ResolutionChoice = "manual"
)

func (c ResolutionChoice) IsValid() bool {
	switch c {
	case ResolutionChoiceAcceptProvider, ResolutionChoiceAcceptLocal, ResolutionChoiceManual:
		return true
	}
	return false
}

type NotificationType string

const (
	NotificationTypeSuccess NotificationType = "success"
	NotificationTypeWarning NotificationType = "warning"
	NotificationTypeError   NotificationType = "error"
	NotificationTypeInfo    NotificationType = "info"
)

type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusFetching RunStatus = "fetching"
	RunStatusDiffing  RunStatus = "diffing"
	RunStatusApplying RunStatus = "applying"
	RunStatusSuccess  RunStatus = "success"
	RunStatusFailed   RunStatus = "failed"
)

func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

type SyncTrigger string

const (
	SyncTriggerManual    SyncTrigger = "manual"
	SyncTriggerScheduled SyncTrigger = "scheduled"
	SyncTriggerPubSub    SyncTrigger = "pubsub"
)
