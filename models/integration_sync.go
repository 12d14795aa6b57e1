package models

import "time"

// ScopeAll reconciles every product the provider reports.
const ScopeAll = "all"

// SyncConnection is the process-wide link state. Only the orchestrator mutates it.
type SyncConnection struct {
	ID               uint             `gorm:"primary_key" json:"-"`
	IsConnected      bool             `json:"isConnected"`
	ConnectionHealth ConnectionHealth `gorm:"size:20;not null" json:"connectionHealth"`
	LastSyncAt       *time.Time       `json:"lastSyncAt"`
	LastSyncStatus   SyncStatus       `gorm:"size:20;not null" json:"lastSyncStatus"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"-"`
}

func (SyncConnection) TableName() string { return "sync_connection_state" }

type SyncRun struct {
	ID            string      `gorm:"primaryKey;size:36" json:"id"`
	Scope         string      `gorm:"index;size:128;not null" json:"scope"`
	Trigger       SyncTrigger `gorm:"size:20" json:"trigger"`
	Status        RunStatus   `gorm:"size:20;not null" json:"status"`
	Progress      int         `json:"progress"`
	StartedAt     *time.Time  `json:"startedAt"`
	FinishedAt    *time.Time  `json:"finishedAt"`
	DurationMs    int64       `json:"durationMs"`
	VariantCount  int         `json:"variantCount"`
	ChangeCount   int         `json:"changeCount"`
	ConflictCount int         `json:"conflictCount"`
	ErrorCount    int         `json:"errorCount"`
	FailureReason string      `gorm:"type:text" json:"failureReason,omitempty"`
	Cancelled     bool        `json:"cancelled"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"createdAt"`
}

// SyncError is an audit record of one classified failure. It is never deleted.
type SyncError struct {
	ID         string        `gorm:"primaryKey;size:36" json:"id"`
	Timestamp  time.Time     `gorm:"index;not null" json:"timestamp"`
	Type       SyncErrorType `gorm:"index;size:20;not null" json:"type"`
	Severity   Severity      `gorm:"index;size:20;not null" json:"severity"`
	Message    string        `gorm:"type:text;not null" json:"message"`
	Details    string        `gorm:"type:text" json:"details,omitempty"`
	Resolved   bool          `gorm:"index;default:false" json:"resolved"`
	ResolvedAt *time.Time    `json:"resolvedAt,omitempty"`
	ResolvedBy string        `gorm:"size:128" json:"resolvedBy,omitempty"`
	RunID      string        `gorm:"index;size:36" json:"runId,omitempty"`
	ProductID  string        `gorm:"index;size:128" json:"productId,omitempty"`
}
