package models

import (
	"context"

	"gorm.io/gorm"
)

// GormJournal durably appends reconciliation records. Saves are upserts by primary key,
// so re-saving a record after a flag flip (resolved, processed, resolution) updates it in place.
type GormJournal struct {
	DB *gorm.DB
}

func NewGormJournal(db *gorm.DB) *GormJournal {
	return &GormJournal{DB: db}
}

func (j *GormJournal) SaveError(ctx context.Context, rec SyncError) error {
	return j.DB.WithContext(ctx).Save(&rec).Error
}

func (j *GormJournal) SaveChange(ctx context.Context, rec InventoryChange) error {
	return j.DB.WithContext(ctx).Save(&rec).Error
}

func (j *GormJournal) SaveConflict(ctx context.Context, rec DataConflict) error {
	return j.DB.WithContext(ctx).Save(&rec).Error
}

func (j *GormJournal) SaveRun(ctx context.Context, rec SyncRun) error {
	return j.DB.WithContext(ctx).Save(&rec).Error
}

// SaveConnection keeps a single row holding the current link state.
func (j *GormJournal) SaveConnection(ctx context.Context, rec SyncConnection) error {
	rec.ID = 1
	return j.DB.WithContext(ctx).Save(&rec).Error
}

func (j *GormJournal) LoadErrors(ctx context.Context) ([]SyncError, error) {
	var out []SyncError
	err := j.DB.WithContext(ctx).Order("timestamp, id").Find(&out).Error
	return out, err
}

func (j *GormJournal) LoadChanges(ctx context.Context) ([]InventoryChange, error) {
	var out []InventoryChange
	err := j.DB.WithContext(ctx).Order("timestamp, id").Find(&out).Error
	return out, err
}

func (j *GormJournal) LoadConflicts(ctx context.Context) ([]DataConflict, error) {
	var out []DataConflict
	err := j.DB.WithContext(ctx).Order("timestamp, id").Find(&out).Error
	return out, err
}

// LoadRuns returns the latest runs, oldest first.
func (j *GormJournal) LoadRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	var out []SyncRun
	err := j.DB.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

func (j *GormJournal) LoadConnection(ctx context.Context) (*SyncConnection, error) {
	var rec SyncConnection
	err := j.DB.WithContext(ctx).Where("id = ?", 1).Limit(1).Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == 0 {
		return nil, nil
	}
	return &rec, nil
}
