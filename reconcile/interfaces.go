package reconcile

import (
	"context"

	"github.com/mmdatafocus/catalog_sync/models"
)

// FulfillmentProvider is the external catalog. Any non-2xx or timeout must come back as an error.
type FulfillmentProvider interface {
	// FetchCatalogState returns per-variant state for scope (models.ScopeAll or a product id),
	// in the provider's order.
	FetchCatalogState(ctx context.Context, scope string) ([]models.ProviderSnapshot, error)
	Ping(ctx context.Context) error
}

// CatalogStore is the local catalog persistence.
type CatalogStore interface {
	// GetLocalMirror returns models.ErrProductNotFound for unknown or deleted products.
	GetLocalMirror(ctx context.Context, productID string) (models.LocalSnapshot, error)
	ApplyProviderValue(ctx context.Context, productID, variantID string, field models.CatalogField, value any) error
	MirrorProviderValue(ctx context.Context, productID, variantID string, field models.CatalogField, value any) error
	// SetLocalValue writes only the shop's own value and leaves the provider mirror alone.
	SetLocalValue(ctx context.Context, productID, variantID string, field models.CatalogField, value any) error
	RecordOverrideAcceptance(ctx context.Context, acceptance models.OverrideAcceptance) error
	ListOverrideAcceptances(ctx context.Context) ([]models.OverrideAcceptance, error)
}

// Journal durably stores records. A nil Journal keeps everything in memory.
type Journal interface {
	SaveError(ctx context.Context, rec models.SyncError) error
	SaveChange(ctx context.Context, rec models.InventoryChange) error
	SaveConflict(ctx context.Context, rec models.DataConflict) error
	SaveRun(ctx context.Context, rec models.SyncRun) error
	SaveConnection(ctx context.Context, rec models.SyncConnection) error
}

// JournalReader is implemented by journals that can replay their records at startup.
type JournalReader interface {
	LoadErrors(ctx context.Context) ([]models.SyncError, error)
	LoadChanges(ctx context.Context) ([]models.InventoryChange, error)
	LoadConflicts(ctx context.Context) ([]models.DataConflict, error)
	LoadRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
	LoadConnection(ctx context.Context) (*models.SyncConnection, error)
}

// ScopeLocker provides cross-instance mutual exclusion for a scope.
type ScopeLocker interface {
	// Lock blocks until the lock is held or ctx ends.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
