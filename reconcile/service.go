package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/catalog_sync/config"
	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Provider FulfillmentProvider
	Catalog  CatalogStore
	// Journal is optional; without it records live in memory only.
	Journal Journal
	// ScopeLocker is optional; set it when several instances share one catalog.
	ScopeLocker ScopeLocker
	Logger      *logrus.Logger
	Settings    config.ReconcileSettings
}

// Service is the operator-facing API of the reconciliation subsystem.
type Service struct {
	Errors        *ErrorLog
	Ledger        *InventoryLedger
	Conflicts     *ConflictRegister
	Health        *HealthMonitor
	Orchestrator  *Orchestrator
	Notifications *NotificationAggregator

	journal  Journal
	logger   *logrus.Logger
	settings config.ReconcileSettings
}

func NewService(opts Options) (*Service, error) {
	if opts.Provider == nil {
		return nil, errors.New("reconcile: provider is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("reconcile: catalog store is required")
	}
	if opts.Settings == (config.ReconcileSettings{}) {
		opts.Settings = config.DefaultReconcileSettings()
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = config.GetLogger()
	}

	errs := NewErrorLog(opts.Journal, opts.Logger)
	ledger := NewInventoryLedger(opts.Journal, opts.Logger)
	conflicts := NewConflictRegister(opts.Catalog, opts.Settings.PriceTolerance, opts.Journal, opts.Logger)
	health := NewHealthMonitor(opts.Settings.HealthWindow)
	// resolutions and passes write the same products
	products := newKeyedLocks()
	conflicts.products = products

	return &Service{
		Errors:        errs,
		Ledger:        ledger,
		Conflicts:     conflicts,
		Health:        health,
		Orchestrator:  newOrchestrator(opts, errs, ledger, conflicts, health, products),
		Notifications: NewNotificationAggregator(errs, ledger, conflicts, health),
		journal:       opts.Journal,
		logger:        opts.Logger,
		settings:      opts.Settings,
	}, nil
}

// Restore replays journaled records and remembered accept-local decisions. Call it once before serving.
func (s *Service) Restore(ctx context.Context) error {
	if reader, ok := s.journal.(JournalReader); ok {
		errs, err := reader.LoadErrors(ctx)
		if err != nil {
			return fmt.Errorf("load sync errors: %w", err)
		}
		s.Errors.restore(errs)

		changes, err := reader.LoadChanges(ctx)
		if err != nil {
			return fmt.Errorf("load inventory changes: %w", err)
		}
		s.Ledger.restore(changes)

		conflicts, err := reader.LoadConflicts(ctx)
		if err != nil {
			return fmt.Errorf("load data conflicts: %w", err)
		}
		s.Conflicts.restore(conflicts)

		runs, err := reader.LoadRuns(ctx, s.settings.RunHistory)
		if err != nil {
			return fmt.Errorf("load sync runs: %w", err)
		}
		s.Orchestrator.restoreRuns(runs)

		conn, err := reader.LoadConnection(ctx)
		if err != nil {
			return fmt.Errorf("load connection state: %w", err)
		}
		s.Health.restore(conn)

		s.logger.WithFields(logrus.Fields{
			"errors":    len(errs),
			"changes":   len(changes),
			"conflicts": len(conflicts),
			"runs":      len(runs),
		}).Info("reconcile state restored")
	}
	if err := s.Conflicts.LoadAcceptances(ctx); err != nil {
		return fmt.Errorf("load override acceptances: %w", err)
	}
	return nil
}

// StatusReport is the connection singleton plus the counts an operator needs at a glance.
type StatusReport struct {
	Connection         models.SyncConnection `json:"connection"`
	LastRun            *models.SyncRun       `json:"lastRun,omitempty"`
	UnresolvedErrors   int                   `json:"unresolvedErrors"`
	UnprocessedChanges int                   `json:"unprocessedChanges"`
	PendingConflicts   int                   `json:"pendingConflicts"`
}

func (s *Service) GetSyncStatus() StatusReport {
	unresolved, unprocessed := false, false
	report := StatusReport{
		Connection:         s.Health.Snapshot(),
		UnresolvedErrors:   len(s.Errors.List(ErrorFilter{Resolved: &unresolved})),
		UnprocessedChanges: len(s.Ledger.List(ChangeFilter{Processed: &unprocessed})),
		PendingConflicts:   len(s.Conflicts.List(ConflictFilter{Resolution: models.ResolutionPending})),
	}
	if runs := s.Orchestrator.ListRuns(1); len(runs) > 0 {
		report.LastRun = &runs[0]
	}
	return report
}

func (s *Service) ListErrors(filter ErrorFilter) []models.SyncError {
	return s.Errors.List(filter)
}

func (s *Service) MarkErrorResolved(ctx context.Context, id string) error {
	return s.Errors.MarkResolved(ctx, id)
}

func (s *Service) ListInventoryChanges(filter ChangeFilter) []models.InventoryChange {
	return s.Ledger.List(filter)
}

func (s *Service) MarkInventoryChangeProcessed(ctx context.Context, id string) error {
	return s.Ledger.MarkProcessed(ctx, id)
}

func (s *Service) ListConflicts(filter ConflictFilter) []models.DataConflict {
	return s.Conflicts.List(filter)
}

func (s *Service) ResolveConflict(ctx context.Context, id string, choice models.ResolutionChoice) (models.DataConflict, error) {
	return s.Conflicts.Resolve(ctx, id, choice)
}

func (s *Service) RunSync(ctx context.Context, scope string, trigger models.SyncTrigger) (models.SyncRun, error) {
	return s.Orchestrator.RunSync(ctx, scope, trigger)
}

func (s *Service) StartSync(ctx context.Context, scope string, trigger models.SyncTrigger) (models.SyncRun, error) {
	return s.Orchestrator.Start(ctx, scope, trigger)
}

func (s *Service) GetSyncRun(id string) (models.SyncRun, error) {
	run, ok := s.Orchestrator.GetRun(id)
	if !ok {
		return models.SyncRun{}, ErrNotFound
	}
	return run, nil
}

func (s *Service) ListSyncRuns(limit int) []models.SyncRun {
	return s.Orchestrator.ListRuns(limit)
}

func (s *Service) ListNotifications() []models.Notification {
	return s.Notifications.List()
}

func (s *Service) MarkNotificationRead(id string) error {
	return s.Notifications.MarkRead(id)
}

func (s *Service) Heartbeat(ctx context.Context) error {
	return s.Orchestrator.Heartbeat(ctx)
}
