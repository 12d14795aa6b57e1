package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/catalog_sync/config"
	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/mmdatafocus/catalog_sync/utils"
	"github.com/sirupsen/logrus"
)

type ErrorInput struct {
	Type      models.SyncErrorType
	Severity  models.Severity
	Message   string
	Details   string
	ProductID string
}

type ErrorFilter struct {
	Type      models.SyncErrorType
	Severity  models.Severity
	Resolved  *bool
	RunID     string
	ProductID string
}

func (f ErrorFilter) match(e models.SyncError) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Resolved != nil && e.Resolved != *f.Resolved {
		return false
	}
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.ProductID != "" && e.ProductID != f.ProductID {
		return false
	}
	return true
}

// ErrorLog is the append-only record of classified sync failures.
type ErrorLog struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	entries []models.SyncError
	index   map[string]int

	journal Journal
	logger  *logrus.Logger
	now     func() time.Time
}

func NewErrorLog(journal Journal, logger *logrus.Logger) *ErrorLog {
	return &ErrorLog{
		index:   make(map[string]int),
		journal: journal,
		logger:  logger,
		now:     time.Now,
	}
}

// Record appends a new unresolved error. It always succeeds; a failed durable write is only logged.
func (l *ErrorLog) Record(ctx context.Context, in ErrorInput) models.SyncError {
	if !in.Severity.IsValid() {
		in.Severity = models.SeverityMedium
	}
	runID, _ := utils.GetRunIdFromContext(ctx)
	rec := models.SyncError{
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC(),
		Type:      in.Type,
		Severity:  in.Severity,
		Message:   in.Message,
		Details:   in.Details,
		RunID:     runID,
		ProductID: in.ProductID,
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	l.index[rec.ID] = len(l.entries)
	l.entries = append(l.entries, rec)
	l.mu.Unlock()

	if l.journal != nil {
		if err := l.journal.SaveError(ctx, rec); err != nil {
			config.LogError(l.logger, "reconcile", "ErrorLog.Record", "journal", rec.ID, err)
		}
	}
	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"run_id":     rec.RunID,
			"type":       rec.Type,
			"severity":   rec.Severity,
			"product_id": rec.ProductID,
		}).Warn(rec.Message)
	}
	return rec
}

// List returns matching errors, newest first.
func (l *ErrorLog) List(filter ErrorFilter) []models.SyncError {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.SyncError, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		if filter.match(l.entries[i]) {
			out = append(out, l.entries[i])
		}
	}
	return out
}

func (l *ErrorLog) Get(id string) (models.SyncError, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return models.SyncError{}, false
	}
	return l.entries[i], true
}

// MarkResolved acknowledges an error. Acknowledging twice is a no-op.
func (l *ErrorLog) MarkResolved(ctx context.Context, id string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	i, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return ErrNotFound
	}
	if l.entries[i].Resolved {
		l.mu.Unlock()
		return nil
	}
	now := l.now().UTC()
	l.entries[i].Resolved = true
	l.entries[i].ResolvedAt = &now
	l.entries[i].ResolvedBy = utils.OperatorOrSystem(ctx)
	rec := l.entries[i]
	l.mu.Unlock()

	if l.journal != nil {
		if err := l.journal.SaveError(ctx, rec); err != nil {
			config.LogError(l.logger, "reconcile", "ErrorLog.MarkResolved", "journal", rec.ID, err)
		}
	}
	return nil
}

func (l *ErrorLog) restore(recs []models.SyncError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range recs {
		if _, ok := l.index[rec.ID]; ok {
			continue
		}
		l.index[rec.ID] = len(l.entries)
		l.entries = append(l.entries, rec)
	}
}

// SeverityFor maps an error type to the severity the orchestrator records.
// Connection failures escalate to critical once criticalAfter consecutive failures have been seen.
func SeverityFor(t models.SyncErrorType, consecutiveConnectionFailures, criticalAfter int) models.Severity {
	switch t {
	case models.SyncErrorTypeConnection:
		if criticalAfter > 0 && consecutiveConnectionFailures >= criticalAfter {
			return models.SeverityCritical
		}
		return models.SeverityHigh
	case models.SyncErrorTypeData, models.SyncErrorTypeValidation, models.SyncErrorTypeInventory, models.SyncErrorTypeWebhook:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
