package reconcile

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/xuri/excelize/v2"
)

const (
	reportSheetErrors    = "Errors"
	reportSheetChanges   = "Inventory Changes"
	reportSheetConflicts = "Conflicts"
	reportSheetRuns      = "Sync Runs"
)

// ReportData is what the audit workbook is built from.
type ReportData struct {
	Errors    []models.SyncError
	Changes   []models.InventoryChange
	Conflicts []models.DataConflict
	Runs      []models.SyncRun
}

func (s *Service) ReportData() ReportData {
	return ReportData{
		Errors:    s.Errors.List(ErrorFilter{}),
		Changes:   s.Ledger.List(ChangeFilter{}),
		Conflicts: s.Conflicts.List(ConflictFilter{}),
		Runs:      s.Orchestrator.ListRuns(0),
	}
}

// BuildReport writes one sheet per record kind.
func BuildReport(data ReportData) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", reportSheetErrors); err != nil {
		return nil, err
	}
	for _, name := range []string{reportSheetChanges, reportSheetConflicts, reportSheetRuns} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	errRows := make([][]interface{}, 0, len(data.Errors))
	for _, e := range data.Errors {
		errRows = append(errRows, []interface{}{
			e.ID, formatCellTime(&e.Timestamp), string(e.Type), string(e.Severity), e.Message, e.Details,
			e.ProductID, e.RunID, e.Resolved, e.ResolvedBy, formatCellTime(e.ResolvedAt),
		})
	}
	if err := writeSheet(f, reportSheetErrors, []string{
		"ID", "Timestamp", "Type", "Severity", "Message", "Details", "Product", "Run", "Resolved", "Resolved By", "Resolved At",
	}, errRows); err != nil {
		return nil, err
	}

	changeRows := make([][]interface{}, 0, len(data.Changes))
	for _, c := range data.Changes {
		changeRows = append(changeRows, []interface{}{
			c.ID, formatCellTime(&c.Timestamp), c.ProductID, c.VariantID, string(c.ChangeType),
			formatCellValue(c.OldValue), formatCellValue(c.NewValue), c.Processed, c.RunID,
		})
	}
	if err := writeSheet(f, reportSheetChanges, []string{
		"ID", "Timestamp", "Product", "Variant", "Change", "Old Value", "New Value", "Processed", "Run",
	}, changeRows); err != nil {
		return nil, err
	}

	conflictRows := make([][]interface{}, 0, len(data.Conflicts))
	for _, c := range data.Conflicts {
		conflictRows = append(conflictRows, []interface{}{
			c.ID, formatCellTime(&c.Timestamp), c.ProductID, c.VariantID, string(c.ConflictType),
			formatCellValue(map[string]interface{}(c.ProviderSnapshot)), formatCellValue(map[string]interface{}(c.LocalSnapshot)),
			string(c.Resolution), c.AutoResolutionNote, c.ResolvedBy, c.RunID,
		})
	}
	if err := writeSheet(f, reportSheetConflicts, []string{
		"ID", "Timestamp", "Product", "Variant", "Conflict", "Provider", "Local", "Resolution", "Note", "Resolved By", "Run",
	}, conflictRows); err != nil {
		return nil, err
	}

	runRows := make([][]interface{}, 0, len(data.Runs))
	for _, r := range data.Runs {
		runRows = append(runRows, []interface{}{
			r.ID, r.Scope, string(r.Trigger), string(r.Status), formatCellTime(r.StartedAt), formatCellTime(r.FinishedAt),
			r.DurationMs, r.VariantCount, r.ChangeCount, r.ConflictCount, r.ErrorCount, r.Cancelled, r.FailureReason,
		})
	}
	if err := writeSheet(f, reportSheetRuns, []string{
		"ID", "Scope", "Trigger", "Status", "Started", "Finished", "Duration ms", "Variants", "Changes", "Conflicts", "Errors", "Cancelled", "Failure",
	}, runRows); err != nil {
		return nil, err
	}

	f.SetActiveSheet(0)
	return f, nil
}

// ReportBytes renders the workbook into memory.
func ReportBytes(data ReportData) ([]byte, error) {
	f, err := BuildReport(data)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, headings []string, rows [][]interface{}) error {
	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func formatCellTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatCellValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case map[string]interface{}:
		return fmt.Sprintf("%v", t)
	default:
		return normalizeBagValue(t)
	}
}
