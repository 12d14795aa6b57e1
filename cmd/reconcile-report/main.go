// reconcile-report exports the reconciliation audit trail (errors, inventory changes,
// conflicts and sync runs) as an xlsx workbook.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/reconcile-report --out report.xlsx
//   GCS_BUCKET=... go run ./cmd/reconcile-report --upload
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/catalog_sync/config"
	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/mmdatafocus/catalog_sync/reconcile"
	"github.com/mmdatafocus/catalog_sync/utils"
)

func main() {
	out := flag.String("out", "", "Optional: write the workbook to this path")
	upload := flag.Bool("upload", false, "Upload the workbook to GCS_BUCKET under reports/")
	runs := flag.Int("runs", 200, "Number of most recent sync runs to include")
	flag.Parse()

	if strings.TrimSpace(*out) == "" && !*upload {
		fmt.Fprintln(os.Stderr, "either --out or --upload is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	journal := models.NewGormJournal(db)

	data, err := loadReportData(ctx, journal, *runs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load records: %v\n", err)
		os.Exit(1)
	}
	workbook, err := reconcile.ReportBytes(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build workbook: %v\n", err)
		os.Exit(1)
	}

	if path := strings.TrimSpace(*out); path != "" {
		if err := os.WriteFile(path, workbook, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s (%d errors, %d changes, %d conflicts, %d runs)\n",
			path, len(data.Errors), len(data.Changes), len(data.Conflicts), len(data.Runs))
	}
	if *upload {
		name := fmt.Sprintf("reports/reconcile-report-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
		location, err := utils.UploadBytesToGCS(ctx, name, workbook, utils.XlsxContentType)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to upload: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(location)
	}
}

// loadReportData reads the journal newest first, the same order the API lists records in.
func loadReportData(ctx context.Context, journal reconcile.JournalReader, runLimit int) (reconcile.ReportData, error) {
	var data reconcile.ReportData
	var err error
	if data.Errors, err = journal.LoadErrors(ctx); err != nil {
		return data, err
	}
	if data.Changes, err = journal.LoadChanges(ctx); err != nil {
		return data, err
	}
	if data.Conflicts, err = journal.LoadConflicts(ctx); err != nil {
		return data, err
	}
	if data.Runs, err = journal.LoadRuns(ctx, runLimit); err != nil {
		return data, err
	}
	reverse(data.Errors)
	reverse(data.Changes)
	reverse(data.Conflicts)
	reverse(data.Runs)
	return data, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
