package reconcile

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/catalog_sync/config"
	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/mmdatafocus/catalog_sync/utils"
)

type TriggerSyncRequest struct {
	Scope string `json:"scope" binding:"required"`
}

type ResolveConflictRequest struct {
	Resolution models.ResolutionChoice `json:"resolution" binding:"required"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
}

// RegisterRoutes mounts the operator API on r.
func RegisterRoutes(r gin.IRouter, svc *Service) {
	r.GET("/status", StatusHandler(svc))
	r.GET("/errors", ListErrorsHandler(svc))
	r.POST("/errors/:id/resolve", ResolveErrorHandler(svc))
	r.GET("/changes", ListChangesHandler(svc))
	r.POST("/changes/:id/process", ProcessChangeHandler(svc))
	r.GET("/conflicts", ListConflictsHandler(svc))
	r.POST("/conflicts/:id/resolve", ResolveConflictHandler(svc))
	r.POST("/sync", TriggerSyncHandler(svc))
	r.GET("/sync-runs", SyncHistoryHandler(svc))
	r.GET("/sync-runs/:id", SyncRunDetailHandler(svc))
	r.GET("/notifications", ListNotificationsHandler(svc))
	r.POST("/notifications/:id/read", MarkNotificationReadHandler(svc))
	r.GET("/report.xlsx", ReportHandler(svc))
}

func StatusHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.GetSyncStatus())
	}
}

func ListErrorsHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := ErrorFilter{
			Type:      models.SyncErrorType(strings.TrimSpace(c.Query("type"))),
			Severity:  models.Severity(strings.TrimSpace(c.Query("severity"))),
			RunID:     strings.TrimSpace(c.Query("run_id")),
			ProductID: strings.TrimSpace(c.Query("product_id")),
		}
		if filter.Type != "" && !filter.Type.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid type"})
			return
		}
		if filter.Severity != "" && !filter.Severity.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity"})
			return
		}
		resolved, err := queryBool(c, "resolved")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resolved"})
			return
		}
		filter.Resolved = resolved
		c.JSON(http.StatusOK, ListResponse[models.SyncError]{Items: svc.ListErrors(filter)})
	}
}

func ResolveErrorHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.MarkErrorResolved(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		rec, _ := svc.Errors.Get(c.Param("id"))
		c.JSON(http.StatusOK, rec)
	}
}

func ListChangesHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := ChangeFilter{
			ProductID:  strings.TrimSpace(c.Query("product_id")),
			ChangeType: models.ChangeType(strings.TrimSpace(c.Query("change_type"))),
			RunID:      strings.TrimSpace(c.Query("run_id")),
		}
		if filter.ChangeType != "" && !filter.ChangeType.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid change_type"})
			return
		}
		processed, err := queryBool(c, "processed")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid processed"})
			return
		}
		filter.Processed = processed
		c.JSON(http.StatusOK, ListResponse[models.InventoryChange]{Items: svc.ListInventoryChanges(filter)})
	}
}

func ProcessChangeHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.MarkInventoryChangeProcessed(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		rec, _ := svc.Ledger.Get(c.Param("id"))
		c.JSON(http.StatusOK, rec)
	}
}

func ListConflictsHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := ConflictFilter{
			ProductID:    strings.TrimSpace(c.Query("product_id")),
			ConflictType: models.ConflictType(strings.TrimSpace(c.Query("conflict_type"))),
			Resolution:   models.Resolution(strings.TrimSpace(c.Query("resolution"))),
			RunID:        strings.TrimSpace(c.Query("run_id")),
		}
		if filter.ConflictType != "" && !filter.ConflictType.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict_type"})
			return
		}
		if filter.Resolution != "" && !filter.Resolution.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resolution"})
			return
		}
		c.JSON(http.StatusOK, ListResponse[models.DataConflict]{Items: svc.ListConflicts(filter)})
	}
}

func ResolveConflictHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResolveConflictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		rec, err := svc.ResolveConflict(c.Request.Context(), c.Param("id"), req.Resolution)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// TriggerSyncHandler queues a pass and answers with the pending run. With RECONCILE_SYNC_VIA_PUBSUB
// the request is published instead so any instance can pick it up.
func TriggerSyncHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scope is required"})
			return
		}

		if config.EnvBoolDefault("RECONCILE_SYNC_VIA_PUBSUB", false) {
			if err := PublishSyncRequest(c.Request.Context(), req.Scope); err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"queued": true, "scope": strings.TrimSpace(req.Scope)})
			return
		}

		run, err := svc.StartSync(c.Request.Context(), req.Scope, models.SyncTriggerManual)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, run)
	}
}

func SyncHistoryHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		c.JSON(http.StatusOK, ListResponse[models.SyncRun]{Items: svc.ListSyncRuns(limit)})
	}
}

type SyncRunDetailResponse struct {
	models.SyncRun
	Errors    []models.SyncError       `json:"errors"`
	Changes   []models.InventoryChange `json:"changes"`
	Conflicts []models.DataConflict    `json:"conflicts"`
}

func SyncRunDetailHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := svc.GetSyncRun(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRun:   run,
			Errors:    svc.ListErrors(ErrorFilter{RunID: run.ID}),
			Changes:   svc.ListInventoryChanges(ChangeFilter{RunID: run.ID}),
			Conflicts: svc.ListConflicts(ConflictFilter{RunID: run.ID}),
		})
	}
}

func ListNotificationsHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, ListResponse[models.Notification]{Items: svc.ListNotifications()})
	}
}

func MarkNotificationReadHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.MarkNotificationRead(c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// ReportHandler streams the audit workbook, or stores it in GCS_BUCKET when upload=true.
func ReportHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := ReportBytes(svc.ReportData())
		if err != nil {
			writeError(c, err)
			return
		}

		filename := fmt.Sprintf("reconcile-report-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
		if upload, _ := queryBool(c, "upload"); upload != nil && *upload {
			location, err := utils.UploadBytesToGCS(c.Request.Context(), "reports/"+filename, data, utils.XlsxContentType)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"location": location})
			return
		}

		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Data(http.StatusOK, utils.XlsxContentType, data)
	}
}

func queryBool(c *gin.Context, key string) (*bool, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrAlreadyInReview), errors.Is(err, ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidScope), errors.Is(err, ErrInvalidResolution):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrProductNotFound):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case IsConnectionError(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
