package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/catalog_sync/models"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r.Group("/api/reconcile"), svc)
	r.POST("/pubsub/reconcile-sync", PubSubPushHandler(svc))
	return r
}

func doRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func seededService(t *testing.T) *Service {
	t.Helper()
	catalog := NewMemoryCatalog()
	catalog.AddProduct("p1", variant("v1", vals(25, "24.99", true), vals(25, "29.99", true)))
	provider := &fakeProvider{}
	provider.set(snap("p1", "v1", 0, "24.99", true))
	svc := newTestService(t, provider, catalog, nil)
	if _, err := svc.RunSync(context.Background(), models.ScopeAll, models.SyncTriggerManual); err != nil {
		t.Fatalf("RunSync error: %v", err)
	}
	return svc
}

func TestHandlers_StatusAndLists(t *testing.T) {
	svc := seededService(t)
	r := newTestRouter(svc)

	w := doRequest(r, http.MethodGet, "/api/reconcile/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w.Code)
	}
	var status StatusReport
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.PendingConflicts != 1 || status.LastRun == nil || status.Connection.LastSyncStatus != models.SyncStatusSuccess {
		t.Fatalf("unexpected status: %+v", status)
	}

	cases := []struct {
		path string
		code int
	}{
		{"/api/reconcile/errors", http.StatusOK},
		{"/api/reconcile/errors?severity=huge", http.StatusBadRequest},
		{"/api/reconcile/errors?resolved=maybe", http.StatusBadRequest},
		{"/api/reconcile/changes?processed=true", http.StatusOK},
		{"/api/reconcile/changes?change_type=restock", http.StatusBadRequest},
		{"/api/reconcile/conflicts?resolution=pending", http.StatusOK},
		{"/api/reconcile/conflicts?conflict_type=weird", http.StatusBadRequest},
		{"/api/reconcile/sync-runs?limit=5", http.StatusOK},
		{"/api/reconcile/sync-runs/unknown", http.StatusNotFound},
		{"/api/reconcile/notifications", http.StatusOK},
	}
	for _, tc := range cases {
		if w := doRequest(r, http.MethodGet, tc.path, nil); w.Code != tc.code {
			t.Fatalf("GET %s: expected %d, got %d (%s)", tc.path, tc.code, w.Code, w.Body.String())
		}
	}

	w = doRequest(r, http.MethodGet, "/api/reconcile/changes?processed=true", nil)
	var changes ListResponse[models.InventoryChange]
	if err := json.Unmarshal(w.Body.Bytes(), &changes); err != nil {
		t.Fatalf("decode changes: %v", err)
	}
	if len(changes.Items) != 1 || changes.Items[0].ChangeType != models.ChangeTypeStockUpdate {
		t.Fatalf("expected the processed stock update, got %+v", changes.Items)
	}
}

func TestHandlers_ResolveConflict(t *testing.T) {
	svc := seededService(t)
	r := newTestRouter(svc)
	id := svc.ListConflicts(ConflictFilter{})[0].ID
	path := "/api/reconcile/conflicts/" + id + "/resolve"

	if w := doRequest(r, http.MethodPost, path, map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing resolution: expected 400, got %d", w.Code)
	}
	if w := doRequest(r, http.MethodPost, path, map[string]string{"resolution": "shrug"}); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid resolution: expected 400, got %d", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/reconcile/conflicts/nope/resolve", map[string]string{"resolution": "manual"}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown conflict: expected 404, got %d", w.Code)
	}

	w := doRequest(r, http.MethodPost, path, map[string]string{"resolution": "accept_local"})
	if w.Code != http.StatusOK {
		t.Fatalf("accept_local: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var rec models.DataConflict
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode conflict: %v", err)
	}
	if rec.Resolution != models.ResolutionResolved {
		t.Fatalf("expected resolved, got %s", rec.Resolution)
	}
	if w := doRequest(r, http.MethodPost, path, map[string]string{"resolution": "accept_provider"}); w.Code != http.StatusConflict {
		t.Fatalf("second resolve: expected 409, got %d", w.Code)
	}
}

func TestHandlers_ErrorsAndChangesMutations(t *testing.T) {
	svc := seededService(t)
	r := newTestRouter(svc)

	if w := doRequest(r, http.MethodPost, "/api/reconcile/errors/missing/resolve", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/reconcile/changes/missing/process", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	change := svc.ListInventoryChanges(ChangeFilter{})[0]
	if w := doRequest(r, http.MethodPost, "/api/reconcile/changes/"+change.ID+"/process", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/reconcile/notifications/none:0/read", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandlers_TriggerSync(t *testing.T) {
	svc := seededService(t)
	r := newTestRouter(svc)

	if w := doRequest(r, http.MethodPost, "/api/reconcile/sync", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing scope: expected 400, got %d", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/reconcile/sync", map[string]string{"scope": "  "}); w.Code != http.StatusBadRequest {
		t.Fatalf("blank scope: expected 400, got %d", w.Code)
	}

	w := doRequest(r, http.MethodPost, "/api/reconcile/sync", map[string]string{"scope": "p1"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", w.Code, w.Body.String())
	}
	var run models.SyncRun
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.ID == "" || run.Scope != "p1" {
		t.Fatalf("unexpected run: %+v", run)
	}
	final := waitForRun(t, svc, run.ID)

	w = doRequest(r, http.MethodGet, "/api/reconcile/sync-runs/"+final.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run detail: expected 200, got %d", w.Code)
	}
	var detail SyncRunDetailResponse
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.ID != final.ID || detail.Status != final.Status {
		t.Fatalf("unexpected detail: %+v", detail)
	}
}

func TestHandlers_Report(t *testing.T) {
	svc := seededService(t)
	r := newTestRouter(svc)

	w := doRequest(r, http.MethodGet, "/api/reconcile/report.xlsx", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected an xlsx (zip) body")
	}
}

func TestPubSubPushHandler_Guarded(t *testing.T) {
	svc := seededService(t)
	r := newTestRouter(svc)
	before := len(svc.ListSyncRuns(0))
	payload, _ := json.Marshal(SyncRequestPayload{Scope: "p1"})
	var env PubSubPushEnvelope
	env.Message.Data = payload
	env.Subscription = "projects/demo/subscriptions/other"

	t.Setenv("ENABLE_RECONCILE_PUBSUB_PUSH_ENDPOINT", "")
	t.Setenv("RECONCILE_PUSH_TOKEN", "s3cret")
	if w := doRequest(r, http.MethodPost, "/pubsub/reconcile-sync?token=s3cret", env); w.Code != http.StatusNoContent {
		t.Fatalf("disabled endpoint: expected 204, got %d", w.Code)
	}

	t.Setenv("ENABLE_RECONCILE_PUBSUB_PUSH_ENDPOINT", "true")
	for _, path := range []string{"/pubsub/reconcile-sync", "/pubsub/reconcile-sync?token=wrong"} {
		if w := doRequest(r, http.MethodPost, path, env); w.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, w.Code)
		}
	}

	t.Setenv("RECONCILE_PUSH_SUBSCRIPTION", "projects/demo/subscriptions/reconcile")
	if w := doRequest(r, http.MethodPost, "/pubsub/reconcile-sync?token=s3cret", env); w.Code != http.StatusNoContent {
		t.Fatalf("foreign subscription: expected 204, got %d", w.Code)
	}
	if n := len(svc.ListSyncRuns(0)); n != before {
		t.Fatalf("rejected pushes must not start a run, got %d runs", n)
	}

	t.Setenv("RECONCILE_PUSH_TOKEN", "")
	env.Subscription = "projects/demo/subscriptions/reconcile"
	if w := doRequest(r, http.MethodPost, "/pubsub/reconcile-sync?token=", env); w.Code != http.StatusForbidden {
		t.Fatalf("no configured token: expected 403, got %d", w.Code)
	}
}

func TestPubSubPushHandler(t *testing.T) {
	t.Setenv("ENABLE_RECONCILE_PUBSUB_PUSH_ENDPOINT", "true")
	t.Setenv("RECONCILE_PUSH_TOKEN", "s3cret")
	t.Setenv("RECONCILE_PUSH_SUBSCRIPTION", "")
	svc := seededService(t)
	r := newTestRouter(svc)
	before := len(svc.ListSyncRuns(0))

	if w := doRequest(r, http.MethodPost, "/pubsub/reconcile-sync?token=s3cret", map[string]any{"message": "nope"}); w.Code != http.StatusNoContent {
		t.Fatalf("malformed envelope: expected 204, got %d", w.Code)
	}
	if n := len(svc.ListSyncRuns(0)); n != before {
		t.Fatalf("malformed envelope must not start a run")
	}

	payload, _ := json.Marshal(SyncRequestPayload{Scope: "p1", CorrelationId: "cid-1"})
	var env PubSubPushEnvelope
	env.Message.Data = payload
	env.Message.ID = "m-1"
	if w := doRequest(r, http.MethodPost, "/pubsub/reconcile-sync?token=s3cret", env); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	runs := svc.ListSyncRuns(1)
	if len(runs) != 1 || runs[0].Trigger != models.SyncTriggerPubSub || runs[0].Scope != "p1" {
		t.Fatalf("expected a finished pubsub run for p1, got %+v", runs)
	}
	if !runs[0].Status.IsTerminal() {
		t.Fatalf("push handler runs synchronously, got %s", runs[0].Status)
	}
}
