package reconcile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mmdatafocus/catalog_sync/models"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewHTTPProvider(srv.URL+"/", "secret", "", 6000)
	if err != nil {
		t.Fatalf("NewHTTPProvider error: %v", err)
	}
	return p
}

func TestHTTPProvider_FetchCatalogStatePaginates(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/v1/catalog" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		mu.Lock()
		seen = append(seen, r.URL.RawQuery)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("cursor") {
		case "":
			w.Write([]byte(`{"data":[{"product_id":"p1","variant_id":"v1","sku":"A-1","stock":25,"price":"29.99","available":true}],"next_cursor":"c2","has_more":true}`))
		default:
			w.Write([]byte(`{"items":[{"product_id":"p1","variant_id":"v2","stock":0,"price":24.5,"available":false}],"next_cursor":"","has_more":false}`))
		}
	})

	snaps, err := p.FetchCatalogState(context.Background(), "p1")
	if err != nil {
		t.Fatalf("FetchCatalogState error: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots over 2 pages, got %d", len(snaps))
	}
	first := snaps[0]
	if first.SKU != "A-1" || first.Values.Stock != 25 || !first.Values.Price.Equal(dec("29.99")) || !first.Values.Available {
		t.Fatalf("unexpected first snapshot: %+v", first)
	}
	if !snaps[1].Values.Price.Equal(dec("24.5")) || snaps[1].Values.Available {
		t.Fatalf("unexpected second snapshot: %+v", snaps[1])
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 requests, got %v", seen)
	}
	if seen[0] != "limit=200&product_id=p1" || seen[1] != "cursor=c2&limit=200&product_id=p1" {
		t.Fatalf("unexpected queries: %v", seen)
	}
}

func TestHTTPProvider_AllScopeOmitsProductFilter(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("product_id") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	})
	snaps, err := p.FetchCatalogState(context.Background(), models.ScopeAll)
	if err != nil || len(snaps) != 0 {
		t.Fatalf("expected empty catalog, got %v (%v)", snaps, err)
	}
}

func TestHTTPProvider_ErrorClassification(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		connection bool
	}{
		{"server error", http.StatusServiceUnavailable, "down", true},
		{"auth error", http.StatusUnauthorized, "bad key", true},
		{"malformed page", http.StatusOK, "{not json", false},
		{"malformed number", http.StatusOK, `{"data":[{"product_id":"p","variant_id":"v","stock":1.5,"price":"1"}]}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			_, err := p.FetchCatalogState(context.Background(), models.ScopeAll)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if IsConnectionError(err) != tc.connection {
				t.Fatalf("expected connection=%v, got %v", tc.connection, err)
			}
			var ce *ConnectionError
			if tc.connection && (!errors.As(err, &ce) || ce.StatusCode != tc.status) {
				t.Fatalf("expected status %d on the connection error, got %v", tc.status, err)
			}
		})
	}
}

func TestHTTPProvider_CancelledContext(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.FetchCatalogState(ctx, models.ScopeAll); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHTTPProvider_Ping(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
}

func TestNewHTTPProvider_RequiresKeyAndURL(t *testing.T) {
	if _, err := NewHTTPProvider("http://provider", "", "", 0); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := NewHTTPProvider("", "key", "", 0); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
