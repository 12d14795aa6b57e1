package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const providerPageSize = 200

// HTTPProvider talks to the fulfillment provider's REST catalog API.
type HTTPProvider struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   *rate.Limiter
}

func NewHTTPProvider(baseURL, apiKey, apiKeyHeader string, ratePerMin int) (*HTTPProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("provider api key is empty")
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("provider base url is empty")
	}
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	if ratePerMin <= 0 {
		ratePerMin = 60
	}
	return &HTTPProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMin)), 1),
	}, nil
}

// NewHTTPProviderFromEnv reads PROVIDER_API_BASE_URL, PROVIDER_API_KEY, PROVIDER_API_KEY_HEADER
// and PROVIDER_RATE_LIMIT_PER_MIN.
func NewHTTPProviderFromEnv() (*HTTPProvider, error) {
	ratePerMin := 60
	if v := strings.TrimSpace(os.Getenv("PROVIDER_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ratePerMin = n
		}
	}
	return NewHTTPProvider(
		strings.TrimSpace(os.Getenv("PROVIDER_API_BASE_URL")),
		strings.TrimSpace(os.Getenv("PROVIDER_API_KEY")),
		strings.TrimSpace(os.Getenv("PROVIDER_API_KEY_HEADER")),
		ratePerMin,
	)
}

type providerListResponse struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

type providerVariant struct {
	ProductID string      `json:"product_id"`
	VariantID string      `json:"variant_id"`
	SKU       string      `json:"sku"`
	Stock     json.Number `json:"stock"`
	Price     json.Number `json:"price"`
	Available bool        `json:"available"`
}

func (v providerVariant) toSnapshot() (models.ProviderSnapshot, error) {
	snap := models.ProviderSnapshot{
		ProductID: strings.TrimSpace(v.ProductID),
		VariantID: strings.TrimSpace(v.VariantID),
		SKU:       strings.TrimSpace(v.SKU),
	}
	snap.Values.Available = v.Available
	if v.Stock != "" {
		n, err := v.Stock.Int64()
		if err != nil {
			return snap, fmt.Errorf("variant %s stock %q: %w", snap.VariantID, v.Stock, err)
		}
		snap.Values.Stock = int(n)
	}
	if v.Price != "" {
		d, err := decimal.NewFromString(v.Price.String())
		if err != nil {
			return snap, fmt.Errorf("variant %s price %q: %w", snap.VariantID, v.Price, err)
		}
		snap.Values.Price = d
	}
	return snap, nil
}

// FetchCatalogState pages through /v1/catalog. Cancellation is checked at every page boundary.
func (c *HTTPProvider) FetchCatalogState(ctx context.Context, scope string) ([]models.ProviderSnapshot, error) {
	var out []models.ProviderSnapshot
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		params := url.Values{}
		if scope != "" && scope != models.ScopeAll {
			params.Set("product_id", scope)
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		params.Set("limit", strconv.Itoa(providerPageSize))

		resp, err := c.getList(ctx, "/v1/catalog", params)
		if err != nil {
			return nil, err
		}

		items := resp.Data
		if len(items) == 0 {
			items = resp.Items
		}
		for _, raw := range items {
			var v providerVariant
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("decode catalog item: %w", err)
			}
			snap, err := v.toSnapshot()
			if err != nil {
				return nil, err
			}
			out = append(out, snap)
		}

		if resp.NextCursor == "" || (resp.HasMore != nil && !*resp.HasMore) {
			return out, nil
		}
		cursor = resp.NextCursor
	}
}

func (c *HTTPProvider) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "ping", "/v1/ping", nil)
	return err
}

func (c *HTTPProvider) getList(ctx context.Context, path string, params url.Values) (providerListResponse, error) {
	body, err := c.do(ctx, "fetch catalog", path, params)
	if err != nil {
		return providerListResponse{}, err
	}
	var parsed providerListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return providerListResponse{}, fmt.Errorf("decode catalog page: %w", err)
	}
	return parsed, nil
}

func (c *HTTPProvider) do(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ConnectionError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}
	return body, nil
}
