package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/guregu/null/v6"
	"github.com/krobus00/crypto-catalog-service/internal/config"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
	"github.com/krobus00/crypto-catalog-service/internal/service/catalog"
	"github.com/krobus00/crypto-catalog-service/internal/service/locker"
	"github.com/krobus00/crypto-catalog-service/internal/service/refresh"
	"github.com/krobus00/crypto-catalog-service/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	store    *testutil.AssetStore
	cache    *testutil.AssetCache
	provider *testutil.MetadataProvider
	router   *mux.Router
}

func newHandlerFixture(t *testing.T, refreshService RefreshService) *handlerFixture {
	t.Helper()

	f := &handlerFixture{
		store:    testutil.NewAssetStore(),
		cache:    testutil.NewAssetCache(),
		provider: testutil.NewMetadataProvider(),
		router:   mux.NewRouter(),
	}

	symbolLocker := locker.NewLocalSymbolLocker()
	catalogService := catalog.NewCatalogService(f.store, f.cache, f.provider, symbolLocker)
	if refreshService == nil {
		refreshService = refresh.NewRefreshService(f.store, f.cache, f.provider, symbolLocker, nil, config.RefreshConfig{}, config.NatsJetstreamConfig{})
	}

	NewCatalogHTTPHandler("Crypto Catalog API", catalogService, refreshService).Register(f.router)

	f.provider.Register("BTC", "bitcoin", entity.AssetMetadata{
		CurrentPriceUSD: decimal.NewNullDecimal(decimal.RequireFromString("66421.0")),
		MarketCapRank:   null.IntFrom(1),
	})

	return f
}

func (f *handlerFixture) do(t *testing.T, method string, target string, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestHandler_Welcome(t *testing.T) {
	f := newHandlerFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Crypto Catalog API!", decodeBody[map[string]string](t, rec)["message"])

	rec = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_CreateAndGet(t *testing.T) {
	f := newHandlerFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/cryptocurrency", `{"symbol":"BTC","name":"Bitcoin"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decodeBody[AssetResponse](t, rec)
	assert.Equal(t, "BTC", created.Symbol)
	assert.Equal(t, "Bitcoin", created.Name)
	require.NotNil(t, created.Metadata)
	require.NotNil(t, created.Metadata.CurrentPriceUSD)
	assert.Equal(t, "66421", *created.Metadata.CurrentPriceUSD)
	assert.Equal(t, "bitcoin", *created.Metadata.ProviderID)

	rec = f.do(t, http.MethodGet, "/api/cryptocurrency/btc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[AssetResponse](t, rec)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "66421", *got.Metadata.CurrentPriceUSD)
}

func TestHandler_CreateErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		prepare  func(f *handlerFixture)
		wantCode int
		wantErr  string
	}{
		{
			name:     "duplicate",
			body:     `{"symbol":"BTC","name":"Bitcoin"}`,
			prepare:  func(f *handlerFixture) { f.store.Seed(entity.Asset{Symbol: "BTC", Name: "Bitcoin"}) },
			wantCode: http.StatusConflict,
			wantErr:  "ALREADY_EXISTS",
		},
		{
			name:     "unknown asset",
			body:     `{"symbol":"NOPE","name":"Nope"}`,
			wantCode: http.StatusNotFound,
			wantErr:  "NOT_FOUND",
		},
		{
			name:     "malformed body",
			body:     `{"symbol":`,
			wantCode: http.StatusBadRequest,
			wantErr:  "INVALID_INPUT",
		},
		{
			name:     "symbol too long",
			body:     `{"symbol":"ABCDEFGHIJK","name":"Long"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "INVALID_INPUT",
		},
		{
			name:     "provider down",
			body:     `{"symbol":"BTC","name":"Bitcoin"}`,
			prepare:  func(f *handlerFixture) { f.provider.Fail("bitcoin", entity.ErrProviderUnavailable) },
			wantCode: http.StatusServiceUnavailable,
			wantErr:  "SERVICE_UNAVAILABLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, nil)
			if tt.prepare != nil {
				tt.prepare(f)
			}

			rec := f.do(t, http.MethodPost, "/api/cryptocurrency", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, decodeBody[errorEnvelope](t, rec).Error.Code)
		})
	}
}

func TestHandler_GetMissing(t *testing.T) {
	f := newHandlerFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/cryptocurrency/DOGE", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody[errorEnvelope](t, rec).Error.Code)
}

func TestHandler_List(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.store.Seed(entity.Asset{Symbol: "BTC", Name: "Bitcoin"})
	f.store.Seed(entity.Asset{Symbol: "ETH", Name: "Ethereum"})

	rec := f.do(t, http.MethodGet, "/api/cryptocurrencies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]AssetResponse](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/api/cryptocurrencies?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]AssetResponse](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/cryptocurrencies?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Update(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.store.Seed(entity.Asset{Symbol: "BTC", Name: "Bitcoin"})

	rec := f.do(t, http.MethodPut, "/api/cryptocurrency/btc", `{"name":"Bitcoin Core"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Bitcoin Core", decodeBody[AssetResponse](t, rec).Name)

	rec = f.do(t, http.MethodPut, "/api/cryptocurrency/DOGE", `{"name":"Doge"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Delete(t *testing.T) {
	for _, path := range []string{"/api/cryptocurrencies/btc", "/api/cryptocurrency/BTC"} {
		t.Run(path, func(t *testing.T) {
			f := newHandlerFixture(t, nil)
			f.store.Seed(entity.Asset{Symbol: "BTC", Name: "Bitcoin"})

			rec := f.do(t, http.MethodDelete, path, "")
			require.Equal(t, http.StatusNoContent, rec.Code)

			rec = f.do(t, http.MethodGet, "/api/cryptocurrency/BTC", "")
			assert.Equal(t, http.StatusNotFound, rec.Code)

			rec = f.do(t, http.MethodDelete, path, "")
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestHandler_RefreshAsset(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.store.Seed(entity.Asset{Symbol: "BTC", Name: "Bitcoin"})

	rec := f.do(t, http.MethodPost, "/api/cryptocurrencies/btc/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "66421", *decodeBody[AssetResponse](t, rec).Metadata.CurrentPriceUSD)

	rec = f.do(t, http.MethodPost, "/api/cryptocurrencies/doge/refresh", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_RefreshAll(t *testing.T) {
	t.Run("partial failure is reported", func(t *testing.T) {
		f := newHandlerFixture(t, nil)
		f.provider.Register("ETH", "ethereum", entity.AssetMetadata{MarketCapRank: null.IntFrom(2)})
		f.provider.Fail("ethereum", entity.ErrProviderUnavailable)
		f.store.Seed(entity.Asset{Symbol: "BTC", Name: "Bitcoin"})
		f.store.Seed(entity.Asset{Symbol: "ETH", Name: "Ethereum"})

		rec := f.do(t, http.MethodPost, "/api/cryptocurrencies/refresh-all", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decodeBody[RefreshAllResponse](t, rec)
		require.NotNil(t, resp.Report)
		assert.Equal(t, 2, resp.Report.Total)
		assert.Equal(t, 1, resp.Report.Refreshed)
		assert.Equal(t, []string{"ETH"}, resp.Report.FailedSymbols())
	})

	t.Run("every asset failing", func(t *testing.T) {
		f := newHandlerFixture(t, nil)
		f.provider.Fail("bitcoin", entity.ErrProviderUnavailable)
		f.store.Seed(entity.Asset{Symbol: "BTC", Name: "Bitcoin"})

		rec := f.do(t, http.MethodPost, "/api/cryptocurrencies/refresh-all", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("manual run in progress", func(t *testing.T) {
		f := newHandlerFixture(t, &stubRefreshService{
			triggerErr: entity.ErrRefreshInProgress,
		})

		rec := f.do(t, http.MethodPost, "/api/cryptocurrencies/refresh-all", "")
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "CONFLICT", decodeBody[errorEnvelope](t, rec).Error.Code)
	})

	t.Run("async request is queued", func(t *testing.T) {
		f := newHandlerFixture(t, &stubRefreshService{requestID: "req-1"})

		rec := f.do(t, http.MethodPost, "/api/cryptocurrencies/refresh-all?async=true", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "req-1", decodeBody[AsyncRefreshResponse](t, rec).RequestID)
	})

	t.Run("async without a broker", func(t *testing.T) {
		f := newHandlerFixture(t, nil)

		rec := f.do(t, http.MethodPost, "/api/cryptocurrencies/refresh-all?async=true", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	f := newHandlerFixture(t, nil)

	rec := f.do(t, http.MethodPatch, "/api/cryptocurrency/BTC", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type stubRefreshService struct {
	triggerErr error
	requestID  string
}

func (s *stubRefreshService) RefreshOne(ctx context.Context, symbol string) (*entity.Asset, error) {
	return nil, entity.ErrNotFound
}

func (s *stubRefreshService) TriggerRefreshAll(ctx context.Context) (*entity.RefreshReport, error) {
	if s.triggerErr != nil {
		return nil, s.triggerErr
	}

	return &entity.RefreshReport{Trigger: entity.RefreshTriggerManual}, nil
}

func (s *stubRefreshService) RequestRefresh(ctx context.Context, symbol string) (string, error) {
	return s.requestID, nil
}
