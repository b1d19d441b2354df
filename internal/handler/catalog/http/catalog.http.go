package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/guregu/null/v6"
	perrors "github.com/jmgilman/go/errors"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
	"github.com/krobus00/crypto-catalog-service/internal/infrastructure"
	"github.com/sirupsen/logrus"
)

type CatalogService interface {
	Get(ctx context.Context, symbol string) (*entity.Asset, error)
	List(ctx context.Context, limit int) ([]entity.Asset, error)
	Create(ctx context.Context, symbol string, name string) (*entity.Asset, error)
	Update(ctx context.Context, symbol string, update entity.AssetUpdate) (*entity.Asset, error)
	Delete(ctx context.Context, symbol string) error
}

type RefreshService interface {
	RefreshOne(ctx context.Context, symbol string) (*entity.Asset, error)
	TriggerRefreshAll(ctx context.Context) (*entity.RefreshReport, error)
	RequestRefresh(ctx context.Context, symbol string) (string, error)
}

type CreateAssetRequest struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

type UpdateAssetRequest struct {
	Name null.String `json:"name"`
}

type AssetMetadataResponse struct {
	CurrentPriceUSD          *string  `json:"current_price_usd"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
	TotalVolumeUSD           *string  `json:"total_volume_usd"`
	MarketCapUSD             *string  `json:"market_cap_usd"`
	MarketCapRank            *int64   `json:"market_cap_rank"`
	ProviderID               *string  `json:"coingecko_id"`
	ProviderTimestamp        *string  `json:"metadata_timestamp"`
	LastCheckedAt            *string  `json:"last_checked"`
}

type AssetResponse struct {
	ID        int64                  `json:"id"`
	Symbol    string                 `json:"symbol"`
	Name      string                 `json:"name"`
	CreatedAt string                 `json:"created_at"`
	UpdatedAt string                 `json:"updated_at"`
	Metadata  *AssetMetadataResponse `json:"metadata"`
}

type RefreshAllResponse struct {
	Message string                `json:"message"`
	Report  *entity.RefreshReport `json:"report"`
}

type AsyncRefreshResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type Handler struct {
	appName        string
	catalogService CatalogService
	refreshService RefreshService
}

func NewCatalogHTTPHandler(appName string, catalogService CatalogService, refreshService RefreshService) *Handler {
	return &Handler{
		appName:        appName,
		catalogService: catalogService,
		refreshService: refreshService,
	}
}

func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/", h.Welcome).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/cryptocurrency", h.CreateAsset).Methods(http.MethodPost)
	api.HandleFunc("/cryptocurrency/{symbol}", h.GetAsset).Methods(http.MethodGet)
	api.HandleFunc("/cryptocurrency/{symbol}", h.UpdateAsset).Methods(http.MethodPut)
	api.HandleFunc("/cryptocurrency/{symbol}", h.DeleteAsset).Methods(http.MethodDelete)
	api.HandleFunc("/cryptocurrencies", h.ListAssets).Methods(http.MethodGet)
	api.HandleFunc("/cryptocurrencies/refresh-all", h.RefreshAll).Methods(http.MethodPost)
	api.HandleFunc("/cryptocurrencies/{symbol}", h.DeleteAsset).Methods(http.MethodDelete)
	api.HandleFunc("/cryptocurrencies/{symbol}/refresh", h.RefreshAsset).Methods(http.MethodPost)
}

func (h *Handler) Welcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"message": fmt.Sprintf("Welcome to %s!", h.appName)})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req CreateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, invalidBody(err))
		return
	}

	asset, err := h.catalogService.Create(r.Context(), req.Symbol, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, mapAssetToHTTPResponse(asset))
}

func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.catalogService.Get(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, mapAssetToHTTPResponse(asset))
}

func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, r, perrors.WrapWithContext(entity.ErrInvalidInput, entity.ErrInvalidInput.Code(),
				"limit must be a positive integer", map[string]interface{}{"field": "limit"}))
			return
		}
		limit = parsed
	}

	assets, err := h.catalogService.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]*AssetResponse, 0, len(assets))
	for i := range assets {
		resp = append(resp, mapAssetToHTTPResponse(&assets[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req UpdateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, invalidBody(err))
		return
	}

	asset, err := h.catalogService.Update(r.Context(), mux.Vars(r)["symbol"], entity.AssetUpdate{Name: req.Name})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, mapAssetToHTTPResponse(asset))
}

func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	err := h.catalogService.Delete(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RefreshAsset(w http.ResponseWriter, r *http.Request) {
	symbol := entity.NormalizeSymbol(mux.Vars(r)["symbol"])

	if isAsync(r) {
		h.queueRefresh(w, r, symbol)
		return
	}

	asset, err := h.refreshService.RefreshOne(r.Context(), symbol)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, mapAssetToHTTPResponse(asset))
}

func (h *Handler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	if isAsync(r) {
		h.queueRefresh(w, r, "")
		return
	}

	report, err := h.refreshService.TriggerRefreshAll(r.Context())
	if err != nil {
		status := statusFromError(err)
		logRequestError(r, status, err)
		writeJSON(w, status, map[string]any{
			"error":  errorBody(status, err),
			"report": report,
		})
		return
	}

	message := fmt.Sprintf("refreshed %d of %d cryptocurrencies", report.Refreshed, report.Total)
	if report.FailedCount() > 0 {
		message = fmt.Sprintf("%s, %d failed", message, report.FailedCount())
	}

	writeJSON(w, http.StatusOK, RefreshAllResponse{
		Message: message,
		Report:  report,
	})
}

func (h *Handler) queueRefresh(w http.ResponseWriter, r *http.Request, symbol string) {
	requestID, err := h.refreshService.RequestRefresh(r.Context(), symbol)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, AsyncRefreshResponse{
		RequestID: requestID,
		Status:    "queued",
	})
}

func mapAssetToHTTPResponse(asset *entity.Asset) *AssetResponse {
	resp := &AssetResponse{
		ID:        asset.ID,
		Symbol:    asset.Symbol,
		Name:      asset.Name,
		CreatedAt: asset.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: asset.UpdatedAt.UTC().Format(time.RFC3339),
	}

	metadata := asset.Metadata
	if metadata == nil {
		return resp
	}

	resp.Metadata = &AssetMetadataResponse{
		PriceChangePercentage24h: metadata.PriceChangePercentage24h.Ptr(),
		MarketCapRank:            metadata.MarketCapRank.Ptr(),
		ProviderID:               metadata.ProviderID.Ptr(),
	}

	if metadata.CurrentPriceUSD.Valid {
		v := metadata.CurrentPriceUSD.Decimal.String()
		resp.Metadata.CurrentPriceUSD = &v
	}

	if metadata.TotalVolumeUSD.Valid {
		v := metadata.TotalVolumeUSD.Decimal.String()
		resp.Metadata.TotalVolumeUSD = &v
	}

	if metadata.MarketCapUSD.Valid {
		v := metadata.MarketCapUSD.Decimal.String()
		resp.Metadata.MarketCapUSD = &v
	}

	if metadata.ProviderTimestamp.Valid {
		v := metadata.ProviderTimestamp.Time.UTC().Format(time.RFC3339)
		resp.Metadata.ProviderTimestamp = &v
	}

	if metadata.LastCheckedAt.Valid {
		v := metadata.LastCheckedAt.Time.UTC().Format(time.RFC3339)
		resp.Metadata.LastCheckedAt = &v
	}

	return resp
}

func isAsync(r *http.Request) bool {
	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	return async
}

func invalidBody(err error) error {
	return perrors.WrapWithContext(entity.ErrInvalidInput, entity.ErrInvalidInput.Code(),
		"invalid json body", map[string]interface{}{"reason": err.Error()})
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, entity.ErrNotFound), errors.Is(err, entity.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrAlreadyExists), errors.Is(err, entity.ErrRefreshInProgress):
		return http.StatusConflict
	case errors.Is(err, entity.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrStoreConflict):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch perrors.GetCode(err) {
	case perrors.CodeUnavailable, perrors.CodeDatabase, perrors.CodeTimeout, perrors.CodeNetwork, perrors.CodeRateLimit:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(status int, err error) *perrors.ErrorResponse {
	if status == http.StatusInternalServerError {
		return perrors.ToJSON(perrors.New(perrors.CodeInternal, "internal server error"))
	}

	return perrors.ToJSON(err)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)
	logRequestError(r, status, err)
	writeJSON(w, status, map[string]any{"error": errorBody(status, err)})
}

func logRequestError(r *http.Request, status int, err error) {
	logger := logrus.WithFields(logrus.Fields{
		"request_id": infrastructure.RequestIDFromContext(r.Context()),
		"status":     status,
		"path":       r.URL.Path,
	}).WithError(err)

	if status >= http.StatusInternalServerError {
		logger.Error("request failed")
		return
	}
	logger.Debug("request rejected")
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
