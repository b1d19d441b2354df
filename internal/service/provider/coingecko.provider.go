package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/guregu/null/v6"
	perrors "github.com/jmgilman/go/errors"
	"github.com/krobus00/crypto-catalog-service/internal/config"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultCoinGeckoBaseURL = "https://api.coingecko.com/api/v3"
	defaultCoinGeckoTimeout = 10 * time.Second
	demoAPIKeyHeader        = "x-cg-demo-api-key"
	usdCurrency             = "usd"
	maxErrorBodySize        = 512
)

type coinSearchResponse struct {
	Coins []coinSearchResult `json:"coins"`
}

type coinSearchResult struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

type coinResponse struct {
	ID            string          `json:"id"`
	MarketCapRank null.Int        `json:"market_cap_rank"`
	LastUpdated   null.Time       `json:"last_updated"`
	MarketData    *coinMarketData `json:"market_data"`
}

type coinMarketData struct {
	CurrentPrice             map[string]decimal.NullDecimal `json:"current_price"`
	PriceChangePercentage24h null.Float                     `json:"price_change_percentage_24h"`
	TotalVolume              map[string]decimal.NullDecimal `json:"total_volume"`
	MarketCap                map[string]decimal.NullDecimal `json:"market_cap"`
}

// CoinGeckoProvider resolves symbols and fetches market metadata from the
// CoinGecko public API. Requests share one token bucket.
type CoinGeckoProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	now        func() time.Time
}

func NewCoinGeckoProvider(cfg config.CoinGeckoConfig) *CoinGeckoProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultCoinGeckoBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCoinGeckoTimeout
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &CoinGeckoProvider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		limiter:    rate.NewLimiter(limit, 1),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ResolveSymbol returns the provider id of symbol. Search results are ranked by
// market cap, so the first exact symbol match wins.
func (p *CoinGeckoProvider) ResolveSymbol(ctx context.Context, symbol string) (string, error) {
	symbol = entity.NormalizeSymbol(symbol)

	query := url.Values{}
	query.Set("query", symbol)

	var response coinSearchResponse
	err := p.getJSON(ctx, "/search", query, &response, map[string]interface{}{"symbol": symbol})
	if err != nil {
		return "", err
	}

	for _, coin := range response.Coins {
		if strings.EqualFold(coin.Symbol, symbol) && coin.ID != "" {
			logrus.WithFields(logrus.Fields{
				"symbol":      symbol,
				"provider_id": coin.ID,
			}).Debug("resolved symbol")
			return coin.ID, nil
		}
	}

	return "", entity.WrapSymbol(entity.ErrUnknownAsset, symbol, fmt.Sprintf("symbol %s is not listed by the provider", symbol))
}

// FetchMetadata returns a metadata patch for providerID. Fields the provider
// does not report stay null so a merge keeps the stored values.
func (p *CoinGeckoProvider) FetchMetadata(ctx context.Context, providerID string) (entity.AssetMetadata, error) {
	query := url.Values{}
	query.Set("market_data", "true")
	query.Set("localization", "false")
	query.Set("tickers", "false")
	query.Set("community_data", "false")
	query.Set("developer_data", "false")

	var response coinResponse
	err := p.getJSON(ctx, "/coins/"+url.PathEscape(providerID), query, &response, map[string]interface{}{"provider_id": providerID})
	if err != nil {
		return entity.AssetMetadata{}, err
	}

	metadata := entity.AssetMetadata{
		MarketCapRank:     response.MarketCapRank,
		ProviderID:        null.StringFrom(providerID),
		ProviderTimestamp: response.LastUpdated,
		LastCheckedAt:     null.TimeFrom(p.now()),
	}

	if response.MarketData == nil {
		logrus.WithField("provider_id", providerID).Warn("provider response has no market data")
		return metadata, nil
	}

	metadata.CurrentPriceUSD = response.MarketData.CurrentPrice[usdCurrency]
	metadata.PriceChangePercentage24h = response.MarketData.PriceChangePercentage24h
	metadata.TotalVolumeUSD = response.MarketData.TotalVolume[usdCurrency]
	metadata.MarketCapUSD = response.MarketData.MarketCap[usdCurrency]

	return metadata, nil
}

func (p *CoinGeckoProvider) getJSON(ctx context.Context, path string, query url.Values, dest any, fields map[string]interface{}) error {
	err := p.limiter.Wait(ctx)
	if err != nil {
		return unavailable("rate limiter wait aborted", err, fields)
	}

	endpoint := p.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return unavailable("failed to create request", err, fields)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set(demoAPIKeyHeader, p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return unavailable("request failed", err, fields)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		withStatus := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			withStatus[k] = v
		}
		withStatus["status_code"] = resp.StatusCode

		return unavailable(fmt.Sprintf("provider returned status %d", resp.StatusCode), errors.New(strings.TrimSpace(string(body))), withStatus)
	}

	err = json.NewDecoder(resp.Body).Decode(dest)
	if err != nil {
		return unavailable("failed to decode response", err, fields)
	}

	return nil
}

func unavailable(message string, cause error, fields map[string]interface{}) error {
	if cause != nil && cause.Error() != "" {
		message = message + ": " + cause.Error()
	}

	return perrors.WrapWithContext(entity.ErrProviderUnavailable, entity.ErrProviderUnavailable.Code(), message, fields)
}
