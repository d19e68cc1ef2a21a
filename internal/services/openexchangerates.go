package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cardshelf/collector/backend/internal/errs"
)

const (
	oxrDefaultBaseURL = "https://openexchangerates.org/api"
	oxrTimeout        = 10 * time.Second
)

// RatesService wraps the currency conversion API. All rates are relative
// to USD.
type RatesService struct {
	client  *http.Client
	baseURL string
	appID   string
}

func NewRatesService(baseURL, appID string) *RatesService {
	if baseURL == "" {
		baseURL = oxrDefaultBaseURL
	}
	return &RatesService{
		client:  &http.Client{Timeout: oxrTimeout},
		baseURL: baseURL,
		appID:   appID,
	}
}

type oxrResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// GetRates returns the currency code to USD-relative rate mapping.
func (s *RatesService) GetRates(ctx context.Context) (map[string]float64, error) {
	params := url.Values{}
	params.Set("app_id", s.appID)
	params.Set("base", "USD")

	reqURL := fmt.Sprintf("%s/latest.json?%s", s.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errs.External(err, "openexchangerates request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Externalf("openexchangerates returned status %d", resp.StatusCode)
	}

	var ratesResp oxrResponse
	if err := json.NewDecoder(resp.Body).Decode(&ratesResp); err != nil {
		return nil, errs.External(err, "failed to decode rates response")
	}
	return ratesResp.Rates, nil
}
