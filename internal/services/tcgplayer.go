package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cardshelf/collector/backend/internal/errs"
	"github.com/cardshelf/collector/backend/internal/metrics"
)

const (
	tcgDefaultBaseURL = "https://api.tcgplayer.com"
	tcgTimeout        = 15 * time.Second

	// Magic: The Gathering category on TCGPlayer.
	tcgCategoryMTG = 1

	// The pricing endpoint accepts at most 250 product ids per request.
	tcgPriceChunkSize = 250

	// Tokens are valid for two weeks; refresh well before expiry.
	tcgTokenSlack = time.Hour
)

// ProductQuery identifies a card for product-id resolution.
type ProductQuery struct {
	Name            string
	SetName         string
	SetCode         string
	Rarity          string
	CollectorNumber string
	GroupID         *int
}

// PriceQuote is a normal/foil price pair for one product. Either field may
// be nil when the market has no quote for that variant.
type PriceQuote struct {
	Normal *float64 `json:"normal"`
	Foil   *float64 `json:"foil"`
}

// tokenCache holds a short-lived bearer credential and refreshes it on
// demand, so a batch of calls reuses one login.
type tokenCache struct {
	mu     sync.Mutex
	token  string
	expiry time.Time
	fetch  func(ctx context.Context) (string, time.Duration, error)
}

func (c *tokenCache) getOrRefresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiry.Add(-tcgTokenSlack)) {
		return c.token, nil
	}

	token, ttl, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiry = time.Now().Add(ttl)
	return token, nil
}

// TCGPlayerService wraps the price provider API.
type TCGPlayerService struct {
	client    *http.Client
	baseURL   string
	publicKey string
	secretKey string
	limiter   *rate.Limiter
	tokens    *tokenCache
	log       *zap.Logger
}

func NewTCGPlayerService(baseURL, publicKey, secretKey string, log *zap.Logger) *TCGPlayerService {
	if baseURL == "" {
		baseURL = tcgDefaultBaseURL
	}
	s := &TCGPlayerService{
		client:    &http.Client{Timeout: tcgTimeout},
		baseURL:   baseURL,
		publicKey: publicKey,
		secretKey: secretKey,
		limiter:   rate.NewLimiter(rate.Limit(5), 1),
		log:       log,
	}
	s.tokens = &tokenCache{fetch: s.fetchToken}
	return s
}

type tcgTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s *TCGPlayerService) fetchToken(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.publicKey)
	form.Set("client_secret", s.secretKey)

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	metrics.TCGRequestsTotal.Inc()
	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, errs.External(err, "tcgplayer login failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, errs.Externalf("tcgplayer login returned status %d", resp.StatusCode)
	}

	var tokenResp tcgTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", 0, errs.External(err, "failed to decode tcgplayer token")
	}
	return tokenResp.AccessToken, time.Duration(tokenResp.ExpiresIn) * time.Second, nil
}

// Login returns a bearer token, reusing the cached one while it is valid.
func (s *TCGPlayerService) Login(ctx context.Context) (string, error) {
	return s.tokens.getOrRefresh(ctx)
}

func (s *TCGPlayerService) do(ctx context.Context, method, path, token string, body interface{}, out interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	metrics.TCGRequestsTotal.Inc()
	resp, err := s.client.Do(req)
	if err != nil {
		return errs.External(err, "tcgplayer request failed")
	}
	defer resp.Body.Close()

	// The catalog endpoints answer 404 for zero matches.
	if resp.StatusCode == http.StatusNotFound {
		return errs.NotFoundf("tcgplayer: %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return errs.Externalf("tcgplayer API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.External(err, "failed to decode tcgplayer response")
	}
	return nil
}

type tcgSearchResponse struct {
	Results []int `json:"results"`
}

type tcgProduct struct {
	ProductID         int    `json:"productId"`
	GroupID           int    `json:"groupId"`
	ProductConditions []struct {
		Language string `json:"language"`
	} `json:"productConditions"`
	ExtendedData []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"extendedData"`
}

type tcgProductsResponse struct {
	Results []tcgProduct `json:"results"`
}

type tcgGroupsResponse struct {
	Results []struct {
		GroupID int `json:"groupId"`
	} `json:"results"`
}

type searchFilter struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// SearchProduct resolves a card to a provider product id, narrowing
// progressively: name/set/rarity search, then extended product details
// matched on collector number, then set group membership. Zero or
// unresolvably-many matches return nil, not an error.
func (s *TCGPlayerService) SearchProduct(ctx context.Context, card ProductQuery, token string) (*int, error) {
	name := card.Name
	// Multifaced names are indexed by their first face.
	if idx := strings.Index(name, " // "); idx >= 0 {
		name = name[:idx]
	}

	body := map[string]interface{}{
		"filters": []searchFilter{
			{Name: "ProductName", Values: []string{name}},
			{Name: "SetName", Values: []string{card.SetName}},
			{Name: "Rarity", Values: []string{card.Rarity}},
		},
	}

	var searchResp tcgSearchResponse
	path := fmt.Sprintf("/catalog/categories/%d/search", tcgCategoryMTG)
	if err := s.do(ctx, "POST", path, token, body, &searchResp); err != nil {
		if errs.IsNotFound(err) {
			metrics.ProductMatchesTotal.WithLabelValues("none").Inc()
			return nil, nil
		}
		return nil, err
	}

	switch {
	case len(searchResp.Results) == 0:
		s.log.Info("no product match", zap.String("name", card.Name), zap.String("set", card.SetName))
		metrics.ProductMatchesTotal.WithLabelValues("none").Inc()
		return nil, nil
	case len(searchResp.Results) == 1:
		metrics.ProductMatchesTotal.WithLabelValues("matched").Inc()
		return &searchResp.Results[0], nil
	}

	productID, err := s.narrowProducts(ctx, card, searchResp.Results, token)
	if err != nil {
		return nil, err
	}
	if productID == nil {
		s.log.Info("ambiguous product match",
			zap.String("name", card.Name),
			zap.String("set", card.SetName),
			zap.Int("candidates", len(searchResp.Results)))
		metrics.ProductMatchesTotal.WithLabelValues("ambiguous").Inc()
		return nil, nil
	}
	metrics.ProductMatchesTotal.WithLabelValues("matched").Inc()
	return productID, nil
}

// narrowProducts disambiguates multiple search hits. First pass keeps
// English products whose extended collector number matches; if several
// remain, a second pass keeps those whose group still exists for the set.
func (s *TCGPlayerService) narrowProducts(ctx context.Context, card ProductQuery, candidates []int, token string) (*int, error) {
	ids := make([]string, len(candidates))
	for i, id := range candidates {
		ids[i] = strconv.Itoa(id)
	}

	var productsResp tcgProductsResponse
	path := fmt.Sprintf("/catalog/products/%s?getExtendedFields=true", strings.Join(ids, ","))
	if err := s.do(ctx, "GET", path, token, nil, &productsResp); err != nil {
		if errs.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var found []tcgProduct
	for _, p := range productsResp.Results {
		english := len(p.ProductConditions) == 0
		for _, pc := range p.ProductConditions {
			if pc.Language == "English" {
				english = true
			}
		}
		if !english {
			continue
		}
		for _, ex := range p.ExtendedData {
			if ex.Name == "Number" && ex.Value == card.CollectorNumber {
				found = append(found, p)
				break
			}
		}
	}

	if len(found) == 1 {
		return &found[0].ProductID, nil
	}
	if len(found) == 0 {
		return nil, nil
	}

	groupIDs := make([]string, len(found))
	for i, p := range found {
		groupIDs[i] = strconv.Itoa(p.GroupID)
	}

	var groupsResp tcgGroupsResponse
	if err := s.do(ctx, "GET", "/catalog/groups/"+strings.Join(groupIDs, ","), token, nil, &groupsResp); err != nil {
		if errs.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var inGroup []tcgProduct
	for _, g := range groupsResp.Results {
		for _, p := range found {
			if p.GroupID == g.GroupID {
				inGroup = append(inGroup, p)
			}
		}
	}
	if len(inGroup) == 1 {
		return &inGroup[0].ProductID, nil
	}
	return nil, nil
}

type tcgPriceResponse struct {
	Results []struct {
		ProductID   int      `json:"productId"`
		SubTypeName string   `json:"subTypeName"`
		MidPrice    *float64 `json:"midPrice"`
	} `json:"results"`
}

// GetPrices fetches normal/foil quotes for the given products, keyed by the
// caller's external key. Requests are chunked at the provider's 250-id
// limit and merged; an empty input returns an empty map without a call.
func (s *TCGPlayerService) GetPrices(ctx context.Context, products map[string]int, token string) (map[string]PriceQuote, error) {
	prices := make(map[string]PriceQuote, len(products))
	if len(products) == 0 {
		return prices, nil
	}

	keys := make([]string, 0, len(products))
	for key := range products {
		keys = append(keys, key)
		prices[key] = PriceQuote{}
	}

	for start := 0; start < len(keys); start += tcgPriceChunkSize {
		end := start + tcgPriceChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		byProduct := make(map[int][]string, len(chunk))
		ids := make([]string, 0, len(chunk))
		for _, key := range chunk {
			productID := products[key]
			if len(byProduct[productID]) == 0 {
				ids = append(ids, strconv.Itoa(productID))
			}
			byProduct[productID] = append(byProduct[productID], key)
		}

		var priceResp tcgPriceResponse
		if err := s.do(ctx, "GET", "/pricing/product/"+strings.Join(ids, ","), token, nil, &priceResp); err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		for _, r := range priceResp.Results {
			for _, key := range byProduct[r.ProductID] {
				quote := prices[key]
				switch r.SubTypeName {
				case "Normal":
					quote.Normal = r.MidPrice
				case "Foil":
					quote.Foil = r.MidPrice
				default:
					s.log.Warn("unknown price subtype", zap.String("subtype", r.SubTypeName))
				}
				prices[key] = quote
			}
		}
	}

	return prices, nil
}
