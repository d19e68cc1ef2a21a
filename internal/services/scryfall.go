package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/cardshelf/collector/backend/internal/errs"
	"github.com/cardshelf/collector/backend/internal/metrics"
	"github.com/cardshelf/collector/backend/internal/models"
)

const (
	scryfallDefaultBaseURL = "https://api.scryfall.com"
	scryfallTimeout        = 10 * time.Second

	// Scryfall asks clients to stay under 10 requests per second.
	scryfallRequestsPerSecond = 10

	// Bulk identifier lookups accept at most 75 identifiers per call.
	ScryfallBulkChunkSize = 75
)

// ScryfallService wraps the external card catalog. All responses are
// normalized into models.ExternalCard before they leave this package.
type ScryfallService struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter

	// Set metadata rarely changes; cache lookups per process.
	setCache *lru.Cache[string, models.SetMeta]
}

func NewScryfallService(baseURL string) *ScryfallService {
	if baseURL == "" {
		baseURL = scryfallDefaultBaseURL
	}
	setCache, _ := lru.New[string, models.SetMeta](128)
	return &ScryfallService{
		client:   &http.Client{Timeout: scryfallTimeout},
		baseURL:  baseURL,
		limiter:  rate.NewLimiter(scryfallRequestsPerSecond, 1),
		setCache: setCache,
	}
}

type scryfallListResponse struct {
	Data     []scryfallCard `json:"data"`
	HasMore  bool           `json:"has_more"`
	NextPage string         `json:"next_page"`
	NotFound []any          `json:"not_found"`
}

type scryfallCard struct {
	Name          string          `json:"name"`
	MultiverseIDs []int           `json:"multiverse_ids"`
	Set           string          `json:"set"`
	SetName       string          `json:"set_name"`
	CollectorNum  string          `json:"collector_number"`
	Rarity        string          `json:"rarity"`
	Lang          string          `json:"lang"`
	Colors        []string        `json:"colors"`
	ManaCost      string          `json:"mana_cost"`
	CMC           float64         `json:"cmc"`
	TypeLine      string          `json:"type_line"`
	ReleasedAt    string          `json:"released_at"`
	ImageURIs     *scryfallImages `json:"image_uris"`
	CardFaces     []scryfallFace  `json:"card_faces"`
}

type scryfallFace struct {
	Colors    []string        `json:"colors"`
	ManaCost  string          `json:"mana_cost"`
	ImageURIs *scryfallImages `json:"image_uris"`
}

type scryfallImages struct {
	Normal  string `json:"normal"`
	Large   string `json:"large"`
	ArtCrop string `json:"art_crop"`
}

type scryfallSet struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	ReleasedAt  string `json:"released_at"`
	TCGGroupID  *int   `json:"tcgplayer_id"`
	IconSVGURI  string `json:"icon_svg_uri"`
	Digital     bool   `json:"digital"`
	ObjectError string `json:"details"`
}

// CardImages holds the lazily-fetched image URLs for one printing.
type CardImages struct {
	ImageURL string
	ArtURL   string
}

func (s *ScryfallService) get(ctx context.Context, path string, out interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	metrics.ScryfallRequestsTotal.Inc()

	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return errs.External(err, "scryfall request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errs.NotFoundf("scryfall: %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return errs.Externalf("scryfall API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.External(err, "failed to decode scryfall response")
	}
	return nil
}

// Search returns all printings matching the query, normalized. Printings
// without a multiverse id are dropped; they cannot be reconciled against
// ownership uploads keyed on that identifier.
func (s *ScryfallService) Search(ctx context.Context, query string) ([]models.ExternalCard, error) {
	path := fmt.Sprintf("/cards/search?q=%s&unique=prints", url.QueryEscape(query))

	var records []models.ExternalCard
	for path != "" {
		var listResp scryfallListResponse
		if err := s.get(ctx, path, &listResp); err != nil {
			return nil, err
		}
		for _, sc := range listResp.Data {
			if len(sc.MultiverseIDs) == 0 {
				continue
			}
			records = append(records, normalizeCard(sc))
		}

		path = ""
		if listResp.HasMore && listResp.NextPage != "" {
			// next_page is absolute; strip the base back off.
			path = strings.TrimPrefix(listResp.NextPage, s.baseURL)
		}
	}
	return records, nil
}

// GetBulk resolves a batch of external identifiers to normalized records.
// Fails with an external-service error when any id is unresolvable, so a
// partially-known upload aborts rather than silently dropping rows.
func (s *ScryfallService) GetBulk(ctx context.Context, externalIDs []string) ([]models.ExternalCard, error) {
	type identifier struct {
		MultiverseID int `json:"multiverse_id"`
	}
	identifiers := make([]identifier, 0, len(externalIDs))
	for _, id := range externalIDs {
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, errs.Externalf("invalid external id %q", id)
		}
		identifiers = append(identifiers, identifier{MultiverseID: n})
	}

	body, err := json.Marshal(map[string]interface{}{"identifiers": identifiers})
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	metrics.ScryfallRequestsTotal.Inc()

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/cards/collection", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errs.External(err, "scryfall bulk request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Externalf("scryfall API returned status %d", resp.StatusCode)
	}

	var listResp scryfallListResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, errs.External(err, "failed to decode scryfall response")
	}
	if len(listResp.NotFound) > 0 {
		return nil, errs.Externalf("scryfall could not resolve %d identifiers", len(listResp.NotFound))
	}

	records := make([]models.ExternalCard, 0, len(listResp.Data))
	for _, sc := range listResp.Data {
		records = append(records, normalizeCard(sc))
	}
	return records, nil
}

// GetSet fetches set metadata by code. Results are cached.
func (s *ScryfallService) GetSet(ctx context.Context, code string) (models.SetMeta, error) {
	key := strings.ToLower(code)
	if meta, ok := s.setCache.Get(key); ok {
		return meta, nil
	}

	var set scryfallSet
	if err := s.get(ctx, "/sets/"+url.PathEscape(key), &set); err != nil {
		return models.SetMeta{}, err
	}

	meta := models.SetMeta{
		Name:         set.Name,
		Code:         strings.ToUpper(set.Code),
		ReleasedAt:   set.ReleasedAt,
		PriceGroupID: set.TCGGroupID,
		IconURL:      set.IconSVGURI,
	}
	s.setCache.Add(key, meta)
	return meta, nil
}

// GetImages fetches the image URLs for one printing by set code and
// collector number.
func (s *ScryfallService) GetImages(ctx context.Context, setCode, collectorNumber string) (CardImages, error) {
	path := fmt.Sprintf("/cards/%s/%s",
		url.PathEscape(strings.ToLower(setCode)), url.PathEscape(collectorNumber))

	var sc scryfallCard
	if err := s.get(ctx, path, &sc); err != nil {
		return CardImages{}, err
	}

	images := sc.ImageURIs
	if images == nil && len(sc.CardFaces) > 0 {
		images = sc.CardFaces[0].ImageURIs
	}
	if images == nil {
		return CardImages{}, errs.NotFoundf("no images for %s/%s", setCode, collectorNumber)
	}
	return CardImages{ImageURL: images.Normal, ArtURL: images.ArtCrop}, nil
}

// normalizeCard flattens a catalog payload into the common record shape the
// reconciliation engine consumes. Multifaced cards take colors and mana cost
// from their first face when the parent record omits them.
func normalizeCard(sc scryfallCard) models.ExternalCard {
	record := models.ExternalCard{
		Name:            sc.Name,
		SetCode:         strings.ToUpper(sc.Set),
		SetName:         sc.SetName,
		CollectorNumber: sc.CollectorNum,
		ExternalID:      strconv.Itoa(sc.MultiverseIDs[0]),
		Rarity:          sc.Rarity,
		Language:        languageName(sc.Lang),
		Colors:          strings.Join(sc.Colors, ""),
		ManaCost:        sc.ManaCost,
		CMC:             sc.CMC,
		TypeLine:        sc.TypeLine,
		ReleasedAt:      sc.ReleasedAt,
	}

	if len(sc.CardFaces) > 0 {
		record.Multifaced = true
		face := sc.CardFaces[0]
		if record.Colors == "" {
			record.Colors = strings.Join(face.Colors, "")
		}
		if record.ManaCost == "" {
			record.ManaCost = face.ManaCost
		}
	}
	return record
}

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"ja": "Japanese",
	"ko": "Korean",
	"ru": "Russian",
	"zhs": "Chinese Simplified",
	"zht": "Chinese Traditional",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return "English"
}
