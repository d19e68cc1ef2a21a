package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/cardshelf/collector/backend/internal/errs"
)

const imageFetchTimeout = 30 * time.Second

// ImageCache mirrors remote card imagery to local disk under deterministic
// filenames, so the frontend serves everything from one static directory
// and each remote image is fetched at most once.
type ImageCache struct {
	dir    string
	client *http.Client
	log    *zap.Logger
}

func NewImageCache(dir string, log *zap.Logger) (*ImageCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &ImageCache{
		dir:    dir,
		client: &http.Client{Timeout: imageFetchTimeout},
		log:    log,
	}, nil
}

// SetIconFilename is the cache-relative name for a set's icon.
func SetIconFilename(setCode string) string {
	return fmt.Sprintf("set_icon_%s.svg", setCode)
}

// CardImageFilename is the cache-relative name for a printing's full image.
func CardImageFilename(printingID uint) string {
	return fmt.Sprintf("card_image_%d.jpg", printingID)
}

// CardArtFilename is the cache-relative name for a card's cropped art.
func CardArtFilename(cardID uint) string {
	return fmt.Sprintf("card_art_%d.jpg", cardID)
}

// Dir returns the cache directory, to be mounted as a static route.
func (c *ImageCache) Dir() string {
	return c.dir
}

// Has reports whether a cached file already exists.
func (c *ImageCache) Has(filename string) bool {
	_, err := os.Stat(filepath.Join(c.dir, filename))
	return err == nil
}

// Ensure fetches url into filename unless it is already cached.
func (c *ImageCache) Ensure(ctx context.Context, filename, url string) error {
	if c.Has(filename) {
		return nil
	}
	return c.fetch(ctx, filename, url)
}

// fetch downloads url to a temp file and renames it into place, so a
// partial download never shows up as a cached image.
func (c *ImageCache) fetch(ctx context.Context, filename, url string) error {
	ctx, cancel := context.WithTimeout(ctx, imageFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errs.External(err, "failed to fetch image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errs.Externalf("image fetch returned status %d", resp.StatusCode)
	}

	target := filepath.Join(c.dir, filename)
	tmp, err := os.CreateTemp(c.dir, filename+".tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return err
	}

	c.log.Debug("cached image", zap.String("filename", filename))
	return nil
}
