package collector

import (
	"context"
	"fmt"

	"github.com/cwygoda/collector/internal/domain"
)

// SavedAsset is the result of a successful fetch-and-persist job.
type SavedAsset struct {
	URL   string
	Name  string
	Bytes int64
}

// FetchAsset streams assetURL into the persister under a name derived from
// the URL path. Malformed URLs fail before any request is made.
func (c *Collector) FetchAsset(ctx context.Context, assetURL string) (SavedAsset, error) {
	name, err := domain.AssetFilename(assetURL)
	if err != nil {
		return SavedAsset{}, err
	}

	c.logger.Debug("fetching asset", "url", assetURL)
	body, err := c.fetcher.Stream(ctx, assetURL)
	if err != nil {
		return SavedAsset{}, fmt.Errorf("fetch asset: %w", err)
	}
	defer body.Close()

	n, err := c.persister.Persist(ctx, name, body)
	if err != nil {
		return SavedAsset{}, fmt.Errorf("persist %s: %w", name, err)
	}
	c.observer.BytesPersisted(c.cat.Name, n)

	return SavedAsset{URL: assetURL, Name: name, Bytes: n}, nil
}
