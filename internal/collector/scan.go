package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cwygoda/collector/internal/domain"
)

// ScanPage fetches a listing page and returns the asset URLs on it.
func (c *Collector) ScanPage(ctx context.Context, pageURL string) ([]string, error) {
	c.logger.Info("scanning page for asset URLs", "url", pageURL)

	body, err := c.fetcher.Get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}

	urls, err := c.AssetURLs(pageURL, body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("found asset URLs", "url", pageURL, "count", len(urls))
	return urls, nil
}

// AssetURLs extracts asset URLs from a listing page. Elements marked
// unavailable and elements without a reference are skipped; relative
// references are resolved against pageURL.
func (c *Collector) AssetURLs(pageURL string, html []byte) ([]string, error) {
	doc, err := c.parser.Parse(html)
	if err != nil {
		return nil, err
	}
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page URL: %w", err)
	}

	attr := c.cat.AttributeOrDefault()
	var urls []string
	for _, el := range doc.Select(c.cat.Selector) {
		if c.cat.UnavailableClass != "" && el.HasClass(c.cat.UnavailableClass) {
			continue
		}
		ref, ok := el.Attr(attr)
		ref = strings.TrimSpace(ref)
		if !ok || ref == "" {
			continue
		}
		if u, err := url.Parse(ref); err == nil {
			ref = page.ResolveReference(u).String()
		}
		urls = append(urls, domain.UpgradeResolution(ref, c.cat.LowRes, c.cat.HighRes))
	}
	return urls, nil
}
