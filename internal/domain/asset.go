package domain

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// UpgradeResolution rewrites the first occurrence of the low-resolution
// naming convention in assetURL to the high-resolution one.
func UpgradeResolution(assetURL, low, high string) string {
	if low == "" {
		return assetURL
	}
	return strings.Replace(assetURL, low, high, 1)
}

// AssetFilename derives a storage filename from the last segment of the
// URL's path.
func AssetFilename(assetURL string) (string, error) {
	u, err := url.Parse(assetURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedAssetURL, err)
	}

	name := path.Base(u.Path)
	switch name {
	case "", ".", "/", "..":
		return "", fmt.Errorf("%w: %q has no file path", ErrMalformedAssetURL, assetURL)
	}
	return name, nil
}
