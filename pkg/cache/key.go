package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// credentialParams are query parameters that carry API keys.
var credentialParams = map[string]bool{
	"api_key": true,
	"key":     true,
	"token":   true,
}

// CacheKey identifies a cached reference response.
type CacheKey struct {
	// Provider is the adapter name (e.g. "opendota").
	Provider string

	// Endpoint is the request path (e.g. "/constants/items").
	Endpoint string

	// QueryParams are the request query parameters.
	QueryParams url.Values
}

// String generates a deterministic cache key string.
//
// Example:
//
//	dota:cache:opendota:constants/items:lang=en
func (k CacheKey) String() string {
	parts := []string{"dota", "cache"}
	if k.Provider != "" {
		parts = append(parts, k.Provider)
	}

	if endpoint := strings.Trim(k.Endpoint, "/"); endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		keys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			if credentialParams[strings.ToLower(key)] {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.QueryParams[key], ",")))
		}
	}

	return strings.Join(parts, ":")
}
