package cache

import (
	"strings"
)

// KeyPrefix namespaces all cache keys in Redis.
const KeyPrefix = "riot:cache"

// Key identifies a cached upstream document.
type Key struct {
	// Type is the resource type (e.g., "MatchDetails")
	Type string

	// ID identifies the document within Type (e.g., "EUW1_123")
	ID string
}

// String generates a deterministic cache key string.
// Format: riot:cache:type:id
//
// Example:
//
//	riot:cache:MatchDetails:EUW1_123
//
// Both segments are escaped, so distinct keys never share a string.
func (k Key) String() string {
	return KeyPrefix + ":" + segment.Replace(k.Type) + ":" + segment.Replace(k.ID)
}

// segment percent-escapes the separator and the escape character itself.
var segment = strings.NewReplacer("%", "%25", ":", "%3A")
