package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Tag names group cache keys for bulk invalidation.
const (
	// TagAllDocuments covers every document-derived cache entry.
	TagAllDocuments = "all_documents"
)

// TagStore returns the invalidation tag for a store's entries.
func TagStore(storeRef string) string {
	return "store:" + storeRef
}

// TagUser returns the invalidation tag for an owner's entries.
func TagUser(ownerID string) string {
	return "user:" + ownerID
}

// SearchKey returns the cache key for a search result set. The query is
// hashed so arbitrary text never lands in a key.
func SearchKey(storeRef, query, language string) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("search_%s_%s_%s", storeRef, hex.EncodeToString(sum[:])[:16], language)
}

// DocumentsKey returns the cache key for an owner's document list.
func DocumentsKey(ownerID, storeRef string) string {
	return fmt.Sprintf("documents_%s_%s", ownerID, storeRef)
}

func tagKey(tag string) string {
	return "tag:" + tag
}
