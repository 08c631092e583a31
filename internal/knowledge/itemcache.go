package knowledge

import "github.com/knowledgerepo/knowledge-repository/internal/knowledge/cache"

// Cache is the bounded knowledge-item cache contract the Store consults on
// every Get and mutation, backed by package cache's generic LRU.
type Cache = cache.Cache[*Item]

// NewItemCache builds a bounded LRU cache of knowledge items with secondary
// views over topic, type, tag, and status, mirroring the Store's own
// indices.
func NewItemCache(maxSize int) Cache {
	return cache.New[*Item](maxSize, itemCacheID, itemCacheIndexers)
}

func itemCacheID(item *Item) string { return item.ID }

var itemCacheIndexers = map[string]cache.IndexFunc[*Item]{
	"topic": func(item *Item) []string { return []string{item.Topic} },
	"type":  func(item *Item) []string { return []string{string(item.Type)} },
	"tag": func(item *Item) []string {
		tags := make([]string, 0, len(item.Tags))
		for t := range item.Tags {
			tags = append(tags, t)
		}
		return tags
	},
	"status": func(item *Item) []string { return []string{string(item.Status)} },
}
