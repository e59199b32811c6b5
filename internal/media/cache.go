package media

import (
	appLog "signage/internal/log"
	"signage/internal/model"
)

type entry struct {
	ref string
	res model.MediaResolution
}

// Cache memoizes resolutions by record id. It is not safe for concurrent
// use; the display controller owns it.
type Cache struct {
	classifier *Classifier
	entries    map[int]entry
}

func NewCache(c *Classifier) *Cache {
	return &Cache{
		classifier: c,
		entries:    make(map[int]entry),
	}
}

// Sync brings the cache in line with a newly accepted snapshot: records
// that are missing or whose media ref changed are resolved, ids no longer
// present are evicted. It returns the number of records resolved.
func (c *Cache) Sync(records []model.DisplayRecord) int {
	present := make(map[int]struct{}, len(records))
	resolved := 0

	for _, rec := range records {
		present[rec.ID] = struct{}{}
		if e, ok := c.entries[rec.ID]; ok && e.ref == rec.MediaRef {
			continue
		}
		res, err := c.classifier.Classify(rec)
		if err != nil {
			appLog.Warn("media: unresolvable", "id", rec.ID, "err", err)
		}
		c.entries[rec.ID] = entry{ref: rec.MediaRef, res: res}
		resolved++
	}

	for id := range c.entries {
		if _, ok := present[id]; !ok {
			delete(c.entries, id)
		}
	}
	return resolved
}

// Get returns the resolution for a record id. Unknown ids resolve to kind
// UNKNOWN.
func (c *Cache) Get(id int) model.MediaResolution {
	if e, ok := c.entries[id]; ok {
		return e.res
	}
	return model.MediaResolution{Kind: model.MediaUnknown}
}

// Kind is Get(id).Kind.
func (c *Cache) Kind(id int) model.MediaKind {
	return c.Get(id).Kind
}

func (c *Cache) Len() int {
	return len(c.entries)
}
