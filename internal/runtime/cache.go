package runtime

import (
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/loqalabs/readaloud/internal/library"
	"github.com/loqalabs/readaloud/internal/timing"
)

const defaultTimingCacheSize = 64

type cachedTiming struct {
	modTime time.Time
	size    int64
	model   *timing.Model
}

// timingCache keeps recently used timing models in memory. An entry is
// reused only while the file on disk is unchanged, so regenerated audio is
// picked up on the next request.
type timingCache struct {
	entries *lru.Cache[string, cachedTiming]
}

func newTimingCache(size int) (*timingCache, error) {
	if size <= 0 {
		size = defaultTimingCacheSize
	}
	entries, err := lru.New[string, cachedTiming](size)
	if err != nil {
		return nil, err
	}
	return &timingCache{entries: entries}, nil
}

func (c *timingCache) get(path string) (*timing.Model, error) {
	info, err := os.Stat(path)
	if err != nil {
		c.entries.Remove(path)
		return nil, err
	}
	if e, ok := c.entries.Get(path); ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		return e.model, nil
	}
	model, err := timing.Load(path)
	if err != nil {
		return nil, err
	}
	c.entries.Add(path, cachedTiming{modTime: info.ModTime(), size: info.Size(), model: model})
	return model, nil
}

// forget drops every cached model belonging to item.
func (c *timingCache) forget(lib *library.Library, item library.Item) {
	if _, path, err := lib.Paths(item, -1); err == nil {
		c.entries.Remove(path)
	}
	for i := range item.Chapters {
		if _, path, err := lib.Paths(item, i); err == nil {
			c.entries.Remove(path)
		}
	}
}

func (c *timingCache) len() int { return c.entries.Len() }
