package txindex

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// treeCache is the LRU keyed by block hash, bounding the live
// Merkle-tree set to Config.MaxCachedTrees.
type treeCache struct {
	cache *lru.Cache[Hash, *Tree]
}

func newTreeCache(size int) *treeCache {
	if size <= 0 {
		size = 1
	}
	c, _ := lru.New[Hash, *Tree](size)
	return &treeCache{cache: c}
}

func (c *treeCache) get(hash Hash) (*Tree, bool) {
	return c.cache.Get(hash)
}

func (c *treeCache) add(hash Hash, tree *Tree) {
	c.cache.Add(hash, tree)
}

func (c *treeCache) len() int {
	return c.cache.Len()
}
