// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package sqlparse

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 256

// Cache memoizes Parse results by SQL text. Parse is pure, so a stale or
// missing entry only costs another parse.
type Cache struct {
	cache *lru.Cache[string, *QueryInfo]
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, err := lru.New[string, *QueryInfo](size)
	if err != nil {
		return nil, err
	}
	return &Cache{cache: c}, nil
}

func (c *Cache) Get(sql string) (*QueryInfo, error) {
	if info, ok := c.cache.Get(sql); ok {
		return info, nil
	}
	info, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	c.cache.Add(sql, info)
	return info, nil
}

func (c *Cache) Len() int {
	return c.cache.Len()
}
