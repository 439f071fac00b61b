// Package cache 提供带容量上限与 TTL 的泛型 LRU 缓存
//
// 审计读取器用它缓存修订号到修订时间的映射，修订一经提交便不可变，
// 因此只需要容量管理，TTL 仅用于长时间运行的进程回收冷数据。
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// Config 缓存配置
type Config struct {
	// Name 缓存名称（用于日志和统计）
	Name string

	// MaxSize 最大缓存条目数，0 表示无限制
	MaxSize int

	// TTL 基于访问时间的过期时间，0 表示永不过期
	TTL time.Duration
}

// Stats 缓存统计信息
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expires   int64
	Size      int
}

// Loader 缓存未命中时的加载函数
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Cache 并发安全的泛型 LRU 缓存
type Cache[K comparable, V any] struct {
	config Config

	mu      sync.Mutex
	items   map[K]*list.Element
	lruList *list.List // 最近使用的在前
	stats   Stats
	now     func() time.Time
}

type entry[K comparable, V any] struct {
	key        K
	value      V
	accessedAt time.Time
}

// New 创建新的缓存实例
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	return &Cache[K, V]{
		config:  config,
		items:   make(map[K]*list.Element),
		lruList: list.New(),
		now:     time.Now,
	}
}

// Get 获取缓存值，过期条目视为未命中并被移除
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[K, V]) getLocked(key K) (V, bool) {
	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}

	e := el.Value.(*entry[K, V])
	if c.expiredLocked(e) {
		c.removeLocked(el)
		c.stats.Misses++
		c.stats.Expires++
		return zero, false
	}

	e.accessedAt = c.now()
	c.lruList.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Set 设置缓存值，超过容量时驱逐最久未使用的条目
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

func (c *Cache[K, V]) setLocked(key K, value V) {
	now := c.now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.accessedAt = now
		c.lruList.MoveToFront(el)
		return
	}

	if c.config.MaxSize > 0 && len(c.items) >= c.config.MaxSize {
		if oldest := c.lruList.Back(); oldest != nil {
			c.removeLocked(oldest)
			c.stats.Evictions++
		}
	}

	c.items[key] = c.lruList.PushFront(&entry[K, V]{key: key, value: value, accessedAt: now})
}

// GetOrLoad 命中则直接返回，否则调用 loader 加载并写入缓存。
//
// loader 在锁外执行；加载失败时不写入缓存。
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, loader Loader[K, V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := loader(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}

	c.Set(key, v)
	return v, nil
}

// Delete 删除缓存条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// Clear 清空所有缓存
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.lruList.Init()
}

// Len 当前条目数
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats 获取缓存统计信息（副本）
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

func (c *Cache[K, V]) expiredLocked(e *entry[K, V]) bool {
	return c.config.TTL > 0 && c.now().Sub(e.accessedAt) >= c.config.TTL
}

func (c *Cache[K, V]) removeLocked(el *list.Element) {
	e := c.lruList.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
}

// String 返回缓存信息的字符串表示
func (c *Cache[K, V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d, hits=%d, misses=%d, evictions=%d, expires=%d",
		c.config.Name, s.Size, c.config.MaxSize, s.Hits, s.Misses, s.Evictions, s.Expires)
}
