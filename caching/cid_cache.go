package caching

import (
	"context"
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/swagftw/gi"
)

// preload page size against the record store
const preloadPageSize = 1000

// CIDExistenceCache is the process-wide set of content identifiers known to
// be pinned/present, short-circuiting expensive existence checks. False
// negatives only trigger a redundant remote check, false positives are never
// allowed: an identifier is marked present only after the store confirmed it
// or a pin succeeded in this run. The on-disk snapshot is best-effort, the
// record store stays authoritative.
type CIDExistenceCache struct {
	mu           sync.RWMutex
	entries      map[string]bool
	store        RecordStore
	disk         DiskCache
	snapshotPath string
}

// NewCIDExistenceCache builds a cache over the given record store and disk
// snapshot, restoring any previous snapshot immediately.
func NewCIDExistenceCache(store RecordStore, disk DiskCache, snapshotPath string) *CIDExistenceCache {
	cache := &CIDExistenceCache{
		entries:      make(map[string]bool),
		store:        store,
		disk:         disk,
		snapshotPath: snapshotPath,
	}

	cache.Restore()

	return cache
}

func InitCIDExistenceCache(store RecordStore, disk DiskCache, snapshotPath string) *CIDExistenceCache {
	cache := NewCIDExistenceCache(store, disk, snapshotPath)

	if err := gi.Inject(cache); err != nil {
		log.Fatal("failed to inject cid existence cache", err)
	}

	return cache
}

// Has reports whether the identifier is known present. On a memory miss the
// record store is queried once and both outcomes are memoized. A failed
// remote check degrades to absent, which at worst costs a redundant pin.
func (c *CIDExistenceCache) Has(ctx context.Context, id string) bool {
	c.mu.RLock()
	present, cached := c.entries[id]
	c.mu.RUnlock()

	if cached {
		return present
	}

	exists, err := c.store.HasCIDRecord(ctx, id)
	if err != nil {
		log.WithError(err).WithField("cid", id).Warn("existence check against record store failed, treating as absent")

		return false
	}

	c.mu.Lock()
	c.entries[id] = exists
	c.mu.Unlock()

	return exists
}

// MarkPresent records that the identifier was confirmed present or
// successfully pinned in this run.
func (c *CIDExistenceCache) MarkPresent(id string) {
	c.mu.Lock()
	c.entries[id] = true
	c.mu.Unlock()
}

// Preload pages the record store's CID records into the cache. Idempotent,
// map keys deduplicate across runs and repeated calls.
func (c *CIDExistenceCache) Preload(ctx context.Context) (int, error) {
	loaded := 0
	cursor := uint64(0)

	for {
		cids, next, err := c.store.PageCIDRecords(ctx, cursor, preloadPageSize)
		if err != nil {
			log.WithError(err).Error("failed to preload cid records page")

			return loaded, err
		}

		c.mu.Lock()
		for _, cid := range cids {
			c.entries[cid] = true
		}
		c.mu.Unlock()

		loaded += len(cids)

		if next == 0 {
			break
		}

		cursor = next
	}

	log.Infof("preloaded %d cid records into existence cache, cache size %d", loaded, c.Len())

	return loaded, nil
}

// Persist writes the full map to the snapshot file as an array of
// [identifier, flag] pairs.
func (c *CIDExistenceCache) Persist() error {
	c.mu.RLock()
	pairs := make([][2]interface{}, 0, len(c.entries))
	for id, present := range c.entries {
		pairs = append(pairs, [2]interface{}{id, present})
	}
	c.mu.RUnlock()

	data, err := json.Marshal(pairs)
	if err != nil {
		log.WithError(err).Error("failed to marshal cid cache snapshot")

		return err
	}

	if err = c.disk.Write(c.snapshotPath, data); err != nil {
		log.WithError(err).Error("failed to write cid cache snapshot to disk")

		return err
	}

	log.Debugf("persisted cid cache snapshot with %d entries", len(pairs))

	return nil
}

// Restore loads the snapshot written by a previous run. Any failure falls
// back to an empty cache, the record store remains authoritative.
func (c *CIDExistenceCache) Restore() {
	data, err := c.disk.Read(c.snapshotPath)
	if err != nil {
		log.WithError(err).Warn("no usable cid cache snapshot, starting with an empty cache")

		return
	}

	var pairs [][2]interface{}

	if err = json.Unmarshal(data, &pairs); err != nil {
		log.WithError(err).Warn("corrupt cid cache snapshot, starting with an empty cache")

		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pair := range pairs {
		id, idOk := pair[0].(string)
		present, flagOk := pair[1].(bool)

		if !idOk || !flagOk {
			continue
		}

		c.entries[id] = present
	}

	log.Infof("restored cid cache snapshot with %d entries", len(c.entries))
}

func (c *CIDExistenceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
