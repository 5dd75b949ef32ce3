// Package cache memoizes recognition results by document content
// fingerprint. It is a pure acceleration layer: any storage failure degrades
// to a miss, never to a processing error.
package cache

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/haoyun/invoice-ocr/internal/extract"
)

// Entry pairs a computed record with the time it was computed.
type Entry struct {
	Record   extract.InvoiceRecord `json:"record"`
	StoredAt time.Time             `json:"stored_at"`
}

// Store is an optional persistent layer under the in-memory cache.
type Store interface {
	Load(fingerprint string) (*Entry, error)
	Save(fingerprint string, e Entry) error
	Close() error
}

// Cache is safe for concurrent use. Eviction is least-recently-used by entry
// count; entries never expire by time.
type Cache struct {
	mem    *lru.Cache[string, Entry]
	store  Store // may be nil
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// New builds a cache bounded to maxEntries records. store may be nil to run
// memory-only.
func New(maxEntries int, store Store, logger *slog.Logger) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	mem, err := lru.New[string, Entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Cache{mem: mem, store: store, logger: logger, now: time.Now}, nil
}

// Get returns the record for a fingerprint, consulting the persistent layer
// on a memory miss. Content-addressed: the fingerprint is the hash of the
// document's full bytes, so an edited file never sees a stale record.
func (c *Cache) Get(fingerprint string) (extract.InvoiceRecord, bool) {
	if e, ok := c.mem.Get(fingerprint); ok {
		return e.Record, true
	}
	if c.store == nil {
		return extract.InvoiceRecord{}, false
	}
	e, err := c.store.Load(fingerprint)
	if err != nil {
		c.logger.Warn("cache.load_error", "fingerprint", fingerprint, "error", err)
		return extract.InvoiceRecord{}, false
	}
	if e == nil {
		return extract.InvoiceRecord{}, false
	}
	c.mem.Add(fingerprint, *e)
	return e.Record, true
}

// Put stores a record under its fingerprint.
func (c *Cache) Put(fingerprint string, rec extract.InvoiceRecord) {
	e := Entry{Record: rec, StoredAt: c.now()}
	c.mem.Add(fingerprint, e)
	if c.store == nil {
		return
	}
	if err := c.store.Save(fingerprint, e); err != nil {
		c.logger.Warn("cache.save_error", "fingerprint", fingerprint, "error", err)
	}
}

// Do returns the cached record for a fingerprint or runs compute to produce
// it. Concurrent callers with the same fingerprint share a single
// computation: duplicates in one batch trigger exactly one render/OCR/AI
// pass. The second return reports whether the result came from cache (or a
// shared in-flight computation) rather than this caller's own compute run.
func (c *Cache) Do(ctx context.Context, fingerprint string,
	compute func(context.Context) (extract.InvoiceRecord, error),
) (extract.InvoiceRecord, bool, error) {
	if rec, ok := c.Get(fingerprint); ok {
		return rec, true, nil
	}

	v, err, shared := c.group.Do(fingerprint, func() (any, error) {
		// Re-check: another flight may have populated the cache between our
		// miss and acquiring the flight.
		if rec, ok := c.Get(fingerprint); ok {
			return rec, nil
		}
		rec, err := compute(ctx)
		if err != nil {
			return extract.InvoiceRecord{}, err
		}
		c.Put(fingerprint, rec)
		return rec, nil
	})
	if err != nil {
		return extract.InvoiceRecord{}, shared, err
	}
	return v.(extract.InvoiceRecord), shared, nil
}

// Len reports the number of in-memory entries.
func (c *Cache) Len() int {
	return c.mem.Len()
}
