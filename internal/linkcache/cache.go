// Package linkcache remembers the payloads behind short ids this machine
// has created or resolved, so links still open when the server is down.
package linkcache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/AtharvRG/fractal/pkg/protocol"
)

// Kind namespaces ids from different services.
type Kind string

const (
	KindShortLink Kind = "sb"
	KindEphemeral Kind = "s"
)

// Cache is a badger-backed id to payload map.
type Cache struct {
	db *badger.DB
}

// Open opens or creates the cache in dir.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None)
	return open(opts)
}

// OpenInMemory returns a cache that is never written to disk.
func OpenInMemory() (*Cache, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.WARNING)
	return open(opts)
}

func open(opts badger.Options) (*Cache, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open link cache: %w", err)
	}
	return &Cache{db: db}, nil
}

func key(kind Kind, id string) []byte {
	return []byte(string(kind) + ":" + id)
}

// Put stores payload for id. A positive ttl lets badger expire the entry.
func (c *Cache) Put(kind Kind, id, payload string, ttl time.Duration) error {
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key(kind, id), []byte(payload))
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Get returns the payload for id or protocol.ErrNotFound.
func (c *Cache) Get(kind Kind, id string) (string, error) {
	var payload string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(kind, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			payload = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("cached %s link %q: %w", kind, id, protocol.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read link cache: %w", err)
	}
	return payload, nil
}

// Delete forgets id.
func (c *Cache) Delete(kind Kind, id string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(kind, id))
	})
}

// Entry is one cached link.
type Entry struct {
	Kind Kind
	ID   string
	Size int
}

// List returns every cached entry of kind.
func (c *Cache) List(kind Kind) ([]Entry, error) {
	var out []Entry
	prefix := key(kind, "")
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			out = append(out, Entry{
				Kind: kind,
				ID:   string(item.Key()[len(prefix):]),
				Size: int(item.ValueSize()),
			})
		}
		return nil
	})
	return out, err
}

func (c *Cache) Close() error {
	return c.db.Close()
}
