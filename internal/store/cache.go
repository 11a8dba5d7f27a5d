package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/keyhaven/chat-engine/internal/message"
)

// Cache is an optional bbolt-backed disk cache so a conversation can render
// immediately on reopen before the network catches up. Layout: one bucket
// per counterpart ID, one record per message keyed by "<rfc3339nano>|<id>"
// so a bucket scan yields chronological order for free.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (or creates) the cache file at path.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open cache %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying bbolt database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Save replaces the cached conversation for a counterpart with the given
// messages.
func (c *Cache) Save(counterpartID string, msgs []message.Message) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(counterpartID)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket([]byte(counterpartID))
		if err != nil {
			return err
		}
		for _, m := range msgs {
			data, err := json.Marshal(m)
			if err != nil {
				return err
			}
			key := m.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z") + "|" + m.ID
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns the cached conversation for a counterpart, oldest first.
// A counterpart with no cached bucket yields an empty slice.
func (c *Cache) Load(counterpartID string) ([]message.Message, error) {
	var out []message.Message
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(counterpartID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var m message.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Drop removes the cached conversation for a counterpart.
func (c *Cache) Drop(counterpartID string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(counterpartID))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}
