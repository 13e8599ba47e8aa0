// Package tokenstore persists OAuth tokens in a small bolt database so
// refresh tokens survive restarts.
package tokenstore

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/oauth2"
)

const (
	rootBucket = "tokens"
	defaultKey = "default"
)

// Store is a bolt-backed token repository. The database is opened per
// operation, like the event store it is modeled on, so the file stays
// closed between syncs.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// Save persists the token under the default key.
func (s *Store) Save(tok *oauth2.Token) error {
	if tok == nil {
		return fmt.Errorf("tokenstore: nil token")
	}
	db, err := bolt.Open(s.path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("tokenstore: open %s: %w", s.path, err)
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
		if err != nil {
			return fmt.Errorf("tokenstore: create bucket: %w", err)
		}
		raw, err := json.Marshal(tok)
		if err != nil {
			return err
		}
		return b.Put([]byte(defaultKey), raw)
	})
}

// Load returns the stored token, or (nil, nil) when none has been saved
// yet.
func (s *Store) Load() (*oauth2.Token, error) {
	db, err := bolt.Open(s.path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: open %s: %w", s.path, err)
	}
	defer db.Close()

	var tok *oauth2.Token
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(rootBucket))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(defaultKey))
		if raw == nil {
			return nil
		}
		tok = new(oauth2.Token)
		return json.Unmarshal(raw, tok)
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// Clear removes any stored token.
func (s *Store) Clear() error {
	db, err := bolt.Open(s.path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("tokenstore: open %s: %w", s.path, err)
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(rootBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(defaultKey))
	})
}
