// Package credcache is a persistent credential broker backed by BadgerDB.
// Workers ask it for credentials through the engine's auth primitives;
// cached answers survive worker restarts, and entries not marked for
// keeping expire with a session TTL.
package credcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/vfsio/workerkit/internal/protocol/wire"
	"github.com/vfsio/workerkit/internal/worker"
)

// sessionTTL bounds the life of cached credentials that were not marked
// for keeping.
const sessionTTL = 8 * time.Hour

// PromptFunc obtains credentials interactively. It receives the request
// pre-filled with whatever is known (URL, username, prompt text) and
// returns the completed credentials, or an error when the user declines.
type PromptFunc func(info worker.AuthInfo) (worker.AuthInfo, error)

// Broker implements worker.CredentialBroker over a Badger store with an
// optional interactive prompt behind it.
type Broker struct {
	db     *badger.DB
	prompt PromptFunc
	log    *slog.Logger
}

// Options configures a Broker.
type Options struct {
	// Path is the Badger database directory. Empty means in-memory, which
	// drops the cache on exit.
	Path string

	// Prompt is consulted when nothing is cached. Nil means cache-only:
	// a miss fails the query.
	Prompt PromptFunc

	Logger *slog.Logger
}

// Open opens or creates the credential store.
func Open(opts Options) (*Broker, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.Path == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Broker{db: db, prompt: opts.Prompt, log: log}, nil
}

// Close closes the underlying store.
func (b *Broker) Close() error {
	return b.db.Close()
}

// key groups credentials by URL and realm so distinct authentication
// domains on one host do not collide.
func key(info worker.AuthInfo) []byte {
	return []byte("cred:" + info.URL + "|" + info.Realm)
}

// QueryCredentials returns cached credentials when present, otherwise
// prompts. A prompt result is not cached automatically; callers cache
// through CacheAuthentication once the credentials are verified to work.
func (b *Broker) QueryCredentials(info worker.AuthInfo) (worker.AuthInfo, error) {
	if cached, ok := b.CheckCached(info); ok {
		return cached, nil
	}
	if b.prompt == nil {
		return info, wire.NewError(wire.ErrCannotAuthenticate, info.URL)
	}
	filled, err := b.prompt(info)
	if err != nil {
		return info, wire.NewError(wire.ErrUserCanceled, info.URL)
	}
	return filled, nil
}

// CheckCached looks up stored credentials without prompting.
func (b *Broker) CheckCached(info worker.AuthInfo) (worker.AuthInfo, bool) {
	var found worker.AuthInfo
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(info))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &found)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			b.log.Warn("credential lookup failed", "url", info.URL, "err", err)
		}
		return info, false
	}
	return found, true
}

// Cache stores verified credentials. Entries without KeepPassword expire
// with the session TTL.
func (b *Broker) Cache(info worker.AuthInfo) error {
	val, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key(info), val)
		if !info.KeepPassword {
			entry = entry.WithTTL(sessionTTL)
		}
		return txn.SetEntry(entry)
	})
}

// Remove drops stored credentials for the request's URL and realm.
func (b *Broker) Remove(info worker.AuthInfo) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(info))
	})
}
