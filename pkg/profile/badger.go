package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

var keyPrefix = []byte("profile/")

func key(id uuid.UUID) []byte {
	return append(append([]byte(nil), keyPrefix...), id.String()...)
}

const maxPutAttempts = 16

// Badger is a Store backed by BadgerDB v4 with msgpack encoded values.
type Badger struct {
	db *badger.DB
}

type BadgerOptions struct {
	// Dir holds the database files. Required unless InMemory.
	Dir string
	// InMemory keeps everything in memory, for tests.
	InMemory bool
	Logger   *slog.Logger
}

func OpenBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("profile: badger dir is required for on-disk mode")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	dbOpts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithLogger(badgerLogger{log.With("component", "badger")})
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("")
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile store %s: %w", opts.Dir, err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Put(_ context.Context, p Profile) error {
	val, err := msgpack.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile %s: %w", p.ID, err)
	}
	put := func(txn *badger.Txn) error {
		err := scan(txn, func(other Profile) error {
			if other.ID != p.ID && equalNames(other.Name, p.Name) {
				return fmt.Errorf("%w: %q is %s", ErrNameTaken, p.Name, other.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return txn.Set(key(p.ID), val)
	}
	// a conflict means another writer committed over the scanned names; the
	// next attempt sees its profile
	for attempt := 1; ; attempt++ {
		err = b.db.Update(put)
		if !errors.Is(err, badger.ErrConflict) || attempt == maxPutAttempts {
			return err
		}
	}
}

func (b *Badger) Get(_ context.Context, id uuid.UUID) (Profile, error) {
	var p Profile
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &p)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile %s: %w", id, err)
	}
	return p, nil
}

func (b *Badger) Delete(_ context.Context, id uuid.UUID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		return txn.Delete(key(id))
	})
}

func (b *Badger) List(_ context.Context) ([]Profile, error) {
	var out []Profile
	err := b.db.View(func(txn *badger.Txn) error {
		return scan(txn, func(p Profile) error {
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	sortProfiles(out)
	return out, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func scan(txn *badger.Txn, fn func(Profile) error) error {
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = keyPrefix
	it := txn.NewIterator(iterOpts)
	defer it.Close()
	for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
		var p Profile
		err := it.Item().Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &p)
		})
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
		}
		if err = fn(p); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger routes badger's printf logging into slog. Info chatter from
// compactions is demoted to debug.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...any)   { l.log.Error(msg(f, v)) }
func (l badgerLogger) Warningf(f string, v ...any) { l.log.Warn(msg(f, v)) }
func (l badgerLogger) Infof(f string, v ...any)    { l.log.Debug(msg(f, v)) }
func (l badgerLogger) Debugf(f string, v ...any)   { l.log.Debug(msg(f, v)) }

func msg(f string, v []any) string {
	return strings.TrimSpace(fmt.Sprintf(f, v...))
}
