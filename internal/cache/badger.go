package cache

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/rotisserie/eris"
)

// BadgerStore persists cache entries in an embedded BadgerDB. Safe for
// concurrent readers; writes are last-writer-wins, which is fine because
// entries are content-addressed.
type BadgerStore struct {
	db *badger.DB
}

// NewBadger opens (or creates) a badger-backed store at the given path.
// An empty path opens an in-memory database, which is what tests use.
func NewBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: open badger at %q", path)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: badger get")
	}
	return value, true, nil
}

func (s *BadgerStore) Set(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	return eris.Wrap(err, "cache: badger set")
}

func (s *BadgerStore) Clear() error {
	return eris.Wrap(s.db.DropAll(), "cache: badger clear")
}

func (s *BadgerStore) Count() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if string(it.Item().Key()) == countersKey {
				continue
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "cache: badger count")
	}
	return count, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
