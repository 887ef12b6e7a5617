package pendingstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"gridpilot/pkg/execution"
)

var keyPrefix = []byte("pending/")

var _ execution.PendingStore = (*Store)(nil)

// Store keeps broadcast-but-unresolved attempts in Badger so their exposure
// survives a restart.
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path     string
	InMemory bool
	ReadOnly bool
}

func Open(opts OpenOptions) (*Store, error) {
	var bopts badger.Options
	switch {
	case opts.InMemory:
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(opts.Path) == "":
		return nil, errors.New("pendingstore: path is required")
	default:
		bopts = badger.DefaultOptions(opts.Path)
	}
	if opts.ReadOnly && !opts.InMemory {
		bopts = bopts.WithReadOnly(true)
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("pendingstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func key(outcomeID string) []byte {
	return append(append([]byte(nil), keyPrefix...), outcomeID...)
}

// Put stores p under its outcome id, replacing any previous entry.
func (s *Store) Put(ctx context.Context, p execution.Pending) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(p.OutcomeID) == "" {
		return errors.New("pendingstore: outcome id is required")
	}
	val, err := msgpack.Marshal(p)
	if err != nil {
		return fmt.Errorf("pendingstore: encode %s: %w", p.OutcomeID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(p.OutcomeID), val)
	})
}

// Delete removes an entry. Missing entries are not an error.
func (s *Store) Delete(ctx context.Context, outcomeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(outcomeID))
	})
}

// Get returns one entry.
func (s *Store) Get(ctx context.Context, outcomeID string) (execution.Pending, bool, error) {
	if err := ctx.Err(); err != nil {
		return execution.Pending{}, false, err
	}
	var (
		p     execution.Pending
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(outcomeID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error { return msgpack.Unmarshal(v, &p) })
	})
	return p, found, err
}

// List returns every stored entry, oldest park first.
func (s *Store) List(ctx context.Context) ([]execution.Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []execution.Pending
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var p execution.Pending
			if err := it.Item().Value(func(v []byte) error { return msgpack.Unmarshal(v, &p) }); err != nil {
				return fmt.Errorf("pendingstore: decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ParkedAt.Before(out[j].ParkedAt) })
	return out, nil
}
