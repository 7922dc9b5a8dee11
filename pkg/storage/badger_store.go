package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/linkpeek/linkpeek/pkg/log"
	"github.com/linkpeek/linkpeek/pkg/models"
	"github.com/linkpeek/linkpeek/pkg/utils"
)

const expandKeyPrefix = "expand:" // Prefix for short URL keys in DB

// BadgerStore implements ExpansionStore on BadgerDB so expansions survive restarts
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration // 0 = entries never expire
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the expansion database in dir.
// Entries written with a positive ttl expire on their own.
func NewBadgerStore(dir string, ttl time.Duration, logger *logrus.Entry) (*BadgerStore, error) {
	logger.Infof("Opening expansion database at: %s", dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dir, err)
	}
	return openBadger(badger.DefaultOptions(dir), ttl, logger)
}

// NewInMemoryBadgerStore opens a BadgerStore that keeps everything in memory
func NewInMemoryBadgerStore(ttl time.Duration, logger *logrus.Entry) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true), ttl, logger)
}

func openBadger(opts badger.Options, ttl time.Duration, logger *logrus.Entry) (*BadgerStore, error) {
	opts = opts.
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1) // Only the latest expansion matters

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, opts.Dir, err)
	}
	return &BadgerStore{db: db, ttl: ttl, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Conflicts between concurrent writers of the same key clear up almost immediately.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Lookup implements ExpansionStore
func (s *BadgerStore) Lookup(shortURL string) (models.LookupStatus, *models.ExpansionEntry, error) {
	status := models.LookupMiss
	var entry *models.ExpansionEntry
	key := []byte(expandKeyPrefix + shortURL)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}

		return item.Value(func(val []byte) error {
			var decoded models.ExpansionEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				s.log.Warnf("Failed to unmarshal ExpansionEntry for key '%s': %v. Treating as 'miss'.", string(key), errJSON)
				return nil
			}
			entry = &decoded
			status = decoded.Status()
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB View error in Lookup for key '%s': %v", string(key), errView)
		return models.LookupDBError, nil, errView
	}
	return status, entry, nil
}

// Save implements ExpansionStore
func (s *BadgerStore) Save(shortURL string, entry models.ExpansionEntry) error {
	key := []byte(expandKeyPrefix + shortURL)

	val, errJSON := json.Marshal(entry)
	if errJSON != nil {
		return fmt.Errorf("%w: failed to marshal ExpansionEntry for key '%s': %w", utils.ErrParsing, string(key), errJSON)
	}

	err := s.dbUpdate(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, val)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in Save: %v", err)
		return fmt.Errorf("%w: failed saving key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return nil
}

// Clear implements ExpansionStore
func (s *BadgerStore) Clear() error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("%w: dropping expansion entries: %w", utils.ErrDatabase, err)
	}
	s.log.Debug("Expansion database cleared")
	return nil
}

// Len implements ExpansionStore. Expired entries are not counted.
func (s *BadgerStore) Len() int {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(expandKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		s.log.Warnf("Counting expansion entries failed: %v", err)
	}
	return count
}

// RunGC runs BadgerDB's value log garbage collection every interval until ctx is done
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db.IsClosed() {
				return
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close implements ExpansionStore
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing expansion DB: %v", err)
		return err
	}
	s.log.Debug("Expansion DB closed.")
	return nil
}
