package storage

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/linkpeek/linkpeek/pkg/config"
	"github.com/linkpeek/linkpeek/pkg/models"
	"github.com/linkpeek/linkpeek/pkg/utils"
)

// ExpansionStore keeps short URL expansion results, including cached absences
type ExpansionStore interface {
	// Lookup returns LookupHit or LookupAbsent with the entry when the key is
	// stored, LookupMiss when it is not, and LookupDBError with the error when
	// the store could not be read
	Lookup(shortURL string) (status models.LookupStatus, entry *models.ExpansionEntry, err error)

	// Save stores entry for shortURL, replacing any previous value
	Save(shortURL string, entry models.ExpansionEntry) error

	// Clear removes every entry
	Clear() error

	// Len returns the number of stored entries
	Len() int

	// Close releases the store
	Close() error
}

// Open creates the store selected by cfg. cfg must be validated.
func Open(cfg config.StoreConfig, logger *logrus.Entry) (ExpansionStore, error) {
	switch cfg.Backend {
	case config.StoreBackendMemory, "":
		return NewMemoryStore(), nil
	case config.StoreBackendBadger:
		return NewBadgerStore(cfg.Path, cfg.TTL, logger)
	}
	return nil, fmt.Errorf("%w: unknown expansion store backend '%s'", utils.ErrConfigValidation, cfg.Backend)
}
