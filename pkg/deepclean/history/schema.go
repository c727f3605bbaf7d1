package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// CurrentSchemaVersion is the layout this build reads and writes.
//
//	1: run records under r:, newest-first time index under t:
const CurrentSchemaVersion = 1

var schemaKey = []byte(prefixMeta + "__schema__")

// ErrSchemaTooNew is returned when the index was written by a newer build.
var ErrSchemaTooNew = errors.New("history schema is newer than this build")

// Schema is the layout marker stored in the index.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GetSchema returns the stored schema, or nil for an index that has none.
func (s *Store) GetSchema() (*Schema, error) {
	var schema *Schema
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		schema, err = readSchema(txn)
		return err
	})
	return schema, err
}

func readSchema(txn *badger.Txn) (*Schema, error) {
	item, err := txn.Get(schemaKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var schema Schema
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &schema) }); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	return &schema, nil
}

// ensureSchema stamps a fresh or older index with CurrentSchemaVersion.
// Version 1 is the first layout, so there is nothing to migrate yet.
func (s *Store) ensureSchema() error {
	return s.db.Update(func(txn *badger.Txn) error {
		schema, err := readSchema(txn)
		if err != nil {
			return err
		}
		if schema != nil && schema.Version > CurrentSchemaVersion {
			return fmt.Errorf("%w: version %d", ErrSchemaTooNew, schema.Version)
		}
		if schema != nil && schema.Version == CurrentSchemaVersion {
			return nil
		}

		data, err := json.Marshal(Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return txn.Set(schemaKey, data)
	})
}
