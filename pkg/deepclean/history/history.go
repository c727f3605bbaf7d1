// Package history keeps a Badger-backed index of sealed runs.
//
// Each record is the anchoring handoff for one run plus a BLAKE3 digest of
// the archive, which lets verify detect local corruption without trusting
// the standalone manifest. Records are keyed by run id with a secondary
// time index for listing recent runs.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/deepclean/pkg/deepclean/bundle"
	"github.com/jamesainslie/deepclean/pkg/deepclean/digest"
)

// Key prefixes
const (
	prefixRun  = "r:" // runId -> Record
	prefixTime = "t:" // end time (8 bytes) + runId -> runId
	prefixMeta = "m:"
)

// ErrNotFound is returned when no record exists for a run id.
var ErrNotFound = errors.New("run not found in history")

// Record is one sealed run.
type Record struct {
	RunID        string    `json:"runId" yaml:"runId"`
	RootPath     string    `json:"rootPath" yaml:"rootPath"`
	DryRun       bool      `json:"dryRun" yaml:"dryRun"`
	Complete     bool      `json:"complete" yaml:"complete"`
	EndTimestamp time.Time `json:"endTimestamp" yaml:"endTimestamp"`
	Summary      string    `json:"summary" yaml:"summary"`
	PolicyHash   string    `json:"policyHash" yaml:"policyHash"`
	PlanHash     string    `json:"planHash" yaml:"planHash"`
	BundlePath   string    `json:"bundlePath" yaml:"bundlePath"`
	BundleSHA256 string    `json:"bundleSha256" yaml:"bundleSha256"`
	BundleBLAKE3 string    `json:"bundleBlake3" yaml:"bundleBlake3"`
	ManifestPath string    `json:"manifestPath" yaml:"manifestPath"`
}

// NewRecord builds the record for a sealed bundle, hashing the archive
// with BLAKE3.
func NewRecord(b *bundle.Bundle) (*Record, error) {
	sum, err := digest.BLAKE3File(b.Path)
	if err != nil {
		return nil, fmt.Errorf("hashing bundle: %w", err)
	}
	m := b.Manifest
	return &Record{
		RunID:        m.RunID,
		RootPath:     m.RootPath,
		DryRun:       m.DryRun,
		Complete:     m.Complete,
		EndTimestamp: m.EndTimestamp,
		Summary:      m.Summary,
		PolicyHash:   m.PolicyHash,
		PlanHash:     m.PlanHash,
		BundlePath:   b.Path,
		BundleSHA256: b.SHA256,
		BundleBLAKE3: sum,
		ManifestPath: b.ManifestPath,
	}, nil
}

// Intact reports whether the archive on disk still has the recorded
// BLAKE3 digest.
func (r *Record) Intact() (bool, error) {
	sum, err := digest.BLAKE3File(r.BundlePath)
	if err != nil {
		return false, err
	}
	return sum == r.BundleBLAKE3, nil
}

// Store is the history index.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores rec, replacing any earlier record for the same run.
func (s *Store) Put(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if old, err := getRecord(txn, rec.RunID); err == nil {
			if err := txn.Delete(timeKey(old)); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := txn.Set(runKey(rec.RunID), data); err != nil {
			return err
		}
		return txn.Set(timeKey(rec), []byte(rec.RunID))
	})
}

// Get returns the record for runID.
func (s *Store) Get(runID string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Recent returns up to limit records, newest first. A limit of zero
// returns every record.
func (s *Store) Recent(limit int) ([]*Record, error) {
	var results []*Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixTime)
		seek := append([]byte(prefixTime), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(results) >= limit {
				break
			}
			var runID string
			if err := it.Item().Value(func(val []byte) error {
				runID = string(val)
				return nil
			}); err != nil {
				return err
			}
			rec, err := getRecord(txn, runID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			results = append(results, rec)
		}
		return nil
	})

	return results, err
}

// Delete removes the record for runID. Deleting a missing run is not an
// error.
func (s *Store) Delete(runID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, runID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(timeKey(rec)); err != nil {
			return err
		}
		return txn.Delete(runKey(runID))
	})
}

// Prune keeps the newest keep records and deletes the rest. It returns
// the number of records removed.
func (s *Store) Prune(keep int) (int, error) {
	all, err := s.Recent(0)
	if err != nil {
		return 0, err
	}
	if keep < 0 || len(all) <= keep {
		return 0, nil
	}

	removed := 0
	for _, rec := range all[keep:] {
		if err := s.Delete(rec.RunID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func getRecord(txn *badger.Txn, runID string) (*Record, error) {
	item, err := txn.Get(runKey(runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

func runKey(runID string) []byte {
	return []byte(prefixRun + runID)
}

// timeKey sorts by end time, then run id.
func timeKey(rec *Record) []byte {
	key := make([]byte, 0, len(prefixTime)+8+len(rec.RunID))
	key = append(key, prefixTime...)
	key = binary.BigEndian.AppendUint64(key, uint64(rec.EndTimestamp.UnixNano()))
	return append(key, rec.RunID...)
}
