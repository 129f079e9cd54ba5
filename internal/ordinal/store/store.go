// Package store implements the index's ordered key-value tables on top of
// go.etcd.io/bbolt: one bucket per table, a single writer transaction at a
// time, and unlimited concurrent MVCC read snapshots. The bucket/Update/
// View/Cursor idiom follows the embedded-store pattern used elsewhere in
// this codebase's lineage; the table layout and invariants are this
// package's own.
package store

import (
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ordindexer/ordindexer/internal/ordinal/entry"
)

// SchemaVersion is the compiled schema version. Bumping it without a
// migration path is a breaking change; Open refuses to touch an index
// written by a different version.
const SchemaVersion = 1

// Bucket names, one per table in the data model.
var (
	bucketHeightToBlockHash       = []byte("HEIGHT_TO_BLOCK_HASH")
	bucketOutpointToSatRanges     = []byte("OUTPOINT_TO_SAT_RANGES")
	bucketOutpointToValue         = []byte("OUTPOINT_TO_VALUE")
	bucketInscriptionIDToEntry    = []byte("INSCRIPTION_ID_TO_INSCRIPTION_ENTRY")
	bucketInscriptionIDToSatpoint = []byte("INSCRIPTION_ID_TO_SATPOINT")
	bucketSatpointToInscriptionID = []byte("SATPOINT_TO_INSCRIPTION_ID")
	bucketInscriptionNumberToID   = []byte("INSCRIPTION_NUMBER_TO_INSCRIPTION_ID")
	bucketSatToInscriptionID      = []byte("SAT_TO_INSCRIPTION_ID")
	bucketSatToSatpoint           = []byte("SAT_TO_SATPOINT")
	bucketStatisticToCount        = []byte("STATISTIC_TO_COUNT")
	bucketWriteTxStartTimestamps  = []byte("WRITE_TX_START_TIMESTAMPS")
)

var allBuckets = [][]byte{
	bucketHeightToBlockHash,
	bucketOutpointToSatRanges,
	bucketOutpointToValue,
	bucketInscriptionIDToEntry,
	bucketInscriptionIDToSatpoint,
	bucketSatpointToInscriptionID,
	bucketInscriptionNumberToID,
	bucketSatToInscriptionID,
	bucketSatToSatpoint,
	bucketStatisticToCount,
	bucketWriteTxStartTimestamps,
}

// Statistic identifies a row in STATISTIC_TO_COUNT.
type Statistic uint64

const (
	StatisticSchema              Statistic = 0
	StatisticCommits              Statistic = 1
	StatisticLostSats             Statistic = 2
	StatisticOutputsTraversed     Statistic = 3
	StatisticSatRanges            Statistic = 4
	StatisticUnboundInscriptions  Statistic = 5
	// StatisticReorgCheckpoint records the in-progress rollback target
	// height during reorg recovery (§4.6.1); present only while a
	// rollback is underway, cleared by the commit that finishes it.
	StatisticReorgCheckpoint Statistic = 6
)

// ErrSchemaMismatch is returned by Open when the on-disk schema version
// does not match SchemaVersion.
type ErrSchemaMismatch struct {
	OnDisk   uint64
	Compiled uint64
}

func (e *ErrSchemaMismatch) Error() string {
	if e.OnDisk < e.Compiled {
		return fmt.Sprintf("index schema %d, ord schema %d, older, incompatible; rebuild the index", e.OnDisk, e.Compiled)
	}
	return fmt.Sprintf("index schema %d, ord schema %d, newer, incompatible; upgrade your binary", e.OnDisk, e.Compiled)
}

// Config controls how Open opens or creates the index file.
type Config struct {
	// Path is the index file location (default.go picks index.bolt /
	// unsafe.bolt per the caller's intent).
	Path string
	// IndexSats enables OUTPOINT_TO_SAT_RANGES / SAT_TO_INSCRIPTION_ID /
	// SAT_TO_SATPOINT maintenance.
	IndexSats bool
	// ReadOnly opens the file without acquiring the writer lock and
	// bypasses the schema-version gate, for exploratory "unsafe" access.
	ReadOnly bool
	// NoSync disables bbolt's fsync-per-commit durability, trading
	// crash-safety for speed in test harnesses.
	NoSync bool
}

// Store wraps the underlying bbolt database with the schema-version gate
// and per-table bucket bootstrap.
type Store struct {
	db        *bolt.DB
	indexSats bool
	path      string
}

// Open opens or creates the index file at cfg.Path.
func Open(cfg Config) (*Store, error) {
	fresh := false
	if !cfg.ReadOnly {
		if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
			fresh = true
		}
	}

	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{
		ReadOnly: cfg.ReadOnly,
		Timeout:  5 * time.Second,
		NoSync:   cfg.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open index file %s: %w", cfg.Path, err)
	}

	s := &Store{db: db, indexSats: cfg.IndexSats, path: cfg.Path}

	if cfg.ReadOnly {
		// The "unsafe" exploratory path bypasses the schema gate
		// entirely, per the external-interfaces contract.
		return s, nil
	}

	if fresh {
		if err := s.bootstrap(); err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	}

	if err := s.checkSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) bootstrap() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		stats := tx.Bucket(bucketStatisticToCount)
		if err := putStatistic(stats, StatisticSchema, SchemaVersion); err != nil {
			return err
		}

		if s.indexSats {
			ranges := tx.Bucket(bucketOutpointToSatRanges)
			if err := ranges.Put(entry.NullOutPoint.Store(), entry.EncodeSatRanges(nil)); err != nil {
				return fmt.Errorf("seed lost-sats bucket: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) checkSchema() error {
	return s.db.View(func(tx *bolt.Tx) error {
		stats := tx.Bucket(bucketStatisticToCount)
		if stats == nil {
			return fmt.Errorf("index file %s has no statistics table; corrupt", s.path)
		}
		schema, ok, err := getStatistic(stats, StatisticSchema)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("index file %s has no schema statistic; corrupt", s.path)
		}
		if schema != SchemaVersion {
			return &ErrSchemaMismatch{OnDisk: schema, Compiled: SchemaVersion}
		}
		return nil
	})
}

// IndexSats reports whether the sat-range tables are maintained.
func (s *Store) IndexSats() bool { return s.indexSats }

// Path returns the index file's location on disk.
func (s *Store) Path() string { return s.path }

// Close flushes and closes the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// TxStart is one row of WRITE_TX_START_TIMESTAMPS: the height a write
// transaction started indexing and when.
type TxStart struct {
	StartingHeight   entry.Height
	MicrosSinceEpoch uint64
}

// IndexInfo is a diagnostic snapshot of the index's on-disk shape, for
// C7's Info operation.
type IndexInfo struct {
	IndexSats    bool
	FileSize     int64
	TableCounts  map[string]int
	Transactions []TxStart
}

// Info gathers table/tree statistics, the on-disk file size, and the
// write-transaction start history, all from one consistent read
// snapshot.
func (s *Store) Info() (*IndexInfo, error) {
	info := &IndexInfo{IndexSats: s.indexSats, TableCounts: make(map[string]int, len(allBuckets))}
	if fi, err := os.Stat(s.path); err == nil {
		info.FileSize = fi.Size()
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			info.TableCounts[string(name)] = tx.Bucket(name).Stats().KeyN
		}
		r := &ReadTx{tx: tx}
		return r.ForEachWriteTxStart(func(h entry.Height, micros uint64) error {
			info.Transactions = append(info.Transactions, TxStart{StartingHeight: h, MicrosSinceEpoch: micros})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func putStatistic(b *bolt.Bucket, stat Statistic, count uint64) error {
	return b.Put(entry.Height(stat).Store(), entry.Height(count).Store())
}

func getStatistic(b *bolt.Bucket, stat Statistic) (uint64, bool, error) {
	v := b.Get(entry.Height(stat).Store())
	if v == nil {
		return 0, false, nil
	}
	h, err := entry.LoadHeight(v)
	if err != nil {
		return 0, false, err
	}
	return uint64(h), true, nil
}
