// Package storage implements the instance repository: an insertion-ordered
// in-memory index over instance records with payloads held durably in a
// Badger key-value store.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	dicomerrors "github.com/caio-sobreiro/pacsnode/errors"
	"github.com/caio-sobreiro/pacsnode/types"
)

const (
	metaKeyPrefix = "meta:"
	blobKeyPrefix = "blob:"
)

// record is the durable form of one instance's metadata. Seq preserves
// insertion order across restarts.
type record struct {
	Seq               uint64 `json:"seq"`
	PatientID         string `json:"patient_id"`
	PatientName       string `json:"patient_name"`
	StudyInstanceUID  string `json:"study_instance_uid"`
	SeriesInstanceUID string `json:"series_instance_uid"`
	SOPInstanceUID    string `json:"sop_instance_uid"`
	SOPClassUID       string `json:"sop_class_uid"`
	TransferSyntaxUID string `json:"transfer_syntax_uid"`
	PayloadSize       int64  `json:"payload_size"`
}

// Repository stores instance payloads durably and keeps an in-memory index
// in insertion order. Storing an instance with a SOPInstanceUID that is
// already present overwrites the stored record and payload in place; the
// original insertion position is preserved.
type Repository struct {
	db     *badger.DB
	logger *slog.Logger

	mu      sync.RWMutex
	order   []*types.StoredInstance
	byUID   map[string]int
	nextSeq uint64
}

// Open opens the repository over a Badger database described by cfg and
// rebuilds the in-memory index from the durable records.
func Open(cfg Config, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := OpenDB(cfg, logger)
	if err != nil {
		return nil, err
	}

	repo := &Repository{
		db:     db,
		logger: logger,
		byUID:  make(map[string]int),
	}

	if err := repo.loadIndex(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rebuild instance index: %w", err)
	}

	logger.Info("Instance repository opened",
		"instances", len(repo.order),
		"in_memory", cfg.InMemory)

	return repo, nil
}

func (r *Repository) loadIndex() error {
	var records []record

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Badger iterates in key order; restore insertion order from Seq.
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	for _, rec := range records {
		instance := &types.StoredInstance{
			PatientID:         rec.PatientID,
			PatientName:       rec.PatientName,
			StudyInstanceUID:  rec.StudyInstanceUID,
			SeriesInstanceUID: rec.SeriesInstanceUID,
			SOPInstanceUID:    rec.SOPInstanceUID,
			SOPClassUID:       rec.SOPClassUID,
			TransferSyntaxUID: rec.TransferSyntaxUID,
			PayloadSize:       rec.PayloadSize,
		}
		r.byUID[instance.SOPInstanceUID] = len(r.order)
		r.order = append(r.order, instance)
		if rec.Seq >= r.nextSeq {
			r.nextSeq = rec.Seq + 1
		}
	}

	return nil
}

// Store persists the payload and metadata in one transaction, then updates
// the index. A duplicate SOPInstanceUID overwrites the existing entry in
// place, keeping its insertion position.
func (r *Repository) Store(ctx context.Context, instance *types.StoredInstance, payload []byte) error {
	if instance == nil || instance.SOPInstanceUID == "" {
		return fmt.Errorf("%w: missing SOPInstanceUID", dicomerrors.ErrStoreFailed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := *instance
	stored.PayloadSize = int64(len(payload))

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, overwrite := r.byUID[stored.SOPInstanceUID]
	seq := r.nextSeq
	if overwrite {
		// Keep the original sequence so insertion order survives restarts.
		seq = r.seqOf(existing)
	}

	rec := record{
		Seq:               seq,
		PatientID:         stored.PatientID,
		PatientName:       stored.PatientName,
		StudyInstanceUID:  stored.StudyInstanceUID,
		SeriesInstanceUID: stored.SeriesInstanceUID,
		SOPInstanceUID:    stored.SOPInstanceUID,
		SOPClassUID:       stored.SOPClassUID,
		TransferSyntaxUID: stored.TransferSyntaxUID,
		PayloadSize:       stored.PayloadSize,
	}

	metaValue, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", dicomerrors.ErrStoreFailed, err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(metaKeyPrefix+stored.SOPInstanceUID), metaValue); err != nil {
			return err
		}
		return txn.Set([]byte(blobKeyPrefix+stored.SOPInstanceUID), payload)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", dicomerrors.ErrStoreFailed, err)
	}

	if overwrite {
		r.order[existing] = &stored
		r.logger.InfoContext(ctx, "Overwrote stored instance",
			"sop_instance_uid", stored.SOPInstanceUID,
			"patient_id", stored.PatientID)
	} else {
		r.byUID[stored.SOPInstanceUID] = len(r.order)
		r.order = append(r.order, &stored)
		r.nextSeq = seq + 1
		r.logger.InfoContext(ctx, "Stored instance",
			"sop_instance_uid", stored.SOPInstanceUID,
			"patient_id", stored.PatientID,
			"payload_size", stored.PayloadSize)
	}

	return nil
}

// seqOf recovers the durable sequence number of an index position. Positions
// map 1:1 to insertion order, and sequences were assigned densely, so the
// position is the sequence for instances loaded or stored by this process.
func (r *Repository) seqOf(position int) uint64 {
	return uint64(position)
}

// EachByPatient visits stored instances of the given patient in insertion
// order. The index is snapshotted under the read lock so visit callbacks
// run without holding it.
func (r *Repository) EachByPatient(patientID string, visit func(*types.StoredInstance) bool) error {
	r.mu.RLock()
	snapshot := make([]*types.StoredInstance, len(r.order))
	copy(snapshot, r.order)
	r.mu.RUnlock()

	for _, instance := range snapshot {
		if !instance.MatchesPatientID(patientID) {
			continue
		}
		if !visit(instance) {
			return nil
		}
	}
	return nil
}

// Payload fetches the durable payload of a stored instance.
func (r *Repository) Payload(sopInstanceUID string) ([]byte, error) {
	var payload []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(blobKeyPrefix + sopInstanceUID))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("no payload for instance %s", sopInstanceUID)
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Count reports the number of stored instances.
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// RunGC runs Badger value-log garbage collection until ctx is done.
func (r *Repository) RunGC(ctx context.Context, cfg Config) {
	GCRunner(ctx, r.db, cfg, r.logger)
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}
