package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"hotpatch/internal/capability"
	"hotpatch/internal/diag"
	"hotpatch/internal/errors"
	"hotpatch/internal/identity"
	"hotpatch/internal/oracle"
	"hotpatch/internal/text"
)

// AnalysisRecord is the persisted shape of one analysis outcome. It is
// keyed by the (old, new) content hash pair, so a hit is valid exactly
// when both snapshots are byte-identical to the recorded pair.
type AnalysisRecord struct {
	UnitID               string                `json:"unitId"`
	FilePath             string                `json:"filePath"`
	Kind                 string                `json:"kind"`
	Diagnostics          []diag.Diagnostic     `json:"diagnostics,omitempty"`
	SemanticEdits        []oracle.SemanticEdit `json:"semanticEdits,omitempty"`
	LineEdits            []text.FileLineEdits  `json:"lineEdits,omitempty"`
	RequiredCapabilities capability.Set        `json:"requiredCapabilities,omitempty"`
}

// ResultStore memoizes analysis outcomes across sessions. Payloads are
// zstd-compressed JSON.
type ResultStore struct {
	db  *DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewResultStore creates a store over db.
func NewResultStore(db *DB) (*ResultStore, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ResultStore{db: db, enc: enc, dec: dec}, nil
}

// Put records an outcome for the hash pair, replacing any previous one.
func (s *ResultStore) Put(oldHash, newHash string, rec AnalysisRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode analysis record: %w", err)
	}
	payload := s.enc.EncodeAll(raw, nil)

	_, err = s.db.Exec(`
		INSERT INTO analysis_results (unit_id, old_hash, new_hash, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(unit_id, old_hash, new_hash) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at`,
		rec.UnitID, oldHash, newHash, payload, time.Now().Unix())
	return err
}

// Get returns the recorded outcome for the hash pair, if any. A payload
// that no longer decodes is treated as corruption, not a miss.
func (s *ResultStore) Get(unitID, oldHash, newHash string) (AnalysisRecord, bool, error) {
	var payload []byte
	err := s.db.QueryRow(`
		SELECT payload FROM analysis_results
		WHERE unit_id = ? AND old_hash = ? AND new_hash = ?`,
		unitID, oldHash, newHash).Scan(&payload)
	if err == sql.ErrNoRows {
		return AnalysisRecord{}, false, nil
	}
	if err != nil {
		return AnalysisRecord{}, false, err
	}

	raw, err := s.dec.DecodeAll(payload, nil)
	if err != nil {
		return AnalysisRecord{}, false, errors.New(errors.StoreCorrupt, "analysis payload does not decompress", err)
	}
	var rec AnalysisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return AnalysisRecord{}, false, errors.New(errors.StoreCorrupt, "analysis payload does not decode", err)
	}
	return rec, true, nil
}

// EvictUnit drops every recorded outcome for a unit. Used when the
// unit's baseline moves and old pairs can never hit again.
func (s *ResultStore) EvictUnit(unitID string) error {
	_, err := s.db.Exec(`DELETE FROM analysis_results WHERE unit_id = ?`, unitID)
	return err
}

// Prune deletes records older than the cutoff and returns how many went.
func (s *ResultStore) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := s.db.Exec(`DELETE FROM analysis_results WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveConstraints persists the live constraint store.
func (s *ResultStore) SaveConstraints(snapshot map[identity.ModuleID][]identity.ReuseConstraint) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM reuse_constraints`); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO reuse_constraints (module, token, version, span_start, span_end)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for module, constraints := range snapshot {
			for _, c := range constraints {
				id := c.Identity
				if _, err := stmt.Exec(string(module), id.DefinitionToken, id.Version,
					id.InstructionSpan.Start, id.InstructionSpan.End); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// LoadConstraints replays persisted constraints into store. Rows that no
// longer validate are skipped rather than failing the load.
func (s *ResultStore) LoadConstraints(store *identity.ConstraintStore) (int, error) {
	rows, err := s.db.Query(`SELECT module, token, version, span_start, span_end FROM reuse_constraints`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var module string
		var token, version, start, end int
		if err := rows.Scan(&module, &token, &version, &start, &end); err != nil {
			return loaded, err
		}
		if module == "" || token < 0 || version < 1 || start > end {
			continue
		}
		store.Put(identity.ReuseConstraint{Identity: identity.CodeIdentity{
			Module:          identity.ModuleID(module),
			DefinitionToken: token,
			Version:         version,
			InstructionSpan: text.NewILSpan(start, end),
		}})
		loaded++
	}
	return loaded, rows.Err()
}
