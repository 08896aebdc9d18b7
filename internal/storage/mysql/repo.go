package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"propintel/internal/domain"
)

// Repo persists extraction snapshots as whole JSON batches keyed by store
// key. Saves are full-value replacements; the one sanctioned in-place
// mutation is the emailSent flag patch.
type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// Load returns the stored batch, or (nil, nil) when the key is absent or the
// payload fails to parse. A corrupt payload is a warning, never an error the
// caller has to handle — consumers treat "no data" and "bad data" alike.
func (r *Repo) Load(ctx context.Context, key string) ([]domain.Property, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, getSnapshotSQL, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", key, err)
	}

	var batch []domain.Property
	if err := json.Unmarshal(payload, &batch); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("snapshot payload unparseable, treating as empty")
		return nil, nil
	}
	return batch, nil
}

// Save replaces the stored batch wholesale.
func (r *Repo) Save(ctx context.Context, key string, batch []domain.Property) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, upsertSnapshotSQL, key, string(payload)); err != nil {
		return fmt.Errorf("save snapshot %q: %w", key, err)
	}
	return nil
}

func (r *Repo) Clear(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, deleteSnapshotSQL, key); err != nil {
		return fmt.Errorf("clear snapshot %q: %w", key, err)
	}
	return nil
}

// MarkEmailSent patches exactly one property's emailSent flag inside the
// stored batch, by id, inside a transaction. Nothing else in the batch is
// altered.
func (r *Repo) MarkEmailSent(ctx context.Context, key, propertyID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var payload []byte
	if err := tx.QueryRowContext(ctx, getSnapshotForUpdateSQL, key).Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return domain.ErrNotFound
		}
		return fmt.Errorf("load snapshot %q for patch: %w", key, err)
	}

	var batch []domain.Property
	if err := json.Unmarshal(payload, &batch); err != nil {
		return fmt.Errorf("snapshot %q unparseable: %w", key, err)
	}

	patched := false
	for i := range batch {
		if batch[i].ID == propertyID {
			batch[i].EmailSent = true
			patched = true
			break
		}
	}
	if !patched {
		return domain.ErrNotFound
	}

	out, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode patched snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsertSnapshotSQL, key, string(out)); err != nil {
		return fmt.Errorf("write patched snapshot: %w", err)
	}
	return tx.Commit()
}

// LogMiss records one failed extraction attempt for operator follow-up.
func (r *Repo) LogMiss(ctx context.Context, filename string, status int, reason string) error {
	if len(reason) > 512 {
		reason = reason[:512]
	}
	_, err := r.db.ExecContext(ctx, insertMissSQL, filename, status, reason)
	return err
}
