package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/apittopti/diagflow/internal/knowledge"
)

// ErrNotFound is returned by curation operations when no definition row
// matches the given id.
var ErrNotFound = errors.New("definition not found")

const definitionColumns = `id, kind, identifier, level, scope_id, ecu_address, name,
	is_verified, confidence, version, payload, source, created_at, updated_at`

// Upsert inserts a definition and reports whether a row was written. A row
// that already exists for the same (kind, identifier, level, scope_id,
// ecu_address, version) tuple is left untouched and false is returned.
func (s *Store) Upsert(ctx context.Context, def *knowledge.Definition) (bool, error) {
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	if def.Version <= 0 {
		def.Version = 1
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO definitions (id, kind, identifier, level, scope_id, ecu_address, name, is_verified, confidence, version, payload, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (kind, identifier, level, scope_id, ecu_address, version) DO NOTHING`,
		def.ID, def.Kind, def.Identifier, def.Level, def.ScopeID, def.ECUAddress,
		def.Name, def.IsVerified, def.Confidence, def.Version, def.Payload, def.Source,
	)
	if err != nil {
		return false, fmt.Errorf("insert definition: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Find returns the latest version of the definition matching all five key
// fields, or nil when none exists.
func (s *Store) Find(ctx context.Context, kind knowledge.Kind, identifier string, level knowledge.Level, scopeID, ecuAddress string) (*knowledge.Definition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM definitions
		WHERE kind = $1 AND identifier = $2 AND level = $3 AND scope_id = $4 AND ecu_address = $5
		ORDER BY version DESC
		LIMIT 1`,
		kind, identifier, level, scopeID, ecuAddress,
	)

	def, err := scanDefinition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find definition: %w", err)
	}
	return def, nil
}

// FindCandidates returns every definition matching kind, identifier, level
// and scope across all ECU addresses and versions.
func (s *Store) FindCandidates(ctx context.Context, kind knowledge.Kind, identifier string, level knowledge.Level, scopeID string) ([]knowledge.Definition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+definitionColumns+`
		FROM definitions
		WHERE kind = $1 AND identifier = $2 AND level = $3 AND scope_id = $4
		ORDER BY ecu_address, version`,
		kind, identifier, level, scopeID,
	)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	return scanDefinitions(rows)
}

// FindMany returns every definition of one kind within a level/scope.
func (s *Store) FindMany(ctx context.Context, level knowledge.Level, scopeID string, kind knowledge.Kind) ([]knowledge.Definition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+definitionColumns+`
		FROM definitions
		WHERE level = $1 AND scope_id = $2 AND kind = $3
		ORDER BY identifier, ecu_address, version`,
		level, scopeID, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("find many: %w", err)
	}
	return scanDefinitions(rows)
}

// GetDefinition fetches a definition by id, or nil when absent.
func (s *Store) GetDefinition(ctx context.Context, id uuid.UUID) (*knowledge.Definition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM definitions
		WHERE id = $1`, id)

	def, err := scanDefinition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	return def, nil
}

// SetVerified marks a definition as human-verified (or clears the mark).
func (s *Store) SetVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE definitions SET is_verified = $1, updated_at = now()
		WHERE id = $2`,
		verified, id,
	)
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertRevision writes a curated edit of an existing definition as a new
// row with the next version number. The base row is never mutated. Empty
// name or payload arguments keep the base row's values.
func (s *Store) InsertRevision(ctx context.Context, id uuid.UUID, name string, payload json.RawMessage, source string) (*knowledge.Definition, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM definitions
		WHERE id = $1`, id)
	base, err := scanDefinition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load base definition: %w", err)
	}

	var next int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM definitions
		WHERE kind = $1 AND identifier = $2 AND level = $3 AND scope_id = $4 AND ecu_address = $5`,
		base.Kind, base.Identifier, base.Level, base.ScopeID, base.ECUAddress,
	).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next version: %w", err)
	}

	rev := *base
	rev.ID = uuid.New()
	rev.Version = next
	if name != "" {
		rev.Name = name
	}
	if len(payload) > 0 {
		rev.Payload = payload
	}
	if source != "" {
		rev.Source = source
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO definitions (id, kind, identifier, level, scope_id, ecu_address, name, is_verified, confidence, version, payload, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rev.ID, rev.Kind, rev.Identifier, rev.Level, rev.ScopeID, rev.ECUAddress,
		rev.Name, rev.IsVerified, rev.Confidence, rev.Version, rev.Payload, rev.Source,
	)
	if err != nil {
		return nil, fmt.Errorf("insert revision: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &rev, nil
}

func scanDefinition(row pgx.Row) (*knowledge.Definition, error) {
	var d knowledge.Definition
	err := row.Scan(&d.ID, &d.Kind, &d.Identifier, &d.Level, &d.ScopeID, &d.ECUAddress,
		&d.Name, &d.IsVerified, &d.Confidence, &d.Version, &d.Payload, &d.Source,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanDefinitions(rows pgx.Rows) ([]knowledge.Definition, error) {
	defer rows.Close()

	var defs []knowledge.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		defs = append(defs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	return defs, nil
}
