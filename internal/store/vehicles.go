package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/apittopti/diagflow/internal/knowledge"
)

// UpsertOEM creates or renames an OEM.
func (s *Store) UpsertOEM(ctx context.Context, id, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oems (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = $2`,
		id, name,
	)
	if err != nil {
		return fmt.Errorf("upsert oem: %w", err)
	}
	return nil
}

// UpsertModel creates or renames a model under an OEM.
func (s *Store) UpsertModel(ctx context.Context, id, oemID, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO models (id, oem_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET oem_id = $2, name = $3`,
		id, oemID, name,
	)
	if err != nil {
		return fmt.Errorf("upsert model: %w", err)
	}
	return nil
}

// UpsertModelYear creates or updates a model year.
func (s *Store) UpsertModelYear(ctx context.Context, id, modelID string, year int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO model_years (id, model_id, year)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET model_id = $2, year = $3`,
		id, modelID, year,
	)
	if err != nil {
		return fmt.Errorf("upsert model year: %w", err)
	}
	return nil
}

// UpsertVehicle creates or updates a vehicle. An empty modelYearID leaves the
// vehicle unattached to the hierarchy.
func (s *Store) UpsertVehicle(ctx context.Context, id, modelYearID, vin string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vehicles (id, model_year_id, vin)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET model_year_id = $2, vin = $3`,
		id, textOrNil(modelYearID), vin,
	)
	if err != nil {
		return fmt.Errorf("upsert vehicle: %w", err)
	}
	return nil
}

// VehicleContext resolves a vehicle id to its full ancestry. Unknown vehicles
// yield a context holding only the vehicle id, so resolution still consults
// the VEHICLE and GLOBAL levels.
func (s *Store) VehicleContext(ctx context.Context, vehicleID string) (knowledge.Context, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT v.id, COALESCE(my.id, ''), COALESCE(m.id, ''), COALESCE(o.id, '')
		FROM vehicles v
		LEFT JOIN model_years my ON my.id = v.model_year_id
		LEFT JOIN models m ON m.id = my.model_id
		LEFT JOIN oems o ON o.id = m.oem_id
		WHERE v.id = $1`,
		vehicleID,
	)

	var kc knowledge.Context
	err := row.Scan(&kc.VehicleID, &kc.ModelYearID, &kc.ModelID, &kc.OEMID)
	if errors.Is(err, pgx.ErrNoRows) {
		return knowledge.Context{VehicleID: vehicleID}, nil
	}
	if err != nil {
		return knowledge.Context{}, fmt.Errorf("vehicle context: %w", err)
	}
	return kc, nil
}

func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
