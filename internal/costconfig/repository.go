package costconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const configColumns = `id, entity_id, name, description, overhead, contingency, profit, labor_rates, fabrication_rates, is_active, effective_from, created_at, created_by, updated_at, updated_by`

func scanConfig(row pgx.Row) (Configuration, error) {
	var c Configuration
	var overhead, contingency, profit, laborRates, fabricationRates []byte
	err := row.Scan(&c.ID, &c.EntityID, &c.Name, &c.Description, &overhead, &contingency, &profit,
		&laborRates, &fabricationRates, &c.IsActive, &c.EffectiveFrom,
		&c.CreatedAt, &c.CreatedBy, &c.UpdatedAt, &c.UpdatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Configuration{}, ErrNotFound
		}
		return Configuration{}, err
	}
	for _, pair := range []struct {
		data   []byte
		target any
	}{
		{overhead, &c.Overhead},
		{contingency, &c.Contingency},
		{profit, &c.Profit},
		{laborRates, &c.LaborRates},
		{fabricationRates, &c.FabricationRates},
	} {
		if len(pair.data) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.data, pair.target); err != nil {
			return Configuration{}, fmt.Errorf("costconfig: decode: %w", err)
		}
	}
	return c, nil
}

// Get fetches a configuration by id.
func (r *Repository) Get(ctx context.Context, id string) (Configuration, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+configColumns+` FROM cost_configurations WHERE id = $1`, id)
	return scanConfig(row)
}

// ListForEntity returns all configurations of an entity, newest first.
func (r *Repository) ListForEntity(ctx context.Context, entityID string) ([]Configuration, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+configColumns+` FROM cost_configurations WHERE entity_id = $1 ORDER BY effective_from DESC`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var configs []Configuration
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// ActiveForEntity resolves the configuration in force for an entity at the
// given time: the most recent active one with effective_from <= at.
func (r *Repository) ActiveForEntity(ctx context.Context, entityID string, at time.Time) (Configuration, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+configColumns+` FROM cost_configurations
		WHERE entity_id = $1 AND is_active AND effective_from <= $2
		ORDER BY effective_from DESC LIMIT 1`, entityID, at)
	return scanConfig(row)
}

// Insert persists a new configuration.
func (r *Repository) Insert(ctx context.Context, c Configuration) error {
	overhead, err := json.Marshal(c.Overhead)
	if err != nil {
		return err
	}
	contingency, err := json.Marshal(c.Contingency)
	if err != nil {
		return err
	}
	profit, err := json.Marshal(c.Profit)
	if err != nil {
		return err
	}
	laborRates, err := json.Marshal(c.LaborRates)
	if err != nil {
		return err
	}
	fabricationRates, err := json.Marshal(c.FabricationRates)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO cost_configurations (id, entity_id, name, description, overhead, contingency, profit, labor_rates, fabrication_rates, is_active, effective_from, created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.ID, c.EntityID, c.Name, c.Description, overhead, contingency, profit,
		laborRates, fabricationRates, c.IsActive, c.EffectiveFrom,
		c.CreatedAt, c.CreatedBy, c.UpdatedAt, c.UpdatedBy)
	return err
}

// Update overwrites a configuration's mutable fields.
func (r *Repository) Update(ctx context.Context, c Configuration) error {
	overhead, err := json.Marshal(c.Overhead)
	if err != nil {
		return err
	}
	contingency, err := json.Marshal(c.Contingency)
	if err != nil {
		return err
	}
	profit, err := json.Marshal(c.Profit)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE cost_configurations SET name = $2, description = $3, overhead = $4, contingency = $5,
			profit = $6, is_active = $7, effective_from = $8, updated_at = $9, updated_by = $10
		WHERE id = $1`,
		c.ID, c.Name, c.Description, overhead, contingency, profit, c.IsActive, c.EffectiveFrom, c.UpdatedAt, c.UpdatedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
