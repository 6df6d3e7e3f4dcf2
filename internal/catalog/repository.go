package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fabrica-erp/fabrica/internal/bom"
)

// Repository provides PostgreSQL backed catalog lookups. It satisfies the
// bom package's MaterialCatalog, ShapeSpecSource and ServiceRegistry ports.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetMaterial fetches a material by id.
func (r *Repository) GetMaterial(ctx context.Context, id string) (Material, error) {
	var m Material
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, grade, density, price_per_unit, COALESCE(price_currency, ''), unit, updated_at
		FROM materials WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.Grade, &m.Density, &m.PricePerUnit, &m.PriceCurrency, &m.Unit, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, ErrNotFound
		}
		return Material{}, err
	}
	return m, nil
}

// CurrentPrice resolves a material's price for the bom calculator. A stored
// price without currency falls back to the default.
func (r *Repository) CurrentPrice(ctx context.Context, materialID string) (bom.Money, error) {
	m, err := r.GetMaterial(ctx, materialID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return bom.Money{}, bom.ErrNotFound
		}
		return bom.Money{}, err
	}
	currency := m.PriceCurrency
	if currency == "" {
		currency = bom.DefaultCurrency
	}
	return bom.Money{Amount: m.PricePerUnit, Currency: currency}, nil
}

// GetShape fetches a shape by id.
func (r *Repository) GetShape(ctx context.Context, id string) (Shape, error) {
	var s Shape
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, volume_formula, fabrication_rate_per_kg, COALESCE(currency, ''), updated_at
		FROM shapes WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.VolumeFormula, &s.FabricationRatePerKg, &s.Currency, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shape{}, ErrNotFound
		}
		return Shape{}, err
	}
	return s, nil
}

// ParameterSpecs returns the declared parameters of a shape in position
// order, implementing the bom validation port.
func (r *Repository) ParameterSpecs(ctx context.Context, shapeID string) ([]bom.ParameterSpec, error) {
	if _, err := r.GetShape(ctx, shapeID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, bom.ErrNotFound
		}
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT key, label, required, min_value, max_value
		FROM shape_parameters WHERE shape_id = $1 ORDER BY position`, shapeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var specs []bom.ParameterSpec
	for rows.Next() {
		var spec bom.ParameterSpec
		if err := rows.Scan(&spec.Key, &spec.Label, &spec.Required, &spec.MinValue, &spec.MaxValue); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// Resolve maps service ids to their definitions. Unknown ids are left out.
func (r *Repository) Resolve(ctx context.Context, serviceIDs []string) (map[string]bom.ServiceDefinition, error) {
	if len(serviceIDs) == 0 {
		return map[string]bom.ServiceDefinition{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, method, rate, COALESCE(currency, ''), COALESCE(formula, ''),
			COALESCE(applies_to_categories, '{}'), COALESCE(applies_to_components, '{}')
		FROM service_definitions WHERE id = ANY($1)`, serviceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	defs := make(map[string]bom.ServiceDefinition, len(serviceIDs))
	for rows.Next() {
		var def bom.ServiceDefinition
		var method string
		var components []string
		if err := rows.Scan(&def.ID, &def.Name, &method, &def.Rate, &def.Currency, &def.Formula,
			&def.AppliesToCategories, &components); err != nil {
			return nil, err
		}
		def.Method = bom.CalcMethod(method)
		for _, c := range components {
			def.AppliesToComponents = append(def.AppliesToComponents, bom.ComponentType(c))
		}
		defs[def.ID] = def
	}
	return defs, rows.Err()
}
