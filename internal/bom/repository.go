package bom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fabrica-erp/fabrica/internal/platform/db"
)

// RepositoryPort describes persistence operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBOM(ctx context.Context, id string) (BOM, error)
	GetItem(ctx context.Context, id string) (Item, error)
	ListItems(ctx context.Context, bomID string) ([]Item, error)
	ListBOMs(ctx context.Context, entityID string, limit, offset int) ([]BOM, int, error)
	ListBOMIDs(ctx context.Context) ([]string, error)
	NextCodeSequence(ctx context.Context, year int) (int, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertBOM(ctx context.Context, b BOM) error
	UpdateBOM(ctx context.Context, b BOM) error
	DeleteBOM(ctx context.Context, id string) error
	UpdateSummary(ctx context.Context, bomID string, summary Summary) error
	InsertItem(ctx context.Context, item Item) error
	UpdateItem(ctx context.Context, item Item) error
	UpdateItemCost(ctx context.Context, itemID string, calc CalculatedProperties, cost ItemCost) error
	DeleteItems(ctx context.Context, ids []string) error
	ListChildIDs(ctx context.Context, bomID string, parentIDs []string) ([]string, error)
	LockAllocation(ctx context.Context, bomID, parentItemID string) error
	GetItemForUpdate(ctx context.Context, id string) (Item, error)
	NextSiblingSeq(ctx context.Context, bomID, parentItemID string) (int, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const bomColumns = `id, code, name, description, category, entity_id, project_id, status, version, summary, created_at, created_by, updated_at, updated_by`

func scanBOM(row pgx.Row) (BOM, error) {
	var b BOM
	var summary []byte
	err := row.Scan(&b.ID, &b.Code, &b.Name, &b.Description, &b.Category, &b.EntityID, &b.ProjectID,
		&b.Status, &b.Version, &summary, &b.CreatedAt, &b.CreatedBy, &b.UpdatedAt, &b.UpdatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BOM{}, ErrNotFound
		}
		return BOM{}, err
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &b.Summary); err != nil {
			return BOM{}, fmt.Errorf("bom: decode summary: %w", err)
		}
	}
	return b, nil
}

// GetBOM fetches one BOM by id.
func (r *Repository) GetBOM(ctx context.Context, id string) (BOM, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bomColumns+` FROM boms WHERE id = $1`, id)
	return scanBOM(row)
}

// ListBOMs returns BOMs for an entity ordered by creation time.
func (r *Repository) ListBOMs(ctx context.Context, entityID string, limit, offset int) ([]BOM, int, error) {
	countSQL := `SELECT COUNT(*) FROM boms`
	dataSQL := `SELECT ` + bomColumns + ` FROM boms`
	args := []any{}
	if entityID != "" {
		countSQL += ` WHERE entity_id = $1`
		dataSQL += ` WHERE entity_id = $1`
		args = append(args, entityID)
	}
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	dataSQL += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var boms []BOM
	for rows.Next() {
		b, err := scanBOM(rows)
		if err != nil {
			return nil, 0, err
		}
		boms = append(boms, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return boms, total, nil
}

// ListBOMIDs returns every BOM id, used by the full-recalculation job.
func (r *Repository) ListBOMIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM boms ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const itemColumns = `id, bom_id, item_number, level, sort_order, COALESCE(parent_item_id, ''), name, description, quantity, unit, category, component, services, calculated, cost, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	var component, services, calculated, cost []byte
	err := row.Scan(&it.ID, &it.BOMID, &it.ItemNumber, &it.Level, &it.SortOrder, &it.ParentItemID,
		&it.Name, &it.Description, &it.Quantity, &it.Unit, &it.Category,
		&component, &services, &calculated, &cost, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	if len(component) > 0 {
		if err := json.Unmarshal(component, &it.Component); err != nil {
			return Item{}, fmt.Errorf("bom: decode component: %w", err)
		}
	}
	if len(services) > 0 {
		if err := json.Unmarshal(services, &it.Services); err != nil {
			return Item{}, fmt.Errorf("bom: decode services: %w", err)
		}
	}
	if len(calculated) > 0 {
		if err := json.Unmarshal(calculated, &it.Calculated); err != nil {
			return Item{}, fmt.Errorf("bom: decode calculated: %w", err)
		}
	}
	if len(cost) > 0 {
		if err := json.Unmarshal(cost, &it.Cost); err != nil {
			return Item{}, fmt.Errorf("bom: decode cost: %w", err)
		}
	}
	return it, nil
}

// GetItem fetches one item by id.
func (r *Repository) GetItem(ctx context.Context, id string) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM bom_items WHERE id = $1`, id)
	return scanItem(row)
}

// ListItems returns all items of a BOM in tree order.
func (r *Repository) ListItems(ctx context.Context, bomID string) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM bom_items WHERE bom_id = $1 ORDER BY level, sort_order`, bomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// NextCodeSequence atomically increments and returns the per-year BOM code
// counter. The single-statement upsert keeps concurrent creators serialized.
func (r *Repository) NextCodeSequence(ctx context.Context, year int) (int, error) {
	var seq int
	err := r.pool.QueryRow(ctx, `
		INSERT INTO bom_code_counters (year, seq) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET seq = bom_code_counters.seq + 1
		RETURNING seq`, year).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (t *txRepo) InsertBOM(ctx context.Context, b BOM) error {
	summary, err := json.Marshal(b.Summary)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO boms (id, code, name, description, category, entity_id, project_id, status, version, summary, created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		b.ID, b.Code, b.Name, b.Description, b.Category, b.EntityID, b.ProjectID,
		string(b.Status), b.Version, summary, b.CreatedAt, b.CreatedBy, b.UpdatedAt, b.UpdatedBy)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: code %s", ErrValidation, b.Code)
	}
	return err
}

func (t *txRepo) UpdateBOM(ctx context.Context, b BOM) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE boms SET name = $2, description = $3, category = $4, status = $5,
			version = $6, updated_at = $7, updated_by = $8
		WHERE id = $1`,
		b.ID, b.Name, b.Description, b.Category, string(b.Status), b.Version, b.UpdatedAt, b.UpdatedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) DeleteBOM(ctx context.Context, id string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM bom_items WHERE bom_id = $1`, id); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM bom_item_counters WHERE bom_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM boms WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSummary overwrites the embedded summary wholesale.
func (t *txRepo) UpdateSummary(ctx context.Context, bomID string, summary Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE boms SET summary = $2, updated_at = $3 WHERE id = $1`, bomID, data, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) error {
	component, err := marshalNullable(item.Component)
	if err != nil {
		return err
	}
	services, err := marshalNullable(item.Services)
	if err != nil {
		return err
	}
	calculated, err := marshalNullable(item.Calculated)
	if err != nil {
		return err
	}
	cost, err := marshalNullable(item.Cost)
	if err != nil {
		return err
	}
	// parent_item_id is NOT NULL with '' as the root sentinel, matching the
	// sibling counter and child lookups.
	_, err = t.tx.Exec(ctx, `
		INSERT INTO bom_items (id, bom_id, item_number, level, sort_order, parent_item_id, name, description, quantity, unit, category, component, services, calculated, cost, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		item.ID, item.BOMID, item.ItemNumber, item.Level, item.SortOrder, item.ParentItemID,
		item.Name, item.Description, item.Quantity, item.Unit, item.Category,
		component, services, calculated, cost, item.CreatedAt, item.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateNumber, item.ItemNumber)
	}
	return err
}

func (t *txRepo) UpdateItem(ctx context.Context, item Item) error {
	component, err := marshalNullable(item.Component)
	if err != nil {
		return err
	}
	services, err := marshalNullable(item.Services)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE bom_items SET name = $2, description = $3, quantity = $4, unit = $5,
			category = $6, component = $7, services = $8, updated_at = $9
		WHERE id = $1`,
		item.ID, item.Name, item.Description, item.Quantity, item.Unit, item.Category,
		component, services, item.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdateItemCost(ctx context.Context, itemID string, calc CalculatedProperties, cost ItemCost) error {
	calcJSON, err := json.Marshal(calc)
	if err != nil {
		return err
	}
	costJSON, err := json.Marshal(cost)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE bom_items SET calculated = $2, cost = $3, updated_at = $4 WHERE id = $1`,
		itemID, calcJSON, costJSON, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteItems removes a batch of items in one statement.
func (t *txRepo) DeleteItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM bom_items WHERE id = ANY($1)`, ids)
	return err
}

// ListChildIDs returns direct children of the given parents, one tree level.
func (t *txRepo) ListChildIDs(ctx context.Context, bomID string, parentIDs []string) ([]string, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, `SELECT id FROM bom_items WHERE bom_id = $1 AND parent_item_id = ANY($2)`, bomID, parentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LockAllocation serializes item-number allocation per (BOM, parent) using a
// transaction-scoped advisory lock, released on commit or rollback.
func (t *txRepo) LockAllocation(ctx context.Context, bomID, parentItemID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, bomID+"/"+parentItemID)
	return err
}

// GetItemForUpdate reads an item under a row lock.
func (t *txRepo) GetItemForUpdate(ctx context.Context, id string) (Item, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM bom_items WHERE id = $1 FOR UPDATE`, id)
	return scanItem(row)
}

// NextSiblingSeq increments and returns the sibling counter for one
// (BOM, parent) slot. The counter survives item deletion, so a number handed
// out once is never handed out again. An empty parent id means root level.
func (t *txRepo) NextSiblingSeq(ctx context.Context, bomID, parentItemID string) (int, error) {
	var seq int
	err := t.tx.QueryRow(ctx, `
		INSERT INTO bom_item_counters (bom_id, parent_item_id, seq) VALUES ($1, $2, 1)
		ON CONFLICT (bom_id, parent_item_id) DO UPDATE SET seq = bom_item_counters.seq + 1
		RETURNING seq`, bomID, parentItemID).Scan(&seq)
	return seq, err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
