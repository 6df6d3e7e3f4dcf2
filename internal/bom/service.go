package bom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fabrica-erp/fabrica/internal/costconfig"
	"github.com/fabrica-erp/fabrica/internal/shared"
)

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates BOM and item mutations around numbering, costing and
// summary aggregation.
type Service struct {
	repo    RepositoryPort
	calc    *Calculator
	alloc   Allocator
	codes   *CodeGenerator
	configs CostConfigSource
	locks   RecalcLocker
	audit   AuditPort
	logger  *slog.Logger
}

// NewService constructs the BOM service.
func NewService(repo RepositoryPort, calc *Calculator, codes *CodeGenerator, configs CostConfigSource, locks RecalcLocker, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, calc: calc, codes: codes, configs: configs, locks: locks, audit: audit, logger: logger}
}

// CreateBOMInput describes BOM creation payload.
type CreateBOMInput struct {
	Name        string
	Description string
	Category    string
	EntityID    string
	ProjectID   string
	ActorID     string
}

// UpdateBOMInput describes mutable BOM header fields.
type UpdateBOMInput struct {
	Name        string
	Description string
	Category    string
	Status      Status
	ActorID     string
}

// AddItemInput describes item creation payload.
type AddItemInput struct {
	BOMID        string
	ParentItemID string
	Name         string
	Description  string
	Quantity     float64
	Unit         string
	Category     string
	Component    *Component
	Services     []AttachedService
	ActorID      string
}

// UpdateItemInput describes mutable item fields. Nil pointers leave the
// corresponding field untouched.
type UpdateItemInput struct {
	Name           *string
	Description    *string
	Quantity       *float64
	Unit           *string
	Category       *string
	Component      *Component
	ClearComponent bool
	Services       []AttachedService
	ServicesSet    bool
	ActorID        string
}

// CreateBOM generates a code and persists a new draft BOM.
func (s *Service) CreateBOM(ctx context.Context, input CreateBOMInput) (BOM, error) {
	if input.Name == "" || input.EntityID == "" {
		return BOM{}, fmt.Errorf("%w: name and entity required", ErrValidation)
	}
	now := time.Now()
	b := BOM{
		ID:          uuid.New().String(),
		Code:        s.codes.Next(ctx),
		Name:        input.Name,
		Description: input.Description,
		Category:    input.Category,
		EntityID:    input.EntityID,
		ProjectID:   input.ProjectID,
		Status:      StatusDraft,
		Version:     1,
		Summary:     Summary{Currency: DefaultCurrency, LastCalculated: now},
		CreatedAt:   now,
		CreatedBy:   input.ActorID,
		UpdatedAt:   now,
		UpdatedBy:   input.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertBOM(ctx, b)
	})
	if err != nil {
		return BOM{}, err
	}
	s.recordAudit(ctx, input.ActorID, "BOM_CREATE", b.ID, map[string]any{"code": b.Code})
	return b, nil
}

// GetBOM fetches a BOM by id.
func (s *Service) GetBOM(ctx context.Context, id string) (BOM, error) {
	return s.repo.GetBOM(ctx, id)
}

// ListBOMs lists BOMs, optionally filtered by entity.
func (s *Service) ListBOMs(ctx context.Context, entityID string, limit, offset int) ([]BOM, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListBOMs(ctx, entityID, limit, offset)
}

// UpdateBOM mutates header fields and bumps the version. The code is
// immutable after creation and never touched here.
func (s *Service) UpdateBOM(ctx context.Context, id string, input UpdateBOMInput) (BOM, error) {
	b, err := s.repo.GetBOM(ctx, id)
	if err != nil {
		return BOM{}, err
	}
	if input.Name != "" {
		b.Name = input.Name
	}
	if input.Description != "" {
		b.Description = input.Description
	}
	if input.Category != "" {
		b.Category = input.Category
	}
	if input.Status != "" {
		b.Status = input.Status
	}
	b.Version++
	b.UpdatedAt = time.Now()
	b.UpdatedBy = input.ActorID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateBOM(ctx, b)
	})
	if err != nil {
		return BOM{}, err
	}
	s.recordAudit(ctx, input.ActorID, "BOM_UPDATE", b.ID, map[string]any{"version": b.Version})
	return b, nil
}

// DeleteBOM removes a BOM and all of its items.
func (s *Service) DeleteBOM(ctx context.Context, id string, actorID string) error {
	b, err := s.repo.GetBOM(ctx, id)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteBOM(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "BOM_DELETE", id, map[string]any{"code": b.Code})
	return nil
}

// AddItem allocates a tree position, computes the initial cost and inserts
// the item, then recalculates the BOM summary.
func (s *Service) AddItem(ctx context.Context, input AddItemInput) (Item, error) {
	if input.Name == "" {
		return Item{}, fmt.Errorf("%w: item name required", ErrValidation)
	}
	if input.Quantity <= 0 {
		return Item{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if _, err := s.repo.GetBOM(ctx, input.BOMID); err != nil {
		return Item{}, err
	}

	now := time.Now()
	item := Item{
		ID:           uuid.New().String(),
		BOMID:        input.BOMID,
		ParentItemID: input.ParentItemID,
		Name:         input.Name,
		Description:  input.Description,
		Quantity:     input.Quantity,
		Unit:         input.Unit,
		Category:     input.Category,
		Component:    input.Component,
		Services:     input.Services,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Cost calculation talks to external collaborators; keep it outside the
	// allocation transaction. A nil result simply leaves the item uncosted.
	if result := s.calc.Calculate(ctx, item); result != nil {
		item.Calculated = &result.Calculated
		item.Cost = &result.Cost
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		allocation, err := s.alloc.Allocate(ctx, tx, input.BOMID, input.ParentItemID)
		if err != nil {
			return err
		}
		item.ItemNumber = allocation.ItemNumber
		item.Level = allocation.Level
		item.SortOrder = allocation.SortOrder
		return tx.InsertItem(ctx, item)
	})
	if err != nil {
		return Item{}, err
	}

	if _, err := s.Recalculate(ctx, input.BOMID); err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, input.ActorID, "BOM_ITEM_ADD", item.ID, map[string]any{"bom_id": input.BOMID, "number": item.ItemNumber})
	return item, nil
}

// GetItem fetches one item.
func (s *Service) GetItem(ctx context.Context, id string) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItems returns all items of a BOM in tree order.
func (s *Service) ListItems(ctx context.Context, bomID string) ([]Item, error) {
	if _, err := s.repo.GetBOM(ctx, bomID); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, bomID)
}

// UpdateItem mutates an item, recomputes its cost when a cost-affecting field
// changed, and recalculates the BOM summary.
func (s *Service) UpdateItem(ctx context.Context, itemID string, input UpdateItemInput) (Item, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return Item{}, err
	}

	costAffecting := false
	if input.Name != nil {
		item.Name = *input.Name
	}
	if input.Description != nil {
		item.Description = *input.Description
	}
	if input.Quantity != nil {
		if *input.Quantity <= 0 {
			return Item{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
		item.Quantity = *input.Quantity
		costAffecting = true
	}
	if input.Unit != nil {
		item.Unit = *input.Unit
	}
	if input.Category != nil {
		item.Category = *input.Category
		costAffecting = true
	}
	if input.ClearComponent {
		item.Component = nil
		costAffecting = true
	} else if input.Component != nil {
		item.Component = input.Component
		costAffecting = true
	}
	if input.ServicesSet {
		item.Services = input.Services
		costAffecting = true
	}
	item.UpdatedAt = time.Now()

	var result *CostResult
	if costAffecting {
		result = s.calc.Calculate(ctx, item)
		if result != nil {
			item.Calculated = &result.Calculated
			item.Cost = &result.Cost
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}
		if result != nil {
			return tx.UpdateItemCost(ctx, item.ID, result.Calculated, result.Cost)
		}
		return nil
	})
	if err != nil {
		return Item{}, err
	}

	if _, err := s.Recalculate(ctx, item.BOMID); err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, input.ActorID, "BOM_ITEM_UPDATE", item.ID, map[string]any{"bom_id": item.BOMID, "number": item.ItemNumber})
	return item, nil
}

// DeleteItem removes an item and every transitive descendant, then
// recalculates the summary. Descendants are collected with an explicit
// work-list, one tree level per query, so arbitrarily deep trees do not
// recurse on the call stack.
func (s *Service) DeleteItem(ctx context.Context, itemID string, actorID string) error {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		levels := [][]string{{item.ID}}
		frontier := []string{item.ID}
		for len(frontier) > 0 {
			children, err := tx.ListChildIDs(ctx, item.BOMID, frontier)
			if err != nil {
				return err
			}
			if len(children) == 0 {
				break
			}
			levels = append(levels, children)
			frontier = children
		}
		// Children go first so no dangling parent reference is ever visible.
		for i := len(levels) - 1; i >= 0; i-- {
			if err := tx.DeleteItems(ctx, levels[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := s.Recalculate(ctx, item.BOMID); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "BOM_ITEM_DELETE", itemID, map[string]any{"bom_id": item.BOMID, "number": item.ItemNumber})
	return nil
}

// Recalculate rebuilds the BOM summary from the current item set and the
// active cost configuration, and persists it as a full overwrite. The
// computation is idempotent; a per-BOM lock keeps concurrent triggers from
// interleaving partial writes.
func (s *Service) Recalculate(ctx context.Context, bomID string) (Summary, error) {
	b, err := s.repo.GetBOM(ctx, bomID)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	work := func(ctx context.Context) error {
		items, err := s.repo.ListItems(ctx, bomID)
		if err != nil {
			return err
		}
		var cfg *costconfig.Configuration
		active, err := s.configs.ActiveForEntity(ctx, b.EntityID, time.Now())
		switch {
		case err == nil:
			cfg = &active
		case errors.Is(err, costconfig.ErrNotFound):
			if s.logger != nil {
				s.logger.Warn("no active cost configuration, summary uses direct cost only",
					slog.String("bom_id", bomID), slog.String("entity_id", b.EntityID))
			}
		default:
			return err
		}
		summary = BuildSummary(items, cfg, time.Now())
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateSummary(ctx, bomID, summary)
		})
	}

	if s.locks != nil {
		err = s.locks.WithLock(ctx, shared.BOMRecalcLockKey(bomID), work)
	} else {
		err = work(ctx)
	}
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// CalculateAndUpdateItemCost recomputes and persists one item's cost. A nil
// calculation result is a no-op; previously stored figures stay untouched.
func (s *Service) CalculateAndUpdateItemCost(ctx context.Context, itemID string) error {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	result := s.calc.Calculate(ctx, item)
	if result == nil {
		return nil
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateItemCost(ctx, itemID, result.Calculated, result.Cost)
	})
}

// RefreshItemCosts recomputes every item cost of a BOM, persists the
// successful ones and rebuilds the summary. Used by the drift-repair job.
func (s *Service) RefreshItemCosts(ctx context.Context, bomID string) error {
	items, err := s.repo.ListItems(ctx, bomID)
	if err != nil {
		return err
	}
	results := s.calc.CalculateAllItemCosts(ctx, items)
	if len(results) > 0 {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			for id, result := range results {
				if err := tx.UpdateItemCost(ctx, id, result.Calculated, result.Cost); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	_, err = s.Recalculate(ctx, bomID)
	return err
}

// ListBOMIDs returns the ids of every BOM. Used by the nightly refresh job.
func (s *Service) ListBOMIDs(ctx context.Context) ([]string, error) {
	return s.repo.ListBOMIDs(ctx)
}

// ValidateShapeParameters proxies shape parameter validation.
func (s *Service) ValidateShapeParameters(ctx context.Context, shapeID string, values map[string]float64) ValidationResult {
	return s.calc.ValidateShapeParameters(ctx, shapeID, values)
}

// TreeNode is an item with its children attached.
type TreeNode struct {
	Item     Item       `json:"item"`
	Children []TreeNode `json:"children,omitempty"`
}

// GetTree returns the BOM's items as a nested tree ordered by sort order.
func (s *Service) GetTree(ctx context.Context, bomID string) ([]TreeNode, error) {
	items, err := s.ListItems(ctx, bomID)
	if err != nil {
		return nil, err
	}
	byParent := map[string][]Item{}
	for _, item := range items {
		byParent[item.ParentItemID] = append(byParent[item.ParentItemID], item)
	}
	var build func(parentID string) []TreeNode
	build = func(parentID string) []TreeNode {
		children := byParent[parentID]
		nodes := make([]TreeNode, 0, len(children))
		for _, child := range children {
			nodes = append(nodes, TreeNode{Item: child, Children: build(child.ID)})
		}
		return nodes
	}
	return build(""), nil
}

func (s *Service) recordAudit(ctx context.Context, actorID, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "bom", EntityID: entityID, Meta: meta})
}
