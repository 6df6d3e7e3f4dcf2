package bom

import (
	"context"
	"fmt"
)

// Allocator assigns hierarchical item numbers. All methods must run inside the
// same transaction as the item insert: root allocation takes a per-(BOM, parent)
// advisory lock and child allocation locks the parent row, so two concurrent
// inserts under the same parent serialize on the sibling counter.
type Allocator struct{}

// AllocateRoot produces the position for a new root-level item.
func (Allocator) AllocateRoot(ctx context.Context, tx TxRepository, bomID string) (Allocation, error) {
	if err := tx.LockAllocation(ctx, bomID, ""); err != nil {
		return Allocation{}, fmt.Errorf("bom: lock allocation: %w", err)
	}
	next, err := tx.NextSiblingSeq(ctx, bomID, "")
	if err != nil {
		return Allocation{}, err
	}
	return Allocation{ItemNumber: fmt.Sprintf("%d", next), Level: 0, SortOrder: next}, nil
}

// AllocateChild produces the position for a new item under parentItemID.
// Returns ErrNotFound when the parent does not exist.
func (Allocator) AllocateChild(ctx context.Context, tx TxRepository, bomID, parentItemID string) (Allocation, error) {
	parent, err := tx.GetItemForUpdate(ctx, parentItemID)
	if err != nil {
		return Allocation{}, err
	}
	if parent.BOMID != bomID {
		return Allocation{}, ErrNotFound
	}
	next, err := tx.NextSiblingSeq(ctx, bomID, parentItemID)
	if err != nil {
		return Allocation{}, err
	}
	return Allocation{
		ItemNumber: fmt.Sprintf("%s.%d", parent.ItemNumber, next),
		Level:      parent.Level + 1,
		SortOrder:  next,
	}, nil
}

// Allocate dispatches on the presence of a parent id. Numbers are never reused
// after sibling deletion; gaps are expected.
func (a Allocator) Allocate(ctx context.Context, tx TxRepository, bomID, parentItemID string) (Allocation, error) {
	if parentItemID == "" {
		return a.AllocateRoot(ctx, tx, bomID)
	}
	return a.AllocateChild(ctx, tx, bomID, parentItemID)
}
