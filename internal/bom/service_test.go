package bom

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabrica-erp/fabrica/internal/costconfig"
	"github.com/fabrica-erp/fabrica/internal/shared"
)

type memoryBOMRepo struct {
	mu       sync.Mutex
	boms     map[string]BOM
	items    map[string]Item
	counter  int
	siblings map[string]int
}

func newMemoryBOMRepo() *memoryBOMRepo {
	return &memoryBOMRepo{
		boms:     make(map[string]BOM),
		items:    make(map[string]Item),
		siblings: make(map[string]int),
	}
}

type memoryBOMTx struct {
	repo *memoryBOMRepo
}

func (r *memoryBOMRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryBOMTx{repo: r})
}

func (r *memoryBOMRepo) GetBOM(ctx context.Context, id string) (BOM, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.boms[id]
	if !ok {
		return BOM{}, ErrNotFound
	}
	return b, nil
}

func (r *memoryBOMRepo) GetItem(ctx context.Context, id string) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return item, nil
}

func (r *memoryBOMRepo) ListItems(ctx context.Context, bomID string) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []Item
	for _, item := range r.items {
		if item.BOMID == bomID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Level != items[j].Level {
			return items[i].Level < items[j].Level
		}
		return items[i].ItemNumber < items[j].ItemNumber
	})
	return items, nil
}

func (r *memoryBOMRepo) ListBOMs(ctx context.Context, entityID string, limit, offset int) ([]BOM, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var boms []BOM
	for _, b := range r.boms {
		if entityID == "" || b.EntityID == entityID {
			boms = append(boms, b)
		}
	}
	return boms, len(boms), nil
}

func (r *memoryBOMRepo) ListBOMIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.boms))
	for id := range r.boms {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *memoryBOMRepo) NextCodeSequence(ctx context.Context, year int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	return r.counter, nil
}

func (tx *memoryBOMTx) InsertBOM(ctx context.Context, b BOM) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.boms[b.ID] = b
	return nil
}

func (tx *memoryBOMTx) UpdateBOM(ctx context.Context, b BOM) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	if _, ok := tx.repo.boms[b.ID]; !ok {
		return ErrNotFound
	}
	tx.repo.boms[b.ID] = b
	return nil
}

func (tx *memoryBOMTx) DeleteBOM(ctx context.Context, id string) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	delete(tx.repo.boms, id)
	for itemID, item := range tx.repo.items {
		if item.BOMID == id {
			delete(tx.repo.items, itemID)
		}
	}
	return nil
}

func (tx *memoryBOMTx) UpdateSummary(ctx context.Context, bomID string, summary Summary) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	b, ok := tx.repo.boms[bomID]
	if !ok {
		return ErrNotFound
	}
	b.Summary = summary
	tx.repo.boms[bomID] = b
	return nil
}

func (tx *memoryBOMTx) InsertItem(ctx context.Context, item Item) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.items[item.ID] = item
	return nil
}

func (tx *memoryBOMTx) UpdateItem(ctx context.Context, item Item) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	if _, ok := tx.repo.items[item.ID]; !ok {
		return ErrNotFound
	}
	tx.repo.items[item.ID] = item
	return nil
}

func (tx *memoryBOMTx) UpdateItemCost(ctx context.Context, itemID string, calc CalculatedProperties, cost ItemCost) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	item, ok := tx.repo.items[itemID]
	if !ok {
		return ErrNotFound
	}
	item.Calculated = &calc
	item.Cost = &cost
	tx.repo.items[itemID] = item
	return nil
}

func (tx *memoryBOMTx) DeleteItems(ctx context.Context, ids []string) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, id := range ids {
		delete(tx.repo.items, id)
	}
	return nil
}

func (tx *memoryBOMTx) ListChildIDs(ctx context.Context, bomID string, parentIDs []string) ([]string, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	parents := make(map[string]bool, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = true
	}
	var children []string
	for id, item := range tx.repo.items {
		if item.BOMID == bomID && parents[item.ParentItemID] {
			children = append(children, id)
		}
	}
	return children, nil
}

func (tx *memoryBOMTx) LockAllocation(ctx context.Context, bomID, parentItemID string) error {
	return nil
}

func (tx *memoryBOMTx) GetItemForUpdate(ctx context.Context, id string) (Item, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	item, ok := tx.repo.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return item, nil
}

func (tx *memoryBOMTx) NextSiblingSeq(ctx context.Context, bomID, parentItemID string) (int, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	key := bomID + "/" + parentItemID
	tx.repo.siblings[key]++
	return tx.repo.siblings[key], nil
}

type stubConfigSource struct {
	cfg *costconfig.Configuration
}

func (s *stubConfigSource) ActiveForEntity(ctx context.Context, entityID string, at time.Time) (costconfig.Configuration, error) {
	if s.cfg == nil {
		return costconfig.Configuration{}, costconfig.ErrNotFound
	}
	return *s.cfg, nil
}

type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func newTestService(repo *memoryBOMRepo, cfg *costconfig.Configuration, audit AuditPort) *Service {
	return NewService(
		repo,
		newTestCalculator(),
		NewCodeGenerator(repo, nil),
		&stubConfigSource{cfg: cfg},
		nil,
		audit,
		nil,
	)
}

func TestBOMLifecycle(t *testing.T) {
	repo := newMemoryBOMRepo()
	audit := &recordingAudit{}
	svc := newTestService(repo, cascadeConfig(), audit)
	ctx := context.Background()

	b, err := svc.CreateBOM(ctx, CreateBOMInput{Name: "Pressure Vessel", EntityID: "plant-7", ActorID: "u1"})
	require.NoError(t, err)
	require.Regexp(t, `^EST-\d{4}-0001$`, b.Code)
	require.Equal(t, StatusDraft, b.Status)
	require.Equal(t, 1, b.Version)

	updated, err := svc.UpdateBOM(ctx, b.ID, UpdateBOMInput{Status: StatusSubmitted, ActorID: "u1"})
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, updated.Status)
	require.Equal(t, 2, updated.Version)
	require.Equal(t, b.Code, updated.Code)

	_, err = svc.CreateBOM(ctx, CreateBOMInput{Name: "No Entity"})
	require.ErrorIs(t, err, ErrValidation)

	require.NoError(t, svc.DeleteBOM(ctx, b.ID, "u1"))
	_, err = svc.GetBOM(ctx, b.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.Equal(t, []string{"BOM_CREATE", "BOM_UPDATE", "BOM_DELETE"}, audit.actions)
}

func TestAddItemAssignsHierarchicalNumbers(t *testing.T) {
	repo := newMemoryBOMRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	b, err := svc.CreateBOM(ctx, CreateBOMInput{Name: "Frame", EntityID: "plant-7"})
	require.NoError(t, err)

	first, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, Name: "Base", Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, "1", first.ItemNumber)
	require.Equal(t, 0, first.Level)

	second, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, Name: "Column", Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, "2", second.ItemNumber)

	child, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, ParentItemID: first.ID, Name: "Plate", Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, "1.1", child.ItemNumber)
	require.Equal(t, 1, child.Level)

	grandchild, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, ParentItemID: child.ID, Name: "Gusset", Quantity: 4})
	require.NoError(t, err)
	require.Equal(t, "1.1.1", grandchild.ItemNumber)
	require.Equal(t, 2, grandchild.Level)

	_, err = svc.AddItem(ctx, AddItemInput{BOMID: b.ID, ParentItemID: "missing", Name: "Orphan", Quantity: 1})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.AddItem(ctx, AddItemInput{BOMID: b.ID, Name: "Zero", Quantity: 0})
	require.ErrorIs(t, err, ErrValidation)
}

func TestItemNumbersNotReusedAfterDelete(t *testing.T) {
	repo := newMemoryBOMRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	b, err := svc.CreateBOM(ctx, CreateBOMInput{Name: "Skid", EntityID: "plant-7"})
	require.NoError(t, err)

	first, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, Name: "A", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemInput{BOMID: b.ID, Name: "B", Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteItem(ctx, first.ID, "u1"))

	third, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, Name: "C", Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, "3", third.ItemNumber)

	// Deleting the highest-numbered sibling must not recycle its number either.
	require.NoError(t, svc.DeleteItem(ctx, third.ID, "u1"))
	fourth, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, Name: "D", Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, "4", fourth.ItemNumber)
}

func TestAddItemStoresEmptyParentForRoots(t *testing.T) {
	repo := newMemoryBOMRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	b, err := svc.CreateBOM(ctx, CreateBOMInput{Name: "Frame", EntityID: "plant-7"})
	require.NoError(t, err)

	root, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, Name: "Base", Quantity: 1})
	require.NoError(t, err)
	child, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, ParentItemID: root.ID, Name: "Plate", Quantity: 1})
	require.NoError(t, err)

	// Root items persist with an empty parent id, never a null. The item
	// store, the sibling counter and child lookups all key on ''.
	stored, err := svc.GetItem(ctx, root.ID)
	require.NoError(t, err)
	require.Empty(t, stored.ParentItemID)
	require.Equal(t, root.ID, child.ParentItemID)
}

func TestAddItemConcurrentSiblingsGetDistinctNumbers(t *testing.T) {
	repo := newMemoryBOMRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	b, err := svc.CreateBOM(ctx, CreateBOMInput{Name: "Rack", EntityID: "plant-7"})
	require.NoError(t, err)
	root, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, Name: "Bay", Quantity: 1})
	require.NoError(t, err)

	const inserts = 16
	numbers := make(chan string, inserts)
	errs := make(chan error, inserts)
	var wg sync.WaitGroup
	for i := 0; i < inserts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, ParentItemID: root.ID, Name: "Beam", Quantity: 1})
			if err != nil {
				errs <- err
				return
			}
			numbers <- item.ItemNumber
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	seen := make(map[string]bool, inserts)
	for number := range numbers {
		require.False(t, seen[number], "item number %s assigned twice", number)
		seen[number] = true
	}
	require.Len(t, seen, inserts)
}

func TestAddItemComputesCostAndSummary(t *testing.T) {
	repo := newMemoryBOMRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	b, err := svc.CreateBOM(ctx, CreateBOMInput{Name: "Hopper", EntityID: "plant-7"})
	require.NoError(t, err)

	item, err := svc.AddItem(ctx, AddItemInput{
		BOMID:     b.ID,
		Name:      "Liner",
		Quantity:  5,
		Component: &Component{Type: ComponentBoughtOut, MaterialID: "ms-plate"},
	})
	require.NoError(t, err)
	require.NotNil(t, item.Cost)
	require.InDelta(t, 500.0, item.Cost.TotalMaterialCost.Amount, 1e-9)

	stored, err := svc.GetBOM(ctx, b.ID)
	require.NoError(t, err)
	require.InDelta(t, 500.0, stored.Summary.TotalMaterialCost.Amount, 1e-9)
	require.InDelta(t, 500.0, stored.Summary.TotalCost.Amount, 1e-9)
	require.Equal(t, 1, stored.Summary.ItemCount)
}

func TestAddItemWithFailingLookupStaysUncosted(t *testing.T) {
	repo := newMemoryBOMRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	b, err := svc.CreateBOM(ctx, CreateBOMInput{Name: "Hopper", EntityID: "plant-7"})
	require.NoError(t, err)

	item, err := svc.AddItem(ctx, AddItemInput{
		BOMID:     b.ID,
		Name:      "Mystery",
		Quantity:  3,
		Component: &Component{Type: ComponentBoughtOut, MaterialID: "missing"},
	})
	require.NoError(t, err)
	require.Nil(t, item.Cost)

	stored, err := svc.GetBOM(ctx, b.ID)
	require.NoError(t, err)
	require.Zero(t, stored.Summary.TotalCost.Amount)
	require.Equal(t, 1, stored.Summary.ItemCount)
}

func TestUpdateItemRecalculatesCost(t *testing.T) {
	repo := newMemoryBOMRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	b, err := svc.CreateBOM(ctx, CreateBOMInput{Name: "Hopper", EntityID: "plant-7"})
	require.NoError(t, err)
	item, err := svc.AddItem(ctx, AddItemInput{
		BOMID:     b.ID,
		Name:      "Liner",
		Quantity:  5,
		Component: &Component{Type: ComponentBoughtOut, MaterialID: "ms-plate"},
	})
	require.NoError(t, err)

	qty := 10.0
	updated, err := svc.UpdateItem(ctx, item.ID, UpdateItemInput{Quantity: &qty})
	require.NoError(t, err)
	require.InDelta(t, 1000.0, updated.Cost.TotalMaterialCost.Amount, 1e-9)

	stored, err := svc.GetBOM(ctx, b.ID)
	require.NoError(t, err)
	require.InDelta(t, 1000.0, stored.Summary.TotalMaterialCost.Amount, 1e-9)

	name := "Liner Mk2"
	renamed, err := svc.UpdateItem(ctx, item.ID, UpdateItemInput{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Liner Mk2", renamed.Name)
	require.InDelta(t, 1000.0, renamed.Cost.TotalMaterialCost.Amount, 1e-9)

	bad := -1.0
	_, err = svc.UpdateItem(ctx, item.ID, UpdateItemInput{Quantity: &bad})
	require.ErrorIs(t, err, ErrValidation)

	cleared, err := svc.UpdateItem(ctx, item.ID, UpdateItemInput{ClearComponent: true})
	require.NoError(t, err)
	require.Nil(t, cleared.Component)
}

func TestDeleteItemCascades(t *testing.T) {
	repo := newMemoryBOMRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	b, err := svc.CreateBOM(ctx, CreateBOMInput{Name: "Tower", EntityID: "plant-7"})
	require.NoError(t, err)

	root, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, Name: "Shell", Quantity: 1})
	require.NoError(t, err)
	child, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, ParentItemID: root.ID, Name: "Course", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemInput{BOMID: b.ID, ParentItemID: child.ID, Name: "Nozzle", Quantity: 2})
	require.NoError(t, err)
	keeper, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, Name: "Skirt", Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteItem(ctx, root.ID, "u1"))

	items, err := svc.ListItems(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, keeper.ID, items[0].ID)

	stored, err := svc.GetBOM(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.Summary.ItemCount)
}

func TestRecalculateAppliesActiveConfig(t *testing.T) {
	repo := newMemoryBOMRepo()
	svc := newTestService(repo, cascadeConfig(), nil)
	ctx := context.Background()

	b, err := svc.CreateBOM(ctx, CreateBOMInput{Name: "Hopper", EntityID: "plant-7"})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemInput{
		BOMID:     b.ID,
		Name:      "Liner",
		Quantity:  5,
		Component: &Component{Type: ComponentBoughtOut, MaterialID: "ms-plate"},
	})
	require.NoError(t, err)

	summary, err := svc.Recalculate(ctx, b.ID)
	require.NoError(t, err)
	require.InDelta(t, 500.0, summary.TotalDirectCost.Amount, 1e-9)
	require.InDelta(t, 50.0, summary.Overhead.Amount, 1e-9)
	require.InDelta(t, 27.5, summary.Contingency.Amount, 1e-9)
	require.InDelta(t, 86.625, summary.Profit.Amount, 1e-9)
	require.InDelta(t, 664.125, summary.TotalCost.Amount, 1e-9)
	require.Equal(t, "cfg-1", summary.CostConfigID)

	again, err := svc.Recalculate(ctx, b.ID)
	require.NoError(t, err)
	require.InDelta(t, summary.TotalCost.Amount, again.TotalCost.Amount, 1e-9)
}

func TestGetTree(t *testing.T) {
	repo := newMemoryBOMRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	b, err := svc.CreateBOM(ctx, CreateBOMInput{Name: "Frame", EntityID: "plant-7"})
	require.NoError(t, err)

	root, err := svc.AddItem(ctx, AddItemInput{BOMID: b.ID, Name: "Base", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemInput{BOMID: b.ID, ParentItemID: root.ID, Name: "Plate", Quantity: 2})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemInput{BOMID: b.ID, Name: "Column", Quantity: 1})
	require.NoError(t, err)

	tree, err := svc.GetTree(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, tree, 2)
	require.Equal(t, "1", tree[0].Item.ItemNumber)
	require.Len(t, tree[0].Children, 1)
	require.Equal(t, "1.1", tree[0].Children[0].Item.ItemNumber)
	require.Empty(t, tree[1].Children)
}

func TestRefreshItemCostsRepairsDrift(t *testing.T) {
	repo := newMemoryBOMRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	b, err := svc.CreateBOM(ctx, CreateBOMInput{Name: "Hopper", EntityID: "plant-7"})
	require.NoError(t, err)
	item, err := svc.AddItem(ctx, AddItemInput{
		BOMID:     b.ID,
		Name:      "Liner",
		Quantity:  5,
		Component: &Component{Type: ComponentBoughtOut, MaterialID: "ms-plate"},
	})
	require.NoError(t, err)

	// Simulate stale stored figures.
	drifted := repo.items[item.ID]
	drifted.Cost = &ItemCost{TotalMaterialCost: Money{Amount: 1, Currency: "INR"}}
	repo.items[item.ID] = drifted

	require.NoError(t, svc.RefreshItemCosts(ctx, b.ID))

	stored, err := svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.InDelta(t, 500.0, stored.Cost.TotalMaterialCost.Amount, 1e-9)

	bom, err := svc.GetBOM(ctx, b.ID)
	require.NoError(t, err)
	require.InDelta(t, 500.0, bom.Summary.TotalMaterialCost.Amount, 1e-9)
}
