package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/coinledger/backend/internal/models"
)

// mockBatchHistory serves batch reads from a fixed entry list, grouping
// the same way the SQL side does: by batch id, falling back to entry id,
// ordered newest-first by the group's latest entry.
type mockBatchHistory struct {
	entries []*models.HistoryEntry
}

func (m *mockBatchHistory) ListBatchKeys(_ context.Context, userID uuid.UUID, limit, offset int) ([]string, error) {
	latest := map[string]time.Time{}
	var order []string
	for _, e := range m.entries {
		if e.UserID != userID {
			continue
		}
		k := batchKey(e)
		if _, ok := latest[k]; !ok {
			order = append(order, k)
		}
		if e.CreatedAt.After(latest[k]) {
			latest[k] = e.CreatedAt
		}
	}
	// newest-first, insertion order breaks ties
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if latest[order[j]].After(latest[order[i]]) {
				order[i], order[j] = order[j], order[i]
			}
		}
	}
	if offset >= len(order) {
		return nil, nil
	}
	order = order[offset:]
	if len(order) > limit {
		order = order[:limit]
	}
	return order, nil
}

func (m *mockBatchHistory) ListByBatchKeys(_ context.Context, userID uuid.UUID, keys []string) ([]*models.HistoryEntry, error) {
	want := map[string]bool{}
	for _, k := range keys {
		want[k] = true
	}
	var out []*models.HistoryEntry
	for _, e := range m.entries {
		if e.UserID == userID && want[batchKey(e)] {
			out = append(out, e)
		}
	}
	return out, nil
}

func entryAt(user uuid.UUID, seq int, method string, delta, before int64, batchID *uuid.UUID, source string) *models.HistoryEntry {
	return &models.HistoryEntry{
		ID:            uuid.New(),
		UserID:        user,
		CurrencyType:  models.CurrencyCoin,
		ChangeMethod:  method,
		Delta:         delta,
		BalanceBefore: before,
		BalanceAfter:  before + delta,
		SourceType:    source,
		BatchID:       batchID,
		CreatedAt:     time.Unix(int64(seq), 0),
	}
}

func TestSummarizeBatchesGroupsByBatchID(t *testing.T) {
	user := uuid.New()
	batchID := uuid.New()
	history := &mockBatchHistory{entries: []*models.HistoryEntry{
		entryAt(user, 1, models.ChangeMethodIncrement, 10, 100, &batchID, models.SourceSystem),
		entryAt(user, 2, models.ChangeMethodDecrement, -5, 110, &batchID, models.SourceSystem),
	}}
	reader := NewBatchReader(history)

	summaries, err := reader.SummarizeBatches(context.Background(), user, 1, 20)
	if err != nil {
		t.Fatalf("SummarizeBatches: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries: got %d, want 1", len(summaries))
	}
	s := summaries[0]
	if s.BatchID != batchID.String() {
		t.Errorf("batch id: got %s, want %s", s.BatchID, batchID)
	}
	if s.EntryCount != 2 || s.TotalDelta != 5 {
		t.Errorf("count/delta: got %d/%d, want 2/5", s.EntryCount, s.TotalDelta)
	}
	if s.BalanceBefore != 100 || s.BalanceAfter != 105 {
		t.Errorf("before/after: got %d/%d, want 100/105", s.BalanceBefore, s.BalanceAfter)
	}
	if len(s.ChangeMethods) != 2 || s.ChangeMethods[0] != models.ChangeMethodIncrement || s.ChangeMethods[1] != models.ChangeMethodDecrement {
		t.Errorf("change methods: got %v", s.ChangeMethods)
	}
	if len(s.SourceTypes) != 1 || s.SourceTypes[0] != models.SourceSystem {
		t.Errorf("source types: got %v", s.SourceTypes)
	}
	if !s.StartedAt.Equal(time.Unix(1, 0)) || !s.CompletedAt.Equal(time.Unix(2, 0)) {
		t.Errorf("started/completed: got %v/%v", s.StartedAt, s.CompletedAt)
	}
}

func TestSummarizeBatchesSingletonWithoutBatchID(t *testing.T) {
	user := uuid.New()
	e := entryAt(user, 1, models.ChangeMethodIncrement, 50, 0, nil, models.SourceAdminAction)
	reader := NewBatchReader(&mockBatchHistory{entries: []*models.HistoryEntry{e}})

	summaries, err := reader.SummarizeBatches(context.Background(), user, 1, 20)
	if err != nil {
		t.Fatalf("SummarizeBatches: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries: got %d, want 1", len(summaries))
	}
	s := summaries[0]
	if s.BatchID != e.ID.String() {
		t.Errorf("singleton batch id should be the entry id: got %s, want %s", s.BatchID, e.ID)
	}
	if s.EntryCount != 1 || s.TotalDelta != 50 {
		t.Errorf("count/delta: got %d/%d, want 1/50", s.EntryCount, s.TotalDelta)
	}
}

func TestSummarizeBatchesOrderAndPagination(t *testing.T) {
	user := uuid.New()
	other := uuid.New()
	b1, b2 := uuid.New(), uuid.New()
	history := &mockBatchHistory{entries: []*models.HistoryEntry{
		entryAt(user, 1, models.ChangeMethodIncrement, 10, 0, &b1, models.SourceSystem),
		entryAt(user, 2, models.ChangeMethodIncrement, 20, 10, nil, models.SourceUserAction),
		entryAt(user, 3, models.ChangeMethodIncrement, 30, 30, &b2, models.SourceSystem),
		entryAt(other, 4, models.ChangeMethodIncrement, 99, 0, nil, models.SourceSystem),
	}}
	reader := NewBatchReader(history)
	ctx := context.Background()

	page1, err := reader.SummarizeBatches(ctx, user, 1, 2)
	if err != nil {
		t.Fatalf("SummarizeBatches: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("page 1: got %d summaries, want 2", len(page1))
	}
	if page1[0].BatchID != b2.String() {
		t.Errorf("newest batch first: got %s, want %s", page1[0].BatchID, b2)
	}

	page2, err := reader.SummarizeBatches(ctx, user, 2, 2)
	if err != nil {
		t.Fatalf("SummarizeBatches page 2: %v", err)
	}
	if len(page2) != 1 || page2[0].BatchID != b1.String() {
		t.Errorf("page 2: got %v", page2)
	}

	page3, err := reader.SummarizeBatches(ctx, user, 3, 2)
	if err != nil {
		t.Fatalf("SummarizeBatches page 3: %v", err)
	}
	if len(page3) != 0 {
		t.Errorf("page 3 should be empty, got %d", len(page3))
	}
}
