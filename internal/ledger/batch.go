package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/coinledger/backend/internal/models"
)

// BatchHistoryRepo is the read-side history interface for batch summaries.
type BatchHistoryRepo interface {
	ListBatchKeys(ctx context.Context, userID uuid.UUID, limit, offset int) ([]string, error)
	ListByBatchKeys(ctx context.Context, userID uuid.UUID, keys []string) ([]*models.HistoryEntry, error)
}

// BatchReader reconstructs logical operations from history entries sharing
// a batch id. Entries without a batch id are each their own singleton
// batch. Pure read side; summaries are computed here, never persisted.
type BatchReader struct {
	history BatchHistoryRepo
}

func NewBatchReader(history BatchHistoryRepo) *BatchReader {
	return &BatchReader{history: history}
}

// SummarizeBatches returns the user's batches newest-first, paginated.
// page is 1-based.
func (b *BatchReader) SummarizeBatches(ctx context.Context, userID uuid.UUID, page, limit int) ([]*models.BatchSummary, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	keys, err := b.history.ListBatchKeys(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []*models.BatchSummary{}, nil
	}
	entries, err := b.history.ListByBatchKeys(ctx, userID, keys)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string][]*models.HistoryEntry, len(keys))
	for _, e := range entries {
		byKey[batchKey(e)] = append(byKey[batchKey(e)], e)
	}

	summaries := make([]*models.BatchSummary, 0, len(keys))
	for _, k := range keys {
		group := byKey[k]
		if len(group) == 0 {
			continue
		}
		summaries = append(summaries, summarize(k, group))
	}
	return summaries, nil
}

func batchKey(e *models.HistoryEntry) string {
	if e.BatchID != nil {
		return e.BatchID.String()
	}
	return e.ID.String()
}

// summarize derives the batch view from its entries, which arrive in
// commit order (oldest first).
func summarize(key string, entries []*models.HistoryEntry) *models.BatchSummary {
	first := entries[0]
	last := entries[len(entries)-1]
	s := &models.BatchSummary{
		BatchID:       key,
		EntryCount:    len(entries),
		StartedAt:     first.CreatedAt,
		CompletedAt:   last.CreatedAt,
		BalanceBefore: first.BalanceBefore,
		BalanceAfter:  last.BalanceAfter,
		Entries:       entries,
	}
	seenMethod := map[string]bool{}
	seenSource := map[string]bool{}
	for _, e := range entries {
		s.TotalDelta += e.Delta
		if !seenMethod[e.ChangeMethod] {
			seenMethod[e.ChangeMethod] = true
			s.ChangeMethods = append(s.ChangeMethods, e.ChangeMethod)
		}
		if !seenSource[e.SourceType] {
			seenSource[e.SourceType] = true
			s.SourceTypes = append(s.SourceTypes, e.SourceType)
		}
	}
	return s
}
