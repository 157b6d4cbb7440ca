package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"recipe-sync-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func updateItem(opID, docID string, base int64, data map[string]any) domain.BatchItem {
	return domain.BatchItem{
		OperationID: opID,
		Kind:        domain.OperationUpdate,
		Collection:  "recipes",
		DocumentID:  docID,
		BaseVersion: base,
		Data:        data,
	}
}

func TestBatchService_AppliedUpdateBumpsSyncState(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{})
	f.docs.seed("user1", "recipes", "r1", 1, map[string]any{"title": "Soup"})
	_, err := f.state.Update(ctx, "user1", "d1", map[string]int64{"recipes": 1})
	require.NoError(t, err)

	res, err := f.batch.Submit(ctx, "user1", &domain.SubmitBatchRequest{
		DeviceID: "d1",
		Items:    []domain.BatchItem{updateItem("op-1", "r1", 1, map[string]any{"title": "Better soup"})},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.BatchSummary{Applied: 1}, res.Summary)
	require.Len(t, res.Results, 1)
	assert.Equal(t, domain.OutcomeApplied, res.Results[0].Outcome)
	assert.Equal(t, int64(2), res.Results[0].Version)

	state, err := f.state.Get(ctx, "user1", "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Collections["recipes"])

	op, err := f.operations.Get(ctx, "user1", "op-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OperationCompleted, op.Status)

	batch, err := f.batches.Get(ctx, "user1", res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchProcessed, batch.Status)
	assert.Equal(t, []string{"op-1"}, batch.OperationIDs)

	require.Len(t, f.notifier.changes, 1)
	assert.Equal(t, "Better soup", f.notifier.changes[0].Data["title"])
	assert.Equal(t, []string{"d1"}, f.notifier.origins)
}

func TestBatchService_StaleUpdateRaisesConflict(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{})
	f.docs.seed("user1", "recipes", "r1", 2, map[string]any{"title": "Remote"})

	res, err := f.batch.Submit(ctx, "user1", &domain.SubmitBatchRequest{
		DeviceID: "d1",
		Items:    []domain.BatchItem{updateItem("op-1", "r1", 1, map[string]any{"title": "Local"})},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.BatchSummary{Conflicted: 1}, res.Summary)
	item := res.Results[0]
	assert.Equal(t, domain.OutcomeConflicted, item.Outcome)
	assert.Equal(t, domain.FailureConflict, item.Reason)
	assert.NotEmpty(t, item.ConflictID)

	conflicts, err := f.detector.ListUnresolved(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "Remote", conflicts[0].RemoteVersion["title"])

	op, err := f.operations.Get(ctx, "user1", "op-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OperationFailed, op.Status)
	assert.Equal(t, domain.FailureConflict, op.FailureReason)

	require.Len(t, f.notifier.conflicts, 1)
	assert.Empty(t, f.notifier.changes)

	_, err = f.state.Get(ctx, "user1", "d1")
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestBatchService_MixedBatchContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{})
	f.docs.seed("user1", "recipes", "stale", 5, map[string]any{"title": "Remote"})
	f.docs.seed("user1", "recipes", "fresh", 1, map[string]any{"title": "Fresh"})

	res, err := f.batch.Submit(ctx, "user1", &domain.SubmitBatchRequest{
		DeviceID: "d1",
		Items: []domain.BatchItem{
			{Kind: domain.OperationCreate, Collection: "recipes", DocumentID: "new", Data: map[string]any{"title": "New"}},
			updateItem("", "stale", 4, map[string]any{"title": "Mine"}),
			updateItem("", "ghost", 1, map[string]any{"title": "Nobody"}),
			updateItem("", "stale", 5, map[string]any{"title": "Waits"}),
			{Kind: domain.OperationDelete, Collection: "recipes", DocumentID: "fresh", BaseVersion: 1},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.BatchSummary{Applied: 2, Conflicted: 1, Deferred: 1, Failed: 1}, res.Summary)

	outcomes := make([]domain.ItemOutcome, 0, len(res.Results))
	for _, r := range res.Results {
		assert.NotEmpty(t, r.OperationID)
		outcomes = append(outcomes, r.Outcome)
	}
	assert.Equal(t, []domain.ItemOutcome{
		domain.OutcomeApplied,
		domain.OutcomeConflicted,
		domain.OutcomeFailed,
		domain.OutcomeDeferred,
		domain.OutcomeApplied,
	}, outcomes)
	assert.Equal(t, domain.FailureDocumentNotFound, res.Results[2].Reason)

	pending, err := f.operations.ListPending(ctx, "user1", "d1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.Results[3].OperationID, pending[0].ID)

	state, err := f.state.Get(ctx, "user1", "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Collections["recipes"])
}

func TestBatchService_ResubmittedOperationsAreNotReapplied(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{})
	f.docs.seed("user1", "recipes", "r1", 1, map[string]any{"count": 1})

	req := &domain.SubmitBatchRequest{
		DeviceID: "d1",
		Items:    []domain.BatchItem{updateItem("op-1", "r1", 1, map[string]any{"count": 2})},
	}

	first, err := f.batch.Submit(ctx, "user1", req)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, first.Results[0].Outcome)

	second, err := f.batch.Submit(ctx, "user1", req)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchSummary{Duplicates: 1}, second.Summary)
	assert.Equal(t, "op-1", second.Results[0].OperationID)
	assert.NotEqual(t, first.BatchID, second.BatchID)

	doc, err := f.docs.Get(ctx, "user1", "recipes", "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)

	state, err := f.state.Get(ctx, "user1", "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Collections["recipes"])
}

func TestBatchService_AppliedButUnfinishedOperationIsNotReapplied(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{})
	f.docs.seed("user1", "recipes", "r1", 1, map[string]any{"count": 1})

	req := &domain.SubmitBatchRequest{
		DeviceID: "d1",
		Items:    []domain.BatchItem{updateItem("op-1", "r1", 1, map[string]any{"count": 2})},
	}

	f.ops.finishErr = errors.New("couch unavailable")
	first, err := f.batch.Submit(ctx, "user1", req)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, first.Results[0].Outcome)
	assert.Equal(t, domain.OperationPending, f.ops.ops["user1|op-1"].Status)

	f.ops.finishErr = nil
	second, err := f.batch.Submit(ctx, "user1", req)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchSummary{Duplicates: 1}, second.Summary)
	assert.Equal(t, int64(2), second.Results[0].Version)
	assert.Empty(t, second.Results[0].ConflictID)

	assert.Equal(t, domain.OperationCompleted, f.ops.ops["user1|op-1"].Status)
	assert.Empty(t, f.conflicts.conflicts)
	assert.Len(t, f.notifier.changes, 1)

	doc, err := f.docs.Get(ctx, "user1", "recipes", "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)

	state, err := f.state.Get(ctx, "user1", "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Collections["recipes"])
}

func TestBatchService_StoreErrorFailsOnlyThatItem(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{})
	f.ops.createErr = errors.New("couch unavailable")

	res, err := f.batch.Submit(ctx, "user1", &domain.SubmitBatchRequest{
		DeviceID: "d1",
		Items: []domain.BatchItem{
			{Kind: domain.OperationCreate, Collection: "recipes", DocumentID: "a"},
			{Kind: domain.OperationCreate, Collection: "recipes", DocumentID: "b"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.BatchSummary{Failed: 2}, res.Summary)
	for _, r := range res.Results {
		assert.Equal(t, domain.FailureStoreError, r.Reason)
	}

	batch, err := f.batches.Get(ctx, "user1", res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchProcessed, batch.Status)
}

func TestBatchService_SubmitValidation(t *testing.T) {
	f := newSyncFixture(t, BatchOptions{MaxItems: 2})

	tests := []struct {
		name string
		req  *domain.SubmitBatchRequest
	}{
		{
			name: "missing device",
			req:  &domain.SubmitBatchRequest{Items: []domain.BatchItem{updateItem("", "r1", 1, nil)}},
		},
		{
			name: "unknown kind",
			req: &domain.SubmitBatchRequest{DeviceID: "d1", Items: []domain.BatchItem{
				{Kind: "upsert", Collection: "recipes", DocumentID: "r1"},
			}},
		},
		{
			name: "missing collection",
			req: &domain.SubmitBatchRequest{DeviceID: "d1", Items: []domain.BatchItem{
				{Kind: domain.OperationCreate, DocumentID: "r1"},
			}},
		},
		{
			name: "negative base version",
			req:  &domain.SubmitBatchRequest{DeviceID: "d1", Items: []domain.BatchItem{updateItem("", "r1", -1, nil)}},
		},
		{
			name: "too many items",
			req: &domain.SubmitBatchRequest{DeviceID: "d1", Items: []domain.BatchItem{
				updateItem("", "r1", 1, nil),
				updateItem("", "r2", 1, nil),
				updateItem("", "r3", 1, nil),
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.batch.Submit(context.Background(), "user1", tt.req)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
		})
	}

	assert.Empty(t, f.batches.batches)
	assert.Empty(t, f.ops.ops)
}

func TestBatchService_SubmitStopsOnCancel(t *testing.T) {
	f := newSyncFixture(t, BatchOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.batch.Submit(ctx, "user1", &domain.SubmitBatchRequest{
		DeviceID: "d1",
		Items:    []domain.BatchItem{{Kind: domain.OperationCreate, Collection: "recipes", DocumentID: "r1"}},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.ops.ops)
}

func TestBatchService_Status(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{})

	status, err := f.batch.Status(ctx, "user1", "d1", time.Time{})
	require.NoError(t, err)
	assert.False(t, status.HasPendingChanges)
	assert.True(t, status.LastSyncedAt.IsZero())

	before := time.Now().UTC().Add(-time.Second)
	res, err := f.batch.Submit(ctx, "user1", &domain.SubmitBatchRequest{DeviceID: "d1"})
	require.NoError(t, err)
	assert.Empty(t, res.Results)

	status, err = f.batch.Status(ctx, "user1", "d1", before)
	require.NoError(t, err)
	assert.True(t, status.HasPendingChanges)
	assert.False(t, status.LastSyncedAt.IsZero())

	status, err = f.batch.Status(ctx, "user1", "d1", time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, status.HasPendingChanges)

	status, err = f.batch.Status(ctx, "user1", "other", before)
	require.NoError(t, err)
	assert.False(t, status.HasPendingChanges)

	_, err = f.batch.Status(ctx, "user1", "", before)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func seedRecipes(f *syncFixture, n int) {
	for i := 1; i <= n; i++ {
		f.docs.seed("user1", "recipes", fmt.Sprintf("r%d", i), 1, map[string]any{"n": i})
	}
}

func versions(changes []domain.ChangeRecord) []int64 {
	out := make([]int64, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Version)
	}
	return out
}

func ptr(v int64) *int64 { return &v }

func TestBatchService_ChangesSince(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{PageSize: 2})
	seedRecipes(f, 5)

	tests := []struct {
		name  string
		since *int64
		want  []int64
	}{
		{name: "from zero", since: ptr(0), want: []int64{1, 2, 3, 4, 5}},
		{name: "strictly after since", since: ptr(2), want: []int64{3, 4, 5}},
		{name: "page boundary", since: ptr(3), want: []int64{4, 5}},
		{name: "up to date", since: ptr(5), want: []int64{}},
		{name: "ahead of collection", since: ptr(42), want: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes, err := f.batch.CollectChanges(ctx, "user1", "d1", []string{"recipes"}, tt.since)
			require.NoError(t, err)
			assert.Equal(t, tt.want, versions(changes))
			for _, c := range changes {
				assert.Greater(t, c.Version, *tt.since)
			}
		})
	}
}

func TestBatchService_ChangesSinceUsesAcknowledgedWatermark(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{PageSize: 2})
	seedRecipes(f, 5)

	_, err := f.state.Update(ctx, "user1", "d1", map[string]int64{"recipes": 3})
	require.NoError(t, err)

	changes, err := f.batch.CollectChanges(ctx, "user1", "d1", []string{"recipes"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, versions(changes))

	changes, err = f.batch.CollectChanges(ctx, "user1", "fresh-device", []string{"recipes"}, nil)
	require.NoError(t, err)
	assert.Len(t, changes, 5)
}

func TestBatchService_OwnWritesDoNotHideOtherDevicesChanges(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{})
	seedRecipes(f, 2)

	_, err := f.state.Update(ctx, "user1", "laptop", map[string]int64{"recipes": 2})
	require.NoError(t, err)

	res, err := f.batch.Submit(ctx, "user1", &domain.SubmitBatchRequest{
		DeviceID: "phone",
		Items:    []domain.BatchItem{updateItem("op-phone", "r2", 1, map[string]any{"n": 20})},
	})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, res.Results[0].Outcome)

	res, err = f.batch.Submit(ctx, "user1", &domain.SubmitBatchRequest{
		DeviceID: "laptop",
		Items:    []domain.BatchItem{updateItem("op-laptop", "r1", 1, map[string]any{"n": 10})},
	})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, res.Results[0].Outcome)

	changes, err := f.batch.CollectChanges(ctx, "user1", "laptop", []string{"recipes"}, nil)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, []int64{3, 4}, versions(changes))
	assert.Equal(t, "r2", changes[0].DocumentID)
	assert.Equal(t, "r1", changes[1].DocumentID)

	state, err := f.state.Get(ctx, "user1", "laptop")
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.Collections["recipes"])
	assert.Equal(t, int64(2), state.Watermarks["recipes"])
}

func TestBatchService_ChangesSinceIsRestartable(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{PageSize: 2})
	seedRecipes(f, 5)

	seq := f.batch.ChangesSince(ctx, "user1", "d1", []string{"recipes"}, ptr(0))

	var first []int64
	for change, err := range seq {
		require.NoError(t, err)
		first = append(first, change.Version)
		if len(first) == 3 {
			break
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, first)

	var all []int64
	for change, err := range seq {
		require.NoError(t, err)
		all = append(all, change.Version)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, all)
}

func TestBatchService_ChangesSinceAcrossCollections(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{PageSize: 2})
	seedRecipes(f, 2)
	f.docs.seed("user1", "shopping_lists", "weekly", 3, map[string]any{"items": []any{"eggs"}})
	deleted := f.docs.seed("user1", "shopping_lists", "old", 2, nil)
	deleted.Deleted = true
	f.docs.seed("user2", "recipes", "foreign", 1, nil)

	changes, err := f.batch.CollectChanges(ctx, "user1", "d1", []string{"recipes", "shopping_lists", "recipes", ""}, ptr(0))
	require.NoError(t, err)
	require.Len(t, changes, 4)

	assert.Equal(t, "recipes", changes[0].Collection)
	assert.Equal(t, "recipes", changes[1].Collection)
	assert.Equal(t, "weekly", changes[2].DocumentID)
	assert.Equal(t, domain.ChangeUpsert, changes[2].Operation)
	assert.Equal(t, int64(3), changes[2].DocumentVersion)
	assert.Equal(t, "old", changes[3].DocumentID)
	assert.Equal(t, domain.ChangeDelete, changes[3].Operation)
	assert.Nil(t, changes[3].Data)
}

func TestBatchService_ChangesSinceErrors(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{PageSize: 2})
	seedRecipes(f, 1)

	var verr *ValidationError

	_, err := f.batch.CollectChanges(ctx, "user1", "", []string{"recipes"}, ptr(0))
	assert.True(t, errors.As(err, &verr))

	_, err = f.batch.CollectChanges(ctx, "user1", "d1", []string{"recipes"}, ptr(-1))
	assert.True(t, errors.As(err, &verr))

	f.docs.listErr = errors.New("couch unavailable")
	_, err = f.batch.CollectChanges(ctx, "user1", "d1", []string{"recipes"}, ptr(0))
	assert.EqualError(t, err, "couch unavailable")
}

func TestBatchService_ChangesFeedSeesAppliedBatch(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, BatchOptions{PageSize: 2})

	_, err := f.batch.Submit(ctx, "user1", &domain.SubmitBatchRequest{
		DeviceID: "phone",
		Items: []domain.BatchItem{
			{Kind: domain.OperationCreate, Collection: "recipes", DocumentID: "r1", Data: map[string]any{"title": "Pie"}},
			{Kind: domain.OperationCreate, Collection: "recipes", DocumentID: "r2", Data: map[string]any{"title": "Tart"}},
		},
	})
	require.NoError(t, err)

	changes, err := f.batch.CollectChanges(ctx, "user1", "tablet", []string{"recipes"}, nil)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "Pie", changes[0].Data["title"])
	assert.Equal(t, "Tart", changes[1].Data["title"])
}
