package service

import (
	"testing"

	"recipe-sync-server/internal/logger"

	"github.com/stretchr/testify/require"
)

type syncFixture struct {
	docs      *mockDocumentRepo
	ops       *mockOperationRepo
	states    *mockSyncStateRepo
	conflicts *mockConflictRepo
	batches   *mockBatchRepo
	notifier  *recordingNotifier

	operations *OperationService
	state      *SyncStateService
	detector   *ConflictService
	batch      *BatchService
}

func newSyncFixture(t *testing.T, opts BatchOptions) *syncFixture {
	t.Helper()

	f := &syncFixture{
		docs:      newMockDocumentRepo(),
		ops:       newMockOperationRepo(),
		states:    newMockSyncStateRepo(),
		conflicts: newMockConflictRepo(),
		batches:   newMockBatchRepo(),
		notifier:  &recordingNotifier{},
	}

	log := logger.Discard()

	operations, err := NewOperationService(f.ops, 16, log)
	require.NoError(t, err)

	f.operations = operations
	f.state = NewSyncStateService(f.states)
	f.detector = NewConflictService(f.conflicts, f.docs, f.notifier, 3, log)
	f.batch = NewBatchService(f.batches, f.docs, f.operations, f.detector, f.state, f.notifier, opts, log)

	return f
}
