package service

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/repository"
)

type mockDocumentRepo struct {
	mu       sync.Mutex
	docs     map[string]*domain.Document
	seqs     map[string]int64
	getErr   error
	writeErr error
	listErr  error
	// beforeWrite runs after the version was read and before it is checked,
	// which lets a test slip in a concurrent writer.
	beforeWrite func()
}

func newMockDocumentRepo() *mockDocumentRepo {
	return &mockDocumentRepo{
		docs: make(map[string]*domain.Document),
		seqs: make(map[string]int64),
	}
}

func docKey(userID, collection, id string) string {
	return userID + "|" + collection + "|" + id
}

func (m *mockDocumentRepo) Get(_ context.Context, userID, collection, id string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	doc, ok := m.docs[docKey(userID, collection, id)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *mockDocumentRepo) Write(_ context.Context, doc *domain.Document, expectedVersion int64) (*domain.Document, error) {
	if m.beforeWrite != nil {
		hook := m.beforeWrite
		m.beforeWrite = nil
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return nil, m.writeErr
	}

	key := docKey(doc.UserID, doc.Collection, doc.ID)
	var current int64
	created := time.Now().UTC()
	if existing, ok := m.docs[key]; ok {
		current = existing.Version
		created = existing.CreatedAt
	}
	if current != expectedVersion {
		return nil, repository.ErrVersionMismatch
	}

	seqKey := doc.UserID + "|" + doc.Collection
	m.seqs[seqKey]++

	stored := *doc
	stored.Version = expectedVersion + 1
	stored.Seq = m.seqs[seqKey]
	stored.CreatedAt = created
	stored.UpdatedAt = time.Now().UTC()
	m.docs[key] = &stored

	cp := stored
	return &cp, nil
}

// seed stores a document at an exact version, bypassing the version check.
func (m *mockDocumentRepo) seed(userID, collection, id string, version int64, data map[string]any) *domain.Document {
	m.mu.Lock()
	defer m.mu.Unlock()

	seqKey := userID + "|" + collection
	m.seqs[seqKey]++
	doc := &domain.Document{
		ID:         id,
		UserID:     userID,
		Collection: collection,
		Data:       data,
		Version:    version,
		Seq:        m.seqs[seqKey],
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	m.docs[docKey(userID, collection, id)] = doc
	return doc
}

func (m *mockDocumentRepo) List(_ context.Context, userID, collection string) ([]*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Document
	for _, d := range m.docs {
		if d.UserID == userID && d.Collection == collection && !d.Deleted {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockDocumentRepo) ListChanges(_ context.Context, userID, collection string, since int64, limit int) ([]*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []*domain.Document
	for _, d := range m.docs {
		if d.UserID == userID && d.Collection == collection && d.Seq > since {
			cp := *d
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Document) int { return int(a.Seq - b.Seq) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockDocumentRepo) CollectionVersion(_ context.Context, userID, collection string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seqs[userID+"|"+collection], nil
}

type mockOperationRepo struct {
	mu        sync.Mutex
	ops       map[string]*domain.Operation
	createErr error
	finishErr error
	gets      int
}

func newMockOperationRepo() *mockOperationRepo {
	return &mockOperationRepo{ops: make(map[string]*domain.Operation)}
}

func (m *mockOperationRepo) Create(_ context.Context, op *domain.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	key := op.UserID + "|" + op.ID
	if _, exists := m.ops[key]; exists {
		return repository.ErrAlreadyExists
	}
	cp := *op
	m.ops[key] = &cp
	return nil
}

func (m *mockOperationRepo) Get(_ context.Context, userID, opID string) (*domain.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gets++
	op, ok := m.ops[userID+"|"+opID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *op
	return &cp, nil
}

func (m *mockOperationRepo) ListPending(_ context.Context, userID, deviceID string) ([]*domain.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Operation
	for _, op := range m.ops {
		if op.UserID == userID && op.DeviceID == deviceID && op.Status == domain.OperationPending {
			cp := *op
			out = append(out, &cp)
		}
	}
	slices.SortStableFunc(out, domain.CompareOperations)
	return out, nil
}

func (m *mockOperationRepo) Finish(_ context.Context, userID, opID string, status domain.OperationStatus, reason string) (*domain.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finishErr != nil {
		return nil, m.finishErr
	}
	op, ok := m.ops[userID+"|"+opID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !op.Status.IsTerminal() {
		now := time.Now().UTC()
		op.Status = status
		op.FailureReason = reason
		op.CompletedAt = &now
	}
	cp := *op
	return &cp, nil
}

type mockSyncStateRepo struct {
	mu       sync.Mutex
	versions map[string]*domain.CollectionVersion
}

func newMockSyncStateRepo() *mockSyncStateRepo {
	return &mockSyncStateRepo{versions: make(map[string]*domain.CollectionVersion)}
}

func stateKey(userID, deviceID, collection string) string {
	return userID + "|" + deviceID + "|" + collection
}

func (m *mockSyncStateRepo) List(_ context.Context, userID, deviceID string) ([]*domain.CollectionVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.CollectionVersion
	for _, v := range m.versions {
		if v.UserID == userID && v.DeviceID == deviceID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockSyncStateRepo) Put(_ context.Context, cv *domain.CollectionVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *cv
	cp.UpdatedAt = time.Now().UTC()
	m.versions[stateKey(cv.UserID, cv.DeviceID, cv.Collection)] = &cp
	return nil
}

func (m *mockSyncStateRepo) Increment(_ context.Context, userID, deviceID, collection string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := stateKey(userID, deviceID, collection)
	v, ok := m.versions[key]
	if !ok {
		v = &domain.CollectionVersion{UserID: userID, DeviceID: deviceID, Collection: collection}
		m.versions[key] = v
	}
	v.Version++
	v.UpdatedAt = time.Now().UTC()
	return v.Version, nil
}

func (m *mockSyncStateRepo) DeleteDevice(_ context.Context, userID, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	maps.DeleteFunc(m.versions, func(_ string, v *domain.CollectionVersion) bool {
		return v.UserID == userID && v.DeviceID == deviceID
	})
	return nil
}

type mockConflictRepo struct {
	mu        sync.Mutex
	conflicts map[string]*domain.SyncConflict
	open      map[string]string
}

func newMockConflictRepo() *mockConflictRepo {
	return &mockConflictRepo{
		conflicts: make(map[string]*domain.SyncConflict),
		open:      make(map[string]string),
	}
}

func (m *mockConflictRepo) Create(_ context.Context, c *domain.SyncConflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := docKey(c.UserID, c.Collection, c.DocumentID)
	if _, exists := m.open[key]; exists {
		return repository.ErrAlreadyExists
	}
	cp := *c
	m.conflicts[c.ID] = &cp
	m.open[key] = c.ID
	return nil
}

func (m *mockConflictRepo) HasOpen(_ context.Context, userID, collection, documentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.open[docKey(userID, collection, documentID)]
	return ok, nil
}

func (m *mockConflictRepo) GetUnresolved(_ context.Context, userID, conflictID string) (*domain.SyncConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conflicts[conflictID]
	if !ok || c.UserID != userID || c.Status != domain.ConflictUnresolved {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockConflictRepo) ListUnresolved(_ context.Context, userID string) ([]*domain.SyncConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.SyncConflict
	for _, c := range m.conflicts {
		if c.UserID == userID && c.Status == domain.ConflictUnresolved {
			cp := *c
			out = append(out, &cp)
		}
	}
	slices.SortStableFunc(out, func(a, b *domain.SyncConflict) int { return a.DetectedAt.Compare(b.DetectedAt) })
	return out, nil
}

func (m *mockConflictRepo) Claim(_ context.Context, userID, conflictID string, resolution domain.Resolution, resolvedData map[string]any) (*domain.SyncConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conflicts[conflictID]
	if !ok || c.UserID != userID || c.Status != domain.ConflictUnresolved {
		return nil, repository.ErrNotFound
	}
	now := time.Now().UTC()
	c.Status = domain.ConflictResolved
	c.Resolution = resolution
	c.ResolvedData = resolvedData
	c.ResolvedAt = &now
	cp := *c
	return &cp, nil
}

func (m *mockConflictRepo) Reopen(_ context.Context, userID, conflictID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conflicts[conflictID]
	if !ok || c.UserID != userID {
		return repository.ErrNotFound
	}
	c.Status = domain.ConflictUnresolved
	c.Resolution = ""
	c.ResolvedData = nil
	c.ResolvedAt = nil
	return nil
}

func (m *mockConflictRepo) SetResolvedData(_ context.Context, userID, conflictID string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conflicts[conflictID]
	if !ok || c.UserID != userID || c.Status != domain.ConflictResolved {
		return repository.ErrNotFound
	}
	c.ResolvedData = data
	return nil
}

func (m *mockConflictRepo) Release(_ context.Context, userID, collection, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.open, docKey(userID, collection, documentID))
	return nil
}

type mockBatchRepo struct {
	mu      sync.Mutex
	batches map[string]*domain.SyncBatch
}

func newMockBatchRepo() *mockBatchRepo {
	return &mockBatchRepo{batches: make(map[string]*domain.SyncBatch)}
}

func (m *mockBatchRepo) Create(_ context.Context, b *domain.SyncBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.batches[b.ID]; exists {
		return repository.ErrAlreadyExists
	}
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *mockBatchRepo) Get(_ context.Context, userID, batchID string) (*domain.SyncBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID]
	if !ok || b.UserID != userID {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockBatchRepo) MarkProcessed(_ context.Context, userID, batchID string, opIDs []string, summary domain.BatchSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID]
	if !ok || b.UserID != userID {
		return repository.ErrNotFound
	}
	if b.Status == domain.BatchProcessed {
		return nil
	}
	now := time.Now().UTC()
	b.Status = domain.BatchProcessed
	b.OperationIDs = opIDs
	b.Summary = &summary
	b.ProcessedAt = &now
	return nil
}

func (m *mockBatchRepo) Latest(_ context.Context, userID, deviceID string) (*domain.SyncBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *domain.SyncBatch
	for _, b := range m.batches {
		if b.UserID == userID && b.DeviceID == deviceID && (latest == nil || b.CreatedAt.After(latest.CreatedAt)) {
			latest = b
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *mockBatchRepo) ExistsSince(_ context.Context, userID, deviceID string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.batches {
		if b.UserID == userID && b.DeviceID == deviceID && b.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	changes   []domain.ChangeRecord
	conflicts []*domain.SyncConflict
	origins   []string
}

func (n *recordingNotifier) NotifyChange(_, originDeviceID string, change domain.ChangeRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
	n.origins = append(n.origins, originDeviceID)
}

func (n *recordingNotifier) NotifyConflict(_, originDeviceID string, conflict *domain.SyncConflict) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conflicts = append(n.conflicts, conflict)
	n.origins = append(n.origins, originDeviceID)
}
