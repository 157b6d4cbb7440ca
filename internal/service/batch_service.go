package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/logger"
	"recipe-sync-server/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// BatchService ingests batches of client mutations and serves the change
// feed devices pull from.
type BatchService struct {
	batches    repository.BatchRepository
	documents  repository.DocumentRepository
	operations *OperationService
	detector   *ConflictService
	state      *SyncStateService
	notifier   Notifier
	validate   *validator.Validate
	log        *slog.Logger
	pageSize   int
	maxItems   int
}

type BatchOptions struct {
	PageSize int
	MaxItems int
}

func NewBatchService(
	batches repository.BatchRepository,
	documents repository.DocumentRepository,
	operations *OperationService,
	detector *ConflictService,
	state *SyncStateService,
	notifier Notifier,
	opts BatchOptions,
	log *slog.Logger,
) *BatchService {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	return &BatchService{
		batches:    batches,
		documents:  documents,
		operations: operations,
		detector:   detector,
		state:      state,
		notifier:   notifier,
		validate:   newValidator(),
		log:        log.With(slog.String("component", "batch_service")),
		pageSize:   opts.PageSize,
		maxItems:   opts.MaxItems,
	}
}

// Submit persists the batch, routes every item through the detector in
// order and marks the batch processed. One item's conflict or failure never
// aborts the others.
func (s *BatchService) Submit(ctx context.Context, userID string, req *domain.SubmitBatchRequest) (*domain.BatchResult, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	if s.maxItems > 0 && len(req.Items) > s.maxItems {
		return nil, &ValidationError{Field: "items", Message: fmt.Sprintf("at most %d items per batch", s.maxItems)}
	}

	mutations := make([]domain.Mutation, 0, len(req.Items))
	for i, item := range req.Items {
		m, err := item.ToMutation()
		if err != nil {
			return nil, &ValidationError{Field: fmt.Sprintf("items[%d].kind", i), Message: err.Error()}
		}
		mutations = append(mutations, m)
	}

	batch := &domain.SyncBatch{
		ID:           uuid.New().String(),
		UserID:       userID,
		DeviceID:     req.DeviceID,
		Status:       domain.BatchPending,
		LastSyncedAt: req.LastSyncedAt,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	log := s.log.With(
		slog.String("batch_id", batch.ID),
		slog.String("user_id", userID),
		slog.String("device_id", req.DeviceID),
	)

	result := &domain.BatchResult{
		BatchID: batch.ID,
		Results: make([]domain.ItemResult, 0, len(mutations)),
	}
	opIDs := make([]string, 0, len(mutations))

	for _, m := range mutations {
		if err := ctx.Err(); err != nil {
			log.Warn("batch interrupted", slog.Int("routed", len(result.Results)), logger.Err(err))
			return nil, err
		}

		item := s.route(ctx, userID, req.DeviceID, batch.ID, m, log)
		if item.OperationID != "" {
			opIDs = append(opIDs, item.OperationID)
		}
		result.Results = append(result.Results, item)
		tally(&result.Summary, item.Outcome)
	}

	if err := s.batches.MarkProcessed(ctx, userID, batch.ID, opIDs, result.Summary); err != nil {
		return nil, fmt.Errorf("failed to mark batch processed: %w", err)
	}

	log.Info("batch processed",
		slog.Int("applied", result.Summary.Applied),
		slog.Int("conflicted", result.Summary.Conflicted),
		slog.Int("deferred", result.Summary.Deferred),
		slog.Int("failed", result.Summary.Failed),
		slog.Int("duplicates", result.Summary.Duplicates),
	)

	return result, nil
}

func (s *BatchService) route(ctx context.Context, userID, deviceID, batchID string, m domain.Mutation, log *slog.Logger) domain.ItemResult {
	collection, documentID := m.Target()
	item := domain.ItemResult{
		Collection: collection,
		DocumentID: documentID,
	}

	input := domain.InputFromMutation(deviceID, m)
	op, existed, err := s.operations.record(ctx, userID, &input, batchID)
	if err != nil {
		log.Error("failed to record operation", slog.String("document_id", documentID), logger.Err(err))
		item.Outcome = domain.OutcomeFailed
		item.Reason = domain.FailureStoreError
		return item
	}
	item.OperationID = op.ID

	if existed && op.Status.IsTerminal() {
		item.Outcome = domain.OutcomeDuplicate
		item.Reason = op.FailureReason
		return item
	}

	outcome, err := s.detector.Detect(ctx, op)
	if err != nil {
		log.Error("failed to route operation", slog.String("operation_id", op.ID), logger.Err(err))
		s.fail(ctx, userID, op.ID, domain.FailureStoreError, log)
		item.Outcome = domain.OutcomeFailed
		item.Reason = domain.FailureStoreError
		return item
	}

	if outcome.Replayed {
		// The write landed on an earlier attempt; only the status is missing.
		if _, err := s.operations.MarkCompleted(ctx, userID, op.ID); err != nil {
			log.Error("failed to complete operation", slog.String("operation_id", op.ID), logger.Err(err))
		}
		item.Outcome = domain.OutcomeDuplicate
		item.Version = outcome.Document.Version
		return item
	}

	item.Outcome = outcome.Result
	switch outcome.Result {
	case domain.OutcomeApplied:
		item.Version = outcome.Document.Version
		if _, err := s.operations.MarkCompleted(ctx, userID, op.ID); err != nil {
			log.Error("failed to complete operation", slog.String("operation_id", op.ID), logger.Err(err))
		}
		if _, err := s.state.Bump(ctx, userID, deviceID, collection); err != nil {
			log.Error("failed to bump sync state", slog.String("collection", collection), logger.Err(err))
		}
		s.notifier.NotifyChange(userID, deviceID, domain.NewChangeRecord(outcome.Document))

	case domain.OutcomeConflicted:
		item.ConflictID = outcome.Conflict.ID
		item.Reason = outcome.Reason
		s.fail(ctx, userID, op.ID, outcome.Reason, log)
		s.notifier.NotifyConflict(userID, deviceID, outcome.Conflict)

	case domain.OutcomeFailed:
		item.Reason = outcome.Reason
		s.fail(ctx, userID, op.ID, outcome.Reason, log)

	case domain.OutcomeDeferred:
		// Stays pending until the conflict on the document is resolved.
	}

	return item
}

func (s *BatchService) fail(ctx context.Context, userID, opID, reason string, log *slog.Logger) {
	if _, err := s.operations.MarkFailed(ctx, userID, opID, reason); err != nil {
		log.Error("failed to mark operation failed", slog.String("operation_id", opID), logger.Err(err))
	}
}

func tally(summary *domain.BatchSummary, outcome domain.ItemOutcome) {
	switch outcome {
	case domain.OutcomeApplied:
		summary.Applied++
	case domain.OutcomeConflicted:
		summary.Conflicted++
	case domain.OutcomeDeferred:
		summary.Deferred++
	case domain.OutcomeFailed:
		summary.Failed++
	case domain.OutcomeDuplicate:
		summary.Duplicates++
	}
}

// Status is a cheap staleness probe: whether the device submitted batches
// after since, and when its newest batch was created.
func (s *BatchService) Status(ctx context.Context, userID, deviceID string, since time.Time) (*domain.BatchStatusResponse, error) {
	if deviceID == "" {
		return nil, &ValidationError{Field: "device_id", Message: "is required"}
	}

	pending, err := s.batches.ExistsSince(ctx, userID, deviceID, since)
	if err != nil {
		return nil, err
	}

	status := &domain.BatchStatusResponse{HasPendingChanges: pending}

	latest, err := s.batches.Latest(ctx, userID, deviceID)
	switch {
	case err == nil:
		status.LastSyncedAt = latest.CreatedAt
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	return status, nil
}

// ChangesSince yields the authoritative changes of each named collection
// newer than sinceVersion, collection by collection in ascending version
// order. A nil sinceVersion means the device's acknowledged watermark. The
// sequence pages through the store lazily and can be ranged over again.
func (s *BatchService) ChangesSince(ctx context.Context, userID, deviceID string, collections []string, sinceVersion *int64) iter.Seq2[domain.ChangeRecord, error] {
	return func(yield func(domain.ChangeRecord, error) bool) {
		if deviceID == "" {
			yield(domain.ChangeRecord{}, &ValidationError{Field: "device_id", Message: "is required"})
			return
		}
		if sinceVersion != nil && *sinceVersion < 0 {
			yield(domain.ChangeRecord{}, &ValidationError{Field: "since_version", Message: "must be non-negative"})
			return
		}

		seen := make(map[string]bool, len(collections))
		for _, collection := range collections {
			if collection == "" || seen[collection] {
				continue
			}
			seen[collection] = true

			if !s.collectionChanges(ctx, userID, deviceID, collection, sinceVersion, yield) {
				return
			}
		}
	}
}

func (s *BatchService) collectionChanges(ctx context.Context, userID, deviceID, collection string, sinceVersion *int64, yield func(domain.ChangeRecord, error) bool) bool {
	var cursor int64
	if sinceVersion != nil {
		cursor = *sinceVersion
	} else {
		watermark, err := s.state.Watermark(ctx, userID, deviceID, collection)
		if err != nil {
			yield(domain.ChangeRecord{}, err)
			return false
		}
		cursor = watermark
	}

	for {
		docs, err := s.documents.ListChanges(ctx, userID, collection, cursor, s.pageSize)
		if err != nil {
			yield(domain.ChangeRecord{}, err)
			return false
		}

		start := cursor
		for _, doc := range docs {
			if doc.Seq <= cursor {
				continue
			}
			if !yield(domain.NewChangeRecord(doc), nil) {
				return false
			}
			cursor = doc.Seq
		}

		if len(docs) < s.pageSize || cursor == start {
			return true
		}
	}
}

// CollectChanges drains ChangesSince into a slice.
func (s *BatchService) CollectChanges(ctx context.Context, userID, deviceID string, collections []string, sinceVersion *int64) ([]domain.ChangeRecord, error) {
	changes := make([]domain.ChangeRecord, 0)
	for change, err := range s.ChangesSince(ctx, userID, deviceID, collections, sinceVersion) {
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}
