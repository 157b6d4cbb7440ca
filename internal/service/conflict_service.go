package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"time"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/logger"
	"recipe-sync-server/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Outcome is where Detect routed an operation.
type Outcome struct {
	Result   domain.ItemOutcome
	Document *domain.Document
	Conflict *domain.SyncConflict
	// Reason is set for failed outcomes.
	Reason string
	// Replayed marks an applied outcome whose write had already happened in
	// an earlier attempt of the same operation.
	Replayed bool
}

// ConflictService compares incoming operations with the authoritative
// documents, applies the ones that do not diverge and parks the rest as
// conflicts until a device resolves them.
type ConflictService struct {
	conflicts  repository.ConflictRepository
	documents  repository.DocumentRepository
	notifier   Notifier
	validate   *validator.Validate
	log        *slog.Logger
	maxRetries int
}

func NewConflictService(
	conflicts repository.ConflictRepository,
	documents repository.DocumentRepository,
	notifier Notifier,
	maxRetries int,
	log *slog.Logger,
) *ConflictService {
	if maxRetries <= 0 {
		maxRetries = repository.DefaultWriteRetries
	}
	return &ConflictService{
		conflicts:  conflicts,
		documents:  documents,
		notifier:   notifier,
		validate:   newValidator(),
		log:        log.With(slog.String("component", "conflict_service")),
		maxRetries: maxRetries,
	}
}

// Detect routes one pending operation. It never changes the operation
// itself; the caller records the terminal status from the outcome.
func (s *ConflictService) Detect(ctx context.Context, op *domain.Operation) (*Outcome, error) {
	m, err := domain.MutationFromOperation(op)
	if err != nil {
		return nil, &ValidationError{Field: "kind", Message: err.Error()}
	}

	current, err := s.current(ctx, op.UserID, op.Collection, op.DocumentID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.LastOperationID == op.ID {
		return &Outcome{Result: domain.OutcomeApplied, Document: current, Replayed: true}, nil
	}

	open, err := s.conflicts.HasOpen(ctx, op.UserID, op.Collection, op.DocumentID)
	if err != nil {
		return nil, err
	}
	if open {
		return &Outcome{Result: domain.OutcomeDeferred}, nil
	}

	var (
		next     *domain.Document
		expected int64
	)

	switch m := m.(type) {
	case domain.CreateMutation:
		if live(current) {
			return s.conflict(ctx, op, m.Data, current)
		}
		if current != nil {
			expected = current.Version
		}
		next = &domain.Document{Data: m.Data}

	case domain.UpdateMutation:
		if !live(current) {
			return &Outcome{Result: domain.OutcomeFailed, Reason: domain.FailureDocumentNotFound}, nil
		}
		if m.BaseVersion != current.Version {
			return s.conflict(ctx, op, m.Changes, current)
		}
		expected = current.Version
		next = &domain.Document{Data: applyChanges(current.Data, m.Changes)}

	case domain.DeleteMutation:
		if !live(current) {
			return &Outcome{Result: domain.OutcomeFailed, Reason: domain.FailureDocumentNotFound}, nil
		}
		if m.BaseVersion != current.Version {
			return s.conflict(ctx, op, nil, current)
		}
		expected = current.Version
		next = &domain.Document{Deleted: true}
	}

	next.ID = op.DocumentID
	next.UserID = op.UserID
	next.Collection = op.Collection
	next.LastEditDevice = op.DeviceID
	next.LastOperationID = op.ID

	written, err := s.documents.Write(ctx, next, expected)
	if errors.Is(err, repository.ErrVersionMismatch) {
		// Another writer won between our read and write.
		latest, err := s.current(ctx, op.UserID, op.Collection, op.DocumentID)
		if err != nil {
			return nil, err
		}
		return s.conflict(ctx, op, op.Changes, latest)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply operation: %w", err)
	}

	return &Outcome{Result: domain.OutcomeApplied, Document: written}, nil
}

func (s *ConflictService) current(ctx context.Context, userID, collection, id string) (*domain.Document, error) {
	doc, err := s.documents.Get(ctx, userID, collection, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return doc, nil
}

func live(doc *domain.Document) bool {
	return doc != nil && !doc.Deleted
}

// applyChanges overlays changed fields on a copy of base.
func applyChanges(base, changes map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(changes))
	maps.Copy(out, base)
	maps.Copy(out, changes)
	return out
}

func (s *ConflictService) conflict(ctx context.Context, op *domain.Operation, local map[string]any, current *domain.Document) (*Outcome, error) {
	c := &domain.SyncConflict{
		ID:           uuid.New().String(),
		UserID:       op.UserID,
		DeviceID:     op.DeviceID,
		OperationID:  op.ID,
		Collection:   op.Collection,
		DocumentID:   op.DocumentID,
		Kind:         op.Kind,
		BaseVersion:  op.BaseVersion,
		LocalVersion: local,
		Status:       domain.ConflictUnresolved,
		DetectedAt:   time.Now().UTC(),
	}
	if current != nil {
		c.RemoteNumber = current.Version
		c.RemoteVersion = current.Data
	}

	err := s.conflicts.Create(ctx, c)
	if errors.Is(err, repository.ErrAlreadyExists) {
		return &Outcome{Result: domain.OutcomeDeferred}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record conflict: %w", err)
	}

	s.log.Info("conflict detected",
		slog.String("conflict_id", c.ID),
		slog.String("collection", c.Collection),
		slog.String("document_id", c.DocumentID),
		slog.Int64("base_version", c.BaseVersion),
		slog.Int64("remote_version", c.RemoteNumber),
	)

	return &Outcome{Result: domain.OutcomeConflicted, Conflict: c, Reason: domain.FailureConflict}, nil
}

func (s *ConflictService) ListUnresolved(ctx context.Context, userID string) ([]*domain.SyncConflict, error) {
	return s.conflicts.ListUnresolved(ctx, userID)
}

// Resolve applies a resolution decision. Only the first call for a conflict
// succeeds; later calls get NotFoundError. The originating operation keeps
// its failed status.
func (s *ConflictService) Resolve(ctx context.Context, userID, deviceID, conflictID string, req *domain.ConflictResolutionRequest) (*domain.SyncConflict, *domain.Document, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, nil, err
	}

	c, err := s.conflicts.GetUnresolved(ctx, userID, conflictID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, &NotFoundError{Resource: "conflict", ID: conflictID}
	}
	if err != nil {
		return nil, nil, err
	}

	var resolved map[string]any
	switch req.Resolution {
	case domain.ResolutionLocal:
		resolved = c.LocalVersion
	case domain.ResolutionRemote:
		resolved = c.RemoteVersion
	case domain.ResolutionMerge:
		if req.MergedData == nil {
			return nil, nil, &ValidationError{Field: "merged_data", Message: "is required for merge resolution"}
		}
		resolved = req.MergedData
	}

	claimed, err := s.conflicts.Claim(ctx, userID, conflictID, req.Resolution, resolved)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, &NotFoundError{Resource: "conflict", ID: conflictID}
	}
	if err != nil {
		return nil, nil, err
	}

	doc, err := s.applyResolution(ctx, claimed, deviceID)
	if err != nil {
		if reopenErr := s.conflicts.Reopen(ctx, userID, conflictID); reopenErr != nil {
			s.log.Error("failed to reopen conflict", slog.String("conflict_id", conflictID), logger.Err(reopenErr))
		}
		return nil, nil, err
	}

	// The stored resolved_data is the data that ended up authoritative, not
	// the partial changes a local update carried.
	final := documentData(doc)
	if !reflect.DeepEqual(claimed.ResolvedData, final) {
		if err := s.conflicts.SetResolvedData(ctx, userID, conflictID, final); err != nil {
			s.log.Error("failed to store resolved data", slog.String("conflict_id", conflictID), logger.Err(err))
		}
		claimed.ResolvedData = final
	}

	if err := s.conflicts.Release(ctx, userID, claimed.Collection, claimed.DocumentID); err != nil {
		s.log.Error("failed to release conflict marker", slog.String("conflict_id", conflictID), logger.Err(err))
	}

	if doc != nil && req.Resolution != domain.ResolutionRemote {
		s.notifier.NotifyChange(userID, deviceID, domain.NewChangeRecord(doc))
	}

	s.log.Info("conflict resolved",
		slog.String("conflict_id", conflictID),
		slog.String("resolution", string(req.Resolution)),
	)

	return claimed, doc, nil
}

func documentData(doc *domain.Document) map[string]any {
	if !live(doc) {
		return nil
	}
	return doc.Data
}

// applyResolution writes the chosen data as authoritative. Remote leaves the
// document untouched. A local update cannot be kept once the document has
// been deleted, since its changes alone are not a full document.
func (s *ConflictService) applyResolution(ctx context.Context, c *domain.SyncConflict, deviceID string) (*domain.Document, error) {
	if c.Resolution == domain.ResolutionRemote {
		return s.current(ctx, c.UserID, c.Collection, c.DocumentID)
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		current, err := s.current(ctx, c.UserID, c.Collection, c.DocumentID)
		if err != nil {
			return nil, err
		}

		next := &domain.Document{
			ID:             c.DocumentID,
			UserID:         c.UserID,
			Collection:     c.Collection,
			LastEditDevice: deviceID,
		}
		var expected int64
		if current != nil {
			expected = current.Version
		}

		switch {
		case c.Resolution == domain.ResolutionMerge:
			next.Data = c.ResolvedData
		case c.Kind == domain.OperationDelete:
			next.Deleted = true
		case c.Kind == domain.OperationUpdate:
			if !live(current) {
				return nil, &ValidationError{
					Field:   "resolution",
					Message: "document was deleted; resolve with merge or remote",
				}
			}
			next.Data = applyChanges(current.Data, c.LocalVersion)
		default:
			next.Data = c.LocalVersion
		}

		written, err := s.documents.Write(ctx, next, expected)
		if errors.Is(err, repository.ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write resolution: %w", err)
		}
		return written, nil
	}

	return nil, fmt.Errorf("failed to write resolution after %d attempts: %w", s.maxRetries, repository.ErrVersionMismatch)
}
