package service

import (
	"context"
	"errors"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/repository"
)

// DocumentService is the read side of the authoritative documents. Writes
// only happen through operations.
type DocumentService struct {
	repo repository.DocumentRepository
}

func NewDocumentService(repo repository.DocumentRepository) *DocumentService {
	return &DocumentService{
		repo: repo,
	}
}

func (s *DocumentService) Get(ctx context.Context, userID, collection, id string) (*domain.Document, error) {
	doc, err := s.repo.Get(ctx, userID, collection, id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && doc.Deleted) {
		return nil, &NotFoundError{Resource: "document", ID: collection + "/" + id}
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, userID, collection string) ([]*domain.Document, error) {
	if collection == "" {
		return nil, &ValidationError{Field: "collection", Message: "is required"}
	}
	return s.repo.List(ctx, userID, collection)
}

// Version returns the authoritative version of a collection.
func (s *DocumentService) Version(ctx context.Context, userID, collection string) (int64, error) {
	return s.repo.CollectionVersion(ctx, userID, collection)
}
