package catalog

import (
	"context"
	"log/slog"
)

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger.With("component", "catalog")}
}

func (s *Service) GetByRef(ctx context.Context, itemRef string) (Book, error) {
	return s.repo.GetByRef(ctx, itemRef)
}

// Reverse undoes the catalog side effect of importing itemRef.
func (s *Service) Reverse(ctx context.Context, itemRef string) error {
	if err := s.repo.Unpublish(ctx, itemRef); err != nil {
		s.logger.Warn("unpublish failed", "item_ref", itemRef, "error", err)
		return err
	}
	s.logger.Debug("book unpublished", "item_ref", itemRef)
	return nil
}
