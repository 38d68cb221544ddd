package account

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the business logic for account lookups made on behalf of a user
type Service struct {
	repo Repository
}

// NewService creates a new account service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ListAccountsByUserID retrieves all accounts for a specific user
func (s *Service) ListAccountsByUserID(ctx context.Context, userID int64) ([]*Account, error) {
	if userID <= 0 {
		return nil, errors.New("valid user ID is required")
	}

	return s.repo.ListByUserID(ctx, userID)
}

// ResolveOwned returns the requested accounts after verifying the user owns
// every one of them. An empty id list resolves to all of the user's accounts.
func (s *Service) ResolveOwned(ctx context.Context, userID int64, ids []string) ([]*Account, error) {
	owned, err := s.ListAccountsByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return owned, nil
	}

	byID := make(map[string]*Account, len(owned))
	for _, acc := range owned {
		byID[acc.ID] = acc
	}

	result := make([]*Account, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if acc, ok := byID[id]; ok {
			result = append(result, acc)
			continue
		}

		// Not in the user's set: distinguish missing from foreign
		if _, err := s.repo.GetByID(ctx, id); err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
			}
			return nil, err
		}
		return nil, ErrForbidden
	}

	return result, nil
}
