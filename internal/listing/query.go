package listing

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/kilupskalvis/listings/internal/models"
	"github.com/kilupskalvis/listings/internal/store"
)

// Get returns a single house.
func (s *Service) Get(ctx context.Context, id uint64) (*models.House, error) {
	h, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storeError(err, id, "")
	}
	return h, nil
}

// List returns every house in ascending id order.
func (s *Service) List(ctx context.Context) ([]*models.House, error) {
	return s.filter(ctx, func(*models.House) bool { return true })
}

// ListAvailable returns the houses a buyer could purchase right now: the
// availability flag is set and units remain.
func (s *Service) ListAvailable(ctx context.Context) ([]*models.House, error) {
	return s.filter(ctx, (*models.House).EffectivelyAvailable)
}

// Search returns houses whose owner name or house type contains query.
// Matching is case-sensitive with no normalisation.
func (s *Service) Search(ctx context.Context, query string) ([]*models.House, error) {
	return s.filter(ctx, func(h *models.House) bool {
		return strings.Contains(h.OwnerName, query) || strings.Contains(h.HouseType, query)
	})
}

// SearchPrice returns houses priced at exactly price.
func (s *Service) SearchPrice(ctx context.Context, price uint64) ([]*models.House, error) {
	return s.filter(ctx, func(h *models.House) bool {
		return h.Price == price
	})
}

// SortByOwnerName returns every house ordered by owner name. Houses with the
// same owner name keep ascending id order.
func (s *Service) SortByOwnerName(ctx context.Context) ([]*models.House, error) {
	houses, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(houses, func(i, j int) bool {
		return houses[i].OwnerName < houses[j].OwnerName
	})
	return houses, nil
}

// Availability reports the stored availability flag. It does not consult the
// unit count, so it can report true for a house with no units left; use
// EffectiveAvailability for the purchasable state.
func (s *Service) Availability(ctx context.Context, id uint64) (bool, error) {
	h, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return h.Availability, nil
}

// EffectiveAvailability reports whether a unit of the house can be bought.
func (s *Service) EffectiveAvailability(ctx context.Context, id uint64) (bool, error) {
	h, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return h.EffectivelyAvailable(), nil
}

// UpdateHistory returns the change records of a house. Unknown ids yield an
// empty history rather than an error.
func (s *Service) UpdateHistory(ctx context.Context, id uint64) ([]models.ChangeRecord, error) {
	h, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return []models.ChangeRecord{}, nil
	}
	if err != nil {
		return nil, s.storeError(err, id, "")
	}
	return h.History(), nil
}

// Ping reports whether the underlying store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) filter(ctx context.Context, keep func(*models.House) bool) ([]*models.House, error) {
	houses := []*models.House{}
	err := s.store.Iterate(ctx, func(h *models.House) error {
		if keep(h) {
			houses = append(houses, h)
		}
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, 0, "")
	}
	return houses, nil
}
