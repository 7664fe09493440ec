// Package listing implements the operations on house listings: creating,
// updating, buying and deleting records, and the read-only queries over them.
//
// A Service owns no state of its own. Everything durable lives in the
// store.Store it is given; time and caller identity come from injected ports.
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kilupskalvis/listings/internal/codec"
	"github.com/kilupskalvis/listings/internal/models"
	"github.com/kilupskalvis/listings/internal/store"
)

// Config holds the collaborators of a Service. Nil fields get defaults.
type Config struct {
	Clock    Clock
	Identity Identity
	Policy   Policy
	Notifier Notifier
	Logger   *slog.Logger
}

// Service exposes the mutation and query operations.
type Service struct {
	store    store.Store
	clock    Clock
	identity Identity
	policy   Policy
	notifier Notifier
	logger   *slog.Logger
}

// NewService creates a Service over st.
func NewService(st store.Store, cfg Config) (*Service, error) {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Identity == nil {
		cfg.Identity = ContextIdentity{}
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:    st,
		clock:    cfg.Clock,
		identity: cfg.Identity,
		policy:   cfg.Policy,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}, nil
}

// Policy returns the policy the service was built with.
func (s *Service) Policy() Policy {
	return s.policy
}

// Create validates the payload (ownership-enforced mode only), allocates an id
// and stores a new house owned by the caller.
func (s *Service) Create(ctx context.Context, p models.HousePayload) (*models.House, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if s.policy.enforced() {
		if err := validatePayload(&p); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	house, err := s.store.Create(ctx, func(id uint64) (*models.House, error) {
		h := &models.House{
			ID:        id,
			Realtor:   caller,
			CreatedAt: now,
		}
		p.Apply(h)
		return h, nil
	})
	if err != nil {
		return nil, s.storeError(err, 0, "add")
	}

	s.logger.Debug("house created", "house_id", house.ID, "caller", caller)
	s.emit(ctx, EventCreated, house, caller, now)
	return house, nil
}

// Update overwrites the mutable fields of a house and stamps updated_at.
func (s *Service) Update(ctx context.Context, id uint64, p models.HousePayload) (*models.House, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	house, err := s.store.Update(ctx, id, func(h *models.House) error {
		if err := s.authorize(h, caller, "update"); err != nil {
			return err
		}
		if s.policy.enforced() {
			if err := validatePayload(&p); err != nil {
				return err
			}
		}
		p.Apply(h)
		h.Touch(now)
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, id, "update")
	}

	s.logger.Debug("house updated", "house_id", id, "caller", caller)
	s.emit(ctx, EventUpdated, house, caller, now)
	return house, nil
}

// Buy sells one unit of a house to the caller under the guarded policy.
func (s *Service) Buy(ctx context.Context, id uint64) (*models.House, error) {
	if s.policy.Buy != BuyGuarded {
		return nil, newError(KindInvalidInput, "buy policy %q requires a house payload", s.policy.Buy)
	}
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	house, err := s.store.Update(ctx, id, func(h *models.House) error {
		if !h.EffectivelyAvailable() {
			return newError(KindNoUnitAvailable, "a house with id=%d has no unit available", id)
		}
		h.AvailableUnits--
		if caller != "" {
			h.Buyers = append(h.Buyers, caller)
		}
		if h.AvailableUnits == 0 {
			h.Availability = false
		}
		h.Touch(now)
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, id, "buy")
	}

	s.logger.Debug("house bought", "house_id", id, "caller", caller, "units_left", house.AvailableUnits)
	s.emit(ctx, EventBought, house, caller, now)
	return house, nil
}

// BuyWithPayload is the purchase operation of the overwrite policy: the
// payload replaces the mutable fields and the unit count becomes one less
// than the payload's. A payload without units cannot be bought from.
func (s *Service) BuyWithPayload(ctx context.Context, id uint64, p models.HousePayload) (*models.House, error) {
	if s.policy.Buy != BuyOverwrite {
		return nil, newError(KindInvalidInput, "buy policy %q does not accept a house payload", s.policy.Buy)
	}
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	house, err := s.store.Update(ctx, id, func(h *models.House) error {
		if p.AvailableUnits == 0 {
			return newError(KindNoUnitAvailable, "a house with id=%d has no unit available", id)
		}
		p.Apply(h)
		h.AvailableUnits = p.AvailableUnits - 1
		h.Touch(now)
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, id, "buy")
	}

	s.emit(ctx, EventBought, house, caller, now)
	return house, nil
}

// Delete removes a house. The realtor check reads the record first; the
// realtor never changes after creation, so the check stays valid until the
// removal.
func (s *Service) Delete(ctx context.Context, id uint64) (*models.House, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	if s.policy.enforced() {
		h, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, s.storeError(err, id, "delete")
		}
		if err := s.authorize(h, caller, "delete"); err != nil {
			return nil, err
		}
	}

	house, err := s.store.Remove(ctx, id)
	if err != nil {
		return nil, s.storeError(err, id, "delete")
	}

	s.logger.Debug("house deleted", "house_id", id, "caller", caller)
	s.emit(ctx, EventDeleted, house, caller, s.clock.Now())
	return house, nil
}

// SetAvailable sets the availability flag without looking at the unit count.
func (s *Service) SetAvailable(ctx context.Context, id uint64) (*models.House, error) {
	return s.setAvailability(ctx, id, true)
}

// SetUnavailable clears the availability flag without looking at the unit count.
func (s *Service) SetUnavailable(ctx context.Context, id uint64) (*models.House, error) {
	return s.setAvailability(ctx, id, false)
}

func (s *Service) setAvailability(ctx context.Context, id uint64, available bool) (*models.House, error) {
	house, err := s.store.Update(ctx, id, func(h *models.House) error {
		h.Availability = available
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, id, "")
	}
	caller, _ := s.identity.Caller(ctx)
	s.emit(ctx, EventAvailabilityChanged, house, caller, s.clock.Now())
	return house, nil
}

// SetPrice overwrites the price. No other field changes.
func (s *Service) SetPrice(ctx context.Context, id uint64, price uint64) (*models.House, error) {
	house, err := s.store.Update(ctx, id, func(h *models.House) error {
		h.Price = price
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, id, "")
	}
	caller, _ := s.identity.Caller(ctx)
	s.emit(ctx, EventPriceChanged, house, caller, s.clock.Now())
	return house, nil
}

// caller resolves the calling principal. Enforced mode requires one; open
// mode proceeds anonymously.
func (s *Service) caller(ctx context.Context) (string, error) {
	caller, err := s.identity.Caller(ctx)
	if err != nil || caller == "" {
		if s.policy.enforced() {
			return "", newError(KindAuthenticationFailed, "caller identity required")
		}
		return "", nil
	}
	return caller, nil
}

func (s *Service) authorize(h *models.House, caller, action string) error {
	if !s.policy.enforced() || h.Realtor == caller {
		return nil
	}
	return newError(KindAuthenticationFailed, "caller is not allowed to %s house id=%d", action, h.ID)
}

// storeError converts store failures into typed errors where they are the
// caller's fault and wraps the rest.
func (s *Service) storeError(err error, id uint64, action string) error {
	var le *Error
	switch {
	case errors.As(err, &le):
		return le
	case errors.Is(err, store.ErrNotFound):
		return notFound(id, action)
	case errors.Is(err, codec.ErrTooLarge):
		return newError(KindInvalidInput, "house record too large: %v", err)
	}
	if errors.Is(err, store.ErrCorrupt) {
		s.logger.Error("corrupt house record", "house_id", id, "error", err)
	}
	return fmt.Errorf("house %d: %w", id, err)
}

func (s *Service) emit(ctx context.Context, typ EventType, h *models.House, caller string, ts uint64) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, Event{
		Type:      typ,
		HouseID:   h.ID,
		Caller:    caller,
		Timestamp: ts,
		House:     h.Clone(),
	})
}

func validatePayload(p *models.HousePayload) error {
	var missing []string
	if strings.TrimSpace(p.OwnerName) == "" {
		missing = append(missing, "owner_name")
	}
	if strings.TrimSpace(p.HouseType) == "" {
		missing = append(missing, "house_type")
	}
	if strings.TrimSpace(p.Location) == "" {
		missing = append(missing, "location")
	}
	if len(missing) > 0 {
		return newError(KindInvalidInput, "%s must not be empty", strings.Join(missing, ", "))
	}
	return nil
}
