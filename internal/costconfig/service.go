package costconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RepositoryPort describes persistence operations used by Service.
type RepositoryPort interface {
	Get(ctx context.Context, id string) (Configuration, error)
	ListForEntity(ctx context.Context, entityID string) ([]Configuration, error)
	ActiveForEntity(ctx context.Context, entityID string, at time.Time) (Configuration, error)
	Insert(ctx context.Context, c Configuration) error
	Update(ctx context.Context, c Configuration) error
}

// Service manages entity costing policies.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateInput describes a new configuration.
type CreateInput struct {
	EntityID         string
	Name             string
	Description      string
	Overhead         OverheadPolicy
	Contingency      MarginPolicy
	Profit           MarginPolicy
	LaborRates       []RateEntry
	FabricationRates []RateEntry
	IsActive         bool
	EffectiveFrom    time.Time
	ActorID          string
}

// Create validates and persists a configuration.
func (s *Service) Create(ctx context.Context, input CreateInput) (Configuration, error) {
	if input.EntityID == "" || input.Name == "" {
		return Configuration{}, fmt.Errorf("%w: entity and name required", ErrValidation)
	}
	if err := validateRates(input.Overhead.RatePercent, input.Contingency.RatePercent, input.Profit.RatePercent); err != nil {
		return Configuration{}, err
	}
	if input.Overhead.ApplicableTo == "" {
		input.Overhead.ApplicableTo = BaseAll
	}
	now := time.Now()
	effective := input.EffectiveFrom
	if effective.IsZero() {
		effective = now
	}
	c := Configuration{
		ID:               uuid.New().String(),
		EntityID:         input.EntityID,
		Name:             input.Name,
		Description:      input.Description,
		Overhead:         input.Overhead,
		Contingency:      input.Contingency,
		Profit:           input.Profit,
		LaborRates:       input.LaborRates,
		FabricationRates: input.FabricationRates,
		IsActive:         input.IsActive,
		EffectiveFrom:    effective,
		CreatedAt:        now,
		CreatedBy:        input.ActorID,
		UpdatedAt:        now,
		UpdatedBy:        input.ActorID,
	}
	if err := s.repo.Insert(ctx, c); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

// UpdateInput describes mutable configuration fields.
type UpdateInput struct {
	Name        string
	Description string
	Overhead    *OverheadPolicy
	Contingency *MarginPolicy
	Profit      *MarginPolicy
	ActorID     string
}

// Update mutates a configuration in place.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (Configuration, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Configuration{}, err
	}
	if input.Name != "" {
		c.Name = input.Name
	}
	if input.Description != "" {
		c.Description = input.Description
	}
	if input.Overhead != nil {
		c.Overhead = *input.Overhead
		if c.Overhead.ApplicableTo == "" {
			c.Overhead.ApplicableTo = BaseAll
		}
	}
	if input.Contingency != nil {
		c.Contingency = *input.Contingency
	}
	if input.Profit != nil {
		c.Profit = *input.Profit
	}
	if err := validateRates(c.Overhead.RatePercent, c.Contingency.RatePercent, c.Profit.RatePercent); err != nil {
		return Configuration{}, err
	}
	c.UpdatedAt = time.Now()
	c.UpdatedBy = input.ActorID
	if err := s.repo.Update(ctx, c); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

// Activate flags a configuration active from the given time.
func (s *Service) Activate(ctx context.Context, id string, effectiveFrom time.Time, actorID string) (Configuration, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Configuration{}, err
	}
	c.IsActive = true
	if !effectiveFrom.IsZero() {
		c.EffectiveFrom = effectiveFrom
	}
	c.UpdatedAt = time.Now()
	c.UpdatedBy = actorID
	if err := s.repo.Update(ctx, c); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

// Deactivate clears the active flag.
func (s *Service) Deactivate(ctx context.Context, id string, actorID string) (Configuration, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Configuration{}, err
	}
	c.IsActive = false
	c.UpdatedAt = time.Now()
	c.UpdatedBy = actorID
	if err := s.repo.Update(ctx, c); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

// Get fetches one configuration.
func (s *Service) Get(ctx context.Context, id string) (Configuration, error) {
	return s.repo.Get(ctx, id)
}

// ListForEntity lists an entity's configurations, newest first.
func (s *Service) ListForEntity(ctx context.Context, entityID string) ([]Configuration, error) {
	return s.repo.ListForEntity(ctx, entityID)
}

// ActiveForEntity resolves the configuration in force at a point in time.
func (s *Service) ActiveForEntity(ctx context.Context, entityID string, at time.Time) (Configuration, error) {
	return s.repo.ActiveForEntity(ctx, entityID, at)
}

func validateRates(rates ...float64) error {
	for _, rate := range rates {
		if rate < 0 {
			return fmt.Errorf("%w: rate percent must not be negative", ErrValidation)
		}
	}
	return nil
}
