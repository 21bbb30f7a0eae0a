package server

import (
	"context"
	"fmt"

	"github.com/vanshika/churngraph/internal/graph"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
}

// Pinger is satisfied by the run store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreHealthService verifies the run store answers queries.
type StoreHealthService struct {
	Store Pinger
}

// Probe implements the HealthService interface.
func (s StoreHealthService) Probe(ctx context.Context) error {
	if s.Store == nil {
		return nil
	}
	if err := s.Store.Ping(ctx); err != nil {
		return fmt.Errorf("run store: %w", err)
	}
	return nil
}

// GraphHealthService verifies graph connectivity as part of health checks.
type GraphHealthService struct {
	Client graph.Client
}

// Probe implements the HealthService interface.
func (s GraphHealthService) Probe(ctx context.Context) error {
	if s.Client == nil {
		return nil
	}
	if err := s.Client.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("graph store: %w", err)
	}
	return nil
}

// HealthServices probes each service in order and reports the first failure.
type HealthServices []HealthService

// Probe implements the HealthService interface.
func (hs HealthServices) Probe(ctx context.Context) error {
	for _, h := range hs {
		if err := h.Probe(ctx); err != nil {
			return err
		}
	}
	return nil
}
