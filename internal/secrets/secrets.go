// Package secrets loads per-tenant secret sets from object storage.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gatewayplane/internal/objectstore"
)

// Set maps secret names to values, e.g. ANTHROPIC_API_KEY.
type Set map[string]string

// Store reads tenant secrets stored as a flat JSON object.
type Store struct {
	objects objectstore.Store
}

func NewStore(objects objectstore.Store) *Store {
	return &Store{objects: objects}
}

// Load returns the tenant's secrets. A tenant without a secrets object
// gets an empty set.
func (s *Store) Load(ctx context.Context, tenantID string) (Set, error) {
	data, err := s.objects.Get(ctx, objectstore.SecretsKey(tenantID))
	if errors.Is(err, objectstore.ErrNotFound) {
		return Set{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load secrets for %s: %w", tenantID, err)
	}

	set := Set{}
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to decode secrets for %s: %w", tenantID, err)
	}
	return set, nil
}
