// Package cache holds short-lived aggregate views keyed per organization.
// Entries are never updated in place: writers that change underlying state
// call InvalidateOrg, and readers recompute on the next miss.
package cache

import (
	"context"
	"time"
)

// Invalidator drops every cached view for an organization
type Invalidator interface {
	InvalidateOrg(ctx context.Context, orgID string) error
}

// Cache stores opaque values per organization and key
type Cache interface {
	Invalidator
	// Get returns the value and true on a hit. A miss is (nil, false, nil).
	Get(ctx context.Context, orgID, key string) ([]byte, bool, error)
	Set(ctx context.Context, orgID, key string, value []byte, ttl time.Duration) error
}

// Nop is a cache that never stores anything
type Nop struct{}

func (Nop) Get(context.Context, string, string) ([]byte, bool, error)        { return nil, false, nil }
func (Nop) Set(context.Context, string, string, []byte, time.Duration) error { return nil }
func (Nop) InvalidateOrg(context.Context, string) error                      { return nil }
