// Package pricing holds the admin-maintained pricing configuration: point
// packages for purchase, manual payment methods, and the session-count cost
// table consulted before every generation.
package pricing

import (
	"context"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
)

// Package is a purchasable block of points.
type Package struct {
	ID     string `json:"id"`
	Points int64  `json:"points"`
	Price  int64  `json:"price"`
}

// PaymentMethod describes a manual payment channel shown to buyers.
type PaymentMethod struct {
	Name    string `json:"name"`
	Details string `json:"details"`
}

// SessionCost maps a teaching session count to a point cost.
type SessionCost struct {
	Sessions int   `json:"sessions"`
	Cost     int64 `json:"cost"`
}

// Config is the pricing singleton. Admin updates replace it wholesale.
type Config struct {
	Packages       []Package       `json:"packages"`
	PaymentMethods []PaymentMethod `json:"payment_methods"`
	SessionCosts   []SessionCost   `json:"session_costs"`
}

// Default returns the built-in configuration used until an admin persists
// one: five session tiers and no packages or payment methods.
func Default() Config {
	return Config{
		Packages:       []Package{},
		PaymentMethods: []PaymentMethod{},
		SessionCosts: []SessionCost{
			{Sessions: 1, Cost: 20},
			{Sessions: 2, Cost: 40},
			{Sessions: 3, Cost: 60},
			{Sessions: 4, Cost: 80},
			{Sessions: 5, Cost: 100},
		},
	}
}

// ErrNoCost signals a session count with no configured tier.
var ErrNoCost = apperr.New(apperr.NoCostConfigured, "no point cost configured for the requested session count")

// ResolveCost returns the point cost for the session count. Lookup is exact
// match only: an unconfigured count fails closed instead of snapping to the
// nearest tier.
func (c Config) ResolveCost(sessions int) (int64, error) {
	for _, sc := range c.SessionCosts {
		if sc.Sessions == sessions {
			return sc.Cost, nil
		}
	}
	return 0, ErrNoCost
}

// FindPackage returns the package with the given id, or nil.
func (c Config) FindPackage(id string) *Package {
	for i := range c.Packages {
		if c.Packages[i].ID == id {
			return &c.Packages[i]
		}
	}
	return nil
}

// Store persists the pricing singleton under a fixed key, so concurrent
// first writes can never create two configurations.
type Store interface {
	// Load returns the persisted config, or (nil, nil) when none exists yet.
	Load(ctx context.Context) (*Config, error)
	// Save replaces the persisted config wholesale.
	Save(ctx context.Context, cfg Config) error
	Close() error
}

// Current loads the persisted config, falling back to Default when nothing
// has been saved yet.
func Current(ctx context.Context, store Store) (Config, error) {
	cfg, err := store.Load(ctx)
	if err != nil {
		return Config{}, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return *cfg, nil
}
