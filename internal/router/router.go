// Package router talks to the vendor access-group backend that enforces
// the allow-list. Every mutation is a read-modify-write: these backends
// only accept whole-group replacement, so the client re-fetches current
// membership before each change instead of assuming it owns the group.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/sdko-org/knock-portal/internal/config"
	"github.com/sirupsen/logrus"
)

// ErrUnauthenticated reports a failed or impossible login. It is
// retryable: any previously held session state is left untouched.
var ErrUnauthenticated = errors.New("router authentication failed")

// Client is the capability surface of a router backend.
type Client interface {
	// EnsureAuthenticated logs in if there is no session or the session
	// expires within the refresh skew.
	EnsureAuthenticated(ctx context.Context) error

	// Add puts the address into the access group. It reports
	// applied=false with no side effects when the address is already a
	// member.
	Add(ctx context.Context, address string) (applied bool, err error)

	// Remove takes the address out of the access group. Removing an
	// absent address is a successful no-op.
	Remove(ctx context.Context, address string) error
}

// New selects the backend implementation from config.
func New(logger *logrus.Logger, cfg *config.Config) (Client, error) {
	switch cfg.RouterType {
	case "unifi":
		return newUnifiClient(logger, cfg), nil
	default:
		return nil, fmt.Errorf("unsupported router type %q", cfg.RouterType)
	}
}
