// Package engine owns the access-entry lifecycle: grant, revoke and
// extend against the router backend and the record store. The router is
// always updated before the store on grant, so a recorded entry implies
// the router already granted it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/sdko-org/knock-portal/internal/duration"
	"github.com/sdko-org/knock-portal/internal/models"
	"github.com/sdko-org/knock-portal/internal/router"
	"github.com/sdko-org/knock-portal/internal/store"
	"github.com/sirupsen/logrus"
)

// ErrInvalidAddress reports a grant request whose address is not a
// well-formed IPv4 or IPv6 address.
var ErrInvalidAddress = errors.New("invalid address")

type GrantResult string

const (
	Granted        GrantResult = "granted"
	AlreadyPresent GrantResult = "already_present"
)

type Engine struct {
	store  *store.Store
	router router.Client
	log    *logrus.Entry
}

func New(logger *logrus.Logger, st *store.Store, rc router.Client) *Engine {
	return &Engine{
		store:  st,
		router: rc,
		log:    logger.WithField("component", "engine"),
	}
}

// Grant allow-lists the address for the duration named by the token.
// The expiration is computed before the router call, so it reflects
// request time rather than completion time. A router failure aborts the
// whole operation with nothing persisted.
func (e *Engine) Grant(ctx context.Context, identity, address, durationToken string) (GrantResult, error) {
	if _, err := netip.ParseAddr(address); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	expiration := duration.Parse(durationToken).ExpiresAt(time.Now().UTC())

	applied, err := e.router.Add(ctx, address)
	if err != nil {
		return "", fmt.Errorf("adding %s to allow list: %w", address, err)
	}

	log := e.log.WithFields(logrus.Fields{
		"identity": identity,
		"address":  address,
	})

	if !applied {
		log.Info("Address already in allow list")
		return AlreadyPresent, nil
	}

	entry := &models.AccessEntry{
		Identity:   identity,
		Address:    address,
		Expiration: expiration,
	}
	if err := e.store.Insert(ctx, entry); err != nil {
		return "", fmt.Errorf("recording access entry: %w", err)
	}

	if expiration == nil {
		log.Info("Access granted with no expiration")
	} else {
		log.WithField("expiration", expiration).Info("Access granted")
	}
	return Granted, nil
}

// Revoke removes the address from the router and deletes its record.
// The router call comes first: if it fails the row stays, so a retry
// is always possible and no router entry is orphaned.
func (e *Engine) Revoke(ctx context.Context, address string) error {
	if _, err := e.store.GetByAddress(ctx, address); err != nil {
		return err
	}

	if err := e.router.Remove(ctx, address); err != nil {
		return fmt.Errorf("removing %s from allow list: %w", address, err)
	}

	if _, err := e.store.DeleteByAddress(ctx, address); err != nil {
		return err
	}

	e.log.WithField("address", address).Info("Access revoked")
	return nil
}

// Extend pushes the entry's expiration forward by the parsed delta,
// compounding from the current expiration rather than resetting from
// now. Forever entries stay forever; extending with the forever token
// promotes a timed entry to forever.
func (e *Engine) Extend(ctx context.Context, address, durationToken string) error {
	entry, err := e.store.GetByAddress(ctx, address)
	if err != nil {
		return err
	}

	spec := duration.Parse(durationToken)

	var newExpiration *time.Time
	switch {
	case spec.Forever:
		newExpiration = nil
	case entry.Expiration == nil:
		e.log.WithField("address", address).Info("Entry never expires, extend is a no-op")
		return nil
	default:
		extended := entry.Expiration.Add(spec.Delta)
		newExpiration = &extended
	}

	if err := e.store.UpdateExpiration(ctx, address, newExpiration); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"address":    address,
		"expiration": newExpiration,
	}).Info("Access extended")
	return nil
}

// Entries lists the access entries recorded for one identity.
func (e *Engine) Entries(ctx context.Context, identity string) ([]models.AccessEntry, error) {
	return e.store.ListByIdentity(ctx, identity)
}

// AllEntries lists every access entry, for the admin view.
func (e *Engine) AllEntries(ctx context.Context) ([]models.AccessEntry, error) {
	return e.store.ListAll(ctx)
}
