package sweeper

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sdko-org/knock-portal/internal/models"
	"github.com/sdko-org/knock-portal/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRouter struct {
	mu        sync.Mutex
	removed   []string
	removeErr map[string]error
	authErr   error
	authCalls int
}

func (f *fakeRouter) EnsureAuthenticated(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	return f.authErr
}

func (f *fakeRouter) Add(ctx context.Context, address string) (bool, error) {
	return true, nil
}

func (f *fakeRouter) Remove(ctx context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErr[address]; err != nil {
		return err
	}
	f.removed = append(f.removed, address)
	return nil
}

func newTestSweeper(t *testing.T, rc *fakeRouter) (*Sweeper, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.AccessEntry{}))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	st := store.New(db)
	return New(logger, st, rc, time.Hour), st
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestSweepPurgesExpiredOnly(t *testing.T) {
	rc := &fakeRouter{}
	sw, st := newTestSweeper(t, rc)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.Insert(ctx, &models.AccessEntry{
		Identity: "a@x", Address: "10.0.0.1", Expiration: timePtr(now.Add(-time.Minute)),
	}))
	require.NoError(t, st.Insert(ctx, &models.AccessEntry{
		Identity: "b@x", Address: "10.0.0.2", Expiration: timePtr(now.Add(time.Hour)),
	}))
	require.NoError(t, st.Insert(ctx, &models.AccessEntry{
		Identity: "c@x", Address: "10.0.0.3", Expiration: nil,
	}))

	sw.RunOnce(ctx)

	assert.Equal(t, []string{"10.0.0.1"}, rc.removed)

	remaining, err := st.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	for _, entry := range remaining {
		assert.NotEqual(t, "10.0.0.1", entry.Address)
	}
}

func TestSweepNoExpiredEntriesSkipsRouter(t *testing.T) {
	rc := &fakeRouter{}
	sw, st := newTestSweeper(t, rc)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, &models.AccessEntry{
		Identity: "a@x", Address: "10.0.0.1", Expiration: timePtr(time.Now().UTC().Add(time.Hour)),
	}))

	sw.RunOnce(ctx)

	assert.Zero(t, rc.authCalls)
	assert.Empty(t, rc.removed)
}

func TestSweepAuthenticatesOncePerBatch(t *testing.T) {
	rc := &fakeRouter{}
	sw, st := newTestSweeper(t, rc)
	ctx := context.Background()
	past := timePtr(time.Now().UTC().Add(-time.Minute))

	for _, address := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		require.NoError(t, st.Insert(ctx, &models.AccessEntry{
			Identity: "a@x", Address: address, Expiration: past,
		}))
	}

	sw.RunOnce(ctx)

	assert.Equal(t, 1, rc.authCalls)
	assert.Len(t, rc.removed, 3)
}

func TestSweepAuthFailureLeavesRows(t *testing.T) {
	rc := &fakeRouter{authErr: errors.New("login failed")}
	sw, st := newTestSweeper(t, rc)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, &models.AccessEntry{
		Identity: "a@x", Address: "10.0.0.1", Expiration: timePtr(time.Now().UTC().Add(-time.Minute)),
	}))

	sw.RunOnce(ctx)

	assert.Empty(t, rc.removed)
	entries, err := st.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSweepIsolatesPerAddressFailures(t *testing.T) {
	rc := &fakeRouter{removeErr: map[string]error{"10.0.0.1": errors.New("connection reset")}}
	sw, st := newTestSweeper(t, rc)
	ctx := context.Background()
	past := timePtr(time.Now().UTC().Add(-time.Minute))

	require.NoError(t, st.Insert(ctx, &models.AccessEntry{
		Identity: "a@x", Address: "10.0.0.1", Expiration: past,
	}))
	require.NoError(t, st.Insert(ctx, &models.AccessEntry{
		Identity: "b@x", Address: "10.0.0.2", Expiration: past,
	}))

	sw.RunOnce(ctx)

	// The failing address keeps its row; the rest of the batch purges.
	assert.Equal(t, []string{"10.0.0.2"}, rc.removed)
	entries, err := st.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10.0.0.1", entries[0].Address)

	// Next cycle retries naturally once the router recovers.
	rc.mu.Lock()
	delete(rc.removeErr, "10.0.0.1")
	rc.mu.Unlock()

	sw.RunOnce(ctx)

	assert.Equal(t, []string{"10.0.0.2", "10.0.0.1"}, rc.removed)
	entries, err = st.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSweepAfterExpiry(t *testing.T) {
	// Grant for an hour, advance the clock past expiry, sweep: the row
	// and the router entry are both gone.
	rc := &fakeRouter{}
	sw, st := newTestSweeper(t, rc)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, &models.AccessEntry{
		Identity:   "a@x",
		Address:    "10.0.0.1",
		Expiration: timePtr(time.Now().UTC().Add(-61 * time.Minute).Add(time.Hour)),
	}))

	sw.RunOnce(ctx)

	assert.Equal(t, []string{"10.0.0.1"}, rc.removed)
	entries, err := st.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	rc := &fakeRouter{}
	sw, _ := newTestSweeper(t, rc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
