package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sdko-org/knock-portal/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeController simulates the controller's login and firewall group
// endpoints.
type fakeController struct {
	t *testing.T

	mu         sync.Mutex
	members    []string
	loginCount int
	putCount   int
	failLogin  bool
	tokenTTL   time.Duration
	lastPut    firewallGroup
	lastCSRF   string
}

func (f *fakeController) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.failLogin {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		f.loginCount++

		ttl := f.tokenTTL
		if ttl == 0 {
			ttl = time.Hour
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"csrfToken": fmt.Sprintf("csrf-%d", f.loginCount),
			"exp":       time.Now().Add(ttl).Unix(),
		}).SignedString([]byte("controller-secret"))
		require.NoError(f.t, err)

		http.SetCookie(w, &http.Cookie{Name: "TOKEN", Value: token, Path: "/"})
		w.WriteHeader(http.StatusOK)
	})

	groupPath := "/proxy/network/api/s/default/rest/firewallgroup/grp1"

	mux.HandleFunc("GET "+groupPath, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		json.NewEncoder(w).Encode(firewallGroupResponse{Data: []firewallGroup{{
			ID:      "grp1",
			Name:    "knock-allow",
			Type:    "address-group",
			Members: append([]string(nil), f.members...),
			SiteID:  "site1",
		}}})
	})

	mux.HandleFunc("PUT "+groupPath, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.putCount++
		f.lastCSRF = r.Header.Get("x-csrf-token")

		var group firewallGroup
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&group))
		f.lastPut = group
		f.members = group.Members
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func newTestClient(t *testing.T, ctrl *fakeController) *unifiClient {
	t.Helper()
	ctrl.t = t

	srv := httptest.NewTLSServer(ctrl.handler())
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	return newUnifiClient(logger, &config.Config{
		RouterType:     "unifi",
		UnifiBaseURL:   srv.URL,
		UnifiUsername:  "admin",
		UnifiPassword:  "secret",
		UnifiSite:      "default",
		UnifiGroupID:   "grp1",
		UnifiTLSVerify: false,
	})
}

func TestAddNewAddress(t *testing.T) {
	ctrl := &fakeController{members: []string{"10.0.0.5"}}
	c := newTestClient(t, ctrl)

	applied, err := c.Add(context.Background(), "10.0.0.9")
	require.NoError(t, err)
	assert.True(t, applied)

	assert.Equal(t, 1, ctrl.putCount)
	assert.ElementsMatch(t, []string{"10.0.0.5", "10.0.0.9"}, ctrl.members)

	// Whole-group replacement needs the group metadata resubmitted.
	assert.Equal(t, "grp1", ctrl.lastPut.ID)
	assert.Equal(t, "knock-allow", ctrl.lastPut.Name)
	assert.Equal(t, "address-group", ctrl.lastPut.Type)
	assert.Equal(t, "site1", ctrl.lastPut.SiteID)
	assert.Equal(t, "csrf-1", ctrl.lastCSRF)
}

func TestAddExistingAddressIsNoOp(t *testing.T) {
	ctrl := &fakeController{members: []string{"10.0.0.9"}}
	c := newTestClient(t, ctrl)

	applied, err := c.Add(context.Background(), "10.0.0.9")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Zero(t, ctrl.putCount)
}

func TestRemoveAddress(t *testing.T) {
	ctrl := &fakeController{members: []string{"10.0.0.5", "10.0.0.9"}}
	c := newTestClient(t, ctrl)

	require.NoError(t, c.Remove(context.Background(), "10.0.0.9"))
	assert.Equal(t, 1, ctrl.putCount)
	assert.Equal(t, []string{"10.0.0.5"}, ctrl.members)
}

func TestRemoveAbsentAddressIsNoOp(t *testing.T) {
	ctrl := &fakeController{members: []string{"10.0.0.5"}}
	c := newTestClient(t, ctrl)

	require.NoError(t, c.Remove(context.Background(), "10.0.0.9"))
	assert.Zero(t, ctrl.putCount)
}

func TestSessionReusedWhileValid(t *testing.T) {
	ctrl := &fakeController{}
	c := newTestClient(t, ctrl)

	_, err := c.Add(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	_, err = c.Add(context.Background(), "10.0.0.2")
	require.NoError(t, err)

	assert.Equal(t, 1, ctrl.loginCount)
}

func TestSessionRefreshedWithinSkew(t *testing.T) {
	// Tokens that expire within the 30s skew window trigger a fresh
	// login on every call.
	ctrl := &fakeController{tokenTTL: 10 * time.Second}
	c := newTestClient(t, ctrl)

	_, err := c.Add(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	_, err = c.Add(context.Background(), "10.0.0.2")
	require.NoError(t, err)

	assert.Equal(t, 2, ctrl.loginCount)
}

func TestFailedLoginKeepsPreviousSession(t *testing.T) {
	ctrl := &fakeController{}
	c := newTestClient(t, ctrl)

	require.NoError(t, c.EnsureAuthenticated(context.Background()))
	previousCSRF := c.csrfToken
	require.NotEmpty(t, previousCSRF)

	ctrl.mu.Lock()
	ctrl.failLogin = true
	ctrl.mu.Unlock()

	// Force a refresh attempt.
	c.mu.Lock()
	c.tokenExp = time.Now()
	c.mu.Unlock()

	err := c.EnsureAuthenticated(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, previousCSRF, c.csrfToken)
}

func TestLoginFailureSurfacesAsUnauthenticated(t *testing.T) {
	ctrl := &fakeController{failLogin: true}
	c := newTestClient(t, ctrl)

	_, err := c.Add(context.Background(), "10.0.0.1")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	err = c.Remove(context.Background(), "10.0.0.1")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNewRejectsUnknownRouterType(t *testing.T) {
	_, err := New(logrus.New(), &config.Config{RouterType: "mystery"})
	assert.Error(t, err)
}
